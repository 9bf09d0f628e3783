package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/glancesec/glance/pkg/flow"
)

// JSONLSink appends records to one JSONL file per stream under a directory.
// This is the default sink: a local, durable, human-greppable trail.
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLSink ensures the export directory exists.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if dir == "" {
		return nil, errors.New("export: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure export dir: %w", err)
	}
	return &JSONLSink{dir: dir}, nil
}

func (s *JSONLSink) Write(rec flow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.streamPath(rec.Stream), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error { return nil }

func (s *JSONLSink) streamPath(stream flow.Stream) string {
	return filepath.Join(s.dir, string(stream)+".jsonl")
}

// ReadStream loads every record of one stream. A missing file reads as empty.
func ReadStream(dir string, stream flow.Stream) ([]flow.Record, error) {
	f, err := os.Open(filepath.Join(dir, string(stream)+".jsonl"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	var out []flow.Record
	for {
		var rec flow.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
