// Package profile maintains per-host rolling behavioral state and derives
// heuristic signals from it. The host table is the only mutable shared state
// in the detection core: get-or-create goes through the table lock, and each
// HostProfile serializes its own observations, so contention on one host never
// stalls inspections of another.
package profile

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/glancesec/glance/pkg/config"
	"github.com/glancesec/glance/pkg/flow"
)

// Signal names emitted by the profiler.
const (
	SignalFrequency  = "frequency"
	SignalVolume     = "volume"
	SignalOversize   = "oversize"
	SignalPort       = "port"
	SignalRepetition = "repetition"
	SignalMalformed  = "malformed"
)

// shapeCacheSize bounds the per-host request-shape cache. Beaconing malware
// reuses a handful of shapes; legitimate bursts churn through many.
const shapeCacheSize = 512

// HostProfile is the rolling window state for one destination host. Created
// on first observation, mutated on every subsequent request, never deleted
// within a process lifetime; only window eviction trims it.
type HostProfile struct {
	mu sync.Mutex

	host      string
	firstSeen time.Time

	// Parallel slices: observation times and their upload sizes, oldest
	// first. Evicted entries never re-enter the window.
	stamps []time.Time
	sizes  []int64

	windowBytes int64
	totalBytes  int64
	totalCount  int64

	ports  map[int]struct{}
	shapes *lru.Cache[uint64, []time.Time]
}

func newHostProfile(host string, now time.Time) *HostProfile {
	shapes, _ := lru.New[uint64, []time.Time](shapeCacheSize)
	return &HostProfile{
		host:      host,
		firstSeen: now,
		ports:     make(map[int]struct{}, 4),
		shapes:    shapes,
	}
}

// evict drops window entries older than the trailing window ending at now.
// The window is monotonic in time; callers must hold the profile lock.
func (p *HostProfile) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(p.stamps) && !p.stamps[i].After(cutoff) {
		p.windowBytes -= p.sizes[i]
		i++
	}
	if i > 0 {
		p.stamps = append(p.stamps[:0], p.stamps[i:]...)
		p.sizes = append(p.sizes[:0], p.sizes[i:]...)
	}
}

// Snapshot is a read-only view of a host profile for operator surfaces.
type Snapshot struct {
	Host          string    `json:"host"`
	FirstSeen     time.Time `json:"first_seen"`
	WindowCount   int       `json:"window_count"`
	WindowBytes   int64     `json:"window_bytes"`
	TotalRequests int64     `json:"total_requests"`
	TotalBytes    int64     `json:"total_bytes"`
	Ports         []int     `json:"ports"`
}

// Profiler owns the shared host table. Lifecycle matches the process: created
// at start, torn down at exit, no persistence across runs.
type Profiler struct {
	mu       sync.RWMutex
	profiles map[string]*HostProfile

	window       time.Duration
	maxPerWindow int
	maxBody      int64
	maxWindowUp  int64
	repeatLimit  int
	suspectPorts map[int]struct{}
	weights      config.Weights

	// now is injectable so rolling-window tests control the clock.
	now func() time.Time
}

// NewProfiler builds a profiler from the static configuration surface.
func NewProfiler(cfg *config.Config) *Profiler {
	ports := make(map[int]struct{}, len(cfg.SuspiciousPorts))
	for _, p := range cfg.SuspiciousPorts {
		ports[p] = struct{}{}
	}
	return &Profiler{
		profiles:     make(map[string]*HostProfile),
		window:       cfg.Window,
		maxPerWindow: cfg.MaxRequestsPerMinute,
		maxBody:      cfg.MaxPostBodySize,
		maxWindowUp:  cfg.MaxWindowUploadBytes,
		repeatLimit:  cfg.RepetitionThreshold,
		suspectPorts: ports,
		weights:      cfg.SignalWeights,
		now:          time.Now,
	}
}

// SetClock replaces the profiler clock. Test hook only.
func (pr *Profiler) SetClock(now func() time.Time) {
	pr.now = now
}

// Observe records a request against its host profile and returns the derived
// behavioral signals. State mutation and signal computation happen atomically
// under the profile lock; no partial update is ever visible to a concurrent
// observation of the same host. A context cancelled before mutation leaves
// the rolling window untouched.
func (pr *Profiler) Observe(ctx context.Context, req *flow.Request, malformed bool) ([]flow.BehaviorSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := pr.getOrCreate(req.Host)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := pr.now()
	p.evict(now, pr.window)

	p.stamps = append(p.stamps, now)
	p.sizes = append(p.sizes, req.BodySize)
	p.windowBytes += req.BodySize
	p.totalBytes += req.BodySize
	p.totalCount++
	p.ports[req.Port] = struct{}{}

	shape := requestShape(req)
	stamps, _ := p.shapes.Get(shape)
	stamps = trimStamps(stamps, now.Add(-pr.window))
	stamps = append(stamps, now)
	p.shapes.Add(shape, stamps)

	var signals []flow.BehaviorSignal

	// Frequency: overshoot past the per-window ceiling scales the weight so
	// deeper floods score monotonically higher.
	if count := len(p.stamps); count > pr.maxPerWindow {
		overshoot := float64(count-pr.maxPerWindow) / float64(pr.maxPerWindow)
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalFrequency,
			Weight: pr.weights.Frequency * (1 + overshoot),
			Detail: fmt.Sprintf("%d requests in window (max %d)", count, pr.maxPerWindow),
		})
	}

	// Volume: cumulative upload inside the window.
	if p.windowBytes > pr.maxWindowUp {
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalVolume,
			Weight: pr.weights.Volume,
			Detail: fmt.Sprintf("%d bytes uploaded in window (max %d)", p.windowBytes, pr.maxWindowUp),
		})
	}

	// Oversize: a single body strictly over the ceiling, independent of
	// history. A body of exactly the ceiling does not trigger.
	if req.BodySize > pr.maxBody {
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalOversize,
			Weight: pr.weights.Oversize,
			Detail: fmt.Sprintf("body %d bytes exceeds max %d", req.BodySize, pr.maxBody),
		})
	}

	if _, ok := pr.suspectPorts[req.Port]; ok {
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalPort,
			Weight: pr.weights.Port,
			Detail: "destination port " + strconv.Itoa(req.Port),
		})
	}

	// Repetition: the same request shape beaconing inside the window.
	if len(stamps) > pr.repeatLimit {
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalRepetition,
			Weight: pr.weights.Repetition,
			Detail: fmt.Sprintf("shape repeated %d times in window (max %d)", len(stamps), pr.repeatLimit),
		})
	}

	if malformed {
		signals = append(signals, flow.BehaviorSignal{
			Name:   SignalMalformed,
			Weight: pr.weights.Malformed,
			Detail: "request body could not be decoded",
		})
	}

	return signals, nil
}

// Snapshot returns read-only views of every tracked host.
func (pr *Profiler) Snapshot() []Snapshot {
	pr.mu.RLock()
	hosts := make([]*HostProfile, 0, len(pr.profiles))
	for _, p := range pr.profiles {
		hosts = append(hosts, p)
	}
	pr.mu.RUnlock()

	out := make([]Snapshot, 0, len(hosts))
	for _, p := range hosts {
		p.mu.Lock()
		ports := make([]int, 0, len(p.ports))
		for port := range p.ports {
			ports = append(ports, port)
		}
		out = append(out, Snapshot{
			Host:          p.host,
			FirstSeen:     p.firstSeen,
			WindowCount:   len(p.stamps),
			WindowBytes:   p.windowBytes,
			TotalRequests: p.totalCount,
			TotalBytes:    p.totalBytes,
			Ports:         ports,
		})
		p.mu.Unlock()
	}
	return out
}

// Tracked reports whether a host currently has a profile. Test helper for
// asserting that bypassed traffic never mutates the table.
func (pr *Profiler) Tracked(host string) bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	_, ok := pr.profiles[host]
	return ok
}

// Reset discards the profile for one host, returning it to a never-seen
// state. Used by tests that assert deterministic scoring.
func (pr *Profiler) Reset(host string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.profiles, host)
}

func (pr *Profiler) getOrCreate(host string) *HostProfile {
	pr.mu.RLock()
	p, ok := pr.profiles[host]
	pr.mu.RUnlock()
	if ok {
		return p
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if p, ok = pr.profiles[host]; ok {
		return p
	}
	p = newHostProfile(host, pr.now())
	pr.profiles[host] = p
	return p
}

// requestShape hashes method, path, and a body length bucket so byte-for-byte
// and near-identical beacons collapse to the same shape.
func requestShape(req *flow.Request) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(req.Method)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(req.Path)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(req.BodySize/64, 10))
	return h.Sum64()
}

func trimStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
