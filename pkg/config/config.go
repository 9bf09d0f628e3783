package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PatternRule is one configurable indicator pattern. KnownChannel rules are
// conclusive evidence (webhook URLs, bot tokens) and force BLOCK regardless of
// score.
type PatternRule struct {
	Kind         string  `yaml:"kind"`
	Regex        string  `yaml:"regex"`
	Severity     float64 `yaml:"severity"`
	KnownChannel bool    `yaml:"known_channel"`
}

// Weights are the per-signal contributions to the aggregate risk score.
// Values are on the same 0-100 scale as indicator severities.
type Weights struct {
	Frequency  float64 `yaml:"frequency"`
	Volume     float64 `yaml:"volume"`
	Oversize   float64 `yaml:"oversize"`
	Port       float64 `yaml:"port"`
	Repetition float64 `yaml:"repetition"`
	Malformed  float64 `yaml:"malformed"`
}

// Config holds global settings for the Glance interception core.
// All settings can be configured via environment variables, a YAML rules file,
// or programmatically. The config is loaded once at startup and static
// thereafter.
type Config struct {
	// === Policy ===
	StrictMode  bool     // No host is implicitly trusted; every request is scored
	KnownHosts  []string // Vendor infrastructure trusted when strict mode is off
	IgnoreHosts []string // Explicit bypass list: no profiling, no scoring, no export beyond the bypassed stream

	// === Indicator patterns ===
	Patterns       []PatternRule // Builtin table
	CustomPatterns []PatternRule // Operator additions, appended to the builtin table

	// === Behavioral thresholds ===
	MaxPostBodySize       int64         // Single-request body ceiling; one byte over raises an immediate signal
	MaxRequestsPerMinute  int           // Frequency ceiling per host inside the window
	MaxWindowUploadBytes  int64         // Cumulative upload ceiling per host inside the window
	SuspiciousPorts       []int         // Common C2 ports
	RepetitionThreshold   int           // Identical request shapes tolerated inside the window
	Window                time.Duration // Sliding window over which counters aggregate
	BodyInspectionCeiling int64         // Bodies larger than this are head-sampled, not fully scanned

	// === Decision thresholds (0-100 scale) ===
	BlockThreshold float64 // Score at or above this = BLOCK
	FlagThreshold  float64 // Score at or above this = FLAG_POTENTIAL (strictly below BlockThreshold)

	SignalWeights Weights

	// === Report sinks ===
	ExportDir    string // JSONL stream files live here (default: "./exports")
	RedisAddr    string // Optional: mirror records into Redis streams
	KafkaBrokers []string
	KafkaTopic   string // Topic prefix; the stream name is appended
	PostgresDSN  string // Optional: mirror records into Postgres

	// === Inspection ===
	MaxConcurrentInspections int // Bound on in-flight inspections across connections
}

// NewDefaultConfig creates a Config with the stock Minecraft-focused policy.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		StrictMode:  GetEnvBool("GLANCE_STRICT_MODE", false),
		KnownHosts:  GetEnvSlice("GLANCE_KNOWN_HOSTS", defaultKnownHosts()),
		IgnoreHosts: GetEnvSlice("GLANCE_IGNORE_HOSTS", defaultIgnoreHosts()),

		Patterns: BuiltinPatterns(),

		MaxPostBodySize:       int64(GetEnvInt("GLANCE_MAX_POST_BODY_SIZE", 500000)),
		MaxRequestsPerMinute:  GetEnvInt("GLANCE_MAX_REQUEST_FREQUENCY", 50),
		MaxWindowUploadBytes:  int64(GetEnvInt("GLANCE_MAX_WINDOW_UPLOAD_BYTES", 2000000)),
		SuspiciousPorts:       defaultSuspiciousPorts(),
		RepetitionThreshold:   GetEnvInt("GLANCE_REPETITION_THRESHOLD", 5),
		Window:                time.Duration(GetEnvInt("GLANCE_WINDOW_SECONDS", 60)) * time.Second,
		BodyInspectionCeiling: int64(GetEnvInt("GLANCE_BODY_INSPECTION_CEILING", 262144)),

		BlockThreshold: GetEnvFloat("GLANCE_BLOCK_THRESHOLD", 70),
		FlagThreshold:  GetEnvFloat("GLANCE_FLAG_THRESHOLD", 40),

		SignalWeights: Weights{
			Frequency:  GetEnvFloat("GLANCE_WEIGHT_FREQUENCY", 45),
			Volume:     GetEnvFloat("GLANCE_WEIGHT_VOLUME", 35),
			Oversize:   GetEnvFloat("GLANCE_WEIGHT_OVERSIZE", 60),
			Port:       GetEnvFloat("GLANCE_WEIGHT_PORT", 20),
			Repetition: GetEnvFloat("GLANCE_WEIGHT_REPETITION", 30),
			Malformed:  GetEnvFloat("GLANCE_WEIGHT_MALFORMED", 15),
		},

		ExportDir:    GetEnv("GLANCE_EXPORT_DIR", "./exports"),
		RedisAddr:    GetEnv("GLANCE_REDIS_ADDR", ""),
		KafkaBrokers: GetEnvSlice("GLANCE_KAFKA_BROKERS", nil),
		KafkaTopic:   GetEnv("GLANCE_KAFKA_TOPIC", "glance-records"),
		PostgresDSN:  GetEnv("GLANCE_POSTGRES_DSN", ""),

		MaxConcurrentInspections: GetEnvInt("GLANCE_MAX_CONCURRENT_INSPECTIONS", 128),
	}
	return cfg
}

// NewStrictConfig creates a Config where no host is implicitly trusted.
func NewStrictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.StrictMode = true
	return cfg
}

// defaultKnownHosts is the game vendor's own infrastructure. Trusted only when
// strict mode is disabled.
func defaultKnownHosts() []string {
	return []string{
		"sessionserver.mojang.com",
		"authserver.mojang.com",
		"api.mojang.com",
		"api.minecraftservices.com",
		"textures.minecraft.net",
	}
}

// defaultIgnoreHosts is noisy benign infrastructure that bypasses interception
// entirely. Asset downloads from these would swamp the profiler.
func defaultIgnoreHosts() []string {
	return []string{
		"files.minecraftforge.net",
		"launchermeta.mojang.com",
		"piston-meta.mojang.com",
		"piston-data.mojang.com",
		"launcher.mojang.com",
		"libraries.minecraft.net",
		"resources.download.minecraft.net",
	}
}

// defaultSuspiciousPorts lists destination ports commonly used by C2 panels.
func defaultSuspiciousPorts() []int {
	return []int{2404, 4444, 5555, 6666, 7080, 7443, 7777, 8080, 8090, 8443, 8848, 8888, 9999, 60000}
}

// rulesFile is the YAML shape of an operator rules file. Every field is
// optional; anything omitted keeps its current value.
type rulesFile struct {
	StrictMode           *bool         `yaml:"strict_mode"`
	KnownHosts           []string      `yaml:"known_hosts"`
	IgnoreHosts          []string      `yaml:"ignore_hosts"`
	CustomPatterns       []PatternRule `yaml:"custom_patterns"`
	MaxPostBodySize      *int64        `yaml:"max_post_body_size"`
	MaxRequestsPerMinute *int          `yaml:"max_requests_per_minute"`
	MaxWindowUploadBytes *int64        `yaml:"max_window_upload_bytes"`
	SuspiciousPorts      []int         `yaml:"suspicious_ports"`
	RepetitionThreshold  *int          `yaml:"repetition_threshold"`
	WindowSeconds        *int          `yaml:"window_seconds"`
	BlockThreshold       *float64      `yaml:"block_threshold"`
	FlagThreshold        *float64      `yaml:"flag_threshold"`
	SignalWeights        *Weights      `yaml:"signal_weights"`
}

// LoadRules overlays a YAML rules file onto the config. An empty path is not
// an error; a present but unparsable file is.
func (c *Config) LoadRules(path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}

	if rf.StrictMode != nil {
		c.StrictMode = *rf.StrictMode
	}
	if len(rf.KnownHosts) > 0 {
		c.KnownHosts = rf.KnownHosts
	}
	if len(rf.IgnoreHosts) > 0 {
		c.IgnoreHosts = rf.IgnoreHosts
	}
	c.CustomPatterns = append(c.CustomPatterns, rf.CustomPatterns...)
	if rf.MaxPostBodySize != nil {
		c.MaxPostBodySize = *rf.MaxPostBodySize
	}
	if rf.MaxRequestsPerMinute != nil {
		c.MaxRequestsPerMinute = *rf.MaxRequestsPerMinute
	}
	if rf.MaxWindowUploadBytes != nil {
		c.MaxWindowUploadBytes = *rf.MaxWindowUploadBytes
	}
	if len(rf.SuspiciousPorts) > 0 {
		c.SuspiciousPorts = rf.SuspiciousPorts
	}
	if rf.RepetitionThreshold != nil {
		c.RepetitionThreshold = *rf.RepetitionThreshold
	}
	if rf.WindowSeconds != nil {
		c.Window = time.Duration(*rf.WindowSeconds) * time.Second
	}
	if rf.BlockThreshold != nil {
		c.BlockThreshold = *rf.BlockThreshold
	}
	if rf.FlagThreshold != nil {
		c.FlagThreshold = *rf.FlagThreshold
	}
	if rf.SignalWeights != nil {
		c.SignalWeights = *rf.SignalWeights
	}
	return c.Validate()
}

// Validate checks threshold sanity. Pattern regex compilation is validated by
// the pattern registry at startup; a bad regex is fatal there.
func (c *Config) Validate() error {
	if c.MaxPostBodySize <= 0 {
		return fmt.Errorf("max_post_body_size must be > 0")
	}
	if c.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("max_requests_per_minute must be > 0")
	}
	if c.MaxWindowUploadBytes <= 0 {
		return fmt.Errorf("max_window_upload_bytes must be > 0")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window_seconds must be > 0")
	}
	if c.RepetitionThreshold <= 0 {
		return fmt.Errorf("repetition_threshold must be > 0")
	}
	if c.BodyInspectionCeiling <= 0 {
		return fmt.Errorf("body_inspection_ceiling must be > 0")
	}
	if c.FlagThreshold >= c.BlockThreshold {
		return fmt.Errorf("flag_threshold (%.1f) must be strictly below block_threshold (%.1f)",
			c.FlagThreshold, c.BlockThreshold)
	}
	for _, p := range c.AllPatterns() {
		if p.Kind == "" {
			return fmt.Errorf("pattern rule with empty kind")
		}
		if p.Regex == "" {
			return fmt.Errorf("pattern rule %q has empty regex", p.Kind)
		}
	}
	return nil
}

// AllPatterns returns the builtin table followed by custom additions.
func (c *Config) AllPatterns() []PatternRule {
	out := make([]PatternRule, 0, len(c.Patterns)+len(c.CustomPatterns))
	out = append(out, c.Patterns...)
	out = append(out, c.CustomPatterns...)
	return out
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before accepting traffic.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "[STARTUP] FATAL: configuration validation failed: %v\n", err)
		os.Exit(1)
	}
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
