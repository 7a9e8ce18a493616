package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/hadash/internal/color"
	"github.com/dokzlo13/hadash/internal/entity"
	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/transform"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	Server          ServerConfig   `yaml:"server"`
	History         HistoryConfig  `yaml:"history"`
	Refresh         RefreshConfig  `yaml:"refresh"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Import          ImportConfig   `yaml:"import"`
	Graph           GraphOptions   `yaml:"graph"`  // Defaults for every graph
	Graphs          []GraphConfig  `yaml:"graphs"` // Graph definitions
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HistoryConfig contains sample history retention settings
type HistoryConfig struct {
	RetentionDays   int      `yaml:"retention_days"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// Retention returns the retention period.
func (c HistoryConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RefreshConfig contains graph refresh settings
type RefreshConfig struct {
	Debounce         Duration `yaml:"debounce"`          // Quiet period after an entity update before re-rendering
	PeriodicInterval Duration `yaml:"periodic_interval"` // Re-render everything this often, the window slides with time
	RateLimitRPS     float64  `yaml:"rate_limit_rps"`    // Max graph renders per second
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// ImportConfig contains settings for the watched import directory
type ImportConfig struct {
	Dir     string `yaml:"dir"`     // Empty disables the watcher
	Pattern string `yaml:"pattern"` // doublestar pattern relative to Dir
}

// GraphOptions is the rendering configuration of a graph. Pointer fields are
// unset when nil so per-graph options can override the global ones.
type GraphOptions struct {
	NumBuckets         int      `yaml:"num_buckets"`
	ShowLabels         *bool    `yaml:"show_labels"`
	XAxisGridIncrement *float64 `yaml:"x_axis_grid_increment"`
	YAxisGridIncrement *float64 `yaml:"y_axis_grid_increment"`
	SetBaselineToZero  *bool    `yaml:"set_baseline_to_zero"`
}

// GraphConfig defines one graph
type GraphConfig struct {
	ID          string             `yaml:"id"`
	Title       string             `yaml:"title"`
	Options     GraphOptions       `yaml:"options"`
	Series      []SeriesConfig     `yaml:"series"`
	Annotations []AnnotationConfig `yaml:"annotations"`
}

// SeriesConfig defines one series of a graph
type SeriesConfig struct {
	Entity    string `yaml:"entity"`
	Label     string `yaml:"label"`
	Color     string `yaml:"color"`
	Filled    bool   `yaml:"filled"`
	Transform string `yaml:"transform"` // Lua snippet, see package transform

	compiled *transform.Transform
}

// Compiled returns the compiled transform, or nil when none is configured.
func (s *SeriesConfig) Compiled() *transform.Transform {
	return s.compiled
}

// AnnotationConfig defines one annotation of a graph
type AnnotationConfig struct {
	Entity string `yaml:"entity"`
	Label  string `yaml:"label"`
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		cfg.Close()
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./hadash.sqlite"
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8123
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	// History defaults
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 7
	}
	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = Duration(1 * time.Hour)
	}

	// Refresh defaults
	if cfg.Refresh.Debounce == 0 {
		cfg.Refresh.Debounce = Duration(2 * time.Second)
	}
	if cfg.Refresh.PeriodicInterval == 0 {
		cfg.Refresh.PeriodicInterval = Duration(1 * time.Minute)
	}
	if cfg.Refresh.RateLimitRPS == 0 {
		cfg.Refresh.RateLimitRPS = 5.0
	}

	// Import defaults
	if cfg.Import.Pattern == "" {
		cfg.Import.Pattern = "*.json*"
	}

	// Graph defaults
	if cfg.Graph.NumBuckets == 0 {
		cfg.Graph.NumBuckets = graph.DefaultNumBuckets
	}
	if cfg.Graph.ShowLabels == nil {
		showLabels := true
		cfg.Graph.ShowLabels = &showLabels
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration eagerly so no partially-invalid graph
// definition survives loading. It also compiles series transforms.
func (cfg *Config) Validate() error {
	var errs []error

	if err := cfg.Graph.validate(); err != nil {
		errs = append(errs, fmt.Errorf("graph: %w", err))
	}
	if cfg.Refresh.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("refresh.rate_limit_rps must be positive"))
	}

	seen := make(map[string]bool)
	for i := range cfg.Graphs {
		g := &cfg.Graphs[i]
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("graphs[%d]: id is required", i))
			continue
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Errorf("graphs[%d]: duplicate id %q", i, g.ID))
		}
		seen[g.ID] = true

		if err := g.Options.validate(); err != nil {
			errs = append(errs, fmt.Errorf("graph %q: %w", g.ID, err))
		}
		for j := range g.Series {
			if err := g.Series[j].validate(); err != nil {
				errs = append(errs, fmt.Errorf("graph %q series[%d]: %w", g.ID, j, err))
			}
		}
		for j, a := range g.Annotations {
			if _, err := entity.ParseID(a.Entity); err != nil {
				errs = append(errs, fmt.Errorf("graph %q annotations[%d]: %w", g.ID, j, err))
			}
		}
	}

	return errors.Join(errs...)
}

// MaxNumBuckets bounds num_buckets; every render allocates per bucket.
const MaxNumBuckets = 10000

func (o GraphOptions) validate() error {
	if o.NumBuckets < 0 {
		return fmt.Errorf("num_buckets must be positive, got %d", o.NumBuckets)
	}
	if o.NumBuckets > MaxNumBuckets {
		return fmt.Errorf("num_buckets must be at most %d, got %d", MaxNumBuckets, o.NumBuckets)
	}
	if o.XAxisGridIncrement != nil && *o.XAxisGridIncrement <= 0 {
		return fmt.Errorf("x_axis_grid_increment must be positive, got %v", *o.XAxisGridIncrement)
	}
	if o.YAxisGridIncrement != nil && *o.YAxisGridIncrement <= 0 {
		return fmt.Errorf("y_axis_grid_increment must be positive, got %v", *o.YAxisGridIncrement)
	}
	return nil
}

func (s *SeriesConfig) validate() error {
	if _, err := entity.ParseID(s.Entity); err != nil {
		return err
	}
	if s.Color != "" {
		c, err := color.Parse(s.Color)
		if err != nil {
			return err
		}
		s.Color = c.String()
	}
	if s.Transform != "" {
		t, err := transform.Compile(s.Transform)
		if err != nil {
			return err
		}
		s.compiled = t
	}
	return nil
}

// Close releases compiled transforms.
func (cfg *Config) Close() {
	for i := range cfg.Graphs {
		for j := range cfg.Graphs[i].Series {
			if t := cfg.Graphs[i].Series[j].compiled; t != nil {
				t.Close()
				cfg.Graphs[i].Series[j].compiled = nil
			}
		}
	}
}

// GraphByID returns the definition of a graph.
func (cfg *Config) GraphByID(id string) (*GraphConfig, bool) {
	for i := range cfg.Graphs {
		if cfg.Graphs[i].ID == id {
			return &cfg.Graphs[i], true
		}
	}
	return nil, false
}

// RenderOptions merges the graph's own options over defaults.
func (g *GraphConfig) RenderOptions(defaults GraphOptions) graph.Options {
	merged := defaults
	if g.Options.NumBuckets > 0 {
		merged.NumBuckets = g.Options.NumBuckets
	}
	if g.Options.ShowLabels != nil {
		merged.ShowLabels = g.Options.ShowLabels
	}
	if g.Options.XAxisGridIncrement != nil {
		merged.XAxisGridIncrement = g.Options.XAxisGridIncrement
	}
	if g.Options.YAxisGridIncrement != nil {
		merged.YAxisGridIncrement = g.Options.YAxisGridIncrement
	}
	if g.Options.SetBaselineToZero != nil {
		merged.SetBaselineToZero = g.Options.SetBaselineToZero
	}

	return graph.Options{
		NumBuckets:         merged.NumBuckets,
		ShowLabels:         merged.ShowLabels != nil && *merged.ShowLabels,
		XAxisGridIncrement: merged.XAxisGridIncrement,
		YAxisGridIncrement: merged.YAxisGridIncrement,
		SetBaselineToZero:  merged.SetBaselineToZero != nil && *merged.SetBaselineToZero,
	}
}

// Entities returns every entity id referenced by the graph.
func (g *GraphConfig) Entities() []string {
	ids := make([]string, 0, len(g.Series)+len(g.Annotations))
	for _, s := range g.Series {
		ids = append(ids, s.Entity)
	}
	for _, a := range g.Annotations {
		ids = append(ids, a.Entity)
	}
	return ids
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
