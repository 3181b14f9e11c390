package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Config represents the complete configuration for a software bus instance
type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Bus     BusConfig     `json:"bus" yaml:"bus"`
	Pool    PoolConfig    `json:"pool" yaml:"pool"`
	Events  EventConfig   `json:"events" yaml:"events"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Dump    DumpConfig    `json:"dump" yaml:"dump"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, discard, file path
}

// BusConfig sizes the routing and pipe tables. All tables are allocated once
// from these values and never grow.
type BusConfig struct {
	MaxPipes          int    `json:"max_pipes" yaml:"max_pipes"`
	MaxMsgIDs         int    `json:"max_msg_ids" yaml:"max_msg_ids"`
	MaxDestsPerMsgID  int    `json:"max_dests_per_msg_id" yaml:"max_dests_per_msg_id"`
	MaxPipeDepth      int    `json:"max_pipe_depth" yaml:"max_pipe_depth"`
	MaxPipeNameLen    int    `json:"max_pipe_name_len" yaml:"max_pipe_name_len"`
	DefaultMsgLimit   int    `json:"default_msg_limit" yaml:"default_msg_limit"`
	MaxMsgSize        int    `json:"max_msg_size" yaml:"max_msg_size"`
	HighestValidMsgID uint32 `json:"highest_valid_msg_id" yaml:"highest_valid_msg_id"`

	// Subscription reporting
	SubscriptionReporting bool   `json:"subscription_reporting" yaml:"subscription_reporting"`
	OneSubReportMsgID     uint32 `json:"one_sub_report_msg_id" yaml:"one_sub_report_msg_id"`
	AllSubsReportMsgID    uint32 `json:"all_subs_report_msg_id" yaml:"all_subs_report_msg_id"`
	SubEntriesPerPkt      int    `json:"sub_entries_per_pkt" yaml:"sub_entries_per_pkt"`
}

// PoolConfig contains the block allocator configuration backing message buffers
type PoolConfig struct {
	MemoryBytes int   `json:"memory_bytes" yaml:"memory_bytes"`
	BlockSizes  []int `json:"block_sizes" yaml:"block_sizes"`
}

// EventConfig contains event sink configuration
type EventConfig struct {
	QueueSize  int           `json:"queue_size" yaml:"queue_size"`
	RateLimit  float64       `json:"rate_limit" yaml:"rate_limit"` // events per second per event ID
	RateBurst  int           `json:"rate_burst" yaml:"rate_burst"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	LogEvents  bool          `json:"log_events" yaml:"log_events"`
	DebugLevel bool          `json:"debug_level" yaml:"debug_level"` // forward debug-class events
}

// MetricsConfig contains Prometheus collector configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
}

// DumpConfig controls where table dumps are written
type DumpConfig struct {
	Directory string `json:"directory" yaml:"directory"`
	Format    string `json:"format" yaml:"format"` // yaml, msgpack
}

// Load builds the configuration from the default config file (if present),
// then environment overrides, then validates it.
func Load() (*Config, error) {
	var cfg *Config

	configPath, err := GetDefaultConfigPath()
	if err == nil {
		if _, err := os.Stat(configPath); err == nil {
			cfg, err = LoadFromFile(configPath)
			if err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if cfg == nil {
		cfg = Default()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every section at its default
func Default() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Bus:     DefaultBusConfig(),
		Pool:    DefaultPoolConfig(),
		Events:  DefaultEventConfig(),
		Metrics: DefaultMetricsConfig(),
		Dump:    DefaultDumpConfig(),
	}
}

// applyDefaults fills zero-valued fields left out of a YAML file
func applyDefaults(cfg *Config) {
	defLog := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defLog.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defLog.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defLog.Output
	}

	defBus := DefaultBusConfig()
	if cfg.Bus.MaxPipes == 0 {
		cfg.Bus.MaxPipes = defBus.MaxPipes
	}
	if cfg.Bus.MaxMsgIDs == 0 {
		cfg.Bus.MaxMsgIDs = defBus.MaxMsgIDs
	}
	if cfg.Bus.MaxDestsPerMsgID == 0 {
		cfg.Bus.MaxDestsPerMsgID = defBus.MaxDestsPerMsgID
	}
	if cfg.Bus.MaxPipeDepth == 0 {
		cfg.Bus.MaxPipeDepth = defBus.MaxPipeDepth
	}
	if cfg.Bus.MaxPipeNameLen == 0 {
		cfg.Bus.MaxPipeNameLen = defBus.MaxPipeNameLen
	}
	if cfg.Bus.DefaultMsgLimit == 0 {
		cfg.Bus.DefaultMsgLimit = defBus.DefaultMsgLimit
	}
	if cfg.Bus.MaxMsgSize == 0 {
		cfg.Bus.MaxMsgSize = defBus.MaxMsgSize
	}
	if cfg.Bus.HighestValidMsgID == 0 {
		cfg.Bus.HighestValidMsgID = defBus.HighestValidMsgID
	}
	if cfg.Bus.OneSubReportMsgID == 0 {
		cfg.Bus.OneSubReportMsgID = defBus.OneSubReportMsgID
	}
	if cfg.Bus.AllSubsReportMsgID == 0 {
		cfg.Bus.AllSubsReportMsgID = defBus.AllSubsReportMsgID
	}
	if cfg.Bus.SubEntriesPerPkt == 0 {
		cfg.Bus.SubEntriesPerPkt = defBus.SubEntriesPerPkt
	}

	defPool := DefaultPoolConfig()
	if cfg.Pool.MemoryBytes == 0 {
		cfg.Pool.MemoryBytes = defPool.MemoryBytes
	}
	if len(cfg.Pool.BlockSizes) == 0 {
		cfg.Pool.BlockSizes = defPool.BlockSizes
	}

	defEvents := DefaultEventConfig()
	if cfg.Events.QueueSize == 0 {
		cfg.Events.QueueSize = defEvents.QueueSize
	}
	if cfg.Events.RateLimit == 0 {
		cfg.Events.RateLimit = defEvents.RateLimit
	}
	if cfg.Events.RateBurst == 0 {
		cfg.Events.RateBurst = defEvents.RateBurst
	}
	if cfg.Events.Timeout == 0 {
		cfg.Events.Timeout = defEvents.Timeout
	}

	defMetrics := DefaultMetricsConfig()
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defMetrics.Namespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = defMetrics.Subsystem
	}

	defDump := DefaultDumpConfig()
	if cfg.Dump.Directory == "" {
		cfg.Dump.Directory = defDump.Directory
	}
	if cfg.Dump.Format == "" {
		cfg.Dump.Format = defDump.Format
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvLogOutput); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv(EnvMaxPipes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvMaxPipes, err)
		}
		cfg.Bus.MaxPipes = n
	}
	if v := os.Getenv(EnvMaxMsgIDs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvMaxMsgIDs, err)
		}
		cfg.Bus.MaxMsgIDs = n
	}
	if v := os.Getenv(EnvMaxDests); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvMaxDests, err)
		}
		cfg.Bus.MaxDestsPerMsgID = n
	}
	if v := os.Getenv(EnvMaxMsgSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvMaxMsgSize, err)
		}
		cfg.Bus.MaxMsgSize = n
	}
	if v := os.Getenv(EnvSubReporting); v != "" {
		cfg.Bus.SubscriptionReporting = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv(EnvPoolMemory); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvPoolMemory, err)
		}
		cfg.Pool.MemoryBytes = n
	}

	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Metrics.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvDumpDir); v != "" {
		cfg.Dump.Directory = v
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if err := c.Bus.Validate(); err != nil {
		return err
	}

	if c.Pool.MemoryBytes <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "pool memory must be positive")
	}
	if len(c.Pool.BlockSizes) == 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "pool needs at least one block size")
	}
	prev := 0
	for _, sz := range c.Pool.BlockSizes {
		if sz <= prev {
			return types.NewError(types.ErrCodeInvalidArgument,
				fmt.Sprintf("pool block sizes must be positive and ascending: %v", c.Pool.BlockSizes))
		}
		prev = sz
	}
	if prev < c.Bus.MaxMsgSize {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("largest pool block (%d) cannot hold max message size (%d)", prev, c.Bus.MaxMsgSize))
	}

	if c.Events.QueueSize <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "event queue size must be positive")
	}
	if c.Events.RateLimit < 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "event rate limit cannot be negative")
	}
	if c.Events.RateBurst <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "event rate burst must be positive")
	}

	validDumpFormats := map[string]bool{
		"yaml":    true,
		"msgpack": true,
	}
	if !validDumpFormats[c.Dump.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid dump format: %s (must be yaml or msgpack)", c.Dump.Format))
	}

	return nil
}

// Validate checks the bus table sizing
func (c BusConfig) Validate() error {
	if c.MaxPipes <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "max pipes must be positive")
	}
	if c.MaxMsgIDs <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "max msg ids must be positive")
	}
	if c.MaxDestsPerMsgID <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "max destinations per msg id must be positive")
	}
	if c.MaxPipeDepth <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "max pipe depth must be positive")
	}
	if c.MaxPipeNameLen <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "max pipe name length must be positive")
	}
	if c.DefaultMsgLimit <= 0 || c.DefaultMsgLimit > 0xFFFF {
		return types.NewError(types.ErrCodeInvalidArgument, "default msg limit must be between 1 and 65535")
	}
	if c.MaxMsgSize < 8 {
		return types.NewError(types.ErrCodeInvalidArgument, "max msg size must hold at least a primary and secondary header")
	}
	if c.MaxMsgSize > packet.MaxPacketSize {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("max msg size %d exceeds the %d bytes a packet header can describe", c.MaxMsgSize, packet.MaxPacketSize))
	}
	if c.HighestValidMsgID == 0 || c.HighestValidMsgID > 0x1FFF {
		return types.NewError(types.ErrCodeInvalidArgument, "highest valid msg id must be between 1 and 0x1FFF")
	}
	if c.OneSubReportMsgID > c.HighestValidMsgID || c.AllSubsReportMsgID > c.HighestValidMsgID {
		return types.NewError(types.ErrCodeInvalidArgument, "subscription report msg ids must be valid msg ids")
	}
	if c.SubEntriesPerPkt <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "subscription entries per packet must be positive")
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Logging: %s, Bus: %s, Pool: %s, Events: %s, Metrics: %s, Dump: %s}",
		c.Logging.String(),
		c.Bus.String(),
		c.Pool.String(),
		c.Events.String(),
		c.Metrics.String(),
		c.Dump.String(),
	)
}

// ApplyOverrides applies CLI flag-style overrides to the configuration
func (c *Config) ApplyOverrides(opts OverrideOptions) {
	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		c.Logging.Format = opts.LogFormat
	}
	if opts.LogOutput != "" {
		c.Logging.Output = opts.LogOutput
	}
	if opts.MaxPipes > 0 {
		c.Bus.MaxPipes = opts.MaxPipes
	}
	if opts.MaxMsgIDs > 0 {
		c.Bus.MaxMsgIDs = opts.MaxMsgIDs
	}
	if opts.PoolMemory > 0 {
		c.Pool.MemoryBytes = opts.PoolMemory
	}
	if opts.DumpDir != "" {
		c.Dump.Directory = opts.DumpDir
	}
	if opts.DumpFormat != "" {
		c.Dump.Format = opts.DumpFormat
	}
}

// OverrideOptions contains override options typically set via CLI flags
type OverrideOptions struct {
	LogLevel  string
	LogFormat string
	LogOutput string

	MaxPipes   int
	MaxMsgIDs  int
	PoolMemory int

	DumpDir    string
	DumpFormat string
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}",
		c.Level, c.Format, c.Output)
}

func (c BusConfig) String() string {
	return fmt.Sprintf("BusConfig{MaxPipes: %d, MaxMsgIDs: %d, MaxDests: %d, MaxDepth: %d, MaxMsgSize: %d, Reporting: %v}",
		c.MaxPipes, c.MaxMsgIDs, c.MaxDestsPerMsgID, c.MaxPipeDepth, c.MaxMsgSize, c.SubscriptionReporting)
}

func (c PoolConfig) String() string {
	return fmt.Sprintf("PoolConfig{MemoryBytes: %d, BlockSizes: %v}", c.MemoryBytes, c.BlockSizes)
}

func (c EventConfig) String() string {
	return fmt.Sprintf("EventConfig{QueueSize: %d, RateLimit: %g/s, Burst: %d}",
		c.QueueSize, c.RateLimit, c.RateBurst)
}

func (c MetricsConfig) String() string {
	return fmt.Sprintf("MetricsConfig{Enabled: %v, Namespace: %s}", c.Enabled, c.Namespace)
}

func (c DumpConfig) String() string {
	return fmt.Sprintf("DumpConfig{Directory: %s, Format: %s}", c.Directory, c.Format)
}
