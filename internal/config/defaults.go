package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
// This should only be called from tests
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the softbus configuration directory
// Uses ~/.config/softbus/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "softbus"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names
	EnvLogLevel       = "SOFTBUS_LOG_LEVEL"
	EnvLogFormat      = "SOFTBUS_LOG_FORMAT"
	EnvLogOutput      = "SOFTBUS_LOG_OUTPUT"
	EnvMaxPipes       = "SOFTBUS_MAX_PIPES"
	EnvMaxMsgIDs      = "SOFTBUS_MAX_MSG_IDS"
	EnvMaxDests       = "SOFTBUS_MAX_DESTS_PER_MSG_ID"
	EnvMaxMsgSize     = "SOFTBUS_MAX_MSG_SIZE"
	EnvSubReporting   = "SOFTBUS_SUBSCRIPTION_REPORTING"
	EnvPoolMemory     = "SOFTBUS_POOL_MEMORY"
	EnvMetricsEnabled = "SOFTBUS_METRICS_ENABLED"
	EnvDumpDir        = "SOFTBUS_DUMP_DIR"
)

const (
	// Default Logging settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Default table sizes
	DefaultMaxPipes          = 64
	DefaultMaxMsgIDs         = 256
	DefaultMaxDestsPerMsgID  = 16
	DefaultMaxPipeDepth      = 256
	DefaultMaxPipeNameLen    = 20
	DefaultMsgLimit          = 4
	DefaultMaxMsgSize        = 32768
	DefaultHighestValidMsgID = 0x1FFF

	// Default subscription report message IDs
	DefaultOneSubReportMsgID  = 0x080E
	DefaultAllSubsReportMsgID = 0x080D
	DefaultSubEntriesPerPkt   = 20

	// Default pool settings
	DefaultPoolMemory = 512 * 1024

	// Default event settings
	DefaultEventQueueSize = 1000
	DefaultEventRateLimit = 1.0
	DefaultEventRateBurst = 4
)

// DefaultBlockSizes are the allocator size classes, smallest first
var DefaultBlockSizes = []int{8, 16, 20, 36, 64, 96, 128, 160, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: "stdout",
	}
}

// DefaultBusConfig returns the default bus table sizing
func DefaultBusConfig() BusConfig {
	return BusConfig{
		MaxPipes:              DefaultMaxPipes,
		MaxMsgIDs:             DefaultMaxMsgIDs,
		MaxDestsPerMsgID:      DefaultMaxDestsPerMsgID,
		MaxPipeDepth:          DefaultMaxPipeDepth,
		MaxPipeNameLen:        DefaultMaxPipeNameLen,
		DefaultMsgLimit:       DefaultMsgLimit,
		MaxMsgSize:            DefaultMaxMsgSize,
		HighestValidMsgID:     DefaultHighestValidMsgID,
		SubscriptionReporting: true,
		OneSubReportMsgID:     DefaultOneSubReportMsgID,
		AllSubsReportMsgID:    DefaultAllSubsReportMsgID,
		SubEntriesPerPkt:      DefaultSubEntriesPerPkt,
	}
}

// DefaultPoolConfig returns the default buffer pool configuration
func DefaultPoolConfig() PoolConfig {
	sizes := make([]int, len(DefaultBlockSizes))
	copy(sizes, DefaultBlockSizes)
	return PoolConfig{
		MemoryBytes: DefaultPoolMemory,
		BlockSizes:  sizes,
	}
}

// DefaultEventConfig returns the default event sink configuration
func DefaultEventConfig() EventConfig {
	return EventConfig{
		QueueSize:  DefaultEventQueueSize,
		RateLimit:  DefaultEventRateLimit,
		RateBurst:  DefaultEventRateBurst,
		Timeout:    5 * time.Second,
		LogEvents:  true,
		DebugLevel: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "softbus",
		Subsystem: "sb",
	}
}

// DefaultDumpConfig returns the default dump configuration
func DefaultDumpConfig() DumpConfig {
	dir := os.TempDir()
	if configDir, err := GetConfigDir(); err == nil {
		dir = filepath.Join(configDir, "dumps")
	}
	return DumpConfig{
		Directory: dir,
		Format:    "yaml",
	}
}
