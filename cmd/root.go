package cmd

import (
	"fmt"
	"os"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/spf13/cobra"
)

// Version is the softbus CLI version
const Version = "0.1.0"

var (
	// CLI flags
	cfgFile    string
	logLevel   string
	logFormat  string
	logOutput  string
	maxPipes   int
	maxMsgIDs  int
	poolMemory int
	dumpDir    string
	dumpFormat string

	// Global variables
	rootLog *logger.Logger
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "softbus",
	Short: "Softbus - in-process software bus for flight software",
	Long: `Softbus routes fixed-header packets between tasks in one process.
Tasks create pipes, subscribe them to message IDs and send; every subscriber
receives the message from one shared, reference-counted buffer.

The CLI runs a demonstration workload against a bus, renders its tables and
statistics, and reads back dump files.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// setup loads configuration and initializes the logger before any command
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	rootLog.Debug("Configuration loaded", "config", cfg.String())
	return nil
}

// initLogger initializes the global logger from the effective configuration
func initLogger(lc config.LoggingConfig) error {
	log, err := logger.New(lc)
	if err != nil {
		return err
	}

	rootLog = log
	logger.SetGlobal(log)
	return nil
}

// loadConfig loads the config file (or the default path and environment)
// and applies CLI overrides
func loadConfig() (*config.Config, error) {
	var c *config.Config
	var err error
	if cfgFile != "" {
		c, err = config.LoadFromFile(cfgFile)
	} else {
		c, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	c.ApplyOverrides(config.OverrideOptions{
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		LogOutput:  logOutput,
		MaxPipes:   maxPipes,
		MaxMsgIDs:  maxMsgIDs,
		PoolMemory: poolMemory,
		DumpDir:    dumpDir,
		DumpFormat: dumpFormat,
	})
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if rootLog != nil {
			rootLog.Error("Command execution failed", "error", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: ~/.config/softbus/config.yaml if present)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stdout, stderr, discard, or file path (default: from config or env)")

	// Bus sizing flags
	rootCmd.PersistentFlags().IntVar(&maxPipes, "max-pipes", 0,
		"Pipe table size (default: from config or env)")
	rootCmd.PersistentFlags().IntVar(&maxMsgIDs, "max-msg-ids", 0,
		"Routing table size (default: from config or env)")
	rootCmd.PersistentFlags().IntVar(&poolMemory, "pool-memory", 0,
		"Buffer pool budget in bytes (default: from config or env)")

	// Dump flags
	rootCmd.PersistentFlags().StringVar(&dumpDir, "dump-dir", "",
		"Directory for table dumps (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&dumpFormat, "dump-format", "",
		"Dump format: yaml, msgpack (default: from config or env)")

	rootCmd.AddCommand(demoCmd, dumpCmd, configCmd)
}
