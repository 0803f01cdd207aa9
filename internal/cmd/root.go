// Package cmd provides the CLI commands for Parley.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/appdir"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string // --server flag, overrides the configured base URL
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config

	// configWatcher reloads cfg when the file on disk changes.
	configWatcher *config.Watcher
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - a streaming chat client for conversation backends",
	Long: `Parley is a command-line client for chat backends that stream
assistant replies over WebSockets.

It hydrates past conversation history over the REST API, then keeps a
single live socket per chat context, reassembling streamed reply
fragments into a local transcript.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Ensure the Parley directory exists before logging may write there
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Parley directory: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		if err := applyConfig(loaded); err != nil {
			return err
		}

		// Watch the config file so edits take effect without a restart.
		// Watcher failures are not fatal; the loaded config stays in use.
		watcher, err := config.NewWatcher(path, logging.CLI())
		if err != nil {
			logging.CLI().Warn("Config file watching disabled", "path", path, "error", err)
			return nil
		}
		watcher.Subscribe(configReloader{path: path})
		watcher.Start()
		configWatcher = watcher

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if configWatcher != nil {
			configWatcher.Close()
			configWatcher = nil
		}
		// Clean up logging resources
		return logging.Close()
	},
}

// applyConfig makes c the active configuration: flag overrides are applied
// on top and logging is (re)initialized. Called at startup and again on
// every live reload.
func applyConfig(c *config.Config) error {
	if serverURL != "" {
		c.Server.BaseURL = serverURL
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if err := logging.Initialize(buildLogConfig(c)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg = c
	return nil
}

// buildLogConfig resolves the effective logging settings from the config
// file and the command-line flags.
// Priority: --log-level flag > --debug flag > config > default (info).
func buildLogConfig(c *config.Config) logging.Config {
	effectiveLogLevel := c.Logging.Level
	if logLevel != "" {
		effectiveLogLevel = logLevel
	} else if debug {
		effectiveLogLevel = "debug"
	}
	components := c.Logging.Components
	if logComponents != "" {
		components = nil
		for _, comp := range strings.Split(logComponents, ",") {
			comp = strings.TrimSpace(comp)
			if comp != "" {
				components = append(components, comp)
			}
		}
	}
	effectiveLogFile := c.Logging.File
	if logFile != "" {
		effectiveLogFile = logFile
	}
	logCfg := logging.Config{
		Level:      effectiveLogLevel,
		JSON:       c.Logging.JSON,
		Components: components,
	}
	if effectiveLogFile != "" {
		logCfg.FileLog = &logging.FileLogConfig{Path: effectiveLogFile}
	}
	return logCfg
}

// configReloader applies configuration changes detected on disk. Logging
// settings take effect immediately; server and session settings are read
// from cfg at session construction and so apply to the next command.
type configReloader struct {
	path string
}

func (r configReloader) OnConfigChanged(event config.ChangeEvent) {
	if err := applyConfig(event.Config); err != nil {
		logging.CLI().Warn("Reloaded config not applied", "path", r.path, "error", err)
		return
	}
	logging.CLI().Info("Configuration reloaded", "path", r.path)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (defaults to ~/.parleyrc)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend base URL (overrides the configured value)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'conn,session'). Empty means all components.")
}
