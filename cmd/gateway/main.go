// Package main is the entry point for the tiergate API gateway.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	watchConfig bool
	showVersion bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags, nil)
	cfg := loadAndValidateConfig(flags.configPath, logger)
	logger = initLogger(flags, cfg)
	defer func() { _ = logger.Sync() }()

	app := initApplication(cfg, logger)

	runGateway(app, flags, logger)
}

// parseFlags parses command line flags. Environment variables supply the
// defaults.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("tiergate", flag.ExitOnError)
	configPath := fs.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := fs.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides logging.level")
	logFormat := fs.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides logging.format")
	watchConfig := fs.Bool("watch-config", getEnvBool("GATEWAY_WATCH_CONFIG", true),
		"Reload services when the configuration file changes")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		watchConfig: *watchConfig,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("tiergate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// logConfig merges flags over the file's logging section.
func logConfig(flags cliFlags, cfg *config.GatewayConfig) observability.LogConfig {
	lc := observability.DefaultLogConfig()
	if cfg != nil {
		lc.Level = cfg.Logging.Level
		lc.Format = cfg.Logging.Format
	}
	if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		lc.Format = flags.logFormat
	}
	return lc
}

// initLogger initializes the logger.
func initLogger(flags cliFlags, cfg *config.GatewayConfig) observability.Logger {
	logger, err := observability.NewLogger(logConfig(flags, cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return nil
	}

	return logger
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}
