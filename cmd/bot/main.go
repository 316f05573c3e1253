package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/whoson/whosonbot/internal/bot"
	"github.com/whoson/whosonbot/internal/config"
	"github.com/whoson/whosonbot/internal/version"
)

const (
	defaultConfigPath = "/etc/whoson/bot-config.yaml"
	defaultLogLevel   = "info"
)

func main() {
	var (
		configPath  = flag.String("config", defaultConfigPath, "Path to configuration file")
		logLevel    = flag.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("WhosOn Bot %s\n", version.GetFullVersion())
		return
	}

	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	// Setup logger
	logger := setupLogger(*logLevel)

	// Load configuration: environment first, config file as fallback
	cfg, err := config.FromEnv()
	if err != nil {
		cfg, err = config.LoadBotConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load configuration")
		}
	}
	applyLoggingConfig(logger, cfg.Logging, *logLevel)

	// Create and start bot
	botInstance, err := bot.NewFromConfig(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create bot")
	}

	if err := botInstance.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start bot")
	}

	logger.Info("WhosOn Bot started successfully")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down bot...")
	if err := botInstance.Stop(); err != nil {
		logger.WithError(err).Error("Error during shutdown")
	}
}

// setupLogger configures and returns a logger instance
func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set formatter for production (JSON) or development (text)
	if os.Getenv("ENVIRONMENT") == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	}

	return logger
}

// applyLoggingConfig lets the loaded configuration adjust the logger, unless
// the command line already pinned the level.
func applyLoggingConfig(logger *logrus.Logger, logging config.Logging, flagLevel string) {
	if flagLevel == defaultLogLevel && logging.Level != "" {
		if level, err := logrus.ParseLevel(logging.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	if logging.File != "" {
		f, err := os.OpenFile(logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, logging to stderr only")
			return
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}
}
