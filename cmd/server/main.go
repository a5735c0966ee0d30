// Package main provides the entry point for the voice proxy. The server exposes
// speech-to-text, text-to-speech and a memory-augmented streaming chat endpoint backed by
// hosted OpenAI or Azure OpenAI models.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/VoiceProxyAPI/internal/cmd"
	"github.com/router-for-me/VoiceProxyAPI/internal/config"
	"github.com/router-for-me/VoiceProxyAPI/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var envPath string
	var debug bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.StringVar(&envPath, "env", ".env", "Path to a .env file with API keys")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("Voice Proxy Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(envPath); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	configFilePath := configPath
	if abs, err := filepath.Abs(configPath); err == nil {
		configFilePath = abs
	}
	_, statErr := os.Stat(configFilePath)
	configExists := statErr == nil

	cfg, err := config.LoadConfigOptional(configFilePath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	logging.SetLogLevel(cfg.LogLevel)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	if !configExists {
		log.Infof("no config file at %s, using defaults and environment", configFilePath)
		configFilePath = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = cmd.StartService(ctx, cfg, configFilePath); err != nil {
		log.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
