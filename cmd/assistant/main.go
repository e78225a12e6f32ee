package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/petasbytes/go-assistant/internal/config"
	"github.com/petasbytes/go-assistant/internal/log"
	"github.com/petasbytes/go-assistant/internal/provider"
	"github.com/petasbytes/go-assistant/internal/runner"
	"github.com/petasbytes/go-assistant/internal/telemetry"
	"github.com/petasbytes/go-assistant/tools"
)

var (
	configPath string
	logLevel   string
	backend    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant",
		Short:         "Chat with a hosted assistant that can call local tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&backend, "backend", "", "assistant backend: openai or anthropic")
	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is the wired runtime shared by the subcommands.
type app struct {
	cfg    config.Config
	log    *zap.SugaredLogger
	runner *runner.Runner
}

// loadConfig reads the config file and applies the global flags over it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if logLevel != "" {
		cfg.Log.Level = log.Level(logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := log.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	telemetry.Configure(telemetry.Config{Enabled: cfg.Telemetry.Enabled, Dir: cfg.Telemetry.Dir})

	registry := tools.Default()
	svc, err := provider.New(cfg, registry, logger)
	if err != nil {
		return nil, err
	}
	r := runner.New(svc, registry, runner.Options{
		PollInterval:   cfg.Runner.PollInterval,
		ThreadIDWait:   cfg.Runner.ThreadIDWait,
		UnhandledTools: runner.UnhandledPolicy(cfg.Runner.UnhandledTools),
	}, logger)
	logger.Debugw("assistant ready", "backend", cfg.Backend, "tools", len(registry.Definitions()))
	return &app{cfg: cfg, log: logger, runner: r}, nil
}
