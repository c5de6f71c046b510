package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlab-dev/runlab/internal/builder"
	"github.com/runlab-dev/runlab/internal/config"
	"github.com/runlab-dev/runlab/internal/gateway"
	"github.com/runlab-dev/runlab/internal/prompt"
	"github.com/runlab-dev/runlab/internal/report"
	"github.com/runlab-dev/runlab/internal/session"
	"github.com/runlab-dev/runlab/internal/supervisor"
	"github.com/runlab-dev/runlab/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket chat endpoint",
	Long: `Serve the chat endpoint. Each websocket connection at /ws is one
conversation; send {"type":"message","text":"..."} frames with source code
and input lines, and {"type":"cancel"} to abort.`,
	RunE: runServe,
}

// shutdownTimeout bounds how long live sessions get to release their child
// processes and workspace directories once the server is asked to stop.
const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, cfgPath, err := loadOrCreateConfig(configPath, logger)
	if err != nil {
		return err
	}

	logger.Info("loaded configuration", "path", cfgPath)

	if err := cfg.Validate(); err != nil {
		return err
	}

	workRoot := determineWorkRoot(cfg, cfgPath)
	logger.Info("work root", "path", workRoot)

	if err := workspace.Initialize(workRoot); err != nil {
		return fmt.Errorf("failed to initialize work root: %w", err)
	}

	deps, gw := buildDeps(cfg, workRoot, logger)
	registry := session.NewRegistry(deps)
	gw.Bind(registry)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}

	registry.Shutdown(shutdownTimeout)
	logger.Info("shutdown complete", "live_sessions", registry.Len())
	return nil
}

// buildDeps wires the session collaborators from configuration. The gateway
// is returned separately because it doubles as the Notifier and must be bound
// to the registry after the registry exists.
func buildDeps(cfg *config.Config, workRoot string, logger *slog.Logger) (session.Deps, *gateway.Gateway) {
	gw := gateway.New(logger)

	var renderer report.Renderer = report.HTMLRenderer{}
	if cfg.Report.RendererCommand != "" {
		renderer = report.NewCommandRenderer(cfg.Report.RendererCommand, logger)
	}

	deps := session.Deps{
		Builder:            builder.New(workRoot, cfg.Compiler, logger),
		Supervisor:         supervisor.New(cfg.Session.GracePeriod(), logger),
		Detector:           prompt.NewHeuristic(cfg.Prompt.Suffixes, cfg.Prompt.Markers),
		Renderer:           renderer,
		Notifier:           gw,
		Logger:             logger,
		DocumentName:       cfg.Report.DocumentName,
		SilenceTimeout:     cfg.Session.SilenceTimeout(),
		MaxSessionDuration: cfg.Session.MaxSessionDuration(),
		LedgerDir:          filepath.Join(workRoot, "events"),
	}

	return deps, gw
}

// loadOrCreateConfig finds an existing config or creates a new one
// Following the decision: walk up directory tree, create in CWD if not found
func loadOrCreateConfig(configPath string, logger *slog.Logger) (*config.Config, string, error) {
	// If explicit path provided, use it
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, configPath, nil
	}

	// Search up directory tree for runlab.json
	foundPath, err := findConfigInTree()
	if err != nil {
		return nil, "", err
	}

	if foundPath != "" {
		logger.Info("found existing config", "path", foundPath)
		cfg, err := config.LoadFromFile(foundPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, foundPath, nil
	}

	// No config found, create default in current directory
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	defaultPath := filepath.Join(cwd, "runlab.json")
	logger.Info("no config found, creating default", "path", defaultPath)

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(defaultPath); err != nil {
		return nil, "", fmt.Errorf("failed to save default config: %w", err)
	}

	logger.Info("created default config", "path", defaultPath)
	return cfg, defaultPath, nil
}

// findConfigInTree searches up the directory tree for runlab.json
func findConfigInTree() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	for {
		configPath := filepath.Join(dir, "runlab.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return "", nil
}

// determineWorkRoot resolves the work root relative to the config file
// Following the decision: resolve relative to directory containing runlab.json
func determineWorkRoot(cfg *config.Config, configPath string) string {
	configDir := filepath.Dir(configPath)
	if cfg.WorkRoot == "." {
		return configDir
	}
	if filepath.IsAbs(cfg.WorkRoot) {
		return cfg.WorkRoot
	}
	return filepath.Join(configDir, cfg.WorkRoot)
}
