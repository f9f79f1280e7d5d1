package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/api"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/forge"
	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/secrets"
	"github.com/taskforge/taskforge/internal/taskstore"
	"github.com/taskforge/taskforge/internal/worktree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskforge HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: os.Stdout})

	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := taskstore.New(cfg.Paths.TaskStorePath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("failed to close task store", "error", closeErr)
		}
	}()

	wm := worktree.NewManager(cfg.Paths.ReposBaseDir, cfg.Paths.WorktreesDir, logger)

	secretStore, err := secrets.New(cfg.Paths.SecretsDir)
	if err != nil {
		return fmt.Errorf("opening secret store: %w", err)
	}

	hostedKey, err := secretStore.GetPlaintext(context.Background(), core.SecretKindAIKey, cfg.Agents.Hosted.Provider)
	if err != nil {
		hostedKey = ""
	}
	registry := agent.NewRegistry(cfg.Agents, hostedKey)

	hubs := events.NewManager()
	forgeClient := forge.NewClient(cfg.Forge)

	orch := orchestrator.New(store, wm, registry, hubs, secretStore, forgeClient,
		orchestrator.WithInitialTimeout(cfg.Runtime.InitialTimeout),
		orchestrator.WithTimeoutIncrement(cfg.Runtime.TimeoutIncrement),
		orchestrator.WithLogger(logger),
	)

	serverOpts := []api.Option{api.WithLogger(logger)}
	if cfg.Auth.Token != "" {
		serverOpts = append(serverOpts, api.WithAuthToken(cfg.Auth.Token))
	}
	server := api.NewServer(orch, hubs, serverOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(ctx, addr) }()

	printBanner(cfg, addr)
	if cfg.Auth.Token != "" {
		if tok, mintErr := api.MintAuthToken(cfg.Auth.Token, 24*time.Hour); mintErr == nil {
			fmt.Printf("  %s %s\n\n", color.YellowString("session token (24h):"), tok)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
	}
	return nil
}

func printBanner(cfg *config.Config, addr string) {
	title := color.New(color.FgCyan, color.Bold)
	_, _ = title.Printf("\n  taskforge-server listening on %s\n", addr)
	fmt.Printf("  repos:     %s\n", cfg.Paths.ReposBaseDir)
	fmt.Printf("  worktrees: %s\n", cfg.Paths.WorktreesDir)
	fmt.Printf("  secrets:   %s\n\n", cfg.Paths.SecretsDir)
}
