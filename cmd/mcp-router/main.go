// Command mcp-router fronts many configured MCP servers with six stable
// meta-tools, served over stdio (default) or a Streamable HTTP endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-router-go/pkg/catalog"
	"github.com/vikashloomba/mcp-router-go/pkg/connmgr"
	mcprouter "github.com/vikashloomba/mcp-router-go/pkg/mcp-router"
	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

type serveConfig struct {
	configPath   string
	catalogPath  string
	legacyFormat bool
	httpAddr     string
	watchConfig  bool
}

func newRootCmd() *cobra.Command {
	var cfg serveConfig
	cmd := &cobra.Command{
		Use:          "mcp-router",
		Short:        "Route many MCP servers behind a small set of meta-tools",
		Long:         "mcp-router connects to configured MCP servers over stdio, SSE, or HTTP and exposes discover/execute/manage meta-tools to a single calling agent.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.configPath, "config", "", "server registry file (default: user config dir)")
	cmd.Flags().StringVar(&cfg.catalogPath, "catalog", "", "tool catalog cache file (default: user cache dir)")
	cmd.Flags().BoolVar(&cfg.legacyFormat, "legacy-format", false, "write the registry in the legacy flat layout")
	cmd.Flags().StringVar(&cfg.httpAddr, "http", "", "serve Streamable HTTP on this address instead of stdio (e.g. :8700)")
	cmd.Flags().BoolVar(&cfg.watchConfig, "watch-config", false, "reload the registry when the config file changes")
	return cmd
}

func serve(ctx context.Context, cfg serveConfig) error {
	// Diagnostics go to stderr; stdout belongs to the protocol in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	configPath := cfg.configPath
	if configPath == "" {
		p, err := registry.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	catalogPath := cfg.catalogPath
	if catalogPath == "" {
		p, err := catalog.DefaultPath()
		if err != nil {
			return err
		}
		catalogPath = p
	}

	reg := registry.Open(configPath, &registry.Options{
		LegacyFormat: cfg.legacyFormat,
		Logger:       logger,
	})
	cat := catalog.Open(catalogPath, logger)
	mgr := connmgr.NewManager(&connmgr.Options{Logger: logger})
	defer func() {
		if err := mgr.DisconnectAll(); err != nil {
			logger.Warn("shutdown disconnect reported errors", "error", err)
		}
	}()

	router := mcprouter.NewRouter(reg, cat, mgr, logger)
	gateway, err := mcprouter.NewGateway(router, &mcprouter.Options{
		Addr:   cfg.httpAddr,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if cfg.watchConfig {
		go func() {
			err := reg.Watch(ctx, func(map[string]registry.ServerDefinition) {
				gateway.RefreshDefinitions()
				logger.Info("registry reloaded", "path", configPath)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	if cfg.httpAddr != "" {
		logger.Info("serving Streamable MCP", "addr", cfg.httpAddr, "config", configPath)
		err := gateway.ListenAndServe(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	logger.Info("serving MCP over stdio", "config", configPath)
	if err := gateway.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
