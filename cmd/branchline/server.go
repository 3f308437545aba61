package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/branchline/internal/api"
	"github.com/kalambet/branchline/internal/feedsync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep a project's layout live and serve the dev overlay (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(projectID, withMCP)
	},
}

func init() {
	serveCmd.Flags().String("project", "", "project id to keep laid out")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdio")
	serveCmd.MarkFlagRequired("project")
}

func runServer(projectID string, withMCP bool) error {
	fmt.Fprintf(errOut, "branchline version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if _, err := store.GetProject(projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}

	p, err := newPipeline(cfg, viewOptions{})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewOverlayHandler(api.OverlayDeps{
		Timeline: p.ctl,
		Store:    p.ui,
		Actions:  p.actions,
		Feeds:    store,
		Token:    cfg.Server.Token,
	})
	if cfg.Server.Token == "" {
		slog.Warn("overlay running without bearer auth; set BRANCHLINE_SERVER_TOKEN to require it")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := feedsync.NewWorker(store, p.ctl, projectID, cfg.Sync.PollInterval)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.cache.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		worker.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(errOut, "branchline overlay listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(errOut, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Timeline: p.ctl})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's timeline and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), client)
	},
}

func showStatus(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)

	perf, err := client.performance(ctx)
	if err != nil {
		return err
	}
	printStatus("Generation", "%d", perf.Generation)
	printStatus("Nodes", "%d (%d adjusted, %d stacked)",
		perf.LastLayout.TotalNodes, perf.LastLayout.AdjustedNodes, perf.LastLayout.StackedNodes)
	printStatus("Calculations", "%d, avg %s, last %s",
		perf.CalculationCount, perf.AverageCalculationTime, perf.LastCalculationTime)
	printStatus("Cache hit rate", "%.0f%% (%d hits, %d misses)",
		perf.CacheHitRate*100, perf.CacheHits, perf.CacheMisses)

	stats, err := client.cacheStats(ctx)
	if err != nil {
		return err
	}
	printStatus("Cache entries", "%d (max %d per table, max age %s)", stats.TotalEntries, stats.MaxEntries, stats.MaxAge)
	return nil
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force the running server to recalculate its layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		snap, err := client.refresh(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Recalculated generation %d: %d feeds, %d visible",
			snap.Generation, len(snap.PositionedFeeds), len(snap.VisibleFeeds))
		return nil
	},
}
