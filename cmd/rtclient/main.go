// rtclient connects to the regpilot realtime endpoint, prints received
// messages and status changes, and sends messages typed on stdin.
// Usage: go run ./cmd/rtclient --config configs/rtclient.example.yaml
//
// Stdin lines are either "type {json}" to send a message or one of
// /connect, /disconnect, /reconnect, /status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/regpilot-realtime/internal/config"
	"github.com/rickgao/regpilot-realtime/internal/connection"
	"github.com/rickgao/regpilot-realtime/internal/database"
	"github.com/rickgao/regpilot-realtime/internal/journal"
	"github.com/rickgao/regpilot-realtime/internal/metrics"
	"github.com/rickgao/regpilot-realtime/internal/model"
	"github.com/rickgao/regpilot-realtime/internal/router"
	"github.com/rickgao/regpilot-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting rtclient",
		version.Attr(),
		"config", *configPath,
		"url", cfg.Realtime.URL,
	)

	if err := run(cfg, *verbose, logger); err != nil {
		logger.Error("rtclient failed", "error", err)
		os.Exit(1)
	}
	logger.Info("rtclient stopped")
}

func run(cfg *config.Config, verbose bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	mgr, err := connection.NewManager(cfg.Realtime.Connection(), logger, connection.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}
	defer mgr.Destroy()

	subscribePrinters(mgr, verbose, logger)

	// Optional journal
	var j *journal.Journal
	var pool *pgxpool.Pool
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		j = journal.New(journal.Config{
			Types:         cfg.Journal.Types,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger.With("component", "journal"), m)

		if err := j.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := j.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		j.Attach(mgr)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: createHandler(cfg.Metrics.Path, m, mgr, pool, j),
		}

		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// Stats logger
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := mgr.Stats()
				attrs := []any{
					"status", stats.Status.String(),
					"attempts", stats.Attempts,
					"queue_depth", stats.QueueDepth,
					"sent", stats.MessagesSent,
				}
				if j != nil {
					js := j.Stats()
					attrs = append(attrs, "journal_inserts", js.Inserts, "journal_errors", js.Errors)
				}
				logger.Info("stats", attrs...)
			}
		}
	})

	// Stdin cannot be interrupted, so it stays outside the group.
	go readCommands(gctx, os.Stdin, mgr, logger)

	mgr.Connect()
	logger.Info("client running - type messages as \"type {json}\", Ctrl+C to stop")

	err = g.Wait()

	logger.Info("shutting down...")
	mgr.Destroy()
	if j != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		j.Stop(stopCtx)
	}

	return err
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// subscribePrinters prints known message types and status changes to stdout.
func subscribePrinters(mgr connection.Manager, verbose bool, logger *slog.Logger) {
	mgr.OnStatusChange(func(status connection.Status, err error) {
		if err != nil {
			fmt.Printf("[STATUS] %s: %v\n", status, err)
			return
		}
		fmt.Printf("[STATUS] %s\n", status)
	})

	mgr.Subscribe(model.TypeProjectUpdated, router.Typed(func(p model.ProjectUpdated, msg model.Message) error {
		if verbose {
			return printJSON("PROJECT", msg)
		}
		fmt.Printf("[PROJECT] %s status=%s changes=%d by=%s\n", p.ProjectID, p.Status, len(p.Changes), p.UpdatedBy)
		return nil
	}))

	mgr.Subscribe(model.TypeTypingIndicator, router.Typed(func(p model.TypingIndicator, msg model.Message) error {
		if verbose {
			return printJSON("TYPING", msg)
		}
		fmt.Printf("[TYPING] %s user=%s typing=%t\n", p.ProjectID, p.UserID, p.IsTyping)
		return nil
	}))

	mgr.Subscribe(model.TypeAgentResponse, router.Typed(func(p model.AgentResponse, msg model.Message) error {
		if verbose {
			return printJSON("AGENT", msg)
		}
		fmt.Printf("[AGENT] %s #%d %q done=%t\n", p.SessionID, p.Seq, p.Content, p.Done)
		return nil
	}))

	mgr.Subscribe(model.TypePong, router.HandlerFunc(func(msg model.Message) error {
		logger.Debug("pong received", "timestamp", msg.Timestamp)
		return nil
	}))
}

func printJSON(label string, msg model.Message) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("[%s] %s\n", label, data)
	return nil
}

// createHandler serves metrics and a health summary.
func createHandler(metricsPath string, m *metrics.Metrics, mgr connection.Manager, pool *pgxpool.Pool, j *journal.Journal) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := mgr.Stats()
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["realtime"] = map[string]any{
			"status":      stats.Status.String(),
			"attempts":    stats.Attempts,
			"queue_depth": stats.QueueDepth,
		}
		if stats.Status != connection.StatusConnected {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal"] = map[string]any{
					"status":  "connected",
					"pending": j.Pending(),
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
