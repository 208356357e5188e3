// bridged runs the market-data bridge as a standalone daemon: it
// multiplexes upstream streaming connections, fans market data out to
// subscribers, and serves a local status endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XIIITrading/Alpha-V1/internal/bridge"
	"github.com/XIIITrading/Alpha-V1/internal/config"
	"github.com/XIIITrading/Alpha-V1/internal/events"
	"github.com/XIIITrading/Alpha-V1/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bridge.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bridged",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"rest_url", cfg.Upstream.RestURL,
		"ws_url", cfg.Upstream.WSURL,
	)

	// Create context with cancellation
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

	b := bridge.New(cfg, logger)

	// Log the outbound event surface; an embedding shell would forward
	// these to its windows instead.
	eventCh, unsubscribe := b.Events().Subscribe()
	defer unsubscribe()
	go logEvents(eventCh, logger)

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = b.Initialize(initCtx)
	initCancel()
	if err != nil {
		logger.Error("failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	// Status endpoint
	statusServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createStatusHandler(b),
	}
	go func() {
		logger.Info("starting status server", "port", cfg.Health.Port)
		if err := statusServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("status server error", "error", err)
		}
	}()

	logger.Info("bridged running",
		"status_url", fmt.Sprintf("http://localhost:%d/debug/status", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	statusServer.Shutdown(shutdownCtx)
	b.Shutdown(shutdownCtx)

	logger.Info("bridged stopped")
}

// logEvents prints every bridge event until the bus closes.
func logEvents(ch <-chan events.Event, logger *slog.Logger) {
	for ev := range ch {
		switch ev.Type {
		case events.TypeMarketData:
			logger.Debug("market data",
				"window_id", ev.MarketData.WindowID,
				"subscription_id", ev.MarketData.SubscriptionID,
				"stream", ev.MarketData.Stream,
			)
		case events.TypeReconnectionFailed:
			logger.Error("reconnection failed",
				"client_id", ev.ReconnectionFailed.ClientID,
				"attempts", ev.ReconnectionFailed.Attempts,
			)
		case events.TypeServerExit:
			logger.Error("upstream lost",
				"code", ev.ServerExit.Code,
				"signal", ev.ServerExit.Signal,
			)
		default:
			logger.Info("bridge event", "type", ev.Type)
		}
	}
}

// createStatusHandler creates the HTTP handler for the local status
// endpoint.
func createStatusHandler(b *bridge.Bridge) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		status := b.GetStatus()

		w.Header().Set("Content-Type", "application/json")
		if !status.Initialized {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := b.GetStatus()

		health := struct {
			Status               string `json:"status"`
			WebsocketConnections int    `json:"websocketConnections"`
			ActiveSubscriptions  int    `json:"activeSubscriptions"`
		}{
			Status:               "healthy",
			WebsocketConnections: status.WebsocketConnections,
			ActiveSubscriptions:  status.ActiveSubscriptions,
		}
		if !status.Initialized {
			health.Status = "unhealthy"
		} else if len(status.FailedClients) > 0 {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
