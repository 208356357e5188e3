// streamtap subscribes to a stream through the bridge and prints the
// fan-out to the console. Useful for eyeballing live data without a UI.
//
// Usage: go run ./cmd/streamtap --config configs/bridge.local.yaml \
//	--stream trades --symbols AAPL,MSFT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/XIIITrading/Alpha-V1/internal/bridge"
	"github.com/XIIITrading/Alpha-V1/internal/config"
	"github.com/XIIITrading/Alpha-V1/internal/events"
	"github.com/XIIITrading/Alpha-V1/internal/protocol"
)

func main() {
	configPath := flag.String("config", "configs/bridge.local.yaml", "path to config file")
	stream := flag.String("stream", "trades", "stream to subscribe (trades, quotes, bars, updates)")
	symbols := flag.String("symbols", "AAPL", "comma-separated symbol list")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	b := bridge.New(cfg, logger)

	eventCh, unsubscribe := b.Events().Subscribe()
	defer unsubscribe()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = b.Initialize(initCtx)
	initCancel()
	if err != nil {
		logger.Error("failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	symbolList := strings.Split(*symbols, ",")
	for i := range symbolList {
		symbolList[i] = strings.TrimSpace(symbolList[i])
	}

	subID, err := b.Subscribe(ctx, "streamtap", protocol.Stream(*stream), symbolList, bridge.SubscribeOptions{})
	if err != nil {
		logger.Error("subscribe failed", "stream", *stream, "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed",
		"subscription_id", subID,
		"stream", *stream,
		"symbols", symbolList,
	)

	go printEvents(eventCh, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := b.GetStatus()
				logger.Info("stats",
					"connections", st.WebsocketConnections,
					"subscriptions", st.ActiveSubscriptions,
					"pending_requests", st.PendingRequests,
					"failed_clients", len(st.FailedClients),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	b.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvents(ch <-chan events.Event, verbose bool) {
	for ev := range ch {
		switch ev.Type {
		case events.TypeMarketData:
			if verbose {
				data, _ := json.MarshalIndent(ev.MarketData.Data, "", "  ")
				fmt.Printf("[%s] %s\n", strings.ToUpper(ev.MarketData.Stream), data)
			} else {
				fmt.Printf("[%s] %s\n", strings.ToUpper(ev.MarketData.Stream), ev.MarketData.Data)
			}
		case events.TypeSubscriptionError:
			fmt.Printf("[ERROR] subscription %s: %s\n",
				ev.SubscriptionError.SubscriptionID, ev.SubscriptionError.Err)
		case events.TypeReconnectionFailed:
			fmt.Printf("[RECONNECT FAILED] client=%s attempts=%d\n",
				ev.ReconnectionFailed.ClientID, ev.ReconnectionFailed.Attempts)
		case events.TypeServerExit:
			fmt.Printf("[UPSTREAM LOST] code=%d signal=%s\n",
				ev.ServerExit.Code, ev.ServerExit.Signal)
		}
	}
}
