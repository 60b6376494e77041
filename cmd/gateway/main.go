// Command gateway runs the Halyard venue gateway client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/halyard-io/halyard/config"
	"github.com/halyard-io/halyard/internal/dispatch"
	"github.com/halyard-io/halyard/internal/gateway"
	"github.com/halyard-io/halyard/internal/observability"
	"github.com/halyard-io/halyard/internal/telemetry"
)

const (
	defaultConfigPath        = "config/halyard.yaml"
	gatewayLoggerPrefix      = "halyard "
	shutdownTimeout          = 30 * time.Second
	statusShutdownTimeout    = 5 * time.Second
	clientShutdownTimeout    = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	statusReadHeaderTimeout  = 5 * time.Second
	eventBufferDepth         = 1024
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newGatewayLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	cfg, loadedFromFile, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, venue=%s, endpoint=%s:%d",
		cfg.Environment, cfg.Session.Venue, cfg.Session.Host, cfg.Session.Port)

	provider, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}
	metrics, err := telemetry.NewSessionMetrics(provider)
	if err != nil {
		logger.Fatalf("initialise metrics: %v", err)
	}

	client := gateway.New(cfg.Session, gateway.WithMetrics(metrics))

	sink := dispatch.NewChannel(eventBufferDepth)
	drainEvents(ctx, logger, sink)

	if err := client.Start(ctx); err != nil {
		logger.Fatalf("start gateway client: %v", err)
	}
	if err := client.RegisterConsumer(gateway.DefaultDataEndpoint, sink); err != nil {
		logger.Fatalf("register event consumer: %v", err)
	}
	logger.Printf("gateway client ready: accounts=%d", len(client.Accounts()))

	statusServer := startStatusServer(logger, cfg.StatusAddr, client)

	logger.Print("gateway running; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, statusServer, client, telemetryShutdown)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayLogger() *log.Logger {
	return log.New(os.Stdout, gatewayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

// drainEvents logs a sample of published events so an operator can see the
// session is flowing even without a downstream engine attached.
func drainEvents(ctx context.Context, logger *log.Logger, sink *dispatch.Channel) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-sink.Events():
				logger.Printf("event: type=%s symbol=%s", evt.Type, evt.Symbol)
			}
		}
	}()
}

func startStatusServer(logger *log.Logger, addr string, client *gateway.Client) *http.Server {
	if addr == "" {
		logger.Print("status endpoint disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/status", gateway.StatusHandler(client))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: statusReadHeaderTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("status server: %v", err)
		}
	}()
	logger.Printf("status endpoint listening on %s", addr)
	return server
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, statusServer *http.Server, client *gateway.Client, telemetryShutdown func(context.Context) error) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if statusServer != nil {
		shutdownStep("stopping status server", statusShutdownTimeout, statusServer.Shutdown)
	}
	shutdownStep("stopping gateway client", clientShutdownTimeout, client.Close)
	if telemetryShutdown != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, telemetryShutdown)
	}
}
