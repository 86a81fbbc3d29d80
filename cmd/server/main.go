package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"pwbloom/internal/api"
	"pwbloom/internal/config"
	"pwbloom/internal/core"
	"pwbloom/internal/logger"
	"pwbloom/internal/metrics"
	"pwbloom/internal/storage"

	"github.com/valyala/fasthttp"
)

const (
	adminTokenLifetime     = 24 * time.Hour
	shutdownGracePeriod    = 10 * time.Second
	maximumRequestBodySize = 4 * 1024 * 1024
)

func main() {
	cfgPath := flag.String("config", "", "Config path")
	flag.Parse()

	cfg, err := config.LoadConfigurationFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}

	if err := logger.InitializeLogger(cfg.LogDirectoryPath, cfg.EffectiveLogSeverityLevel()); err != nil {
		log.Fatal(err)
	}
	defer logger.ShutdownLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.LogErrorEvent("Server stopped: %v", err)
		logger.ShutdownLogger()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.SystemConfiguration) error {
	store, err := storage.OpenBitStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open bit store: %w", err)
	}
	defer store.Close()

	system, err := core.NewSystemState(ctx, cfg, store)
	if err != nil {
		return err
	}

	metrics.Reset()
	applyWorkerCount(cfg)
	printAdminToken(os.Stdout, cfg)

	server := buildServer(system)
	serveErr := make(chan error, 1)
	go func() {
		logger.LogInfoEvent("Listening on %s (%s)", cfg.ServerAddress(), cfg.Environment)
		serveErr <- server.ListenAndServe(cfg.ServerAddress())
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.LogInfoEvent("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func buildServer(system *core.SystemState) *fasthttp.Server {
	router := &api.HttpApiRouter{SystemState: system}
	timeout := time.Duration(system.Configuration.OperationTimeoutInMilliseconds) * time.Millisecond * 2
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &fasthttp.Server{
		Handler:            router.GetFastHTTPHandler(),
		Name:               "pwbloom",
		ReadTimeout:        timeout,
		WriteTimeout:       timeout,
		MaxRequestBodySize: maximumRequestBodySize,
	}
}

// applyWorkerCount maps API_WORKERS onto GOMAXPROCS; zero keeps the runtime default.
func applyWorkerCount(cfg config.SystemConfiguration) int {
	if cfg.ServerWorkerCount <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	runtime.GOMAXPROCS(cfg.ServerWorkerCount)
	logger.LogInfoEvent("Serving with %d worker threads", cfg.ServerWorkerCount)
	return cfg.ServerWorkerCount
}

// printAdminToken mints a write token when write endpoints are protected.
func printAdminToken(out io.Writer, cfg config.SystemConfiguration) {
	if cfg.AuthenticationSecret == "" {
		if cfg.IsDevelopment() {
			logger.LogInfoEvent("AUTH_SECRET not set, /add and /batch are unauthenticated")
		} else {
			logger.LogWarnEvent("AUTH_SECRET not set, /add and /batch are unauthenticated")
		}
		return
	}
	token, err := api.MintAuthenticationToken(cfg.AuthenticationSecret, "admin", adminTokenLifetime)
	if err != nil {
		logger.LogErrorEvent("Failed to mint admin token: %v", err)
		return
	}
	fmt.Fprintf(out, "ADMIN TOKEN: %s\n", token)
}
