package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pwbloom/internal/agents"
	"pwbloom/internal/config"
	"pwbloom/internal/core"
	"pwbloom/internal/logger"
	"pwbloom/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "Config path")
	inputPath := flag.String("input", "-", "Newline separated passwords, - for stdin")
	precomputed := flag.Bool("digests", false, "Input lines are already sha256 hex digests")
	batchSize := flag.Int("batch", agents.DefaultSeedingBatchSize, "Items per pipelined write")
	workers := flag.Int("workers", agents.DefaultSeedingWorkerCount, "Concurrent writers")
	flag.Parse()

	cfg, err := config.LoadConfigurationFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}
	if err := logger.InitializeLogger(cfg.LogDirectoryPath, cfg.EffectiveLogSeverityLevel()); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	report, err := run(ctx, cfg, *inputPath, *precomputed, agents.SeedingConfiguration{BatchSize: *batchSize, WorkerCount: *workers})
	stop()
	logger.ShutdownLogger()
	if err != nil {
		log.Fatalf("Seeding failed after %d items: %v", report.ItemsWritten, err)
	}
	fmt.Printf("Seeded %d items in %d batches (%v)\n", report.ItemsWritten, report.BatchesWritten, report.Duration)
}

func run(ctx context.Context, cfg config.SystemConfiguration, inputPath string, precomputed bool, seeding agents.SeedingConfiguration) (agents.SeedingReport, error) {
	input, err := openInput(inputPath)
	if err != nil {
		return agents.SeedingReport{}, err
	}
	defer input.Close()

	store, err := storage.OpenBitStore(ctx, cfg)
	if err != nil {
		return agents.SeedingReport{}, fmt.Errorf("failed to open bit store: %w", err)
	}
	defer store.Close()

	system, err := core.NewSystemState(ctx, cfg, store)
	if err != nil {
		return agents.SeedingReport{}, err
	}
	return seedFromReader(ctx, system, input, precomputed, seeding)
}

func seedFromReader(ctx context.Context, system *core.SystemState, input io.Reader, precomputed bool, seeding agents.SeedingConfiguration) (agents.SeedingReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	digests := make(chan string, 4*seeding.BatchSize+1)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- agents.StreamSeedDigests(ctx, input, precomputed, digests)
	}()

	report, err := agents.RunSeedingAgent(ctx, system.Engine, digests, seeding)
	if err != nil {
		// Unblocks the reader if it is waiting on a full channel.
		cancel()
		<-streamErr
		return report, err
	}
	if readErr := <-streamErr; readErr != nil {
		return report, readErr
	}
	return report, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed input: %w", err)
	}
	return file, nil
}
