package agents

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pwbloom/internal/common"
	"pwbloom/internal/logger"
	"pwbloom/internal/metrics"
)

const (
	DefaultSeedingBatchSize   = 1000
	DefaultSeedingWorkerCount = 4
	maximumSeedLineBytes      = 1024 * 1024
)

// BatchAdder is the slice of the bloom engine the seeding agent needs.
type BatchAdder interface {
	AddBatch(ctx context.Context, items [][]byte) error
}

type SeedingConfiguration struct {
	BatchSize   int
	WorkerCount int
}

type SeedingReport struct {
	ItemsWritten   int64
	BatchesWritten int64
	Duration       time.Duration
}

func (c SeedingConfiguration) normalized() SeedingConfiguration {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultSeedingBatchSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = DefaultSeedingWorkerCount
	}
	return c
}

// RunSeedingAgent drains digests into AddBatch calls of at most BatchSize
// items across WorkerCount workers. It returns once digests is closed and
// every batch is written, or on the first error, which stops the rest.
func RunSeedingAgent(ctx context.Context, adder BatchAdder, digests <-chan string, cfg SeedingConfiguration) (SeedingReport, error) {
	cfg = cfg.normalized()
	startTime := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		itemsWritten   atomic.Int64
		batchesWritten atomic.Int64
		firstErr       error
		errOnce        sync.Once
		wg             sync.WaitGroup
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for worker := 0; worker < cfg.WorkerCount; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			batch := make([][]byte, 0, cfg.BatchSize)

			flush := func() bool {
				if len(batch) == 0 {
					return true
				}
				if err := adder.AddBatch(runCtx, batch); err != nil {
					logger.LogErrorEvent("Seeding worker %d failed: %v", worker, err)
					fail(err)
					return false
				}
				metrics.RecordAdd(len(batch))
				itemsWritten.Add(int64(len(batch)))
				batchesWritten.Add(1)
				batch = make([][]byte, 0, cfg.BatchSize)
				return true
			}

			for {
				select {
				case <-runCtx.Done():
					return
				case digest, ok := <-digests:
					if !ok {
						flush()
						return
					}
					batch = append(batch, []byte(digest))
					if len(batch) >= cfg.BatchSize && !flush() {
						return
					}
				}
			}
		}(worker)
	}
	wg.Wait()

	report := SeedingReport{
		ItemsWritten:   itemsWritten.Load(),
		BatchesWritten: batchesWritten.Load(),
		Duration:       time.Since(startTime),
	}
	if firstErr != nil {
		return report, firstErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.LogInfoEvent("Seeded %d items in %d batches (%v)", report.ItemsWritten, report.BatchesWritten, report.Duration)
	return report, nil
}

// StreamSeedDigests reads one entry per line from reader and sends its
// digest on out, closing out when done. Blank lines are skipped. With
// precomputed set, lines must already be hex SHA-256 digests.
func StreamSeedDigests(ctx context.Context, reader io.Reader, precomputed bool, out chan<- string) error {
	defer close(out)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maximumSeedLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		digest := line
		if precomputed {
			digest = strings.ToLower(strings.TrimSpace(line))
			if !common.IsHexDigest(digest) {
				return fmt.Errorf("%w: line %d is not a sha256 hex digest", common.ErrInvalidParameter, lineNumber)
			}
		} else {
			digest = common.DigestSecret(line)
		}

		select {
		case out <- digest:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read seed input: %w", err)
	}
	return nil
}
