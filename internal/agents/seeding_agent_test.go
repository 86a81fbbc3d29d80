package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"pwbloom/internal/common"
	"pwbloom/internal/logger"
	testFactory "pwbloom/internal/testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitializeLogger("", "ERROR")
	logger.SetConsoleOutput(nil)
	code := m.Run()
	logger.ShutdownLogger()
	os.Exit(code)
}

type recordingAdder struct {
	mutex   sync.Mutex
	batches [][][]byte
	failOn  int
	err     error
}

func (a *recordingAdder) AddBatch(ctx context.Context, items [][]byte) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.err != nil && len(a.batches) >= a.failOn {
		return a.err
	}
	a.batches = append(a.batches, items)
	return nil
}

func feed(items ...string) <-chan string {
	ch := make(chan string, len(items))
	for _, item := range items {
		ch <- item
	}
	close(ch)
	return ch
}

func TestSeedingAgentBatchesItems(t *testing.T) {
	adder := &recordingAdder{}
	items := make([]string, 25)
	for i := range items {
		items[i] = fmt.Sprintf("digest-%d", i)
	}

	report, err := RunSeedingAgent(context.Background(), adder, feed(items...), SeedingConfiguration{BatchSize: 10, WorkerCount: 1})
	require.NoError(t, err)
	require.Equal(t, int64(25), report.ItemsWritten)
	require.Equal(t, int64(3), report.BatchesWritten)
	require.Len(t, adder.batches, 3)
	for _, batch := range adder.batches {
		require.LessOrEqual(t, len(batch), 10)
	}
}

func TestSeedingAgentManyWorkers(t *testing.T) {
	adder := &recordingAdder{}
	items := make([]string, 1000)
	for i := range items {
		items[i] = fmt.Sprintf("digest-%d", i)
	}

	report, err := RunSeedingAgent(context.Background(), adder, feed(items...), SeedingConfiguration{BatchSize: 7, WorkerCount: 8})
	require.NoError(t, err)
	require.Equal(t, int64(1000), report.ItemsWritten)

	seen := make(map[string]bool)
	for _, batch := range adder.batches {
		for _, item := range batch {
			seen[string(item)] = true
		}
	}
	require.Len(t, seen, 1000)
}

func TestSeedingAgentStopsOnFirstError(t *testing.T) {
	failure := fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
	adder := &recordingAdder{err: failure, failOn: 1}
	items := make([]string, 100)
	for i := range items {
		items[i] = fmt.Sprintf("digest-%d", i)
	}

	report, err := RunSeedingAgent(context.Background(), adder, feed(items...), SeedingConfiguration{BatchSize: 10, WorkerCount: 1})
	require.ErrorIs(t, err, common.ErrStoreUnavailable)
	require.Equal(t, int64(10), report.ItemsWritten)
	require.Equal(t, int64(1), report.BatchesWritten)
}

func TestSeedingAgentHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	digests := make(chan string)

	_, err := RunSeedingAgent(ctx, &recordingAdder{}, digests, SeedingConfiguration{})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestStreamSeedDigests(t *testing.T) {
	out := make(chan string, 10)
	err := StreamSeedDigests(context.Background(), strings.NewReader("password\r\n\n  \nletmein\n"), false, out)
	require.NoError(t, err)

	var digests []string
	for digest := range out {
		digests = append(digests, digest)
	}
	require.Equal(t, []string{common.DigestSecret("password"), common.DigestSecret("letmein")}, digests)
}

func TestStreamSeedDigestsPrecomputed(t *testing.T) {
	digest := common.DigestSecret("password")
	out := make(chan string, 10)
	require.NoError(t, StreamSeedDigests(context.Background(), strings.NewReader(strings.ToUpper(digest)+"\n"), true, out))
	require.Equal(t, digest, <-out)

	out = make(chan string, 10)
	err := StreamSeedDigests(context.Background(), strings.NewReader("not-a-digest\n"), true, out)
	require.ErrorIs(t, err, common.ErrInvalidParameter)
}

func TestSeedingEndToEndOnRedis(t *testing.T) {
	f := testFactory.NewTestFactory(t)
	defer f.Cleanup()
	state := f.CreateSystem()

	passwords := []string{"123456", "password", "qwerty", "abc123", "letmein"}
	digests := make(chan string)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- StreamSeedDigests(context.Background(), strings.NewReader(strings.Join(passwords, "\n")), false, digests)
	}()

	report, err := RunSeedingAgent(context.Background(), state.Engine, digests, SeedingConfiguration{BatchSize: 2, WorkerCount: 2})
	require.NoError(t, err)
	require.NoError(t, <-streamErr)
	require.Equal(t, int64(len(passwords)), report.ItemsWritten)

	for _, password := range passwords {
		present, err := state.Engine.Check(context.Background(), []byte(common.DigestSecret(password)))
		require.NoError(t, err)
		require.True(t, present, password)
	}
}
