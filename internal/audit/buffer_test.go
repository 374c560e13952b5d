package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]*Event
	fail    bool
}

func (m *memSink) WriteBatch(_ context.Context, events []*Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.batches = append(m.batches, events)
	return nil
}

func (m *memSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func assertInvariant(t *testing.T, s Stats) {
	t.Helper()
	assert.Equal(t, s.Received,
		s.Flushed+s.Dropped+s.Spilled+uint64(s.CurrentSize),
		"received must equal flushed+dropped+spilled+current_size")
}

func TestAddAndFlush(t *testing.T) {
	sink := &memSink{}
	buf := NewBuffer(Config{Size: 10, FlushInterval: time.Hour}, sink, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		buf.Add(NewEvent(EventAuthSuccess, SeverityInfo, "authenticate"))
	}
	assertInvariant(t, buf.Stats())
	assert.Equal(t, 3, buf.Stats().CurrentSize)

	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 3, sink.total())

	s := buf.Stats()
	assert.EqualValues(t, 3, s.Flushed)
	assert.Zero(t, s.CurrentSize)
	assertInvariant(t, s)
}

func TestOverflowDropsOldestWithoutSpill(t *testing.T) {
	sink := &memSink{}
	buf := NewBuffer(Config{Size: 2, FlushInterval: time.Hour}, sink, zaptest.NewLogger(t))

	first := NewEvent(EventError, SeverityError, "a")
	buf.Add(first)
	buf.Add(NewEvent(EventError, SeverityError, "b"))
	buf.Add(NewEvent(EventError, SeverityError, "c"))

	s := buf.Stats()
	assert.EqualValues(t, 3, s.Received)
	assert.EqualValues(t, 1, s.Dropped)
	assert.EqualValues(t, 1, s.OverflowEvents)
	assert.Equal(t, 2, s.CurrentSize)
	assertInvariant(t, s)

	require.NoError(t, buf.Flush(context.Background()))
	require.Equal(t, 2, sink.total())
	// The dropped event was the oldest one.
	assert.Equal(t, "b", sink.batches[0][0].Action)
	assert.Equal(t, "c", sink.batches[0][1].Action)
}

func TestOverflowSpillsToDisk(t *testing.T) {
	spillPath := filepath.Join(t.TempDir(), "audit-spill.jsonl")
	buf := NewBuffer(Config{
		Size:          1,
		FlushInterval: time.Hour,
		SpillToDisk:   true,
		SpillPath:     spillPath,
	}, &memSink{}, zaptest.NewLogger(t))

	buf.Add(NewEvent(EventAuthFailure, SeverityWarn, "first"))
	buf.Add(NewEvent(EventAuthFailure, SeverityWarn, "second"))
	buf.Add(NewEvent(EventAuthFailure, SeverityWarn, "third"))
	require.NoError(t, buf.Shutdown(context.Background()))

	s := buf.Stats()
	assert.EqualValues(t, 2, s.Spilled)
	assert.Zero(t, s.Dropped)
	assertInvariant(t, s)

	f, err := os.Open(spillPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var actions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"first", "second"}, actions)
}

func TestSinkFailureRebuffersInOrder(t *testing.T) {
	sink := &memSink{fail: true}
	buf := NewBuffer(Config{Size: 10, FlushInterval: time.Hour}, sink, zaptest.NewLogger(t))

	for i := 0; i < 4; i++ {
		buf.Add(NewEvent(EventToolInvocation, SeverityInfo, fmt.Sprintf("call-%d", i)))
	}
	require.Error(t, buf.Flush(context.Background()))

	s := buf.Stats()
	assert.Equal(t, 4, s.CurrentSize, "failed batch is re-buffered")
	assert.Zero(t, s.Flushed)
	assertInvariant(t, s)

	sink.fail = false
	require.NoError(t, buf.Flush(context.Background()))
	require.Equal(t, 4, sink.total())
	assert.Equal(t, "call-0", sink.batches[0][0].Action)
	assertInvariant(t, buf.Stats())
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) WriteBatch(_ context.Context, _ []*Event) error {
	close(s.entered)
	<-s.release
	return nil
}

func TestStatsAccountForInFlightBatch(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	buf := NewBuffer(Config{Size: 10, FlushInterval: time.Hour}, sink, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		buf.Add(NewEvent(EventToolInvocation, SeverityInfo, "call"))
	}

	flushDone := make(chan error, 1)
	go func() { flushDone <- buf.Flush(context.Background()) }()
	<-sink.entered

	// The batch sits in the sink; it is neither flushed nor dropped yet.
	s := buf.Stats()
	assert.EqualValues(t, 5, s.Received)
	assert.Zero(t, s.Flushed)
	assert.Equal(t, 5, s.CurrentSize)
	assertInvariant(t, s)

	close(sink.release)
	require.NoError(t, <-flushDone)

	s = buf.Stats()
	assert.EqualValues(t, 5, s.Flushed)
	assert.Zero(t, s.CurrentSize)
	assertInvariant(t, s)
}

func TestPeriodicFlushAndShutdown(t *testing.T) {
	sink := &memSink{}
	buf := NewBuffer(Config{Size: 10, FlushInterval: 10 * time.Millisecond}, sink, zaptest.NewLogger(t))
	buf.Start()

	buf.Add(NewEvent(EventAdminAction, SeverityInfo, "publish"))
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)

	buf.Add(NewEvent(EventAdminAction, SeverityInfo, "archive"))
	require.NoError(t, buf.Shutdown(context.Background()))
	assert.Equal(t, 2, sink.total(), "shutdown drains the remainder")

	// Shutdown twice is harmless.
	require.NoError(t, buf.Shutdown(context.Background()))
}

func TestConcurrentProducers(t *testing.T) {
	sink := &memSink{}
	buf := NewBuffer(Config{Size: 1000, FlushInterval: time.Hour}, sink, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Add(NewEvent(EventToolInvocation, SeverityInfo, "call"))
			}
		}()
	}
	wg.Wait()

	s := buf.Stats()
	assert.EqualValues(t, 800, s.Received)
	assertInvariant(t, s)

	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 800, sink.total())
}
