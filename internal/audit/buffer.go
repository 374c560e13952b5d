package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink receives flushed event batches. A batch either lands whole or fails
// whole.
type Sink interface {
	WriteBatch(ctx context.Context, events []*Event) error
}

// Config sizes the buffer.
type Config struct {
	Size          int
	FlushInterval time.Duration
	SpillToDisk   bool
	SpillPath     string
}

// Stats are the buffer's monotonic counters plus its current depth.
// received = flushed + dropped + spilled + current_size holds at all times.
type Stats struct {
	Received       uint64 `json:"received"`
	Flushed        uint64 `json:"flushed"`
	Dropped        uint64 `json:"dropped"`
	Spilled        uint64 `json:"spilled"`
	OverflowEvents uint64 `json:"overflow_events"`
	CurrentSize    int    `json:"current_size"`
}

// Buffer is the bounded audit queue. Producers call Add from any goroutine;
// one background goroutine flushes on an interval.
type Buffer struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	mu    sync.Mutex
	queue []*Event
	stats Stats
	spill *os.File
	// inFlight counts events handed to the sink but not yet settled as
	// flushed or re-buffered; Stats folds it into CurrentSize.
	inFlight int

	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewBuffer builds a stopped buffer; call Start to begin interval flushing.
func NewBuffer(cfg Config, sink Sink, logger *zap.Logger) *Buffer {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Buffer{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make([]*Event, 0, cfg.Size),
		done:   make(chan struct{}),
	}
}

// Add enqueues an event. It never blocks and never fails: when the buffer is
// full the oldest event is spilled to disk (or dropped) to make room.
func (b *Buffer) Add(event *Event) {
	if event == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Received++
	if len(b.queue) >= b.cfg.Size {
		b.displaceOldestLocked()
	}
	b.queue = append(b.queue, event)
	b.stats.CurrentSize = len(b.queue)
}

// displaceOldestLocked evicts the head of the queue, spilling or dropping it.
func (b *Buffer) displaceOldestLocked() {
	oldest := b.queue[0]
	copy(b.queue, b.queue[1:])
	b.queue = b.queue[:len(b.queue)-1]
	b.stats.OverflowEvents++

	if b.cfg.SpillToDisk && b.spillLocked(oldest) {
		b.stats.Spilled++
		return
	}
	b.stats.Dropped++
}

// spillLocked appends one event as a JSON line to the spill file. Spill
// errors are absorbed; the event counts as dropped instead.
func (b *Buffer) spillLocked(event *Event) bool {
	if b.spill == nil {
		f, err := os.OpenFile(b.cfg.SpillPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			b.logger.Error("failed to open audit spill file",
				zap.String("path", b.cfg.SpillPath), zap.Error(err))
			return false
		}
		b.spill = f
	}
	line, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to encode spilled audit event", zap.Error(err))
		return false
	}
	if _, err := b.spill.Write(append(line, '\n')); err != nil {
		b.logger.Error("failed to write audit spill", zap.Error(err))
		return false
	}
	return true
}

// Flush drains the current queue into the sink. On sink failure the batch is
// re-buffered at the head so ordering is preserved, and the error is
// returned without crashing anything.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.queue
	b.queue = make([]*Event, 0, b.cfg.Size)
	b.inFlight += len(batch)
	b.stats.CurrentSize = 0
	b.mu.Unlock()

	if err := b.sink.WriteBatch(ctx, batch); err != nil {
		b.mu.Lock()
		b.inFlight -= len(batch)
		b.queue = append(batch, b.queue...)
		for len(b.queue) > b.cfg.Size {
			b.displaceOldestLocked()
		}
		b.stats.CurrentSize = len(b.queue)
		b.mu.Unlock()
		return fmt.Errorf("audit sink flush failed: %w", err)
	}

	b.mu.Lock()
	b.inFlight -= len(batch)
	b.stats.Flushed += uint64(len(batch))
	b.mu.Unlock()
	return nil
}

// Start begins periodic flushing.
func (b *Buffer) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.Flush(context.Background()); err != nil {
					b.logger.Warn("periodic audit flush failed", zap.Error(err))
				}
			case <-b.done:
				return
			}
		}
	}()
}

// Shutdown stops the flush loop, drains once, and closes the spill file.
func (b *Buffer) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	flushErr := b.Flush(ctx)

	b.mu.Lock()
	if b.spill != nil {
		if err := b.spill.Close(); err != nil {
			b.logger.Warn("failed to close audit spill file", zap.Error(err))
		}
		b.spill = nil
	}
	b.mu.Unlock()
	return flushErr
}

// Stats returns a snapshot of the counters. Events handed to the sink but
// not yet settled still count toward CurrentSize so the accounting
// identity holds mid-flush.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.CurrentSize = len(b.queue) + b.inFlight
	return s
}
