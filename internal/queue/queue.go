// Package queue batches accepted events and flushes them to the store
// asynchronously. The ingress gate hands records off here so request
// handling never blocks on storage IO.
package queue

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/faultline/internal/model"
)

const (
	// DefaultBatchSize is the number of records flushed per store write.
	DefaultBatchSize = 2000

	// DefaultFlushInterval drains partial batches on a timer.
	DefaultFlushInterval = 100 * time.Millisecond

	// DefaultFlushQueueSize is the number of batches that can be queued
	// for async flushing before the buffer reports backlog.
	DefaultFlushQueueSize = 64
)

// ErrBacklog reports that the pending buffer and the flush queue are both
// full. The caller should surface this as a storage availability failure
// rather than block the request.
var ErrBacklog = errors.New("queue: flush backlog full")

type journaledRecord struct {
	seq    uint64
	record *model.EventRecord
}

type durableJournal interface {
	Append(record *model.EventRecord) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// Buffer batches event records and flushes them to the writer from a
// background goroutine. TryAdd never blocks on storage IO.
type Buffer struct {
	writer        model.EventWriter
	mu            sync.Mutex
	pending       []journaledRecord
	flushChan     chan []journaledRecord
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	journal       durableJournal

	rejected atomic.Int64
	lastLog  atomic.Int64 // unix timestamp of last backlog log
}

// Config holds tunable parameters for the buffer.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        durableJournal
}

// NewBuffer creates a buffer that flushes to the writer. When a journal is
// configured, records are journaled before they are queued and committed
// after the store write succeeds.
func NewBuffer(writer model.EventWriter, conf ...Config) *Buffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var j durableJournal
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		j = conf[0].Journal
	}

	b := &Buffer{
		writer:        writer,
		pending:       make([]journaledRecord, 0, batchSize),
		flushChan:     make(chan []journaledRecord, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		journal:       j,
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// TryAdd queues a record for batch insertion. It returns ErrBacklog when
// the pending buffer is full and the flush queue cannot take another
// batch, so admission control can reject instead of stalling.
func (b *Buffer) TryAdd(record *model.EventRecord) error {
	if record == nil {
		return errors.New("queue: nil record")
	}

	b.mu.Lock()
	if len(b.pending) >= b.maxBatch {
		// Try to hand the full batch to the flush worker first.
		batch := b.pending
		select {
		case b.flushChan <- batch:
			b.pending = make([]journaledRecord, 0, b.maxBatch)
		default:
			b.mu.Unlock()
			b.logBacklog()
			return ErrBacklog
		}
	}
	b.mu.Unlock()

	seq := uint64(0)
	if b.journal != nil {
		var err error
		seq, err = b.journal.Append(record)
		if err != nil {
			return fmt.Errorf("queue: journal append: %w", err)
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledRecord{seq: seq, record: record})
	if len(b.pending) >= b.maxBatch {
		select {
		case b.flushChan <- b.pending:
			b.pending = make([]journaledRecord, 0, b.maxBatch)
		default:
			// Leave the batch pending; the tick loop or the next TryAdd
			// moves it once the flush worker catches up.
		}
	}
	b.mu.Unlock()
	return nil
}

// Rejected returns how many adds failed with a full backlog.
func (b *Buffer) Rejected() int64 {
	return b.rejected.Load()
}

// Stop flushes remaining records and waits for all writes to complete.
func (b *Buffer) Stop() {
	close(b.done)
	// Wait for tickLoop to finish its final drain before closing flushChan,
	// so every pending record reaches the flush worker.
	b.tickWg.Wait()
	close(b.flushChan)
	b.wg.Wait()
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			log.Printf("queue: journal close error: %v", err)
		}
	}
}

// tickLoop periodically drains the pending buffer.
func (b *Buffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// drainPending moves pending records to the flush channel. If the channel
// is full the batch is flushed inline as a safety valve.
func (b *Buffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledRecord, 0, b.maxBatch)
	b.mu.Unlock()

	select {
	case b.flushChan <- batch:
	default:
		if err := b.flushBatch(batch); err != nil {
			log.Printf("queue: flush error (inline): %v", err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *Buffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("queue: flush error: %v", err)
		}
	}
}

func (b *Buffer) flushBatch(batch []journaledRecord) error {
	if len(batch) == 0 {
		return nil
	}

	records := make([]*model.EventRecord, 0, len(batch))
	for _, item := range batch {
		records = append(records, item.record)
	}

	if err := b.writer.InsertEventBatch(records); err != nil {
		return err
	}

	if b.journal != nil {
		maxSeq := uint64(0)
		for _, item := range batch {
			if item.seq > maxSeq {
				maxSeq = item.seq
			}
		}
		if maxSeq > 0 {
			if err := b.journal.Commit(maxSeq); err != nil {
				return fmt.Errorf("queue: journal commit seq=%d: %w", maxSeq, err)
			}
		}
	}
	return nil
}

// logBacklog emits a throttled warning (at most once per 10 seconds) when
// adds are rejected because storage is falling behind.
func (b *Buffer) logBacklog() {
	count := b.rejected.Add(1)
	now := time.Now().Unix()
	last := b.lastLog.Load()
	if now-last >= 10 && b.lastLog.CompareAndSwap(last, now) {
		log.Printf("queue: backlog full, %d adds rejected (store falling behind)", count)
	}
}
