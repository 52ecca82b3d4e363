package queue

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/faultline/internal/journal"
	"github.com/tinytelemetry/faultline/internal/model"
)

type memWriter struct {
	mu      sync.Mutex
	records []*model.EventRecord

	// When set, the first InsertEventBatch call signals started and then
	// blocks until release is closed.
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *memWriter) InsertEventBatch(records []*model.EventRecord) error {
	if w.release != nil {
		w.once.Do(func() {
			close(w.started)
			<-w.release
		})
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, records...)
	return nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func testRecord(id string) *model.EventRecord {
	return &model.EventRecord{
		EventID:   id,
		Tenant:    "tenant-a",
		Severity:  "ERROR",
		Message:   "boom",
		Timestamp: time.Now().UTC(),
	}
}

func TestTryAddAndStopFlushesAll(t *testing.T) {
	w := &memWriter{}
	b := NewBuffer(w)

	for i := range 10 {
		if err := b.TryAdd(testRecord(string(rune('a' + i)))); err != nil {
			t.Fatalf("TryAdd: %v", err)
		}
	}
	b.Stop()

	if got := w.count(); got != 10 {
		t.Errorf("after Stop, flushed = %d, want 10", got)
	}
}

func TestBatchThresholdFlushesEarly(t *testing.T) {
	w := &memWriter{}
	b := NewBuffer(w, Config{BatchSize: 4, FlushInterval: time.Hour})

	for i := range 9 {
		if err := b.TryAdd(testRecord(string(rune('a' + i)))); err != nil {
			t.Fatalf("TryAdd: %v", err)
		}
	}
	b.Stop()

	if got := w.count(); got != 9 {
		t.Errorf("flushed = %d, want 9", got)
	}
}

func TestConcurrentTryAdd(t *testing.T) {
	w := &memWriter{}
	b := NewBuffer(w)

	const goroutines = 10
	const perGoroutine = 50
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				if err := b.TryAdd(testRecord("ev")); err != nil {
					t.Errorf("TryAdd: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	b.Stop()

	if got := w.count(); got != goroutines*perGoroutine {
		t.Errorf("flushed = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestBacklogRejectsInsteadOfBlocking(t *testing.T) {
	w := &memWriter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	b := NewBuffer(w, Config{BatchSize: 1, FlushQueueSize: 1, FlushInterval: time.Hour})

	// First record reaches the flush worker, which blocks in the store.
	if err := b.TryAdd(testRecord("ev-1")); err != nil {
		t.Fatalf("TryAdd ev-1: %v", err)
	}
	<-w.started

	// Second fills the flush queue, third fills the pending buffer.
	if err := b.TryAdd(testRecord("ev-2")); err != nil {
		t.Fatalf("TryAdd ev-2: %v", err)
	}
	if err := b.TryAdd(testRecord("ev-3")); err != nil {
		t.Fatalf("TryAdd ev-3: %v", err)
	}

	if err := b.TryAdd(testRecord("ev-4")); !errors.Is(err, ErrBacklog) {
		t.Fatalf("TryAdd ev-4 err = %v, want ErrBacklog", err)
	}
	if b.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", b.Rejected())
	}

	close(w.release)
	b.Stop()

	if got := w.count(); got != 3 {
		t.Errorf("flushed = %d, want 3 (rejected record not stored)", got)
	}
}

func TestNilJournalPointerActsAsDisabled(t *testing.T) {
	// A nil *journal.Journal stored in the interface-typed Config field is
	// non-nil as an interface; adds and shutdown must still work as if no
	// journal were configured.
	var j *journal.Journal
	w := &memWriter{}
	b := NewBuffer(w, Config{Journal: j})

	for i := range 3 {
		if err := b.TryAdd(testRecord(string(rune('a' + i)))); err != nil {
			t.Fatalf("TryAdd: %v", err)
		}
	}
	b.Stop()

	if got := w.count(); got != 3 {
		t.Errorf("after Stop, flushed = %d, want 3", got)
	}
}

func TestJournalCommittedAfterFlush(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "events.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	w := &memWriter{}
	b := NewBuffer(w, Config{Journal: j})

	for i := range 5 {
		if err := b.TryAdd(testRecord(string(rune('a' + i)))); err != nil {
			t.Fatalf("TryAdd: %v", err)
		}
	}
	b.Stop()

	if got := j.Committed(); got != 5 {
		t.Errorf("journal committed = %d, want 5", got)
	}
	if got := w.count(); got != 5 {
		t.Errorf("flushed = %d, want 5", got)
	}
}
