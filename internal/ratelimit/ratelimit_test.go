package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func newTestLimiter(ceiling int, window time.Duration) (*Limiter, *time.Time) {
	l := NewLimiter(Config{Ceiling: ceiling, Window: window})
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := &now
	l.now = func() time.Time { return *clock }
	return l, clock
}

func TestAdmitWithinCeiling(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(10, time.Minute)

	admitted, _ := l.Admit("tenant-a", 10)
	if admitted != 10 {
		t.Errorf("admitted = %d, want 10", admitted)
	}
}

func TestExcessOnlyIsRejected(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(10, time.Minute)

	admitted, resetAt := l.Admit("tenant-a", 11)
	if admitted != 10 {
		t.Errorf("admitted = %d, want 10 (only the excess event is rejected)", admitted)
	}
	if resetAt.IsZero() {
		t.Error("resetAt must be reported for partial admission")
	}
}

func TestWindowReset(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(5, time.Minute)

	if admitted, _ := l.Admit("tenant-a", 5); admitted != 5 {
		t.Fatalf("first window admitted %d, want 5", admitted)
	}
	if admitted, _ := l.Admit("tenant-a", 1); admitted != 0 {
		t.Fatalf("budget exhausted but admitted %d", admitted)
	}

	*clock = clock.Add(time.Minute)
	if admitted, _ := l.Admit("tenant-a", 3); admitted != 3 {
		t.Errorf("after window reset admitted %d, want 3", admitted)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(2, time.Minute)

	l.Admit("tenant-a", 2)
	if admitted, _ := l.Admit("tenant-b", 2); admitted != 2 {
		t.Errorf("tenant-b admitted %d, want 2 (budgets are per tenant)", admitted)
	}
}

func TestConcurrentAdmissionNeverOversells(t *testing.T) {
	t.Parallel()
	const ceiling = 1000
	const workers = 16
	const perWorker = 200

	l, _ := newTestLimiter(ceiling, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				admitted, _ := l.Admit("tenant-a", 1)
				mu.Lock()
				total += admitted
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if total != ceiling {
		t.Errorf("admitted %d events total, want exactly %d", total, ceiling)
	}
}
