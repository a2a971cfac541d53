package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2, time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if st := l.Status(); st.Active != 2 || st.Available != 0 || st.MaxConcurrent != 2 {
		t.Errorf("Status() = %+v", st)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded on a full limiter")
	}

	l.Release()
	if got := l.ActiveCount(); got != 1 {
		t.Errorf("after Release, ActiveCount = %d, want 1", got)
	}
	if !l.TryAcquire() {
		t.Error("TryAcquire failed with a free slot")
	}
	l.Release()
	l.Release()
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestLimiter_RejectsWhenFull(t *testing.T) {
	l := NewLimiter(1, 50*time.Millisecond)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	start := time.Now()
	if err := l.Acquire(ctx); !errors.Is(err, ErrTooManyExtractions) {
		t.Errorf("Acquire() error = %v, want ErrTooManyExtractions", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up after %v", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	l := NewLimiter(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer l.Release()

			mu.Lock()
			maxObserved = max(maxObserved, l.ActiveCount())
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d active runs, limit %d", maxObserved, maxConcurrent)
	}
}

func TestLimiter_WaitForDrain(t *testing.T) {
	l := NewLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain() error = %v, want deadline exceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Release()
	}()
	if err := l.WaitForDrain(context.Background()); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if l.Status().MaxConcurrent != DefaultMaxConcurrentRuns || l.maxWait != DefaultMaxWaitTime {
		t.Errorf("defaults = %+v, %v", l.Status(), l.maxWait)
	}
}
