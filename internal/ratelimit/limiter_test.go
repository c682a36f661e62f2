package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := New("test", 2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Third acquire must block until a release.
	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire succeeded with no free permit")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestAcquireCancellation(t *testing.T) {
	l := New("test", 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Acquire returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled acquire did not return")
	}
}

func TestThrottleHalvesLimit(t *testing.T) {
	l := New("test", 8)

	l.ReportThrottle()
	if got := l.Limit(); got != 4 {
		t.Errorf("limit after one throttle = %d, want 4", got)
	}
	l.ReportThrottle()
	l.ReportThrottle()
	if got := l.Limit(); got != 1 {
		t.Errorf("limit after three throttles = %d, want 1", got)
	}
	// Never below one.
	l.ReportThrottle()
	if got := l.Limit(); got != 1 {
		t.Errorf("limit floor = %d, want 1", got)
	}
}

func TestSuccessWidensLimit(t *testing.T) {
	l := New("test", 8)
	l.ReportThrottle() // limit 4

	for i := 0; i < successesPerWiden; i++ {
		l.ReportSuccess()
	}
	if got := l.Limit(); got != 5 {
		t.Errorf("limit after sustained success = %d, want 5", got)
	}

	// Widening stops at the ceiling.
	for i := 0; i < 10*successesPerWiden; i++ {
		l.ReportSuccess()
	}
	if got := l.Limit(); got != 8 {
		t.Errorf("limit widened past ceiling: %d", got)
	}
}

func TestThrottleResetsSuccessStreak(t *testing.T) {
	l := New("test", 4)
	l.ReportThrottle() // limit 2

	for i := 0; i < successesPerWiden-1; i++ {
		l.ReportSuccess()
	}
	l.ReportThrottle() // streak gone, limit 1
	for i := 0; i < successesPerWiden-1; i++ {
		l.ReportSuccess()
	}
	if got := l.Limit(); got != 1 {
		t.Errorf("limit = %d, want 1 (streak must reset on throttle)", got)
	}
}

func TestDoReleasesOnError(t *testing.T) {
	l := New("test", 1)
	ctx := context.Background()

	wantErr := context.DeadlineExceeded
	err := l.Do(ctx, func(ctx context.Context) error { return wantErr })
	if err != wantErr {
		t.Fatalf("Do returned %v", err)
	}

	// Permit must be free again.
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := l.Acquire(ctx2); err != nil {
		t.Fatalf("permit not released after Do: %v", err)
	}
}

func TestCooldownBlocksAcquire(t *testing.T) {
	l := New("test", 2)
	l.cooldownBase = 50 * time.Millisecond
	l.ReportThrottle()

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("acquire returned after %v, want >= cooldown", elapsed)
	}
}
