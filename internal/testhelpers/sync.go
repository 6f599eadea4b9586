package testhelpers

import (
	"sync"
	"testing"
	"time"
)

// ConcurrentTest starts n workers and releases them at the same instant.
func ConcurrentTest(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	gate := make(chan struct{})
	var wg sync.WaitGroup
	for id := 0; id < n; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			fn(id)
		}()
	}
	close(gate)
	wg.Wait()
}

// MustCompleteWithin fails the test when fn is still running after timeout.
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		t.Fatalf("still running after %v", timeout)
	}
}

// Eventually polls cond every few milliseconds until it holds.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-ticker.C:
		case <-deadline:
			if cond() {
				return
			}
			t.Fatalf("%s: not satisfied within %v", msg, timeout)
		}
	}
}
