package syncutil

import (
	"sync"
	"testing"
)

func TestMutexGuardsCounter(t *testing.T) {
	t.Parallel()

	var (
		mu      Mutex
		counter int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if counter != 800 {
		t.Errorf("counter = %d, want 800", counter)
	}
}

func TestRWMutexAllowsConcurrentReaders(t *testing.T) {
	t.Parallel()

	var mu RWMutex
	mu.RLock()
	mu.RLock()
	mu.RUnlock()
	mu.RUnlock()

	mu.Lock()
	mu.Unlock() //nolint:staticcheck // empty critical section is the point of the test
}
