package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet()

	assert.True(t, s.AddAll("address:kb-home/sheffield/100 main st"), "first add should succeed")
	assert.False(t, s.AddAll("address:kb-home/sheffield/100 main st"), "second add of same key should fail")
	assert.Equal(t, 1, s.Size())
}

func TestKeySetAddAllIsAtomic(t *testing.T) {
	s := NewKeySet()

	assert.True(t, s.AddAll("a", "b"))
	assert.False(t, s.AddAll("c", "b"), "overlapping key set must be rejected")
	assert.Equal(t, 2, s.Size(), "rejected AddAll must not leave partial keys behind")
	assert.True(t, s.AddAll("c"))
}

func TestKeySetConcurrency(t *testing.T) {
	s := NewKeySet()
	var added int64

	pool := NewWorkerPool(10)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.AddAll("same", "alias") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	assert.EqualValues(t, 1, added, "expected exactly 1 successful add")
	assert.Equal(t, 2, s.Size())
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int64
	}{
		{"single worker", 1, 1},
		{"zero falls back to one", 0, 1},
		{"three workers", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			var inFlight, maxInFlight, done int64

			for i := 0; i < 12; i++ {
				pool.Submit(func() {
					n := atomic.AddInt64(&inFlight, 1)
					for {
						m := atomic.LoadInt64(&maxInFlight)
						if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
					atomic.AddInt64(&done, 1)
				})
			}
			pool.Wait()

			assert.EqualValues(t, 12, done)
			assert.LessOrEqual(t, maxInFlight, tt.want)
		})
	}
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inFlight, maxInFlight int64

	pool := NewWorkerPool(8)
	for i := 0; i < 50; i++ {
		pool.Submit(func() {
			unlock := km.Lock("same-home")
			defer unlock()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				m := atomic.LoadInt64(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		})
	}
	pool.Wait()

	assert.EqualValues(t, 1, maxInFlight)
	assert.Equal(t, 0, km.Held(), "entries should be released once nobody holds them")
}

func TestKeyedMutexDistinctKeysRunInParallel(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("home-a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("home-b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
}

func TestKeyedMutexOverlappingSetsDoNotDeadlock(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := km.Lock("x", "y")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := km.Lock("y", "x", "y")
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping key sets deadlocked")
	}
}
