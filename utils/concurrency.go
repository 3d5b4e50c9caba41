package utils

import (
	"sort"
	"sync"
)

// WorkerPool runs submitted jobs on at most maxWorkers goroutines.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. It blocks while all
// workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// KeySet is a thread-safe set of identity keys.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// AddAll adds every key only if none of them is present yet.
func (s *KeySet) AddAll(keys ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if _, exists := s.seen[k]; exists {
			return false
		}
	}
	for _, k := range keys {
		s.seen[k] = struct{}{}
	}
	return true
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// KeyedMutex serialises work per key while unrelated keys proceed in parallel.
// Entries are reference counted and dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires every given key and returns the matching unlock function.
// Keys are taken in sorted order so overlapping key sets cannot deadlock.
func (km *KeyedMutex) Lock(keys ...string) (unlock func()) {
	sorted := dedupeSorted(keys)

	entries := make([]*keyedEntry, len(sorted))
	km.mu.Lock()
	for i, k := range sorted {
		e, ok := km.locks[k]
		if !ok {
			e = &keyedEntry{}
			km.locks[k] = e
		}
		e.refs++
		entries[i] = e
	}
	km.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		km.mu.Lock()
		for i, k := range sorted {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(km.locks, k)
			}
		}
		km.mu.Unlock()
	}
}

// Held returns the number of keys currently locked or waited on.
func (km *KeyedMutex) Held() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
