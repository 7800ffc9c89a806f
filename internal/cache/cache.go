package cache

import (
	"log/slog"
	"sync"
	"time"

	"cutpro/internal/core"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// SummaryCache holds the computed dashboard summary per owner. Every
// mutation for an owner must call Invalidate. A loader takes Epoch before
// reading the store and stores with SetIfCurrent, so a summary read before
// a concurrent mutation is never cached after its invalidation.
type SummaryCache struct {
	mu    sync.Mutex
	epoch uint64
	lru   *LRUCache[core.Summary]
}

func NewSummaryCache(maxOwners int, ttl time.Duration) *SummaryCache {
	return &SummaryCache{lru: NewLRUCache[core.Summary](maxOwners, ttl)}
}

func (s *SummaryCache) Get(ownerID string) (core.Summary, bool) {
	return s.lru.Get(ownerID)
}

func (s *SummaryCache) Set(ownerID string, sum core.Summary) {
	s.lru.Set(ownerID, sum)
}

// Epoch returns the invalidation counter.
func (s *SummaryCache) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// SetIfCurrent stores sum only if no invalidation happened since epoch was
// taken.
func (s *SummaryCache) SetIfCurrent(ownerID string, epoch uint64, sum core.Summary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.lru.Set(ownerID, sum)
	return true
}

func (s *SummaryCache) Invalidate(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.lru.Delete(ownerID)
}

func (s *SummaryCache) CleanExpired() int {
	return s.lru.CleanExpired()
}

func (s *SummaryCache) Stats() Stats {
	return s.lru.Stats()
}

// Manager handles cache lifecycle and cleanup
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	started     bool
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

func NewManager() *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager. Call before StartCleanup.
func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.startOnce.Do(func() {
		m.started = true
		go m.cleanup(interval)
	})
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			totalCleaned := 0
			for _, cache := range m.caches {
				totalCleaned += cache.CleanExpired()
			}
			if totalCleaned > 0 {
				slog.Debug("Cache cleanup", "removed", totalCleaned)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		if m.started {
			<-m.cleanupDone
		}
	})
}
