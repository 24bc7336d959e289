package cloudapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CacheRecord is the fingerprint of the last response seen for a cache key.
type CacheRecord struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	MD5       string    `json:"md5"       yaml:"md5"`
	Hits      int       `json:"hits"      yaml:"hits"`
}

// Storage keeps cache records between calls.
type Storage interface {
	// Get returns ErrRecordNotFound when key is unknown.
	Get(ctx context.Context, key string) (*CacheRecord, error)
	Put(ctx context.Context, key string, record *CacheRecord) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// RecordUpdater is implemented by storages that change a record atomically.
// fn gets a copy of the current record, nil when absent, and returns the
// record to store. fn may run more than once when writers race.
type RecordUpdater interface {
	Update(ctx context.Context, key string, fn func(current *CacheRecord) *CacheRecord) error
}

// UpdateRecord applies fn through storage. Storages without RecordUpdater get
// a read followed by a write, so concurrent writers there are last-write-wins.
func UpdateRecord(ctx context.Context, storage Storage, key string, fn func(current *CacheRecord) *CacheRecord) error {
	if updater, ok := storage.(RecordUpdater); ok {
		return updater.Update(ctx, key, fn)
	}

	current, err := storage.Get(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		current, err = nil, nil
	}

	if err != nil {
		return err
	}

	return storage.Put(ctx, key, fn(current))
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]CacheRecord
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]CacheRecord),
	}
}

// Get retrieves a record.
func (s *MemoryStorage) Get(ctx context.Context, key string) (*CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}

	return &record, nil
}

// Put stores a copy of record.
func (s *MemoryStorage) Put(ctx context.Context, key string, record *CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = *record

	return nil
}

// Update implements RecordUpdater.
func (s *MemoryStorage) Update(ctx context.Context, key string, fn func(current *CacheRecord) *CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *CacheRecord
	if record, ok := s.records[key]; ok {
		current = &record
	}

	s.records[key] = *fn(current)

	return nil
}

// Delete removes a record.
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)

	return nil
}

// Keys lists the stored keys in sorted order.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys, nil
}
