package cloudapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
)

// StorageType represents the type of storage backend.
type StorageType string

const (
	// StorageTypeMemory represents in-memory storage.
	StorageTypeMemory StorageType = "memory"

	// StorageTypeNATS represents NATS KV storage.
	StorageTypeNATS StorageType = "nats"

	// StorageTypeNone represents no storage.
	StorageTypeNone StorageType = "none"

	// StorageTypeChain keeps records in memory in front of NATS KV.
	StorageTypeChain StorageType = "chain"
)

// StorageConfig configures the storage backend.
type StorageConfig struct {
	// Type is the storage backend type
	Type StorageType `mapstructure:"type" yaml:"type"`

	// NATS KV storage configuration
	NATS *NATSKVConfig `mapstructure:"-" yaml:"-"`
}

// DefaultStorageConfig returns default storage configuration.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Type: StorageTypeMemory,
	}
}

// NewStorageFromConfig creates a storage backend from configuration.
func NewStorageFromConfig(config *StorageConfig) (Storage, error) {
	if config == nil {
		config = DefaultStorageConfig()
	}

	switch config.Type {
	case StorageTypeMemory, "":
		return NewMemoryStorage(), nil

	case StorageTypeNATS:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		return NewNATSKVStorage(config.NATS)

	case StorageTypeChain:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		shared, err := NewNATSKVStorage(config.NATS)
		if err != nil {
			return nil, err
		}

		return NewStorageChain(NewMemoryStorage(), shared), nil

	case StorageTypeNone:
		return NewNoOpStorage(), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStorageType, config.Type)
	}
}

// NoOpStorage is a storage that does nothing, so every response looks new.
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage.
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// Get always returns ErrRecordNotFound.
func (s *NoOpStorage) Get(ctx context.Context, key string) (*CacheRecord, error) {
	return nil, ErrRecordNotFound
}

// Put does nothing.
func (s *NoOpStorage) Put(ctx context.Context, key string, record *CacheRecord) error {
	return nil
}

// Delete does nothing.
func (s *NoOpStorage) Delete(ctx context.Context, key string) error {
	return nil
}

// Keys returns nothing.
func (s *NoOpStorage) Keys(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

// StorageBuilder helps build storage configurations.
type StorageBuilder struct {
	config *StorageConfig
}

// NewStorageBuilder creates a new storage builder.
func NewStorageBuilder() *StorageBuilder {
	return &StorageBuilder{
		config: DefaultStorageConfig(),
	}
}

// WithType sets the storage type.
func (b *StorageBuilder) WithType(storageType StorageType) *StorageBuilder {
	b.config.Type = storageType

	return b
}

// WithNATSConfig sets NATS storage configuration.
func (b *StorageBuilder) WithNATSConfig(config *NATSKVConfig) *StorageBuilder {
	b.config.NATS = config

	return b
}

// WithNATSURL sets the NATS server and bucket with the default TTL.
func (b *StorageBuilder) WithNATSURL(url, bucket string) *StorageBuilder {
	b.config.NATS = &NATSKVConfig{
		URL:    url,
		Bucket: bucket,
		TTL:    constants.DefaultNATSRecordTTL,
	}

	return b
}

// Config returns a copy of the configuration, for callers that let a client
// own the storage.
func (b *StorageBuilder) Config() *StorageConfig {
	config := *b.config

	return &config
}

// Build creates the storage from the configuration.
func (b *StorageBuilder) Build() (Storage, error) {
	return NewStorageFromConfig(b.config)
}

// StorageChain implements a chain of storage backends (L1, L2, etc.). The
// last backend holds the authoritative records.
type StorageChain struct {
	storages []Storage
}

// NewStorageChain creates a new storage chain.
func NewStorageChain(storages ...Storage) *StorageChain {
	return &StorageChain{
		storages: storages,
	}
}

// Get retrieves a record from the chain. A backend failure other than a
// missing record is returned instead of falling through to a miss.
func (c *StorageChain) Get(ctx context.Context, key string) (*CacheRecord, error) {
	for i, storage := range c.storages {
		record, err := storage.Get(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		// Found in this storage, populate earlier ones
		for j := range i {
			_ = c.storages[j].Put(ctx, key, record)
		}

		return record, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrRecordNotFound, ErrRecordNotFoundInStorage)
}

// Update changes the record in the last storage, the one shared between
// processes, and copies the result into the earlier ones.
func (c *StorageChain) Update(ctx context.Context, key string, fn func(current *CacheRecord) *CacheRecord) error {
	if len(c.storages) == 0 {
		return nil
	}

	var stored *CacheRecord

	last := c.storages[len(c.storages)-1]

	err := UpdateRecord(ctx, last, key, func(current *CacheRecord) *CacheRecord {
		stored = fn(current)

		return stored
	})
	if err != nil {
		return err
	}

	var errs []error

	for _, storage := range c.storages[:len(c.storages)-1] {
		err := storage.Put(ctx, key, stored)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Put stores a record in all storages.
func (c *StorageChain) Put(ctx context.Context, key string, record *CacheRecord) error {
	var errs []error

	for _, storage := range c.storages {
		err := storage.Put(ctx, key, record)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Delete removes a record from all storages.
func (c *StorageChain) Delete(ctx context.Context, key string) error {
	var errs []error

	for _, storage := range c.storages {
		err := storage.Delete(ctx, key)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes the storages holding a connection.
func (c *StorageChain) Close() error {
	var errs []error

	for _, storage := range c.storages {
		if closer, ok := storage.(io.Closer); ok {
			err := closer.Close()
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Keys returns the union of keys of all storages.
func (c *StorageChain) Keys(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}

	for _, storage := range c.storages {
		keys, err := storage.Keys(ctx)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}

	sort.Strings(result)

	return result, nil
}
