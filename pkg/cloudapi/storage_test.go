package cloudapi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := cloudapi.NewMemoryStorage()

	_, err := storage.Get(ctx, "items")
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFound)

	record := &cloudapi.CacheRecord{Timestamp: time.Now().UTC(), MD5: "abc", Hits: 1}
	require.NoError(t, storage.Put(ctx, "items", record))
	require.NoError(t, storage.Put(ctx, "apps", record))

	record.Hits = 5

	stored, err := storage.Get(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Hits)

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"apps", "items"}, keys)

	require.NoError(t, storage.Delete(ctx, "items"))

	_, err = storage.Get(ctx, "items")
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFound)
}

func TestStorageFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *cloudapi.StorageConfig
		expected any
		wantErr  error
	}{
		{name: "nil config", config: nil, expected: &cloudapi.MemoryStorage{}},
		{name: "memory", config: &cloudapi.StorageConfig{Type: cloudapi.StorageTypeMemory}, expected: &cloudapi.MemoryStorage{}},
		{name: "none", config: &cloudapi.StorageConfig{Type: cloudapi.StorageTypeNone}, expected: &cloudapi.NoOpStorage{}},
		{name: "nats without config", config: &cloudapi.StorageConfig{Type: cloudapi.StorageTypeNATS}, wantErr: cloudapi.ErrNATSConfigRequired},
		{name: "chain without config", config: &cloudapi.StorageConfig{Type: cloudapi.StorageTypeChain}, wantErr: cloudapi.ErrNATSConfigRequired},
		{name: "unsupported", config: &cloudapi.StorageConfig{Type: "redis"}, wantErr: cloudapi.ErrUnsupportedStorageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			storage, err := cloudapi.NewStorageFromConfig(tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, tt.expected, storage)
		})
	}
}

func TestStorageBuilder(t *testing.T) {
	t.Parallel()

	storage, err := cloudapi.NewStorageBuilder().WithType(cloudapi.StorageTypeNone).Build()
	require.NoError(t, err)
	assert.IsType(t, &cloudapi.NoOpStorage{}, storage)

	_, err = cloudapi.NewStorageBuilder().WithType(cloudapi.StorageTypeNATS).Build()
	require.ErrorIs(t, err, cloudapi.ErrNATSConfigRequired)

	config := cloudapi.NewStorageBuilder().
		WithType(cloudapi.StorageTypeChain).
		WithNATSURL("nats://nats.example.com:4222", "records").
		Config()
	assert.Equal(t, cloudapi.StorageTypeChain, config.Type)
	require.NotNil(t, config.NATS)
	assert.Equal(t, "records", config.NATS.Bucket)
	assert.Positive(t, config.NATS.TTL)
}

func TestNoOpStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := cloudapi.NewNoOpStorage()

	require.NoError(t, storage.Put(ctx, "items", &cloudapi.CacheRecord{MD5: "abc"}))

	_, err := storage.Get(ctx, "items")
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFound)

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	require.NoError(t, storage.Delete(ctx, "items"))
}

type failingStorage struct {
	cloudapi.NoOpStorage
}

func (failingStorage) Put(context.Context, string, *cloudapi.CacheRecord) error {
	return errors.New("write failed")
}

func TestStorageChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l1 := cloudapi.NewMemoryStorage()
	l2 := cloudapi.NewMemoryStorage()
	chain := cloudapi.NewStorageChain(l1, l2)

	require.NoError(t, l2.Put(ctx, "items", &cloudapi.CacheRecord{MD5: "abc", Hits: 2}))

	record, err := chain.Get(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, "abc", record.MD5)

	promoted, err := l1.Get(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 2, promoted.Hits)

	_, err = chain.Get(ctx, "missing")
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFound)
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFoundInStorage)

	require.NoError(t, l1.Put(ctx, "apps", &cloudapi.CacheRecord{}))

	keys, err := chain.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"apps", "items"}, keys)

	require.NoError(t, chain.Delete(ctx, "items"))

	_, err = l2.Get(ctx, "items")
	require.ErrorIs(t, err, cloudapi.ErrRecordNotFound)

	broken := cloudapi.NewStorageChain(l1, failingStorage{})
	require.EqualError(t, broken.Put(ctx, "items", &cloudapi.CacheRecord{}), "write failed")
}

type unreachableStorage struct {
	cloudapi.NoOpStorage
}

func (unreachableStorage) Get(context.Context, string) (*cloudapi.CacheRecord, error) {
	return nil, errUnreachable
}

var errUnreachable = errors.New("connection refused")

func TestStorageChain_BackendErrorIsNotAMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := cloudapi.NewStorageChain(cloudapi.NewMemoryStorage(), unreachableStorage{})

	_, err := chain.Get(ctx, "items")
	require.ErrorIs(t, err, errUnreachable)
	assert.NotErrorIs(t, err, cloudapi.ErrRecordNotFound)

	err = chain.Update(ctx, "items", func(*cloudapi.CacheRecord) *cloudapi.CacheRecord {
		return &cloudapi.CacheRecord{MD5: "abc"}
	})
	require.ErrorIs(t, err, errUnreachable)
}

func TestStorageChain_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l1 := cloudapi.NewMemoryStorage()
	l2 := cloudapi.NewMemoryStorage()
	chain := cloudapi.NewStorageChain(l1, l2)

	require.NoError(t, l1.Put(ctx, "items", &cloudapi.CacheRecord{MD5: "stale", Hits: 7}))
	require.NoError(t, l2.Put(ctx, "items", &cloudapi.CacheRecord{MD5: "abc", Hits: 1}))

	err := chain.Update(ctx, "items", func(current *cloudapi.CacheRecord) *cloudapi.CacheRecord {
		require.NotNil(t, current)
		current.Hits++

		return current
	})
	require.NoError(t, err)

	for _, storage := range []cloudapi.Storage{l1, l2} {
		record, err := storage.Get(ctx, "items")
		require.NoError(t, err)
		assert.Equal(t, "abc", record.MD5)
		assert.Equal(t, 2, record.Hits)
	}

	require.NoError(t, chain.Close())
}

func TestUpdateRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storage cloudapi.Storage
	}{
		{name: "memory", storage: cloudapi.NewMemoryStorage()},
		{name: "read then write", storage: cloudapi.NewStorageChain(struct{ cloudapi.Storage }{cloudapi.NewMemoryStorage()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			bump := func(current *cloudapi.CacheRecord) *cloudapi.CacheRecord {
				if current == nil {
					return &cloudapi.CacheRecord{MD5: "abc"}
				}

				current.Hits++

				return current
			}

			for range 3 {
				require.NoError(t, cloudapi.UpdateRecord(ctx, tt.storage, "items", bump))
			}

			record, err := tt.storage.Get(ctx, "items")
			require.NoError(t, err)
			assert.Equal(t, "abc", record.MD5)
			assert.Equal(t, 2, record.Hits)
		})
	}
}

func TestNewNATSKVStorage_Errors(t *testing.T) {
	t.Parallel()

	_, err := cloudapi.NewNATSKVStorage(nil)
	require.ErrorIs(t, err, cloudapi.ErrNATSConfigRequired)

	_, err = cloudapi.NewNATSKVStorage(&cloudapi.NATSKVConfig{
		URL:     "nats://127.0.0.1:1",
		Options: []nats.Option{nats.Timeout(100 * time.Millisecond)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

type fakeEntry struct {
	nats.KeyValueEntry
	value    []byte
	revision uint64
}

func (e fakeEntry) Value() []byte    { return e.value }
func (e fakeEntry) Revision() uint64 { return e.revision }

// racingBucket stores one key and lets another writer win the first
// conditional write.
type racingBucket struct {
	nats.KeyValue
	value     []byte
	revision  uint64
	conflicts int
	writes    int
}

func (b *racingBucket) Get(string) (nats.KeyValueEntry, error) {
	if b.revision == 0 {
		return nil, nats.ErrKeyNotFound
	}

	return fakeEntry{value: b.value, revision: b.revision}, nil
}

func (b *racingBucket) Create(key string, value []byte) (uint64, error) {
	return b.Update(key, value, 0)
}

func (b *racingBucket) Update(_ string, value []byte, last uint64) (uint64, error) {
	b.writes++

	if b.conflicts > 0 {
		b.conflicts--
		b.value = []byte(`{"md5":"abc","hits":5}`)
		b.revision++

		return 0, nats.ErrKeyExists
	}

	if last != b.revision {
		return 0, nats.ErrKeyExists
	}

	b.value = value
	b.revision++

	return b.revision, nil
}

func TestNATSKVStorage_UpdateRetriesOnConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bucket := &racingBucket{conflicts: 1}
	storage := cloudapi.NewNATSKVStorageFromBucket(bucket)

	var seen []*cloudapi.CacheRecord

	err := storage.Update(ctx, "items", func(current *cloudapi.CacheRecord) *cloudapi.CacheRecord {
		seen = append(seen, current)

		if current == nil {
			return &cloudapi.CacheRecord{MD5: "abc"}
		}

		current.Hits++

		return current
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	assert.Equal(t, 2, bucket.writes)

	record, err := storage.Get(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, 6, record.Hits)
}

func TestNATSKVStorage_UpdateGivesUpAfterConflicts(t *testing.T) {
	t.Parallel()

	storage := cloudapi.NewNATSKVStorageFromBucket(&racingBucket{conflicts: 100})

	err := storage.Update(context.Background(), "items", func(*cloudapi.CacheRecord) *cloudapi.CacheRecord {
		return &cloudapi.CacheRecord{MD5: "abc"}
	})
	require.ErrorIs(t, err, cloudapi.ErrRecordConflict)
}
