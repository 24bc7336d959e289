package cloudapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/nats-io/nats.go"
)

// NATSKVConfig configures the NATS JetStream key-value storage.
type NATSKVConfig struct {
	// URL of the NATS server
	URL string

	// Bucket is the key-value bucket name
	Bucket string

	// TTL of the records, zero keeps them forever
	TTL time.Duration

	// Options are passed to nats.Connect
	Options []nats.Option
}

// NATSKVStorage stores cache records in a JetStream key-value bucket so that
// several processes share the same fingerprints.
type NATSKVStorage struct {
	conn *nats.Conn
	kv   nats.KeyValue
}

// NewNATSKVStorage connects to NATS and opens (or creates) the bucket.
func NewNATSKVStorage(config *NATSKVConfig) (*NATSKVStorage, error) {
	if config == nil {
		return nil, ErrNATSConfigRequired
	}

	url := config.URL
	if url == "" {
		url = constants.DefaultNATSURL
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	conn, err := nats.Connect(url, config.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    config.TTL,
		})
	}

	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucket, err)
	}

	return &NATSKVStorage{conn: conn, kv: kv}, nil
}

// NewNATSKVStorageFromBucket wraps an already opened bucket.
func NewNATSKVStorageFromBucket(kv nats.KeyValue) *NATSKVStorage {
	return &NATSKVStorage{kv: kv}
}

// Get retrieves a record.
func (s *NATSKVStorage) Get(ctx context.Context, key string) (*CacheRecord, error) {
	entry, err := s.kv.Get(natsKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var record CacheRecord

	err = json.Unmarshal(entry.Value(), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
	}

	return &record, nil
}

// Put stores a record.
func (s *NATSKVStorage) Put(ctx context.Context, key string, record *CacheRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", key, err)
	}

	_, err = s.kv.Put(natsKey(key), data)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}

	return nil
}

// Update implements RecordUpdater with the bucket's per-key revisions, so
// workers in other processes do not lose each other's hits.
func (s *NATSKVStorage) Update(ctx context.Context, key string, fn func(current *CacheRecord) *CacheRecord) error {
	name := natsKey(key)

	for range constants.MaxRecordUpdateAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			current  *CacheRecord
			revision uint64
		)

		entry, err := s.kv.Get(name)

		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("failed to get %s: %w", key, err)
		default:
			current = &CacheRecord{}
			revision = entry.Revision()

			err = json.Unmarshal(entry.Value(), current)
			if err != nil {
				return fmt.Errorf("failed to decode record %s: %w", key, err)
			}
		}

		data, err := json.Marshal(fn(current))
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", key, err)
		}

		if revision == 0 {
			_, err = s.kv.Create(name, data)
		} else {
			_, err = s.kv.Update(name, data, revision)
		}

		if errors.Is(err, nats.ErrKeyExists) {
			continue
		}

		if err != nil {
			return fmt.Errorf("failed to update %s: %w", key, err)
		}

		return nil
	}

	return fmt.Errorf("%w: %s", ErrRecordConflict, key)
}

// Delete removes a record.
func (s *NATSKVStorage) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(natsKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// Keys lists the stored keys in sorted order.
func (s *NATSKVStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		decoded, err := base64.RawURLEncoding.DecodeString(key)
		if err != nil {
			continue
		}

		result = append(result, string(decoded))
	}

	sort.Strings(result)

	return result, nil
}

// Close drains the connection when it is owned by the storage.
func (s *NATSKVStorage) Close() error {
	if s.conn == nil {
		return nil
	}

	err := s.conn.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}

// NATS keys only allow [-/_=.a-zA-Z0-9].
func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
