package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"pastebin-lite/internal/storage"
)

var (
	valueBucket  = []byte("values")
	expireBucket = []byte("expires")
)

var errBuckets = errors.New("buckets not initialized")

// record is the on-disk envelope. ExpiresAt is zero when no TTL is set.
type record struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store implements storage.Backend backed by BoltDB. TTLs are tracked in an
// expiry index and enforced lazily on read; DeleteExpired reclaims them.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valueBucket); err != nil {
			return fmt.Errorf("create value bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(expireBucket); err != nil {
			return fmt.Errorf("create expire bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Get retrieves a live value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		vBucket := tx.Bucket(valueBucket)
		if vBucket == nil {
			return errBuckets
		}
		rec, ok, err := load(vBucket, key)
		if err != nil {
			return err
		}
		if !ok || rec.expired(s.now()) {
			return storage.ErrNotFound
		}
		out = rec.Value
		return nil
	})
	return out, err
}

// Set persists value, keeping a live TTL on the key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		prev, ok, err := load(vBucket, key)
		if err != nil {
			return err
		}
		rec := record{Value: value}
		if ok && !prev.expired(s.now()) {
			rec.ExpiresAt = prev.ExpiresAt
		} else if ok && !prev.ExpiresAt.IsZero() {
			if err := eBucket.Delete(expireKey(prev.ExpiresAt, key)); err != nil {
				return fmt.Errorf("remove previous expiry index: %w", err)
			}
		}
		return put(vBucket, key, rec)
	})
}

// Expire sets a TTL on an existing key. Missing keys are ignored.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return s.Del(ctx, key)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		rec, ok, err := load(vBucket, key)
		if err != nil || !ok {
			return err
		}
		if !rec.ExpiresAt.IsZero() {
			if err := eBucket.Delete(expireKey(rec.ExpiresAt, key)); err != nil {
				return fmt.Errorf("remove previous expiry index: %w", err)
			}
		}
		rec.ExpiresAt = s.now().Add(ttl).UTC()
		if err := eBucket.Put(expireKey(rec.ExpiresAt, key), []byte(key)); err != nil {
			return fmt.Errorf("index expiry: %w", err)
		}
		return put(vBucket, key, rec)
	})
}

// Del removes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		rec, ok, err := load(vBucket, key)
		if err != nil || !ok {
			return err
		}
		if !rec.ExpiresAt.IsZero() {
			if err := eBucket.Delete(expireKey(rec.ExpiresAt, key)); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
		}
		if err := vBucket.Delete([]byte(key)); err != nil {
			return fmt.Errorf("delete value: %w", err)
		}
		return nil
	})
}

// CompareAndSwap replaces the value inside a single write transaction.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	swapped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		vBucket := tx.Bucket(valueBucket)
		if vBucket == nil {
			return errBuckets
		}
		rec, ok, err := load(vBucket, key)
		if err != nil {
			return err
		}
		if !ok || rec.expired(s.now()) || !bytes.Equal(rec.Value, old) {
			return nil
		}
		rec.Value = next
		if err := put(vBucket, key, rec); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// DeleteExpired removes all keys with expiry before or equal to the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		// Deleting through the cursor while iterating can skip entries.
		var due [][2][]byte
		cutoff := toTimestamp(before)
		cursor := eBucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if binary.BigEndian.Uint64(k[:8]) > cutoff {
				break
			}
			due = append(due, [2][]byte{bytes.Clone(k), bytes.Clone(v)})
		}
		for _, kv := range due {
			if err := vBucket.Delete(kv[1]); err != nil {
				return fmt.Errorf("delete expired key %s: %w", kv[1], err)
			}
			if err := eBucket.Delete(kv[0]); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
			removed++
		}
		return nil
	})

	return removed, err
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(valueBucket) == nil {
			return errBuckets
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	vBucket := tx.Bucket(valueBucket)
	eBucket := tx.Bucket(expireBucket)
	if vBucket == nil || eBucket == nil {
		return nil, nil, errBuckets
	}
	return vBucket, eBucket, nil
}

func load(b *bolt.Bucket, key string) (record, bool, error) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, true, nil
}

func put(b *bolt.Bucket, key string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := b.Put([]byte(key), data); err != nil {
		return fmt.Errorf("save value: %w", err)
	}
	return nil
}

func expireKey(t time.Time, key string) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out, toTimestamp(t))
	copy(out[8:], key)
	return out
}

func toTimestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UTC().UnixNano())
}

var (
	_ storage.Backend = (*Store)(nil)
	_ storage.Swapper = (*Store)(nil)
	_ storage.Sweeper = (*Store)(nil)
)
