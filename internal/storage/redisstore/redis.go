package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pastebin-lite/internal/storage"
)

// Store implements storage.Backend on top of Redis. Expiry is native.
type Store struct {
	client redis.UniversalClient
}

// Open parses a redis:// URL, connects and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return raw, nil
}

// Set writes value with KEEPTTL so an overwrite does not clear the expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.SetArgs(ctx, key, value, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// CompareAndSwap watches key and replaces its value inside MULTI/EXEC only
// if it still equals old.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(current, old) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis compare-and-swap: %w", err)
	}
	return swapped, nil
}

// consumeScript spends one view server-side. The record is matched
// textually: inside JSON string values every quote is escaped, so the field
// patterns can only hit the top-level keys.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {0}
end
local now = tonumber(ARGV[1])
local exp = string.match(raw, '"expires_at":(%-?%d+)')
if exp and now >= tonumber(exp) then
  redis.call('DEL', KEYS[1])
  return {2}
end
local views = string.match(raw, '"remaining_views":(%-?%d+)')
if not views then
  return {1, raw}
end
local left = tonumber(views)
if left <= 0 then
  redis.call('DEL', KEYS[1])
  return {3}
end
left = left - 1
local out = string.gsub(raw, '"remaining_views":%-?%d+', '"remaining_views":' .. string.format('%d', left), 1)
if left <= 0 then
  redis.call('DEL', KEYS[1])
else
  redis.call('SET', KEYS[1], out, 'KEEPTTL')
end
return {1, out}
`)

// Consume checks expiry and spends a view in a single Lua script, so
// concurrent readers never race each other.
func (s *Store) Consume(ctx context.Context, key string, nowMs int64) (storage.Consumed, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{key}, nowMs).Slice()
	if err != nil {
		return storage.Consumed{}, fmt.Errorf("redis consume: %w", err)
	}
	if len(res) == 0 {
		return storage.Consumed{}, errors.New("redis consume: empty reply")
	}
	code, ok := res[0].(int64)
	if !ok {
		return storage.Consumed{}, fmt.Errorf("redis consume: unexpected reply %T", res[0])
	}
	out := storage.Consumed{Outcome: storage.Outcome(code)}
	if out.Outcome == storage.OutcomeServed {
		if len(res) < 2 {
			return storage.Consumed{}, errors.New("redis consume: missing value")
		}
		value, ok := res[1].(string)
		if !ok {
			return storage.Consumed{}, fmt.Errorf("redis consume: unexpected value %T", res[1])
		}
		out.Value = []byte(value)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var (
	_ storage.Backend  = (*Store)(nil)
	_ storage.Swapper  = (*Store)(nil)
	_ storage.Consumer = (*Store)(nil)
)
