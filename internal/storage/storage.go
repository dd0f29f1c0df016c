package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or its TTL has elapsed.
var ErrNotFound = errors.New("key not found")

// Backend is the key-value contract the paste engine runs on. Values are
// opaque bytes; Set keeps any TTL already applied to the key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Swapper is implemented by backends that can replace a value only if it
// still holds the expected bytes. A missing key never matches.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
}

// Sweeper is implemented by backends that emulate TTLs and need expired keys
// reclaimed periodically.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Outcome reports what a Consume call found.
type Outcome int

const (
	// OutcomeMissing means the key does not exist.
	OutcomeMissing Outcome = iota
	// OutcomeServed means the record is readable; Value holds it after any
	// view was spent.
	OutcomeServed
	// OutcomeExpired means expires_at had passed; the key was deleted.
	OutcomeExpired
	// OutcomeExhausted means no views were left; the key was deleted.
	OutcomeExhausted
)

// Consumed is the result of a Consume call.
type Consumed struct {
	Outcome Outcome
	Value   []byte
}

// Consumer is implemented by backends that can check and spend a view of a
// record in one atomic step. Records are JSON objects; the integer fields
// "expires_at" (unix milliseconds) and "remaining_views" are optional. A
// record whose remaining_views reaches zero is deleted after being served.
type Consumer interface {
	Consume(ctx context.Context, key string, nowMs int64) (Consumed, error)
}
