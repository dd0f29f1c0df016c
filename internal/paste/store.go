package paste

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"pastebin-lite/internal/id"
	"pastebin-lite/internal/storage"
)

// Backoff between lost compare-and-swap rounds.
const (
	swapBackoffBase = time.Millisecond
	swapBackoffCap  = 50 * time.Millisecond
)

// errSwapLost marks a round whose write was beaten by a concurrent reader.
var errSwapLost = errors.New("paste changed during update")

// IDGenerator produces fresh paste ids.
type IDGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Store owns paste creation and fetch-and-consume. It holds no paste state
// of its own; everything lives in the backend.
type Store struct {
	backend     storage.Backend
	ids         IDGenerator
	logger      *slog.Logger
	metrics     *Metrics
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the default nanoid generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records create and fetch outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithMaxSwapAttempts bounds the compare-and-swap retry loop. By default it
// retries until the context ends.
func WithMaxSwapAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore returns a Store persisting to backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ids:     id.New(id.DefaultLength),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new paste and returns its id. When a TTL is given the
// backend is also asked to expire the key natively.
func (s *Store) Create(ctx context.Context, in CreateInput, now time.Time) (string, error) {
	pid, err := s.ids.Generate(ctx)
	if err != nil {
		return "", err
	}

	nowMs := now.UnixMilli()
	rec := Record{Content: in.Content, CreatedAt: nowMs}
	if in.TTLSeconds != nil {
		exp := nowMs + *in.TTLSeconds*1000
		rec.ExpiresAt = &exp
	}
	if in.MaxViews != nil {
		views := *in.MaxViews
		rec.RemainingViews = &views
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode paste: %w", err)
	}
	if err := s.backend.Set(ctx, key(pid), data); err != nil {
		return "", unavailable(err)
	}
	if in.TTLSeconds != nil {
		if err := s.backend.Expire(ctx, key(pid), time.Duration(*in.TTLSeconds)*time.Second); err != nil {
			// Without a native TTL nothing would reclaim an unread record.
			if delErr := s.backend.Del(ctx, key(pid)); delErr != nil {
				s.logger.WarnContext(ctx, "remove paste without ttl", "id", pid, "error", delErr)
			}
			return "", unavailable(err)
		}
	}

	s.metrics.incCreated()
	s.logger.DebugContext(ctx, "paste created", "id", pid, "expires", rec.ExpiresAt != nil, "view_limited", rec.RemainingViews != nil)
	return pid, nil
}

// FetchAndConsume returns the paste and, for view-limited pastes, uses up
// one view. Missing, expired and exhausted pastes all satisfy
// errors.Is(err, ErrNotFound); ErrExpired and ErrViewsExceeded tell them apart.
func (s *Store) FetchAndConsume(ctx context.Context, id string, now time.Time) (*View, error) {
	view, err := s.fetch(ctx, id, now.UnixMilli())
	s.metrics.observeFetch(err)
	return view, err
}

func (s *Store) fetch(ctx context.Context, id string, nowMs int64) (*View, error) {
	if consumer, ok := s.backend.(storage.Consumer); ok {
		return s.consume(ctx, consumer, id, nowMs)
	}

	var (
		view *View
		lost int
	)
	err := retry.Do(ctx, s.swapBackoff(), func(ctx context.Context) error {
		v, err := s.fetchOnce(ctx, id, nowMs)
		if errors.Is(err, errSwapLost) {
			lost++
			return retry.RetryableError(err)
		}
		view = v
		return err
	})
	switch {
	case err == nil:
		return view, nil
	case errors.Is(err, errSwapLost):
		s.logger.WarnContext(ctx, "paste view not recorded", "id", id, "lost_swaps", lost)
		return nil, ErrConflict
	case lost > 0 && ctx.Err() != nil:
		s.logger.WarnContext(ctx, "paste view not recorded", "id", id, "lost_swaps", lost, "error", ctx.Err())
		return nil, fmt.Errorf("%w: %w", ErrConflict, ctx.Err())
	case ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(err, ErrUnavailable):
		return nil, unavailable(err)
	default:
		return nil, err
	}
}

// consume hands the whole check-and-spend to a backend that does it atomically.
func (s *Store) consume(ctx context.Context, consumer storage.Consumer, id string, nowMs int64) (*View, error) {
	res, err := consumer.Consume(ctx, key(id), nowMs)
	if err != nil {
		return nil, unavailable(err)
	}
	switch res.Outcome {
	case storage.OutcomeServed:
	case storage.OutcomeExpired:
		s.logger.DebugContext(ctx, "paste discarded", "id", id, "reason", ErrExpired)
		return nil, ErrExpired
	case storage.OutcomeExhausted:
		s.logger.DebugContext(ctx, "paste discarded", "id", id, "reason", ErrViewsExceeded)
		return nil, ErrViewsExceeded
	default:
		return nil, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal(res.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode paste %s: %w", id, err)
	}
	return newView(rec), nil
}

// fetchOnce is one read-check-write round. It returns errSwapLost when a
// compare-and-swap backend saw the record change underneath it.
func (s *Store) fetchOnce(ctx context.Context, id string, nowMs int64) (*View, error) {
	k := key(id)
	raw, err := s.backend.Get(ctx, k)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode paste %s: %w", id, err)
	}

	if rec.expired(nowMs) {
		return nil, s.discard(ctx, id, ErrExpired)
	}
	if rec.exhausted() {
		return nil, s.discard(ctx, id, ErrViewsExceeded)
	}
	if rec.RemainingViews == nil {
		return newView(rec), nil
	}

	remaining := *rec.RemainingViews - 1
	rec.RemainingViews = &remaining
	updated, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode paste: %w", err)
	}

	if swapper, ok := s.backend.(storage.Swapper); ok {
		swapped, err := swapper.CompareAndSwap(ctx, k, raw, updated)
		if err != nil {
			return nil, unavailable(err)
		}
		if !swapped {
			return nil, errSwapLost
		}
	} else if err := s.backend.Set(ctx, k, updated); err != nil {
		return nil, unavailable(err)
	}

	if remaining <= 0 {
		// The view is already granted; a record left at zero is removed on next access.
		if err := s.backend.Del(ctx, k); err != nil {
			s.logger.WarnContext(ctx, "delete exhausted paste", "id", id, "error", err)
		}
	}
	return newView(rec), nil
}

func (s *Store) swapBackoff() retry.Backoff {
	b := retry.NewExponential(swapBackoffBase)
	b = retry.WithCappedDuration(swapBackoffCap, b)
	b = retry.WithJitterPercent(50, b)
	if s.maxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(s.maxAttempts-1), b)
	}
	return b
}

func (s *Store) discard(ctx context.Context, id string, reason error) error {
	if err := s.backend.Del(ctx, key(id)); err != nil {
		return unavailable(err)
	}
	s.logger.DebugContext(ctx, "paste discarded", "id", id, "reason", reason)
	return reason
}

// Ping reports backend liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
