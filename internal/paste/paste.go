// Package paste implements the paste lifecycle: creation, expiry and
// view-count consumption on top of a storage.Backend.
package paste

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is the single externally visible outcome for a paste that
	// does not exist, has expired or has used up its views.
	ErrNotFound = errors.New("paste not found")

	// ErrExpired is returned when the paste's expiry time has passed.
	ErrExpired = fmt.Errorf("paste expired: %w", ErrNotFound)

	// ErrViewsExceeded is returned when the paste has no views left.
	ErrViewsExceeded = fmt.Errorf("paste view limit reached: %w", ErrNotFound)

	// ErrUnavailable wraps backend failures. It never satisfies ErrNotFound.
	ErrUnavailable = errors.New("paste store unavailable")

	// ErrConflict is returned when a view could not be recorded before the
	// context ended, or within the attempts set by WithMaxSwapAttempts,
	// because the paste kept changing underneath us.
	ErrConflict = fmt.Errorf("paste updated concurrently: %w", ErrUnavailable)
)

// Record is the value persisted for a paste. Timestamps are unix milliseconds.
type Record struct {
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      *int64 `json:"expires_at"`
	RemainingViews *int64 `json:"remaining_views"`
}

func (r Record) expired(nowMs int64) bool {
	return r.ExpiresAt != nil && nowMs >= *r.ExpiresAt
}

func (r Record) exhausted() bool {
	return r.RemainingViews != nil && *r.RemainingViews <= 0
}

// CreateInput holds validated creation parameters. Nil means "no limit".
type CreateInput struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

// View is what a successful fetch returns.
type View struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

// isoMillis matches JavaScript's Date.prototype.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a unix-millisecond timestamp as ISO-8601 in UTC.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoMillis)
}

func newView(r Record) *View {
	v := &View{Content: r.Content, RemainingViews: r.RemainingViews}
	if r.ExpiresAt != nil {
		s := FormatTime(*r.ExpiresAt)
		v.ExpiresAt = &s
	}
	return v
}

func key(id string) string {
	return "paste:" + id
}
