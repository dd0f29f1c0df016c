// Package clock resolves "now" for a request.
//
// In test mode a request context may carry an explicit timestamp in
// milliseconds which is returned instead of the wall clock, so expiry
// can be exercised without waiting.
package clock

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Clock returns the current time for a request context.
type Clock interface {
	Now(ctx context.Context) time.Time
}

type overrideKey struct{}

// WithOverride attaches a raw millisecond timestamp to ctx. The value is only
// honoured by a Provider running in test mode.
func WithOverride(ctx context.Context, raw string) context.Context {
	if raw == "" {
		return ctx
	}
	return context.WithValue(ctx, overrideKey{}, raw)
}

// OverrideFrom returns the raw override stored in ctx, if any.
func OverrideFrom(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(overrideKey{}).(string)
	return raw, ok && raw != ""
}

// Provider is the production Clock.
type Provider struct {
	testMode bool
	now      func() time.Time
}

// New returns a Provider. Overrides are ignored unless testMode is set.
func New(testMode bool) *Provider {
	return &Provider{testMode: testMode, now: time.Now}
}

// TestMode reports whether overrides are honoured.
func (p *Provider) TestMode() bool {
	return p.testMode
}

// Now returns the override carried by ctx in test mode, falling back to the
// wall clock when there is none or it has no leading integer.
func (p *Provider) Now(ctx context.Context) time.Time {
	if p.testMode && ctx != nil {
		if raw, ok := OverrideFrom(ctx); ok {
			if ms, ok := leadingInt(raw); ok {
				return time.UnixMilli(ms)
			}
		}
	}
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// leadingInt reads an optionally signed run of decimal digits at the start of
// raw and ignores the rest, so "1700000000000.5" reads as 1700000000000.
func leadingInt(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Fixed is a Clock that always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now(context.Context) time.Time {
	return time.Time(f)
}
