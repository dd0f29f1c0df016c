package clock

import (
	"context"
	"testing"
	"time"
)

func TestProviderOverrideInTestMode(t *testing.T) {
	p := New(true)
	ctx := WithOverride(context.Background(), "1700000000123")

	first := p.Now(ctx)
	second := p.Now(ctx)
	if !first.Equal(second) {
		t.Fatalf("expected identical reads, got %v and %v", first, second)
	}
	if got := first.UnixMilli(); got != 1700000000123 {
		t.Fatalf("expected override value, got %d", got)
	}
}

func TestProviderIgnoresOverrideOutsideTestMode(t *testing.T) {
	p := New(false)
	if p.TestMode() || !New(true).TestMode() {
		t.Fatalf("TestMode does not reflect the constructor flag")
	}
	ctx := WithOverride(context.Background(), "42")
	if got := p.Now(ctx).UnixMilli(); got == 42 {
		t.Fatalf("override must be ignored when test mode is off")
	}
}

func TestProviderFallsBackOnInvalidOverride(t *testing.T) {
	p := New(true)
	for _, raw := range []string{"soon", "-", "", "x42", "99999999999999999999"} {
		before := time.Now()
		got := p.Now(WithOverride(context.Background(), raw))
		if got.Before(before.Add(-time.Second)) {
			t.Fatalf("override %q: expected wall clock, got %v", raw, got)
		}
	}
}

func TestProviderReadsLeadingInteger(t *testing.T) {
	p := New(true)
	cases := map[string]int64{
		"1700000000000.5": 1700000000000,
		" 1700000000000 ": 1700000000000,
		"42abc":           42,
		"0x10":            0,
		"-5":              -5,
		"+7ms":            7,
	}
	for raw, want := range cases {
		if got := p.Now(WithOverride(context.Background(), raw)).UnixMilli(); got != want {
			t.Fatalf("override %q: got %d, want %d", raw, got, want)
		}
	}
}

func TestProviderMonotonicWithoutOverride(t *testing.T) {
	p := New(true)
	ctx := context.Background()
	prev := p.Now(ctx)
	for i := 0; i < 100; i++ {
		next := p.Now(ctx)
		if next.Before(prev) {
			t.Fatalf("clock went backwards: %v then %v", prev, next)
		}
		prev = next
	}
}

func TestWithOverrideIgnoresEmpty(t *testing.T) {
	ctx := WithOverride(context.Background(), "")
	if _, ok := OverrideFrom(ctx); ok {
		t.Fatalf("empty override should not be stored")
	}
}

func TestFixed(t *testing.T) {
	at := time.UnixMilli(5000)
	if got := Fixed(at).Now(context.Background()); !got.Equal(at) {
		t.Fatalf("fixed clock returned %v", got)
	}
}
