package id

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultLength gives ~60 bits of entropy with the default URL-safe alphabet.
const DefaultLength = 10

// Generator produces unique, URL-safe paste identifiers.
type Generator struct {
	length   int
	alphabet string
}

// Option configures a Generator.
type Option func(*Generator)

// WithAlphabet restricts ids to the given characters.
func WithAlphabet(alphabet string) Option {
	return func(g *Generator) {
		g.alphabet = alphabet
	}
}

// New returns a Generator with the provided length. If length <= 0, DefaultLength is used.
func New(length int, opts ...Option) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	g := &Generator{length: length}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	var (
		out string
		err error
	)
	if g.alphabet != "" {
		out, err = gonanoid.Generate(g.alphabet, g.length)
	} else {
		out, err = gonanoid.New(g.length)
	}
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return out, nil
}
