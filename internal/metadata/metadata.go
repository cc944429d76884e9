// Package metadata carries provenance for dispatched calls and events.
//
// Every call or event that travels through the dispatcher is tagged with a
// Metadata value: a transaction token for correlation, plus a reference to
// the originating object and its name. The origin reference drives exactly
// one decision in the core, the split-horizon check during broadcasting,
// and never any business logic.
package metadata

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Metadata is a provenance record for a single dispatched call or event.
// Created fresh per dispatch; values are never shared mutably.
type Metadata struct {
	// Transaction is a correlation token, unique per dispatch.
	Transaction string

	// Source is the originating object (typically a module instance).
	// Compared by identity during broadcast split-horizon checks.
	Source any

	// SourceName is the human-readable name of the origin, used in logs.
	SourceName string
}

// TokenGenerator generates transaction tokens.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// New creates a Metadata record for the given origin using the generator.
func New(gen TokenGenerator, source any, sourceName string) Metadata {
	return Metadata{
		Transaction: gen.Generate(),
		Source:      source,
		SourceName:  sourceName,
	}
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so tokens sort
// by creation time, which helps when reading fault logs and traces.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
// Generate panics once all tokens are consumed: fail fast on test
// misconfiguration rather than silently recycling tokens.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// SequenceGenerator produces "tx-1", "tx-2", ... tokens without a fixed
// supply. Useful for long-running deterministic tests where the exact
// number of dispatches is not known up front.
type SequenceGenerator struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next sequential token.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "tx-" + strconv.Itoa(g.n)
}
