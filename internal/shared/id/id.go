// Package id provides centralized ID generation for the shell core.
//
// Conversation records use prefixed ULIDs: lexicographic order follows
// creation time, which gives the store stable time-derived keys with
// millisecond resolution plus entropy, so interactive use cannot
// collide. Browsing contexts are transient and use UUIDs, matching the
// ids the frontend engine assigns to its own windows.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ConversationID identifies a persisted conversation record
type ConversationID string

// ContextID identifies a browsing context (primary window or popup)
type ContextID string

const (
	ConversationPrefix = "conv"
	PopupPrefix        = "popup"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewConversationID generates a new conversation record ID
func NewConversationID() ConversationID {
	return ConversationID(Default().GenerateWithPrefix(ConversationPrefix))
}

// NewContextID generates an ID for a tracked popup browsing context
func NewContextID() ContextID {
	return ContextID(fmt.Sprintf("%s_%s", PopupPrefix, uuid.New().String()))
}

func (id ConversationID) String() string { return string(id) }
func (id ContextID) String() string      { return string(id) }

// Timestamp extracts the creation time from a prefixed conversation ID
func Timestamp(id ConversationID) (time.Time, error) {
	raw := string(id)
	if len(raw) > len(ConversationPrefix)+1 && raw[len(ConversationPrefix)] == '_' {
		raw = raw[len(ConversationPrefix)+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
