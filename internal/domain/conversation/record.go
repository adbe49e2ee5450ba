// Package conversation is the durable store for the side panel's
// conversation records. Each record is one JSON file under the
// conversations directory, written atomically; the store never talks
// to the embedded browsing session or any remote service.
package conversation

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single entry in a conversation. Content is opaque to
// the store.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a persisted conversation. ID is assigned at creation and
// is the storage key for the record's lifetime; Messages keep
// insertion order across save/load round-trips.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a copy whose message slice is independent of the
// original, so callers cannot mutate store-owned state.
func (r *Record) clone() *Record {
	recordCopy := *r
	recordCopy.Messages = append([]Message(nil), r.Messages...)
	return &recordCopy
}
