// Package events publishes ledger change notifications to Redis or Kafka.
package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names a ledger change.
type Type string

const (
	ClientCreated        Type = "client.created"
	ClientUpdated        Type = "client.updated"
	ClientDeleted        Type = "client.deleted"
	TransactionCreated   Type = "transaction.created"
	TransactionUpdated   Type = "transaction.updated"
	TransactionDeleted   Type = "transaction.deleted"
	BalancesRecalculated Type = "balances.recalculated"
)

// Event is one ledger change notification.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	ClientID      int64     `json:"client_id"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// New stamps an event with a fresh ULID and the current time.
func New(typ Type, clientID, transactionID int64) Event {
	now := time.Now().UTC()
	return Event{
		ID:            newID(now),
		Type:          typ,
		ClientID:      clientID,
		TransactionID: transactionID,
		OccurredAt:    now,
	}
}

func encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
