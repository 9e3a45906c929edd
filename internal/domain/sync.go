package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names an entity table that takes part in synchronization.
type Table string

const (
	TableDecks Table = "decks"
	TableCards Table = "cards"
)

// SyncTables lists tables in the order they must be pushed: a card's deck
// has to exist remotely before the card can be created.
var SyncTables = []Table{TableDecks, TableCards}

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	return t == TableDecks || t == TableCards
}

// Operation is the kind of mutation carried by a sync queue entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntryStatus is the persisted state of a sync queue entry. InFlight, Acked
// and Failed are transient states owned by the reconciler and never stored.
type EntryStatus string

const (
	StatusPending      EntryStatus = "pending"
	StatusDeadLettered EntryStatus = "dead"
)

// SyncQueueEntry records a local mutation that has not been confirmed by the remote.
type SyncQueueEntry struct {
	ID          string          `json:"id" validate:"required"`
	EntityTable Table           `json:"entityTable" validate:"required"`
	EntityID    string          `json:"entityId" validate:"required"`
	Operation   Operation       `json:"operation" validate:"required"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	RetryCount  int             `json:"retryCount" validate:"gte=0"`
	Status      EntryStatus     `json:"status"`
	LastError   string          `json:"lastError,omitempty"`

	// Revision increases every time a newer mutation is coalesced into the
	// entry. An acknowledgement only removes the revision it was issued for.
	Revision int64 `json:"revision"`
}

// NewSyncEntry snapshots entity as the payload of a pending entry.
func NewSyncEntry(table Table, entityID string, op Operation, entity any, now time.Time) (*SyncQueueEntry, error) {
	if !table.Valid() {
		return nil, NewValidationError("entityTable", "oneof")
	}
	if !op.Valid() {
		return nil, NewValidationError("operation", "oneof")
	}
	var payload json.RawMessage
	if entity != nil {
		b, err := json.Marshal(entity)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload for %s: %w", table, entityID, err)
		}
		payload = b
	} else {
		payload = json.RawMessage(fmt.Sprintf(`{"id":%q}`, entityID))
	}
	entry := &SyncQueueEntry{
		ID:          uuid.NewString(),
		EntityTable: table,
		EntityID:    entityID,
		Operation:   op,
		Payload:     payload,
		CreatedAt:   now,
		Status:      StatusPending,
		Revision:    1,
	}
	if err := Validate(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Key identifies the entity an entry belongs to.
func (e SyncQueueEntry) Key() string {
	return string(e.EntityTable) + "/" + e.EntityID
}

// Coalesce returns the operation of a pending entry after next is folded into
// an entry holding existing. A delete always wins; a create absorbs later
// creates and updates because the entity does not exist remotely yet.
func Coalesce(existing, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case existing == OpCreate:
		return OpCreate
	default:
		return next
	}
}
