package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/cardify/internal/domain"
)

const entryColumns = `id, entity_table, entity_id, operation, payload, created_at, retry_count, status, last_error, revision`

// EnqueueSync records a mutation, coalescing it into the entity's pending entry if there is one.
func (s *Store) EnqueueSync(ctx context.Context, entry domain.SyncQueueEntry) (*domain.SyncQueueEntry, error) {
	var out *domain.SyncQueueEntry
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.EnqueueSync(ctx, entry)
		return err
	})
	return out, err
}

// DrainPendingSync returns the pending entries of a table in enqueue order
// without removing them.
func (s *Store) DrainPendingSync(ctx context.Context, table domain.Table) ([]domain.SyncQueueEntry, error) {
	return s.reader().DrainPendingSync(ctx, table)
}

// MarkSynced removes entry if it is still pending at the same revision. It
// reports whether a row was removed; acknowledging twice is not an error.
func (s *Store) MarkSynced(ctx context.Context, entry domain.SyncQueueEntry) (bool, error) {
	var removed bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.MarkSynced(ctx, entry)
		return err
	})
	return removed, err
}

// RecordFailure increments the retry count of a pending entry and returns the new count.
func (s *Store) RecordFailure(ctx context.Context, entry domain.SyncQueueEntry, cause string) (int, error) {
	var n int
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.RecordFailure(ctx, entry, cause)
		return err
	})
	return n, err
}

// DeadLetter takes entry out of automatic retry.
func (s *Store) DeadLetter(ctx context.Context, entry domain.SyncQueueEntry, cause string) (bool, error) {
	var moved bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		moved, err = tx.DeadLetter(ctx, entry, cause)
		return err
	})
	return moved, err
}

// DeadLetters lists entries that were given up on, oldest first.
func (s *Store) DeadLetters(ctx context.Context) ([]domain.SyncQueueEntry, error) {
	return s.reader().DeadLetters(ctx)
}

// RequeueDeadLetter returns a dead-lettered entry to the pending queue.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.RequeueDeadLetter(ctx, id) })
}

// HasPending reports whether the entity has a pending entry.
func (s *Store) HasPending(ctx context.Context, table domain.Table, entityID string) (bool, error) {
	return s.reader().HasPending(ctx, table, entityID)
}

// PendingCount returns the number of pending entries across all tables.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.reader().PendingCount(ctx)
}

func (tx *Tx) EnqueueSync(ctx context.Context, entry domain.SyncQueueEntry) (*domain.SyncQueueEntry, error) {
	if err := domain.Validate(&entry); err != nil {
		return nil, err
	}
	if !entry.EntityTable.Valid() {
		return nil, domain.NewValidationError("entityTable", "oneof")
	}
	if !entry.Operation.Valid() {
		return nil, domain.NewValidationError("operation", "oneof")
	}

	existing, err := tx.pendingEntry(ctx, entry.EntityTable, entry.EntityID)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if existing == nil {
		entry.Status = domain.StatusPending
		if entry.Revision == 0 {
			entry.Revision = 1
		}
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO sync_queue (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.ID, entry.EntityTable, entry.EntityID, entry.Operation, string(payloadOrEmpty(entry.Payload)),
			formatTime(entry.CreatedAt), entry.RetryCount, entry.Status, entry.LastError, entry.Revision,
		)
		if err != nil {
			return nil, storageErr("enqueue", "sync_queue", fmt.Errorf("%s: %w", entry.Key(), err))
		}
		return &entry, nil
	}

	merged := *existing
	merged.Operation = domain.Coalesce(existing.Operation, entry.Operation)
	if entry.Operation == domain.OpDelete {
		merged.Payload = entry.Payload
	} else {
		merged.Payload = MergePayload(existing.Payload, entry.Payload)
	}
	merged.Revision = existing.Revision + 1
	// A new revision has not been tried yet.
	merged.RetryCount = 0
	merged.LastError = ""
	_, err = tx.q.ExecContext(ctx, `
		UPDATE sync_queue SET operation = ?, payload = ?, revision = ?, retry_count = 0, last_error = ''
		WHERE id = ?
	`, merged.Operation, string(payloadOrEmpty(merged.Payload)), merged.Revision, merged.ID)
	if err != nil {
		return nil, storageErr("enqueue", "sync_queue", fmt.Errorf("%s: %w", entry.Key(), err))
	}
	return &merged, nil
}

func (tx *Tx) DrainPendingSync(ctx context.Context, table domain.Table) ([]domain.SyncQueueEntry, error) {
	return tx.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM sync_queue
		WHERE entity_table = ? AND status = 'pending'
		ORDER BY created_at, rowid
	`, table)
}

func (tx *Tx) MarkSynced(ctx context.Context, entry domain.SyncQueueEntry) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE id = ? AND revision = ? AND status = 'pending'
	`, entry.ID, entry.Revision)
	if err != nil {
		return false, storageErr("ack", "sync_queue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("ack", "sync_queue", err)
	}
	return n > 0, nil
}

// RecordFailure counts a failed attempt of the revision that was sent. It
// returns ErrNotFound if the entry is gone or a newer revision replaced it.
func (tx *Tx) RecordFailure(ctx context.Context, entry domain.SyncQueueEntry, cause string) (int, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `
		UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ? AND revision = ? AND status = 'pending'
		RETURNING retry_count
	`, cause, entry.ID, entry.Revision).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("sync entry", entry.ID)
		}
		return 0, storageErr("fail", "sync_queue", err)
	}
	return n, nil
}

// DeadLetter only applies to the revision that failed; if a newer mutation
// was coalesced in the meantime the entry stays pending and false is returned.
func (tx *Tx) DeadLetter(ctx context.Context, entry domain.SyncQueueEntry, cause string) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'dead', last_error = ?
		WHERE id = ? AND revision = ? AND status = 'pending'
	`, cause, entry.ID, entry.Revision)
	if err != nil {
		return false, storageErr("dead-letter", "sync_queue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("dead-letter", "sync_queue", err)
	}
	return n > 0, nil
}

func (tx *Tx) DeadLetters(ctx context.Context) ([]domain.SyncQueueEntry, error) {
	return tx.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM sync_queue WHERE status = 'dead' ORDER BY created_at, rowid
	`)
}

// RequeueDeadLetter resets the retry count of a dead entry and makes it
// pending again. If the entity has gained a new pending entry since, the dead
// entry is folded underneath it as the older mutation.
func (tx *Tx) RequeueDeadLetter(ctx context.Context, id string) error {
	row := tx.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ? AND status = 'dead'`, id)
	dead, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("dead letter", id)
		}
		return storageErr("requeue", "sync_queue", err)
	}

	pending, err := tx.pendingEntry(ctx, dead.EntityTable, dead.EntityID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if pending == nil {
		_, err := tx.q.ExecContext(ctx, `
			UPDATE sync_queue SET status = 'pending', retry_count = 0, last_error = '', revision = revision + 1
			WHERE id = ?
		`, id)
		if err != nil {
			return storageErr("requeue", "sync_queue", err)
		}
		return nil
	}

	op := domain.Coalesce(dead.Operation, pending.Operation)
	payload := pending.Payload
	if pending.Operation != domain.OpDelete {
		payload = MergePayload(dead.Payload, pending.Payload)
	}
	if _, err := tx.q.ExecContext(ctx, `
		UPDATE sync_queue SET operation = ?, payload = ?, revision = revision + 1 WHERE id = ?
	`, op, string(payloadOrEmpty(payload)), pending.ID); err != nil {
		return storageErr("requeue", "sync_queue", err)
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return storageErr("requeue", "sync_queue", err)
	}
	return nil
}

func (tx *Tx) HasPending(ctx context.Context, table domain.Table, entityID string) (bool, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE entity_table = ? AND entity_id = ? AND status = 'pending'
	`, table, entityID).Scan(&n)
	if err != nil {
		return false, storageErr("get", "sync_queue", err)
	}
	return n > 0, nil
}

func (tx *Tx) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, storageErr("get", "sync_queue", err)
	}
	return n, nil
}

// QueuedEntityIDs returns the ids of entities in table that have an entry with the given status.
func (tx *Tx) QueuedEntityIDs(ctx context.Context, table domain.Table, status domain.EntryStatus) (map[string]bool, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT entity_id FROM sync_queue WHERE entity_table = ? AND status = ?
	`, table, status)
	if err != nil {
		return nil, storageErr("get", "sync_queue", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("get", "sync_queue", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "sync_queue", err)
	}
	return ids, nil
}

func (tx *Tx) pendingEntry(ctx context.Context, table domain.Table, entityID string) (*domain.SyncQueueEntry, error) {
	row := tx.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM sync_queue
		WHERE entity_table = ? AND entity_id = ? AND status = 'pending'
	`, table, entityID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("sync entry", string(table)+"/"+entityID)
		}
		return nil, storageErr("get", "sync_queue", err)
	}
	return e, nil
}

func (tx *Tx) queryEntries(ctx context.Context, query string, args ...any) ([]domain.SyncQueueEntry, error) {
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get", "sync_queue", err)
	}
	defer rows.Close()

	entries := []domain.SyncQueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("get", "sync_queue", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get", "sync_queue", err)
	}
	return entries, nil
}

func scanEntry(r rowScanner) (*domain.SyncQueueEntry, error) {
	var (
		e                  domain.SyncQueueEntry
		payload, createdAt string
	)
	err := r.Scan(
		&e.ID, &e.EntityTable, &e.EntityID, &e.Operation, &payload, &createdAt,
		&e.RetryCount, &e.Status, &e.LastError, &e.Revision,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sync entry %s created_at: %w", e.ID, err)
	}
	return &e, nil
}

// MergePayload shallow-merges two JSON objects; keys in next win. If either
// side is not an object, next is returned unchanged.
func MergePayload(prev, next json.RawMessage) json.RawMessage {
	var a, b map[string]json.RawMessage
	if err := json.Unmarshal(prev, &a); err != nil || a == nil {
		return next
	}
	if err := json.Unmarshal(next, &b); err != nil || b == nil {
		return next
	}
	for k, v := range b {
		a[k] = v
	}
	out, err := json.Marshal(a)
	if err != nil {
		return next
	}
	return out
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}
