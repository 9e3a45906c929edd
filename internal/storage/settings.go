package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	settingAuthToken = "auth_token"
	settingLastSync  = "last_sync"
)

// AuthToken returns the stored bearer token, or "" if none is set.
func (s *Store) AuthToken(ctx context.Context) (string, error) {
	v, _, err := s.reader().setting(ctx, settingAuthToken)
	return v, err
}

// SetAuthToken stores token verbatim. An empty token clears it.
func (s *Store) SetAuthToken(ctx context.Context, token string) error {
	return s.Update(ctx, func(tx *Tx) error {
		if token == "" {
			return tx.deleteSetting(ctx, settingAuthToken)
		}
		return tx.setSetting(ctx, settingAuthToken, token)
	})
}

// LastSync returns when the last sync cycle completed; the zero time if never.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	return s.reader().LastSync(ctx)
}

// SetLastSync records the completion time of a sync cycle.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.SetLastSync(ctx, t) })
}

func (tx *Tx) LastSync(ctx context.Context) (time.Time, error) {
	v, ok, err := tx.setting(ctx, settingLastSync)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, storageErr("get", "settings", err)
	}
	return t, nil
}

func (tx *Tx) SetLastSync(ctx context.Context, t time.Time) error {
	return tx.setSetting(ctx, settingLastSync, formatTime(t))
}

func (tx *Tx) setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := tx.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get", "settings", err)
	}
	return v, true, nil
}

func (tx *Tx) setSetting(ctx context.Context, key, value string) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storageErr("put", "settings", err)
	}
	return nil
}

func (tx *Tx) deleteSetting(ctx context.Context, key string) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return storageErr("delete", "settings", err)
	}
	return nil
}
