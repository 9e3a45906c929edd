package service

import (
	"context"
	"time"

	"github.com/conorfennell/cardify/internal/domain"
)

// SyncStatus reports how far the local store is ahead of the server.
type SyncStatus struct {
	Pending     int                     `json:"pending"`
	DeadLetters []domain.SyncQueueEntry `json:"deadLetters"`
	LastSync    *time.Time              `json:"lastSync,omitempty"`
	Online      bool                    `json:"online"`
	Suspended   bool                    `json:"suspended"`
	LoggedIn    bool                    `json:"loggedIn"`
}

func (s *Service) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	pending, err := s.store.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	dead, err := s.store.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	token, err := s.store.AuthToken(ctx)
	if err != nil {
		return nil, err
	}

	st := &SyncStatus{Pending: pending, DeadLetters: dead, LoggedIn: token != ""}
	if !last.IsZero() {
		st.LastSync = &last
	}
	if s.sync != nil {
		st.Online = s.sync.Online()
		st.Suspended = s.sync.Suspended(ctx)
	}
	return st, nil
}

// SetCredential stores the bearer token used for sync and kicks off a cycle.
// Replacing a rejected token lifts the suspension.
func (s *Service) SetCredential(ctx context.Context, token string) error {
	if err := s.store.SetAuthToken(ctx, token); err != nil {
		return err
	}
	if token != "" {
		s.TriggerSync()
	}
	return nil
}

// RetryDeadLetter puts a dead-lettered entry back in the queue.
func (s *Service) RetryDeadLetter(ctx context.Context, id string) error {
	if err := s.store.RequeueDeadLetter(ctx, id); err != nil {
		return err
	}
	s.TriggerSync()
	return nil
}
