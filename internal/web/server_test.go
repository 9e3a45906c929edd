package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/service"
	"github.com/conorfennell/cardify/internal/storage"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type countingSync struct {
	n      atomic.Int32
	online atomic.Bool
}

func (c *countingSync) Trigger()                       { c.n.Add(1) }
func (c *countingSync) SetOnline(online bool)          { c.online.Store(online) }
func (c *countingSync) Online() bool                   { return c.online.Load() }
func (c *countingSync) Suspended(context.Context) bool { return false }

func newTestServer(t *testing.T) (*httptest.Server, *countingSync) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return t0 }
	cs := &countingSync{}
	svc := service.New(store, service.WithClock(clock), service.WithSync(cs), service.WithShuffle(false))
	srv := httptest.NewServer(NewServer(svc, WithClock(clock)))
	t.Cleanup(srv.Close)
	return srv, cs
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDeckAndCardLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api"

	var decks []domain.Deck
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/decks", nil, &decks))
	assert.Empty(t, decks)

	var deck domain.Deck
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks", map[string]any{"title": "Spanish"}, &deck))
	assert.NotEmpty(t, deck.ID)

	var card domain.Card
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/cards",
		map[string]any{"deckId": deck.ID, "frontContent": "hola", "backContent": "hello"}, &card))

	var due []domain.Card
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/decks/"+deck.ID+"/due", nil, &due))
	require.Len(t, due, 1)
	assert.Equal(t, card.ID, due[0].ID)

	var state domain.SRSState
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, api+"/cards/"+card.ID+"/review", map[string]any{"quality": 4}, &state))
	assert.Equal(t, 1, state.Interval)

	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/decks/"+deck.ID+"/due", nil, &due))
	assert.Empty(t, due)

	var updated domain.Deck
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, api+"/decks/"+deck.ID, map[string]any{"title": "Español"}, &updated))
	assert.Equal(t, "Español", updated.Title)

	var cards []domain.Card
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/cards?deck="+deck.ID, nil, &cards))
	assert.Len(t, cards, 1)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, api+"/cards/"+card.ID, nil, nil))
	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, api+"/decks/"+deck.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, api+"/decks/"+deck.ID, nil, nil))
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api"

	var deck domain.Deck
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks", map[string]any{"title": "x"}, &deck))
	var card domain.Card
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/cards",
		map[string]any{"deckId": deck.ID, "frontContent": "q", "backContent": "a"}, &card))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty title", http.MethodPost, "/decks", map[string]any{"title": " "}, http.StatusBadRequest},
		{"quality out of range", http.MethodPost, "/cards/" + card.ID + "/review", map[string]any{"quality": 9}, http.StatusBadRequest},
		{"missing quality", http.MethodPost, "/cards/" + card.ID + "/review", map[string]any{}, http.StatusBadRequest},
		{"unknown card", http.MethodPost, "/cards/nope/review", map[string]any{"quality": 3}, http.StatusNotFound},
		{"unknown deck due", http.MethodGet, "/decks/nope/due", nil, http.StatusNotFound},
		{"card in unknown deck", http.MethodPost, "/cards", map[string]any{"deckId": "nope", "frontContent": "q", "backContent": "a"}, http.StatusNotFound},
		{"unknown dead letter", http.MethodPost, "/sync/dead/nope/retry", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, tt.method, api+tt.path, tt.body, nil))
		})
	}

	req, err := http.NewRequest(http.MethodPost, api+"/decks", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncEndpoints(t *testing.T) {
	srv, cs := newTestServer(t)
	api := srv.URL + "/api"

	assert.Equal(t, http.StatusAccepted, do(t, http.MethodPost, api+"/sync", nil, nil))
	assert.Equal(t, int32(1), cs.n.Load())

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPut, api+"/credential", map[string]any{"token": "abc"}, nil))
	assert.Equal(t, int32(2), cs.n.Load())

	var deck domain.Deck
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks", map[string]any{"title": "x"}, &deck))

	var st service.SyncStatus
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/sync/status", nil, &st))
	assert.Equal(t, 1, st.Pending)
	assert.True(t, st.LoggedIn)
	assert.False(t, st.Online)
	assert.Empty(t, st.DeadLetters)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api"

	var deck domain.Deck
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks", map[string]any{"title": "x"}, &deck))
	for _, q := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/cards",
			map[string]any{"deckId": deck.ID, "frontContent": q, "backContent": q}, nil))
	}

	var stats map[string]int
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/stats", nil, &stats))
	assert.Equal(t, 2, stats["dueToday"])
	assert.Equal(t, 2, stats["totalCards"])
}

func TestConnectivity(t *testing.T) {
	srv, cs := newTestServer(t)
	api := srv.URL + "/api"

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPut, api+"/connectivity", map[string]any{"online": true}, nil))
	assert.True(t, cs.online.Load())

	var st service.SyncStatus
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/sync/status", nil, &st))
	assert.True(t, st.Online)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPut, api+"/connectivity", map[string]any{"online": false}, nil))
	assert.False(t, cs.online.Load())

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, api+"/connectivity", map[string]any{}, nil))
}

func TestReviewSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api"

	var deck domain.Deck
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks", map[string]any{"title": "Spanish"}, &deck))
	var card domain.Card
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/cards",
		map[string]any{"deckId": deck.ID, "frontContent": "hola", "backContent": "hello"}, &card))

	var sess domain.ReviewSession
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, api+"/decks/"+deck.ID+"/sessions", nil, &sess))
	assert.Equal(t, deck.ID, sess.DeckID)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, api+"/decks/missing/sessions", nil, nil))

	review := map[string]any{"quality": 4, "sessionId": sess.ID, "timeSpent": 2500}
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, api+"/cards/"+card.ID+"/review", review, nil))

	var got domain.ReviewSession
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/sessions/"+sess.ID, nil, &got))
	assert.Equal(t, 1, got.CardsReviewed)
	assert.Equal(t, 1, got.CardsCorrect)

	var answers []domain.ReviewAnswer
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/cards/"+card.ID+"/answers", nil, &answers))
	require.Len(t, answers, 1)
	assert.Equal(t, int64(2500), answers[0].TimeSpent)
	assert.Equal(t, sess.ID, answers[0].SessionID)

	var done domain.ReviewSession
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, api+"/sessions/"+sess.ID+"/finish", nil, &done))
	assert.True(t, done.Finished())
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, api+"/cards/"+card.ID+"/review", review, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, api+"/sessions/missing/finish", nil, nil))

	var history []domain.ReviewSession
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, api+"/decks/"+deck.ID+"/sessions", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, sess.ID, history[0].ID)
}
