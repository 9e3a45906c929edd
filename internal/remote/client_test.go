package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardify/internal/domain"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	status   int
}

func (f *fakeAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{status: http.StatusOK}

	write := func(w http.ResponseWriter, r *http.Request, data any) {
		api.record(r)
		w.Header().Set("Content-Type", "application/json")
		if api.status >= 300 {
			w.WriteHeader(api.status)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "nope"})
			return
		}
		w.WriteHeader(api.status)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/decks/user", func(w http.ResponseWriter, r *http.Request) {
			api.record(r)
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"count":   2,
				"data":    []map[string]any{{"id": "d1", "title": "One"}, {"id": "d2", "title": "Two"}},
			})
		})
		r.Get("/cards", func(w http.ResponseWriter, r *http.Request) {
			api.record(r)
			json.NewEncoder(w).Encode(map[string]any{"success": true, "count": 0})
		})
		r.Post("/{table}", func(w http.ResponseWriter, r *http.Request) { write(w, r, map[string]any{}) })
		r.Put("/{table}/{id}", func(w http.ResponseWriter, r *http.Request) { write(w, r, map[string]any{}) })
		r.Delete("/{table}/{id}", func(w http.ResponseWriter, r *http.Request) { write(w, r, map[string]any{}) })
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api, srv
}

func staticToken(tok string) CredentialProvider {
	return CredentialFunc(func(context.Context) (string, error) { return tok, nil })
}

func TestClient_Mutations(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := NewClient(srv.URL+"/api/", staticToken("tok"))
	ctx := context.Background()

	require.NoError(t, c.CreateEntity(ctx, domain.TableDecks, json.RawMessage(`{"id":"d1","title":"One"}`)))
	got := api.last()
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/decks", got.Path)
	assert.Equal(t, "Bearer tok", got.Auth)
	assert.JSONEq(t, `{"id":"d1","title":"One"}`, got.Body)

	require.NoError(t, c.UpdateEntity(ctx, domain.TableCards, "c1", json.RawMessage(`{"frontContent":"q"}`)))
	got = api.last()
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/api/cards/c1", got.Path)

	require.NoError(t, c.DeleteEntity(ctx, domain.TableCards, "c1"))
	got = api.last()
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "/api/cards/c1", got.Path)
	assert.Empty(t, got.Body)
}

func TestClient_ListEntities(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := NewClient(srv.URL+"/api", staticToken("tok"))
	ctx := context.Background()

	decks, err := c.ListEntities(ctx, domain.TableDecks, "user-1")
	require.NoError(t, err)
	require.Len(t, decks, 2)
	assert.JSONEq(t, `{"id":"d1","title":"One"}`, string(decks[0]))
	assert.Equal(t, "/api/decks/user", api.last().Path)
	assert.Equal(t, "owner=user-1", api.last().Query)

	cards, err := c.ListEntities(ctx, domain.TableCards, "")
	require.NoError(t, err)
	assert.NotNil(t, cards)
	assert.Empty(t, cards)
	assert.Equal(t, "/api/cards", api.last().Path)
	assert.Empty(t, api.last().Query)
}

func TestClient_StatusClasses(t *testing.T) {
	tests := []struct {
		status int
		class  Class
	}{
		{http.StatusBadRequest, ClassPermanent},
		{http.StatusNotFound, ClassPermanent},
		{http.StatusConflict, ClassPermanent},
		{http.StatusUnauthorized, ClassAuth},
		{http.StatusForbidden, ClassAuth},
		{http.StatusTooManyRequests, ClassTransient},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusServiceUnavailable, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.status = tt.status
			c := NewClient(srv.URL+"/api", staticToken("tok"))

			err := c.UpdateEntity(context.Background(), domain.TableDecks, "d1", json.RawMessage(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.class, Classify(err))
			assert.Equal(t, tt.status, StatusCode(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "nope", se.Message)
		})
	}
}

func TestClient_NoCredential(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := NewClient(srv.URL+"/api", staticToken(""))

	err := c.DeleteEntity(context.Background(), domain.TableDecks, "d1")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, ClassAuth, Classify(err))
	assert.Empty(t, api.requests)
}

func TestClient_Timeout(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/decks", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"), WithTimeout(50*time.Millisecond))
	err := c.CreateEntity(context.Background(), domain.TableDecks, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, staticToken("tok"))
	_, err := c.ListEntities(context.Background(), domain.TableCards, "")
	require.Error(t, err)
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassNone, Classify(nil))
	assert.Equal(t, ClassTransient, Classify(errors.New("something odd")))
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassPermanent, Classify(&PermanentError{StatusCode: 404, Err: errors.New("gone")}))
	assert.Equal(t, "auth", ClassAuth.String())
}
