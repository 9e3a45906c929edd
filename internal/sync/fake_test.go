package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"

	"github.com/conorfennell/cardify/internal/domain"
	"github.com/conorfennell/cardify/internal/remote"
	"github.com/conorfennell/cardify/internal/storage"
)

type call struct {
	Method  string
	Table   domain.Table
	ID      string
	Payload string
}

// fakeGateway is an in-memory remote with scripted failures.
type fakeGateway struct {
	mu       gosync.Mutex
	entities map[domain.Table]map[string]json.RawMessage
	calls    []call
	// failures maps "METHOD table/id" to errors returned by successive calls.
	failures map[string][]error
	// always maps "METHOD table/id" to an error returned on every call.
	always  map[string]error
	listErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		entities: map[domain.Table]map[string]json.RawMessage{
			domain.TableDecks: {},
			domain.TableCards: {},
		},
		failures: map[string][]error{},
		always:   map[string]error{},
	}
}

func (g *fakeGateway) failNext(method string, table domain.Table, id string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := method + " " + string(table) + "/" + id
	g.failures[key] = append(g.failures[key], errs...)
}

func (g *fakeGateway) failAlways(method string, table domain.Table, id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.always[method+" "+string(table)+"/"+id] = err
}

func (g *fakeGateway) put(table domain.Table, id string, v any) {
	b, _ := json.Marshal(v)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[table][id] = b
}

func (g *fakeGateway) get(table domain.Table, id string) (json.RawMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.entities[table][id]
	return v, ok
}

func (g *fakeGateway) callsFor(method string, table domain.Table, id string) []call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []call
	for _, c := range g.calls {
		if c.Method == method && c.Table == table && c.ID == id {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// begin records the call and returns a scripted failure, if any. Callers hold g.mu.
func (g *fakeGateway) begin(method string, table domain.Table, id string, payload json.RawMessage) error {
	g.calls = append(g.calls, call{Method: method, Table: table, ID: id, Payload: string(payload)})
	key := method + " " + string(table) + "/" + id
	if err, ok := g.always[key]; ok {
		return err
	}
	if errs := g.failures[key]; len(errs) > 0 {
		g.failures[key] = errs[1:]
		return errs[0]
	}
	return nil
}

func statusErr(code int) error {
	se := &remote.StatusError{Method: "X", Path: "/", StatusCode: code}
	switch {
	case code == 401 || code == 403:
		return &remote.AuthError{StatusCode: code, Err: se}
	case code >= 500 || code == 429:
		return &remote.TransientError{StatusCode: code, Err: se}
	default:
		return &remote.PermanentError{StatusCode: code, Err: se}
	}
}

func (g *fakeGateway) CreateEntity(ctx context.Context, table domain.Table, payload json.RawMessage) error {
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return &remote.PermanentError{StatusCode: 400, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("POST", table, ref.ID, payload); err != nil {
		return err
	}
	if _, ok := g.entities[table][ref.ID]; ok {
		return statusErr(409)
	}
	g.entities[table][ref.ID] = payload
	return nil
}

func (g *fakeGateway) UpdateEntity(ctx context.Context, table domain.Table, id string, payload json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("PUT", table, id, payload); err != nil {
		return err
	}
	cur, ok := g.entities[table][id]
	if !ok {
		return statusErr(404)
	}
	g.entities[table][id] = storage.MergePayload(cur, payload)
	return nil
}

func (g *fakeGateway) DeleteEntity(ctx context.Context, table domain.Table, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DELETE", table, id, nil); err != nil {
		return err
	}
	if _, ok := g.entities[table][id]; !ok {
		return statusErr(404)
	}
	delete(g.entities[table], id)
	return nil
}

func (g *fakeGateway) ListEntities(ctx context.Context, table domain.Table, ownerScope string) ([]json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]json.RawMessage, 0, len(g.entities[table]))
	for _, v := range g.entities[table] {
		out = append(out, v)
	}
	return out, nil
}

var _ remote.Gateway = (*fakeGateway)(nil)

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal: %v", err))
	}
	return string(b)
}
