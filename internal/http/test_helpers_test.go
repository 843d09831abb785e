package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hollyglen/tally/internal/auth"
	"github.com/hollyglen/tally/internal/core"
	"github.com/hollyglen/tally/internal/storage"
)

// testEnv runs the full router over the in-memory store. Requests arrive from
// loopback, so the localhost bypass grants admin on every call; scope gating
// is tested separately with injected auth info.
type testEnv struct {
	t     *testing.T
	srv   *httptest.Server
	store *storage.InMemory
	bus   *recordingBus
}

type recordingBus struct {
	mu     sync.Mutex
	events []core.Event
}

func (b *recordingBus) Broadcast(identityID string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := event.(core.Event); ok {
		b.events = append(b.events, e)
	}
}

func (b *recordingBus) byType(typ core.EventType) []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.Event
	for _, e := range b.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewInMemory()
	bus := &recordingBus{}
	svc := NewService(store).WithBroadcaster(bus)
	router := NewRouter(svc, nil, auth.Middleware(auth.NewKeyring(true, nil)))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, store: store, bus: bus}
}

func (e *testEnv) request(method, path string, body any) *http.Response {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) post(path string, body any) *http.Response { return e.request(http.MethodPost, path, body) }
func (e *testEnv) put(path string, body any) *http.Response  { return e.request(http.MethodPut, path, body) }
func (e *testEnv) get(path string) *http.Response            { return e.request(http.MethodGet, path, nil) }

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
