package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/agent/engine"
	"github.com/edvin/graphfleet/internal/model"
)

// stubEngine is a scriptable engine.Engine for tests.
type stubEngine struct {
	mu        sync.Mutex
	pingErr   error
	pingCalls int
	databases []string
	queryFn   func(database string, req *model.QueryRequest) (*model.QueryResult, error)
	created   []string
}

func (e *stubEngine) CreateDatabase(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, name)
	e.databases = append(e.databases, name)
	return nil
}

func (e *stubEngine) DropDatabase(_ context.Context, name string) error { return nil }

func (e *stubEngine) ListDatabases(_ context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.databases, nil
}

func (e *stubEngine) Query(_ context.Context, database string, req *model.QueryRequest) (*model.QueryResult, error) {
	if e.queryFn != nil {
		return e.queryFn(database, req)
	}
	return &model.QueryResult{}, nil
}

func (e *stubEngine) Ping(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingCalls++
	return e.pingErr
}

func (e *stubEngine) setPingErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingErr = err
}

var _ engine.Engine = (*stubEngine)(nil)

// stubProcess records restart/stop calls.
type stubProcess struct {
	mu         sync.Mutex
	restartErr error
	restarts   int
	stops      int
	// onRestart runs under the lock, letting tests flip engine state the
	// moment a restart happens.
	onRestart func()
}

func (p *stubProcess) Restart(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	if p.onRestart != nil {
		p.onRestart()
	}
	return p.restartErr
}

func (p *stubProcess) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *stubProcess) restartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

func (p *stubProcess) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// fakeFleetAPI stands in for fleet-api's internal endpoints.
type fakeFleetAPI struct {
	mu              sync.Mutex
	ingestionActive bool
	healthReports   []model.InstanceHealth
	drains          int
	migrations      int
	terminations    int
	registered      []model.Instance
	volumes         []model.VolumeAssignment
	volumeLookups   int
}

func (f *fakeFleetAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/ingestion"):
			json.NewEncoder(w).Encode(map[string]bool{"active": f.ingestionActive})
		case strings.HasSuffix(r.URL.Path, "/health"):
			var h model.InstanceHealth
			json.NewDecoder(r.Body).Decode(&h)
			f.healthReports = append(f.healthReports, h)
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/drain"):
			f.drains++
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/migrations"):
			f.migrations++
			json.NewEncoder(w).Encode(map[string]int{"marked": 2})
		case strings.HasSuffix(r.URL.Path, "/terminated"):
			f.terminations++
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/volumes"):
			f.volumeLookups++
			if f.volumes == nil {
				json.NewEncoder(w).Encode([]model.VolumeAssignment{})
				return
			}
			json.NewEncoder(w).Encode(f.volumes)
		case strings.HasSuffix(r.URL.Path, "/register"):
			var inst model.Instance
			json.NewDecoder(r.Body).Decode(&inst)
			f.registered = append(f.registered, inst)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeFleetAPI) lastHealth() (model.InstanceHealth, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.healthReports) == 0 {
		return model.InstanceHealth{}, false
	}
	return f.healthReports[len(f.healthReports)-1], true
}

func (f *fakeFleetAPI) setIngestionActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestionActive = active
}

func newFakeFleetAPI(t *testing.T) (*fakeFleetAPI, *APIClient) {
	t.Helper()
	fake := &fakeFleetAPI{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, NewAPIClient(srv.URL, "fleet-key", zerolog.Nop())
}
