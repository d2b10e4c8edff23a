package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/deployd/internal/generator"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/notifier"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/publisher"
	"github.com/fyrsmithlabs/deployd/internal/retry"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

type pageGenerator struct{}

func (pageGenerator) Generate(_ context.Context, req generator.Request) (generator.FileSet, error) {
	return generator.FileSet{
		"index.html": fmt.Sprintf("<!DOCTYPE html><html><body>round %d</body></html>", req.Round),
		"LICENSE":    "MIT",
	}, nil
}

func (pageGenerator) Ping(context.Context) error { return nil }

// pipeline wires a real orchestrator to a local publisher and a fake
// evaluation endpoint.
type pipeline struct {
	server   *Server
	orch     *orchestrator.Orchestrator
	mu       sync.Mutex
	received []notifier.Payload
	callback *httptest.Server
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{}
	p.callback = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload notifier.Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		p.mu.Lock()
		p.received = append(p.received, payload)
		p.mu.Unlock()
	}))
	t.Cleanup(p.callback.Close)

	local, err := publisher.NewLocal(t.TempDir(), "http://localhost:8000/sites", nil)
	require.NoError(t, err)

	p.orch, err = orchestrator.New(orchestrator.Deps{
		Store:     task.NewMemoryStore(),
		Generator: pageGenerator{},
		Publisher: local,
		Notifier: notifier.New(p.callback.Client(), retry.Policy{
			MaxAttempts:    2,
			BaseDelay:      time.Millisecond,
			MaxDelay:       time.Millisecond,
			AttemptTimeout: time.Second,
		}, nil),
	}, orchestrator.Options{})
	require.NoError(t, err)

	checks := map[string]Pinger{"generator": pageGenerator{}, "publisher": local}
	p.server, err = NewServer(p.orch, checks, []string{testSecret}, logging.NewNop(), &Config{SitesRoot: local.Root()})
	require.NoError(t, err)
	return p
}

func (p *pipeline) payloads() []notifier.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notifier.Payload(nil), p.received...)
}

func (p *pipeline) body(round int, nonce string) map[string]any {
	b := validBody()
	b["round"] = round
	b["nonce"] = nonce
	b["evaluation_url"] = p.callback.URL
	return b
}

func TestPipeline_DeployAndUpdate(t *testing.T) {
	p := newPipeline(t)

	rec := post(t, p.server, "/deploy", p.body(1, "n1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	replay := post(t, p.server, "/deploy", p.body(1, "n1"))
	require.Equal(t, http.StatusOK, replay.Code, "replays are accepted")
	p.orch.Wait()

	var status StatusResponse
	require.NoError(t, json.Unmarshal(get(p.server, "/status/captcha-solver").Body.Bytes(), &status))
	require.Len(t, status.History, 1, "a replay does not create a second task")
	round1 := status.Latest
	assert.Equal(t, task.StatusCompleted, round1.Status)
	require.NotEmpty(t, round1.Repo.Name)

	site := get(p.server, "/sites/"+round1.Repo.Name+"/")
	assert.Equal(t, http.StatusOK, site.Code)
	assert.Contains(t, site.Body.String(), "round 1")

	assert.Equal(t, http.StatusNotFound, get(p.server, "/sites/"+round1.Repo.Name+"/.git/config").Code)
	assert.Equal(t, http.StatusNotFound, get(p.server, "/sites/"+round1.Repo.Name+"/missing.html").Code)

	conflict := post(t, p.server, "/deploy", p.body(1, "other"))
	assert.Equal(t, http.StatusConflict, conflict.Code)

	rec = post(t, p.server, "/update", p.body(2, "n2"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, round1.RepoURL, accepted.RepoURL)
	assert.Equal(t, round1.PagesURL, accepted.PagesURL)
	p.orch.Wait()

	site = get(p.server, "/sites/"+round1.Repo.Name+"/index.html")
	assert.Contains(t, site.Body.String(), "round 2")

	payloads := p.payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, 1, payloads[0].Round)
	assert.Equal(t, 2, payloads[1].Round)
	assert.Equal(t, payloads[0].RepoURL, payloads[1].RepoURL)
	assert.NotEqual(t, payloads[0].CommitSHA, payloads[1].CommitSHA)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(get(p.server, "/health").Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Tasks["completed"])
}

func TestPipeline_UpdateBeforeDeploy(t *testing.T) {
	p := newPipeline(t)

	rec := post(t, p.server, "/update", p.body(2, "n2"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PRECONDITION_FAILED", decodeError(t, rec).Error)
	assert.Equal(t, http.StatusNotFound, get(p.server, "/status/captcha-solver").Code)
}

func TestPipeline_SitesRequireRoot(t *testing.T) {
	server := setupTestServer(t, newFakeDeployer(), nil)
	rec := get(server, "/sites/anything/index.html")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "NOT_FOUND"))
}
