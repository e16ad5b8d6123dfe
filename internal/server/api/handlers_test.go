package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/crud"
	"github.com/systemshift/bizops/internal/server/events"
	"github.com/systemshift/bizops/internal/server/graph/graphtest"
	"github.com/systemshift/bizops/internal/server/metrics"
	"github.com/systemshift/bizops/internal/server/sanitize"
	"github.com/systemshift/bizops/internal/server/schema/schematest"
)

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish(e ...events.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n += len(e)
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

type testServer struct {
	*httptest.Server
	repo      *graphtest.Memory
	published *countingPublisher
	metrics   *metrics.Registry
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := graphtest.NewMemory()
	registry := schematest.Registry(t)
	m := metrics.NewRegistry()
	pub := &countingPublisher{}
	cfg := &config.Config{}
	svc := crud.NewService(repo, registry, sanitize.New(cfg, zap.NewNop()), pub, m, zap.NewNop())

	ts := httptest.NewServer(New(svc, repo, registry, m, zap.NewNop()).Routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, repo: repo, published: pub, metrics: m}
}

// do sends a request as the admin client and decodes any JSON response
func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("client-id", "biz-ops-admin")
	req.Header.Set("x-request-id", "req-"+strings.NewReplacer("/", "-", "?", "-", "=", "-", "&", "-").Replace(method+path))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) == 0 {
		return resp.StatusCode, nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func errorMessage(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/__health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	ts.repo.Err = errors.New("connection refused")
	status, body = ts.do(t, http.MethodGet, "/__health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body["status"])
}

func TestSchemaEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/__schema", "")
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["version"])
	assert.Contains(t, body["types"], "Team")
}

func TestNodeLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/node/Team/platform?upsert=true",
		`{"name": "Platform", "headcount": 12, "techLeads": ["jane"]}`)
	require.Equal(t, http.StatusOK, status, body)
	node := body["node"].(map[string]any)
	assert.Equal(t, "platform", node["code"])
	assert.Equal(t, float64(12), node["headcount"])
	assert.Equal(t, "biz-ops-admin", node[core.PropCreatedByClient])
	assert.NotContains(t, node, core.PropCreatedByRequest)
	leads := body["relationships"].(map[string]any)["HAS_TECH_LEAD"].([]any)
	assert.Equal(t, map[string]any{"direction": "outgoing", "nodeType": "Person", "nodeCode": "jane"}, leads[0])
	assert.Equal(t, 4, ts.published.count())

	status, body = ts.do(t, http.MethodGet, "/node/team/PLATFORM", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Platform", body["node"].(map[string]any)["name"])

	status, _ = ts.do(t, http.MethodPost, "/node/Team/platform", `{}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = ts.do(t, http.MethodPatch, "/node/Team/platform?relationshipAction=replace", `{"techLeads": []}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body["relationships"])

	status, _ = ts.do(t, http.MethodDelete, "/node/Team/platform", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, body = ts.do(t, http.MethodGet, "/node/Team/platform", "")
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "Team platform has been deleted", errorMessage(body))

	status, _ = ts.do(t, http.MethodGet, "/node/Team/nothing", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPatchStatus(t *testing.T) {
	ts := setupTestServer(t)

	status, _ := ts.do(t, http.MethodPatch, "/node/Team/platform", `{"name": "Platform"}`)
	assert.Equal(t, http.StatusCreated, status)

	status, _ = ts.do(t, http.MethodPatch, "/node/Team/platform?lockFields=name", `{"name": "Platform"}`)
	assert.Equal(t, http.StatusOK, status)

	status, body := ts.do(t, http.MethodPatch, "/node/Team/platform", `{"techLeads": "jane"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errorMessage(body), "relationshipAction")
}

func TestRequestValidation(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid json",
			method:     http.MethodPost,
			path:       "/node/Team/platform",
			body:       `{invalid`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "body is not an object",
			method:     http.MethodPatch,
			path:       "/node/Team/platform",
			body:       `["a"]`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown type",
			method:     http.MethodGet,
			path:       "/node/Widget/platform",
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "bad code",
			method:     http.MethodGet,
			path:       "/node/Team/-platform",
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown attribute",
			method:     http.MethodPost,
			path:       "/node/Team/platform",
			body:       `{"colour": "red"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "missing related node",
			method:     http.MethodPost,
			path:       "/node/Team/platform",
			body:       `{"techLeads": ["ghost"]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_dependency",
		},
		{
			name:       "merge without destination",
			method:     http.MethodPost,
			path:       "/merge",
			body:       `{"type": "Team", "sourceCode": "a"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status, body)
			e := body["error"].(map[string]any)
			assert.Equal(t, tt.wantCode, e["code"])
		})
	}
	assert.Zero(t, ts.published.count())
}

func TestMissingIdentityHeaders(t *testing.T) {
	ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/node/Team/platform", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	req.Header.Set("x-request-id", "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, errorMessage(body), "Invalid client id")
}

func TestMergeEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.do(t, http.MethodPost, "/node/Team/old?upsert=true", `{"name": "Old", "techLeads": ["jane"]}`)
	ts.do(t, http.MethodPost, "/node/Team/platform", `{"name": "Platform"}`)

	status, body := ts.do(t, http.MethodPost, "/merge",
		`{"type": "Team", "sourceCode": "old", "destinationCode": "platform"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "platform", body["node"].(map[string]any)["code"])
	assert.Contains(t, body["relationships"], "HAS_TECH_LEAD")

	status, _ = ts.do(t, http.MethodGet, "/node/Team/old", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRelationshipEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ts.repo.Seed(core.NodeRef{Type: "Team", Code: "platform"}, nil)
	ts.repo.Seed(core.NodeRef{Type: "Person", Code: "jane"}, nil)
	path := "/relationship/Team/platform/HAS_TECH_LEAD/Person/jane"

	status, _ := ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := ts.do(t, http.MethodPatch, path, `{"since": "2021"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "2021", body["since"])

	status, _ = ts.do(t, http.MethodPost, path, "")
	assert.Equal(t, http.StatusConflict, status)

	status, body = ts.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "biz-ops-admin", body[core.PropCreatedByClient])

	status, _ = ts.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = ts.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodPost, "/relationship/Team/platform/HAS_TECH_LEAD/Person/ghost", "")
	assert.Equal(t, http.StatusNotFound, status)

	ts.repo.Seed(core.NodeRef{Type: "Person", Code: "former"}, map[string]any{core.PropIsDeleted: true})
	status, body = ts.do(t, http.MethodPost, "/relationship/Team/platform/HAS_TECH_LEAD/Person/former", "")
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "Person former has been deleted", errorMessage(body))
}

func TestRepositoryFailureIsGeneric(t *testing.T) {
	ts := setupTestServer(t)
	ts.repo.Err = errors.New("bolt: connection reset by peer")

	status, body := ts.do(t, http.MethodGet, "/node/Team/platform", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "An internal error occurred", errorMessage(body))
	assert.NotContains(t, errorMessage(body), "bolt")
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	ts := setupTestServer(t)
	ts.do(t, http.MethodGet, "/node/Team/a", "")
	ts.do(t, http.MethodGet, "/node/Team/b", "")

	// the trailing slash of the mounted subrouter is trimmed by newer chi versions
	var got float64
	for _, route := range []string{"/node/{type}/{code}", "/node/{type}/{code}/"} {
		got += testutil.ToFloat64(ts.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, route, "404"))
	}
	assert.Equal(t, 2.0, got)
}
