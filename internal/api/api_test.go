package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dori/taskgate/internal/alarm"
	"github.com/dori/taskgate/internal/backup"
	"github.com/dori/taskgate/internal/blocker"
	"github.com/dori/taskgate/internal/db"
	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/syncstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	server *Server
	engine *blocker.Memory
	remote *syncstore.MemoryKV
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	alarms := alarm.New(database, log)
	t.Cleanup(alarms.Stop)

	engine := blocker.NewMemory()
	var g *gate.Gate
	queue := blocker.NewQueue(engine, func(ctx context.Context) ([]string, error) {
		return g.BlockedDomains(ctx)
	}, nil, log)
	g = gate.New(gate.Deps{DB: database, Alarms: alarms, Rules: queue, Log: log})

	kv := syncstore.NewMemoryKV()
	backups := backup.New(database, syncstore.NewChunkedStore(kv), nil, log)
	return &testServer{server: NewServer(g, backups, nil, log), engine: engine, remote: kv}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAddSiteAndState(t *testing.T) {
	ts := newTestServer(t)

	code, out := ts.do(t, http.MethodPost, "/api/sites", map[string]string{"site": "https://www.Reddit.com/r/golang"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "reddit.com", out["site"])
	assert.Equal(t, []string{"reddit.com"}, ts.engine.Domains())

	code, out = ts.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, code)
	state := out["state"].(map[string]any)
	sites := state["sites"].([]any)
	require.Len(t, sites, 1)
	assert.Equal(t, "blocked", sites[0].(map[string]any)["state"])
}

func TestUnlockFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/sites", map[string]string{"site": "reddit.com"})

	code, out := ts.do(t, http.MethodPost, "/api/unlock", map[string]string{"site": "reddit.com"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "requirement")

	code, out = ts.do(t, http.MethodPost, "/api/tasks/add", map[string]string{"text": "write report"})
	require.Equal(t, http.StatusOK, code)
	id := out["task"].(map[string]any)["id"].(string)

	code, _ = ts.do(t, http.MethodPost, "/api/tasks/"+id+"/toggle", nil)
	require.Equal(t, http.StatusOK, code)

	code, out = ts.do(t, http.MethodPost, "/api/unlock", map[string]string{"site": "reddit.com"})
	require.Equal(t, http.StatusOK, code, out)
	assert.NotNil(t, out["unlock"])
	assert.Empty(t, ts.engine.Domains())

	code, _ = ts.do(t, http.MethodPost, "/api/relock", map[string]string{"site": "reddit.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"reddit.com"}, ts.engine.Domains())
}

func TestPauseValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/sites", map[string]string{"site": "reddit.com"})

	code, out := ts.do(t, http.MethodPost, "/api/pause", map[string]any{
		"site": "reddit.com", "minutes": 15, "justification": "too short",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["ok"])

	code, _ = ts.do(t, http.MethodPost, "/api/pause", map[string]any{
		"site": "reddit.com", "minutes": 15, "justification": strings.Repeat("x", 120),
	})
	assert.Equal(t, http.StatusOK, code)
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/tasks/missing/toggle", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/sites", map[string]string{"site": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/groups", map[string]any{"name": "social", "sites": []string{"x.com"}})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/api/groups", map[string]any{"name": "other", "sites": []string{"x.com"}})
	assert.Equal(t, http.StatusConflict, code)

	req := httptest.NewRequest(http.MethodPost, "/api/unlock", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackupAndSync(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/sites", map[string]string{"site": "reddit.com"})

	code, _ := ts.do(t, http.MethodPost, "/api/backup/restore", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/backup", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, code)

	code, out := ts.do(t, http.MethodGet, "/api/sync", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["status"].(map[string]any)["configured"])

	ts.do(t, http.MethodDelete, "/api/sites/reddit.com", nil)
	assert.Empty(t, ts.engine.Domains())

	code, _ = ts.do(t, http.MethodPost, "/api/sync/restore", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"reddit.com"}, ts.engine.Domains())

	code, out = ts.do(t, http.MethodGet, "/api/backup", nil)
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, out["status"].(map[string]any)["count"], float64(2))
}

func TestClient(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	var added struct {
		Site string `json:"site"`
	}
	require.NoError(t, client.Do(ctx, http.MethodPost, "/api/sites", map[string]string{"site": "x.com"}, &added))
	assert.Equal(t, "x.com", added.Site)

	err := client.Do(ctx, http.MethodPost, "/api/unlock", map[string]string{"site": "nope.com"}, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestNewClientAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:7767", NewClient(":7767").base)
	assert.Equal(t, "http://localhost:1", NewClient("localhost:1").base)
	assert.Equal(t, "https://h", NewClient("https://h/").base)
}
