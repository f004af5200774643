package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/requirement"
)

// a Tuesday
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseDue(t *testing.T) {
	d, err := parseDue("", testNow)
	require.NoError(t, err)
	assert.Empty(t, d)

	d, err = parseDue("2026-04-01", testNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01", d)

	d, err = parseDue("tomorrow", testNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", d)

	_, err = parseDue("zzzz", testNow)
	assert.Error(t, err)
}

func TestMatchTaskID(t *testing.T) {
	tasks := []model.Task{{ID: "abc123"}, {ID: "abd456"}, {ID: "ab"}}

	id, err := matchTaskID(tasks, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = matchTaskID(tasks, "ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", id, "exact match wins")

	_, err = matchTaskID(tasks, "a")
	assert.ErrorContains(t, err, "matches 3 tasks")

	_, err = matchTaskID(tasks, "zz")
	assert.Error(t, err)

	_, err = matchTaskID(tasks, "")
	assert.Error(t, err)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "4:05", formatRemaining(4*time.Minute+5*time.Second))
	assert.Equal(t, "1h30m", formatRemaining(90*time.Minute))
	assert.Equal(t, "0:00", formatRemaining(-time.Second))
}

func TestRequirementLine(t *testing.T) {
	assert.Equal(t, "2/3 done", requirementLine(requirement.Result{Mode: requirement.ModeAll, Done: 2, Total: 3}))
	assert.Equal(t, "no tasks yet", requirementLine(requirement.Result{Mode: requirement.ModeAll, Empty: true}))
	assert.Equal(t, "1/2 done in Work", requirementLine(requirement.Result{Mode: requirement.ModeSection, Section: "Work", Done: 1, Total: 2}))
	assert.Contains(t, requirementLine(requirement.Result{Mode: requirement.ModeCost, Done: 1, Total: 3}), "toward cost")
}

func TestRenderStatus(t *testing.T) {
	parent := "p"
	expires := testNow.Add(10 * time.Minute)
	view := &gate.View{
		Sites: []gate.SiteStatus{
			{Site: "reddit.com", State: gate.Blocked, Requirement: requirement.Result{Mode: requirement.ModeAll, Done: 1, Total: 2}},
			{Site: "x.com", State: gate.Unlocked, ExpiresAt: &expires, GroupName: "social"},
		},
		Tasks: []model.Task{
			{ID: "p", Text: "Report"},
			{ID: "c1", Text: "Outline", ParentID: &parent, Completed: true},
			{ID: "c2", Text: "Draft", ParentID: &parent},
		},
		Requirement: requirement.Result{Mode: requirement.ModeAll, Done: 1, Total: 2},
		Streak:      model.Streak{Current: 3, Longest: 5},
	}

	out := renderStatus(view, testNow)
	assert.Contains(t, out, "reddit.com")
	assert.Contains(t, out, "locked")
	assert.Contains(t, out, "10:00 left")
	assert.Contains(t, out, "social")
	assert.Contains(t, out, "3 day(s), best 5")
	assert.Contains(t, out, "Report")
	assert.Contains(t, out, "1/2")
	assert.Less(t, strings.Index(out, "Report"), strings.Index(out, "Draft"))
}

func TestRenderTasksEmpty(t *testing.T) {
	assert.Contains(t, renderTasks(nil, testNow), "No tasks")
}

// stubDaemon answers like the control API and records requests
type stubDaemon struct {
	paths  []string
	bodies []map[string]any
}

func (s *stubDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.paths = append(s.paths, r.Method+" "+r.URL.Path)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.bodies = append(s.bodies, body)

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/sites":
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "site": "reddit.com"})
	case "/api/unlock":
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unlock requirement not met: 0 of 1 done"})
	default:
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml"), "--addr", addr}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSiteAddCommand(t *testing.T) {
	stub := &stubDaemon{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, err := run(t, srv.URL, "site", "add", "https://www.reddit.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Blocked reddit.com")
	assert.Equal(t, []string{"POST /api/sites"}, stub.paths)
	assert.Equal(t, "https://www.reddit.com", stub.bodies[0]["site"])
}

func TestUnlockCommandError(t *testing.T) {
	srv := httptest.NewServer(&stubDaemon{})
	defer srv.Close()

	_, err := run(t, srv.URL, "unlock", "reddit.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requirement not met")
}

func TestConfigSetRejectsMode(t *testing.T) {
	stub := &stubDaemon{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := run(t, srv.URL, "config", "set", "--mode", "some")
	require.Error(t, err)
	assert.Empty(t, stub.paths)

	_, err = run(t, srv.URL, "config", "set", "--cooldown", "45")
	require.NoError(t, err)
	assert.Equal(t, float64(45), stub.bodies[0]["cooldownMinutes"])
}
