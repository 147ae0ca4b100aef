package api

import (
	"bytes"
	"encoding/json"
	"graceq/internal/domain"
	"graceq/internal/infra/memory"
	"graceq/internal/infra/timer"
	"graceq/internal/session"
	"graceq/internal/usecase"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New(domain.DefaultSettings())
	now := func() time.Time { return t0 }
	hub := session.NewHub([]string{"*"})
	sched := &usecase.Scheduler{
		Store:    store,
		Counters: store,
		Settings: store,
		Wakeups:  timer.NewService(16),
		Dispatcher: &usecase.Dispatcher{
			Store:    store,
			Counters: store,
			Locator:  usecase.NewLocator(hub),
			Now:      now,
		},
		Location: time.UTC,
		Now:      now,
	}
	srv := httptest.NewServer(NewServer(sched, store, hub, []string{"https://mail.example.com"}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestSubmitGetCancel(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/actions", map[string]any{
		"session_id":   "s-1",
		"scope":        "mail/*",
		"document_ref": "draft-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", body["state"])
	assert.EqualValues(t, 60, body["delay_seconds"])
	assert.EqualValues(t, 60, body["seconds_remaining"])

	resp, body = do(t, http.MethodGet, srv.URL+"/actions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/actions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["outcome"])

	_, body = do(t, http.MethodDelete, srv.URL+"/actions/"+id, nil)
	assert.Equal(t, "already_cancelled", body["outcome"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/actions/nope", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unknown", body["outcome"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/actions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["submitted"])
	assert.EqualValues(t, 1, body["cancelled"])
	assert.EqualValues(t, 1, body["mistakes_prevented"])
	assert.EqualValues(t, 0, body["pending"])
}

func TestSubmitRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/actions", map[string]any{"mode": "everywhere"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/settings", map[string]any{"delay_seconds": 42})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPut, srv.URL+"/settings", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])
	assert.EqualValues(t, 60, body["delay_seconds"], "unspecified fields keep their value")

	resp, _ = do(t, http.MethodPost, srv.URL+"/actions", map[string]any{"session_id": "s-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/stats", nil)
	assert.EqualValues(t, 0, body["submitted"])
}

func TestSettingsAffectDelay(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, http.MethodPut, srv.URL+"/settings", map[string]any{"delay_seconds": 120})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/actions", map[string]any{"session_id": "s-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 120, body["delay_seconds"])

	resp, body = do(t, http.MethodGet, srv.URL+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-10-19T10:00:00Z", body["export_date"])
	stats, _ := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["pending"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/actions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://mail.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://mail.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "DELETE"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Methods"))

	// without an Origin it is not a preflight and reaches the router
	req.Header.Del("Origin")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp3.StatusCode)
}
