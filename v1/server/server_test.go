package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearmind/pledge/v1/adapter"
	"github.com/clearmind/pledge/v1/checkin"
	"github.com/clearmind/pledge/v1/lock"
	"github.com/clearmind/pledge/v1/metrics"
	"github.com/clearmind/pledge/v1/server"
	"github.com/clearmind/pledge/v1/watchbus"
)

var fixedNow = time.Date(2026, 10, 18, 6, 45, 0, 0, time.UTC)

type fixture struct {
	srv    *httptest.Server
	lock   *lock.Processing
	outbox *checkin.Outbox
	store  *adapter.InMemoryStore
	bus    *watchbus.InMemoryWatchBus
}

func newFixture(t *testing.T, opts ...server.Option) *fixture {
	t.Helper()
	bus := watchbus.NewInMemory()
	l := lock.NewProcessing(lock.WithName("checkin-sync"), lock.WithEvents(bus))
	outbox := checkin.NewOutbox()
	store := adapter.NewInMemoryStore()
	syncer := checkin.NewSyncer(l, outbox, store,
		checkin.WithRetries(0, func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	reg := metrics.NewRegistry()
	metrics.RegisterSyncMetrics(reg)

	opts = append([]server.Option{
		server.WithGatherer(reg),
		server.WithNow(func() time.Time { return fixedNow }),
	}, opts...)
	s := server.New(server.Deps{
		Lock:   l,
		Syncer: syncer,
		Outbox: outbox,
		Store:  store,
		Events: bus,
	}, opts...)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, lock: l, outbox: outbox, store: store, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, server.HealthPath, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetLockStatus(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/v1/lock", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"checkin-sync","processing":false}`, string(body))

	require.True(t, f.lock.Acquire(time.Minute))
	defer f.lock.Release()
	_, body = f.do(t, http.MethodGet, "/v1/lock", "")
	var st lock.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Processing)
	assert.False(t, st.ExpiresAt.IsZero())
}

func TestPostCheckInAndSync(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/checkins", `{"habit_id":"meditate","note":"morning"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var created checkin.CheckIn
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "2026-10-18", created.Day)
	assert.True(t, fixedNow.Equal(created.CompletedAt))
	assert.Equal(t, 1, f.outbox.Len())

	resp, _ = f.do(t, http.MethodPost, "/v1/checkins", `{"habit_id":"meditate"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report checkin.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 0, report.Remaining)

	resp, body = f.do(t, http.MethodGet, "/v1/habits/meditate/checkins", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []checkin.CheckIn
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestPostCheckInRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`not json`,
		`{"habit_id":"run","unknown":1}`,
		`{"habit_id":""}`,
		`{"habit_id":"run","day":"18.10.2026"}`,
	} {
		resp, data := f.do(t, http.MethodPost, "/v1/checkins", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Contains(t, string(data), `"error"`)
	}
	assert.Equal(t, 0, f.outbox.Len())
}

func TestPostSyncConflictWhileProcessing(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.lock.Acquire(time.Minute))
	defer f.lock.Release()

	resp, body := f.do(t, http.MethodPost, "/v1/sync", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), checkin.ErrSyncInProgress.Error())
	assert.True(t, f.lock.IsProcessing())
}

func TestGetEnvReportsPresenceOnly(t *testing.T) {
	env := map[string]string{"PLEDGE_REDIS_ADDR": "redis:6379", "PLEDGE_EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	f := newFixture(t, server.WithEnvKeys([]string{"PLEDGE_REDIS_ADDR", "PLEDGE_EMPTY", "PLEDGE_MISSING"}, lookup))

	resp, body := f.do(t, http.MethodGet, "/v1/env", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"variables":[
		{"name":"PLEDGE_REDIS_ADDR","set":true},
		{"name":"PLEDGE_EMPTY","set":false},
		{"name":"PLEDGE_MISSING","set":false}
	]}`, string(body))
	assert.NotContains(t, string(body), "redis:6379")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/v1/sync", "")

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pledge_sync_runs_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sync"},
		{http.MethodPost, "/v1/lock"},
		{http.MethodDelete, "/v1/habits/run/checkins"},
	} {
		resp, body := f.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.JSONEq(t, `{"error":"method not allowed"}`, string(body))
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, string(body))
}

func TestEventsStreamDefaultsToLockKey(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	key := lock.EventKey("checkin-sync")
	require.Eventually(t, func() bool { return f.bus.Watchers(key) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, f.lock.Acquire(time.Minute))
	defer f.lock.Release()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	var ev lock.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, lock.StateLocked, ev.State)
	assert.Equal(t, lock.ReasonAcquired, ev.Reason)
}

func TestWatchStreamsLockEvents(t *testing.T) {
	f := newFixture(t)
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	key := lock.EventKey("checkin-sync")
	require.Eventually(t, func() bool { return f.bus.Watchers(key) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, f.lock.Acquire(time.Minute))
	f.lock.Release()

	var states []string
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev lock.Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		states = append(states, ev.State)
	}
	assert.Equal(t, []string{lock.StateLocked, lock.StateUnlocked}, states)
}
