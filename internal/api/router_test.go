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
	"time"

	"kidfun/internal/api/middleware"
	"kidfun/internal/auth"
	"kidfun/internal/core"
	"kidfun/internal/devices"
	"kidfun/internal/realtime"
	"kidfun/internal/storage/sqlite"

	ws "github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCode     = "A1B2C3D4"
	testSecret   = "test-secret"
	testPassword = "correct horse"
)

// Wednesday
var testStart = time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	router  *gin.Engine
	storage *sqlite.SQLiteStorage
	clock   *core.MockClock
	hub     *realtime.Hub
	channel *realtime.Channel
	auth    *auth.Service
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	storage, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	ctx := context.Background()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	require.NoError(t, storage.CreateAccount(ctx, &core.Account{ID: "acct1", Email: "parent@example.com", PasswordHash: hash}))
	require.NoError(t, storage.CreateAccount(ctx, &core.Account{ID: "acct2", Email: "other@example.com", PasswordHash: hash}))
	require.NoError(t, storage.CreateProfile(ctx, &core.Profile{ID: "p1", AccountID: "acct1", Name: "Alice", Active: true}))
	require.NoError(t, storage.CreateDevice(ctx, &core.Device{ID: "d1", AccountID: "acct1", ProfileID: "p1", Name: "Laptop", Code: testCode}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := core.NewMockClock(testStart)

	manager := core.NewSessionManager(storage, core.ManagerConfig{
		DefaultDailyMinutes: 120,
		WarningThresholds:   []int{30, 15, 5},
		Location:            time.UTC,
		Logger:              logger,
	})

	hub := realtime.NewHub(logger)
	channel := realtime.NewChannel(hub, realtime.NewLocalBroker(hub), realtime.ChannelConfig{Clock: clock, Logger: logger})
	resolver := devices.NewResolver(storage, 16, time.Minute, logger)
	authService := auth.NewService(storage, testSecret, time.Hour)

	router := NewRouter(RouterConfig{
		Storage:     storage,
		Manager:     manager,
		Resolver:    resolver,
		Unlinker:    devices.NewUnlinker(storage, manager, resolver, channel, clock, logger),
		Channel:     channel,
		Auth:        authService,
		Clock:       clock,
		Location:    time.UTC,
		Logger:      logger,
		MetricsPath: "/metrics",
		Health:      storage,
	})

	return &testEnv{router: router, storage: storage, clock: clock, hub: hub, channel: channel, auth: authService}
}

type requestOption func(*http.Request)

func withDevice(code string) requestOption {
	return func(r *http.Request) { r.Header.Set(middleware.DeviceCodeHeader, code) }
}

func withToken(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code)
	return body["token"].(string)
}

func TestHealth(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, "kidfun", body["service"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t)

	env.do(t, http.MethodGet, "/child/status", nil, withDevice(testCode))

	w, _ := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kidfun_http_requests_total")
}

func TestChildAuth(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodGet, "/child/status", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_REQUIRED", body["code"])

	w, body = env.do(t, http.MethodGet, "/child/status", nil, withDevice("FFFFFFFF"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", body["code"])
	assert.Equal(t, false, body["retryable"])

	// Codes are case-insensitive
	w, _ = env.do(t, http.MethodGet, "/child/status", nil, withDevice("a1b2c3d4"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChildSessionLifecycle(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodGet, "/child/status", nil, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	remaining := body["remaining"].(map[string]any)
	assert.Equal(t, float64(120), remaining["remaining_minutes"])
	assert.Nil(t, body["active_session"])

	w, body = env.do(t, http.MethodPost, "/child/session/start", map[string]string{"app_name": "Minecraft"}, withDevice(testCode))
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := body["session_id"].(string)
	assert.NotEmpty(t, sessionID)

	env.clock.Advance(10 * time.Minute)
	w, body = env.do(t, http.MethodPost, "/child/session/heartbeat",
		map[string]any{"session_id": sessionID, "elapsed_minutes": 10}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(110), body["remaining_minutes"])
	assert.Nil(t, body["warning"])

	w, body = env.do(t, http.MethodPost, "/child/bonus", map[string]int{"additional_minutes": 15}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(15), body["bonus_minutes"])
	assert.Equal(t, float64(125), body["remaining_minutes"])

	w, body = env.do(t, http.MethodGet, "/child/status", nil, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	active := body["active_session"].(map[string]any)
	assert.Equal(t, sessionID, active["id"])

	env.clock.Advance(5 * time.Minute)
	w, body = env.do(t, http.MethodPost, "/child/session/end",
		map[string]string{"session_id": sessionID, "reason": core.EndReasonAppClosed}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(15), body["total_elapsed_minutes"])
	assert.Equal(t, core.EndReasonAppClosed, body["reason"])
	assert.Equal(t, false, body["already_ended"])

	// Ending twice is a no-op
	w, body = env.do(t, http.MethodPost, "/child/session/end",
		map[string]string{"session_id": sessionID, "reason": core.EndReasonAppClosed}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(15), body["total_elapsed_minutes"])
	assert.Equal(t, true, body["already_ended"])

	// Heartbeat after end
	w, body = env.do(t, http.MethodPost, "/child/session/heartbeat",
		map[string]any{"session_id": sessionID, "elapsed_minutes": 20}, withDevice(testCode))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_NOT_ACTIVE", body["code"])

	// Bonus without an active session
	w, body = env.do(t, http.MethodPost, "/child/bonus", map[string]int{"additional_minutes": 15}, withDevice(testCode))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_ACTIVE_SESSION", body["code"])
}

func TestChildHeartbeat_FiresWarning(t *testing.T) {
	env := setupRouter(t)
	require.NoError(t, env.storage.UpsertDayLimit(context.Background(), &core.DayLimit{
		ProfileID: "p1", Weekday: time.Wednesday, DailyMinutes: 40,
	}))

	_, body := env.do(t, http.MethodPost, "/child/session/start", nil, withDevice(testCode))
	sessionID := body["session_id"].(string)

	env.clock.Advance(10 * time.Minute)
	w, body := env.do(t, http.MethodPost, "/child/session/heartbeat",
		map[string]any{"session_id": sessionID, "elapsed_minutes": 10}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(30), body["remaining_minutes"])

	warning := body["warning"].(map[string]any)
	assert.Equal(t, core.WarningType(30), warning["warning_type"])

	// Same threshold does not fire twice in a day
	w, body = env.do(t, http.MethodPost, "/child/session/heartbeat",
		map[string]any{"session_id": sessionID, "elapsed_minutes": 10}, withDevice(testCode))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["warning"])
}

func TestChildValidation(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodPost, "/child/session/heartbeat",
		map[string]any{"session_id": "sess_x"}, withDevice(testCode))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", body["code"])

	w, body = env.do(t, http.MethodPost, "/child/bonus", map[string]int{"additional_minutes": -5}, withDevice(testCode))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	w, body = env.do(t, http.MethodPost, "/child/session/end",
		map[string]string{"session_id": "sess_missing"}, withDevice(testCode))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestChildRecordWarning(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodPost, "/child/warnings", map[string]any{
		"warning_type":      "TIME_WARNING_5",
		"message":           "5 minutes left",
		"remaining_minutes": 5,
	}, withDevice(testCode))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "TIME_WARNING_5", body["warning_type"])

	token := env.login(t, "parent@example.com")
	w, _ = env.do(t, http.MethodGet, "/v1/profiles/p1/warnings", nil, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)

	var warnings []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &warnings))
	require.Len(t, warnings, 1)
	assert.Equal(t, "5 minutes left", warnings[0]["message"])
}

func TestParentLogin(t *testing.T) {
	env := setupRouter(t)

	w, body := env.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": "parent@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])

	w, body = env.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": "nobody@example.com", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])

	w, body = env.do(t, http.MethodGet, "/v1/profiles/p1/usage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_REQUIRED", body["code"])

	w, body = env.do(t, http.MethodGet, "/v1/profiles/p1/usage", nil, withToken("garbage"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestUsageStats(t *testing.T) {
	env := setupRouter(t)

	_, body := env.do(t, http.MethodPost, "/child/session/start", nil, withDevice(testCode))
	sessionID := body["session_id"].(string)
	env.clock.Advance(45 * time.Minute)
	env.do(t, http.MethodPost, "/child/session/end", map[string]string{"session_id": sessionID}, withDevice(testCode))

	token := env.login(t, "parent@example.com")
	w, body := env.do(t, http.MethodGet, "/v1/profiles/p1/usage?from=2024-01-17&to=2024-01-17", nil, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(45), body["total_minutes"])
	assert.Equal(t, 0.8, body["total_hours"])
	assert.Equal(t, float64(1), body["log_count"])

	w, body = env.do(t, http.MethodGet, "/v1/profiles/p1/usage?from=2024-01-18", nil, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["total_minutes"])

	w, body = env.do(t, http.MethodGet, "/v1/profiles/p1/usage?from=yesterday", nil, withToken(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	// Another account cannot see the profile
	other := env.login(t, "other@example.com")
	w, body = env.do(t, http.MethodGet, "/v1/profiles/p1/usage", nil, withToken(other))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROFILE_NOT_FOUND", body["code"])
}

func receiveEnvelope(t *testing.T, sub *realtime.Subscription) realtime.Envelope {
	t.Helper()
	select {
	case env := <-sub.Events():
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.Envelope{}
	}
}

func TestExtensionNegotiation(t *testing.T) {
	env := setupRouter(t)

	parentSub, err := env.channel.Join(realtime.Member{FamilyID: "acct1", Role: realtime.RoleParent})
	require.NoError(t, err)
	defer parentSub.Leave()
	childSub, err := env.channel.Join(realtime.Member{FamilyID: "acct1", Role: realtime.RoleChild, DeviceID: "d1"})
	require.NoError(t, err)
	defer childSub.Leave()

	w, body := env.do(t, http.MethodPost, "/child/extension/request",
		map[string]any{"reason": "homework"}, withDevice(testCode))
	require.Equal(t, http.StatusAccepted, w.Code)
	requestID := body["request_id"].(string)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, float64(realtime.DefaultExtensionMinutes), body["requested_minutes"])

	event := receiveEnvelope(t, parentSub)
	assert.Equal(t, realtime.EventExtensionRequest, event.Type)
	var req realtime.ExtensionRequest
	require.NoError(t, event.Decode(&req))
	assert.Equal(t, requestID, req.RequestID)
	assert.Equal(t, "Laptop", req.DeviceName)
	assert.Equal(t, "Alice", req.ProfileName)
	assert.Equal(t, "homework", req.Reason)

	token := env.login(t, "parent@example.com")
	w, _ = env.do(t, http.MethodPost, "/v1/extension/respond", map[string]any{
		"request_id":         requestID,
		"approved":           true,
		"additional_minutes": 20,
		"message":            "ok",
	}, withToken(token))
	require.Equal(t, http.StatusAccepted, w.Code)

	event = receiveEnvelope(t, childSub)
	assert.Equal(t, realtime.EventExtensionResponse, event.Type)
	var resp realtime.ExtensionResponse
	require.NoError(t, event.Decode(&resp))
	assert.True(t, resp.Approved)
	assert.Equal(t, 20, resp.AdditionalMinutes)
	assert.Equal(t, requestID, resp.RequestID)

	// Approval without minutes is rejected
	w, body = env.do(t, http.MethodPost, "/v1/extension/respond",
		map[string]any{"approved": true}, withToken(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])
}

func TestUnlinkDevice(t *testing.T) {
	env := setupRouter(t)

	childSub, err := env.channel.Join(realtime.Member{FamilyID: "acct1", Role: realtime.RoleChild, DeviceID: "d1"})
	require.NoError(t, err)
	defer childSub.Leave()

	_, body := env.do(t, http.MethodPost, "/child/session/start", nil, withDevice(testCode))
	sessionID := body["session_id"].(string)
	env.clock.Advance(7 * time.Minute)

	other := env.login(t, "other@example.com")
	w, body := env.do(t, http.MethodDelete, "/v1/devices/d1", nil, withToken(other))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", body["code"])

	token := env.login(t, "parent@example.com")
	w, body = env.do(t, http.MethodDelete, "/v1/devices/d1", nil, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sessionID, body["ended_session_id"])
	assert.Equal(t, float64(7), body["total_elapsed_minutes"])
	assert.Equal(t, true, body["notified"])

	event := receiveEnvelope(t, childSub)
	assert.Equal(t, realtime.EventDeviceRemoved, event.Type)

	session, err := env.storage.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, core.EndReasonUnlink, session.EndReason)

	// The resolver cache was invalidated, so the device is seen unassigned at once
	w, body = env.do(t, http.MethodGet, "/child/status", nil, withDevice(testCode))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DEVICE_NOT_ASSIGNED", body["code"])
}

func TestChildWebSocket(t *testing.T) {
	env := setupRouter(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/child/ws?device_code=" + testCode
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(ws.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return env.hub.Count("acct1", realtime.RoleChild) == 1
	}, 2*time.Second, 10*time.Millisecond)

	token := env.login(t, "parent@example.com")
	w, _ := env.do(t, http.MethodPost, "/v1/extension/respond",
		map[string]any{"approved": false, "message": "no"}, withToken(token))
	require.Equal(t, http.StatusAccepted, w.Code)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, realtime.EventExtensionResponse, event.Type)
	assert.Equal(t, "acct1", event.FamilyID)
}

func TestParentWebSocket_ReceivesChildRequest(t *testing.T) {
	env := setupRouter(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := "ws" + strings.TrimPrefix(server.URL, "http")
	token := env.login(t, "parent@example.com")

	parent, _, err := ws.Dial(ctx, base+"/v1/ws", &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	defer parent.Close(ws.StatusNormalClosure, "")

	child, _, err := ws.Dial(ctx, base+"/child/ws?device_code="+testCode, nil)
	require.NoError(t, err)
	defer child.Close(ws.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return env.hub.Count("acct1", realtime.RoleParent) == 1 &&
			env.hub.Count("acct1", realtime.RoleChild) == 1
	}, 2*time.Second, 10*time.Millisecond)

	frame, err := json.Marshal(map[string]any{
		"type":    realtime.InboundRequestExtension,
		"payload": map[string]any{"reason": "homework", "requested_minutes": 20},
	})
	require.NoError(t, err)
	require.NoError(t, child.Write(ctx, ws.MessageText, frame))

	_, data, err := parent.Read(ctx)
	require.NoError(t, err)

	var event realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, realtime.EventExtensionRequest, event.Type)
	assert.Equal(t, "acct1", event.FamilyID)

	var req realtime.ExtensionRequest
	require.NoError(t, event.Decode(&req))
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, "Laptop", req.DeviceName)
	assert.Equal(t, "Alice", req.ProfileName)
	assert.Equal(t, "homework", req.Reason)
	assert.Equal(t, 20, req.RequestedMinutes)
}

func TestParentWebSocket_RequiresToken(t *testing.T) {
	env := setupRouter(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.hub.Count("acct1", realtime.RoleParent))
}
