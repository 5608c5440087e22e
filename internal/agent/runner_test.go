package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"kidfun/internal/core"
	"kidfun/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a test double for Server
type fakeServer struct {
	mu           sync.Mutex
	remaining    int
	heartbeatErr error
	heartbeats   int
	bonuses      []int
	ends         []string
	requests     int
}

func (f *fakeServer) Status(ctx context.Context) (*Status, error) {
	return &Status{DeviceID: "d1", ProfileID: "p1"}, nil
}

func (f *fakeServer) StartSession(ctx context.Context, appName, activityType string) (*StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &StartResponse{SessionID: "sess_1", Remaining: Remaining{RemainingMinutes: f.remaining}}, nil
}

func (f *fakeServer) Heartbeat(ctx context.Context, sessionID string, elapsedMinutes int) (*HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.heartbeatErr != nil {
		return nil, f.heartbeatErr
	}
	return &HeartbeatResponse{SessionID: sessionID, RemainingMinutes: f.remaining}, nil
}

func (f *fakeServer) EndSession(ctx context.Context, sessionID, reason string) (*EndResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, reason)
	return &EndResponse{SessionID: sessionID, Reason: reason}, nil
}

func (f *fakeServer) AddBonus(ctx context.Context, minutes int) (*BonusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bonuses = append(f.bonuses, minutes)
	f.remaining += minutes
	return &BonusResponse{SessionID: "sess_1", BonusMinutes: minutes, RemainingMinutes: f.remaining}, nil
}

func (f *fakeServer) RequestExtension(ctx context.Context, reason string, minutes int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return "ext_" + string(rune('0'+f.requests)), nil
}

func (f *fakeServer) snapshot() (heartbeats int, bonuses []int, ends []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats, append([]int(nil), f.bonuses...), append([]string(nil), f.ends...)
}

// mockPlatform is a test double for Platform
type mockPlatform struct {
	mu            sync.Mutex
	locks         int
	notifications []string
}

func (m *mockPlatform) LockWorkstation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks++
	return nil
}

func (m *mockPlatform) ShowWarningNotification(title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, title)
	return nil
}

func (m *mockPlatform) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks
}

func newTestRunner(server Server, platform Platform, events <-chan realtime.Envelope, interval time.Duration) *Runner {
	config := DefaultConfig()
	config.ServerURL = "http://localhost"
	config.DeviceCode = "A1B2C3D4"
	config.HeartbeatInterval = interval
	return NewRunner(server, platform, core.RealClock{}, events, config, testLogger())
}

func envelope(t *testing.T, eventType string, payload any) realtime.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return realtime.Envelope{Type: eventType, FamilyID: "acct1", Payload: data}
}

func runAsync(ctx context.Context, runner *Runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestRunner_StopEndsWithAppClosed(t *testing.T) {
	server := &fakeServer{remaining: 60}
	runner := newTestRunner(server, &mockPlatform{}, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, runner)

	assert.Eventually(t, func() bool {
		heartbeats, _, _ := server.snapshot()
		return heartbeats >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))

	_, _, ends := server.snapshot()
	assert.Equal(t, []string{core.EndReasonAppClosed}, ends)
}

func TestRunner_ExpiresAndLocks(t *testing.T) {
	server := &fakeServer{remaining: 5}
	platform := &mockPlatform{}
	runner := newTestRunner(server, platform, nil, 5*time.Millisecond)

	done := runAsync(context.Background(), runner)

	server.mu.Lock()
	server.remaining = 0
	server.mu.Unlock()

	assert.ErrorIs(t, waitDone(t, done), ErrTimeExpired)

	_, _, ends := server.snapshot()
	assert.Equal(t, []string{core.EndReasonTimeExpired}, ends)
	assert.Equal(t, 1, platform.lockCount())
}

func TestRunner_NothingLeftAtStart(t *testing.T) {
	server := &fakeServer{remaining: 0}
	runner := newTestRunner(server, &mockPlatform{}, nil, time.Hour)

	err := runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrTimeExpired)

	heartbeats, _, ends := server.snapshot()
	assert.Zero(t, heartbeats)
	assert.Equal(t, []string{core.EndReasonTimeExpired}, ends)
}

func TestRunner_AppliesApprovedExtensionOnce(t *testing.T) {
	server := &fakeServer{remaining: 10}
	events := make(chan realtime.Envelope, 4)
	runner := newTestRunner(server, &mockPlatform{}, events, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, runner)

	require.Eventually(t, func() bool { return runner.State().SessionID == "sess_1" }, time.Second, 5*time.Millisecond)

	requestID, err := runner.RequestExtension(ctx, "homework", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{requestID}, runner.State().Pending)

	response := realtime.ExtensionResponse{RequestID: requestID, Approved: true, AdditionalMinutes: 20}
	events <- envelope(t, realtime.EventExtensionResponse, response)
	events <- envelope(t, realtime.EventExtensionResponse, response)

	assert.Eventually(t, func() bool {
		_, bonuses, _ := server.snapshot()
		return len(bonuses) == 1
	}, time.Second, 5*time.Millisecond)

	// Give the duplicate a chance to be (wrongly) applied
	time.Sleep(20 * time.Millisecond)
	_, bonuses, _ := server.snapshot()
	assert.Equal(t, []int{20}, bonuses)
	assert.Empty(t, runner.State().Pending)
	assert.Equal(t, 30, runner.State().RemainingMinutes)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRunner_IgnoresForeignAndDeniedResponses(t *testing.T) {
	server := &fakeServer{remaining: 10}
	platform := &mockPlatform{}
	events := make(chan realtime.Envelope, 4)
	runner := newTestRunner(server, platform, events, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, runner)

	require.Eventually(t, func() bool { return runner.State().SessionID == "sess_1" }, time.Second, 5*time.Millisecond)

	// Another device's request
	events <- envelope(t, realtime.EventExtensionResponse, realtime.ExtensionResponse{RequestID: "ext_other", Approved: true, AdditionalMinutes: 15})

	requestID, err := runner.RequestExtension(ctx, "", 0)
	require.NoError(t, err)
	events <- envelope(t, realtime.EventExtensionResponse, realtime.ExtensionResponse{RequestID: requestID, Approved: false, Message: "bedtime"})

	assert.Eventually(t, func() bool { return len(runner.State().Pending) == 0 }, time.Second, 5*time.Millisecond)

	_, bonuses, _ := server.snapshot()
	assert.Empty(t, bonuses)

	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestRunner_DeviceRemoved(t *testing.T) {
	server := &fakeServer{remaining: 10}
	platform := &mockPlatform{}
	events := make(chan realtime.Envelope, 4)
	runner := newTestRunner(server, platform, events, time.Hour)

	done := runAsync(context.Background(), runner)
	require.Eventually(t, func() bool { return runner.State().DeviceID == "d1" }, time.Second, 5*time.Millisecond)

	events <- envelope(t, realtime.EventDeviceRemoved, realtime.DeviceRemoved{DeviceID: "d1"})

	assert.ErrorIs(t, waitDone(t, done), ErrDeviceRemoved)
	assert.Equal(t, 1, platform.lockCount())
}

func TestRunner_SessionEndedElsewhere(t *testing.T) {
	server := &fakeServer{
		remaining:    10,
		heartbeatErr: &APIError{StatusCode: http.StatusConflict, Code: "SESSION_NOT_ACTIVE"},
	}
	runner := newTestRunner(server, &mockPlatform{}, nil, 5*time.Millisecond)

	err := waitDone(t, runAsync(context.Background(), runner))
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestRunner_KeepsCountdownWhenServerUnreachable(t *testing.T) {
	server := &fakeServer{
		remaining:    10,
		heartbeatErr: &APIError{StatusCode: http.StatusServiceUnavailable, Retryable: true},
	}
	runner := newTestRunner(server, &mockPlatform{}, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, runner)

	assert.Eventually(t, func() bool {
		heartbeats, _, _ := server.snapshot()
		return heartbeats >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, runner.State().RemainingMinutes)

	cancel()
	require.NoError(t, waitDone(t, done))
}
