package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"kidfun/internal/core"
	"kidfun/internal/realtime"
)

const endTimeout = 10 * time.Second

var (
	ErrTimeExpired   = errors.New("daily budget used up")
	ErrSessionEnded  = errors.New("session was ended by the server")
	ErrDeviceRemoved = errors.New("device was unlinked")
)

// RunnerState is a snapshot of the runner (for testing/debugging)
type RunnerState struct {
	DeviceID         string
	SessionID        string
	Pending          []string
	RemainingMinutes int
}

// Runner keeps one session open on the server: it starts it, heartbeats
// on an interval, applies approved extensions and ends the session when
// the budget runs out or the agent stops.
type Runner struct {
	server    Server
	platform  Platform
	clock     core.Clock
	countdown *Countdown
	events    <-chan realtime.Envelope
	config    *Config
	logger    *slog.Logger

	mu        sync.Mutex
	deviceID  string
	sessionID string
	startedAt time.Time
	pending   []string // outstanding extension request ids, oldest first
}

// NewRunner creates a new runner. events may be nil when the agent is not
// subscribed to the family channel.
func NewRunner(server Server, platform Platform, clock core.Clock, events <-chan realtime.Envelope, config *Config, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		server:    server,
		platform:  platform,
		clock:     clock,
		countdown: NewCountdown(clock),
		events:    events,
		config:    config,
		logger:    logger.With("component", "runner"),
	}
}

// Run starts a session and keeps it alive until ctx is cancelled, which
// ends it with APP_CLOSED. It returns ErrTimeExpired once the budget is
// used up, after ending the session with TIME_EXPIRED.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	events := r.events
	for {
		select {
		case <-ctx.Done():
			r.end(core.EndReasonAppClosed)
			return nil
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				return err
			}
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := r.handleEvent(ctx, env); err != nil {
				return err
			}
		}
	}
}

// RequestExtension asks the parents for more time. The response arrives
// on the family channel.
func (r *Runner) RequestExtension(ctx context.Context, reason string, minutes int) (string, error) {
	requestID, err := r.server.RequestExtension(ctx, reason, minutes)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.pending = append(r.pending, requestID)
	r.mu.Unlock()

	r.logger.Info("extension requested", "request_id", requestID, "minutes", minutes)
	return requestID, nil
}

// State returns a copy of the current state
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerState{
		DeviceID:         r.deviceID,
		SessionID:        r.sessionID,
		Pending:          append([]string(nil), r.pending...),
		RemainingMinutes: r.countdown.Remaining(),
	}
}

func (r *Runner) start(ctx context.Context) error {
	status, err := r.server.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	resp, err := r.server.StartSession(ctx, r.config.AppName, r.config.ActivityType)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	r.mu.Lock()
	r.deviceID = status.DeviceID
	r.sessionID = resp.SessionID
	r.startedAt = r.clock.Now()
	r.mu.Unlock()
	r.countdown.Reset(resp.Remaining.RemainingMinutes)

	r.logger.Info("session started",
		"session_id", resp.SessionID,
		"remaining_minutes", resp.Remaining.RemainingMinutes)

	if r.countdown.Expired() {
		return r.expire()
	}
	return nil
}

func (r *Runner) heartbeat(ctx context.Context) error {
	r.mu.Lock()
	sessionID := r.sessionID
	elapsed := int(r.clock.Now().Sub(r.startedAt) / time.Minute)
	r.mu.Unlock()

	resp, err := r.server.Heartbeat(ctx, sessionID, elapsed)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			r.logger.Warn("session no longer active", "session_id", sessionID, "code", apiErr.Code)
			return ErrSessionEnded
		}
		// Keep enforcing from the local countdown until the server is back
		r.logger.Warn("heartbeat failed",
			"session_id", sessionID,
			"remaining_minutes", r.countdown.Remaining(),
			"error", err)
	} else {
		r.countdown.Reset(resp.RemainingMinutes)
		r.logger.Debug("heartbeat sent",
			"session_id", sessionID,
			"elapsed_minutes", elapsed,
			"remaining_minutes", resp.RemainingMinutes)

		if resp.Warning != nil {
			r.notify("Screen Time Warning", resp.Warning.Message)
		}
	}

	if r.countdown.Expired() {
		return r.expire()
	}
	return nil
}

func (r *Runner) handleEvent(ctx context.Context, env realtime.Envelope) error {
	switch env.Type {
	case realtime.EventExtensionResponse:
		var resp realtime.ExtensionResponse
		if err := env.Decode(&resp); err != nil {
			r.logger.Warn("malformed extension response", "error", err)
			return nil
		}
		return r.applyResponse(ctx, resp)

	case realtime.EventDeviceRemoved:
		var removed realtime.DeviceRemoved
		if err := env.Decode(&removed); err != nil {
			r.logger.Warn("malformed device removal", "error", err)
			return nil
		}
		r.mu.Lock()
		mine := removed.DeviceID == "" || removed.DeviceID == r.deviceID
		r.mu.Unlock()
		if !mine {
			return nil
		}
		r.logger.Warn("device unlinked by parent")
		r.lock()
		return ErrDeviceRemoved
	}

	return nil
}

// applyResponse grants an approved extension once. Responses to requests
// this agent did not make are ignored.
func (r *Runner) applyResponse(ctx context.Context, resp realtime.ExtensionResponse) error {
	if !r.claim(resp.RequestID) {
		r.logger.Debug("ignoring extension response", "request_id", resp.RequestID)
		return nil
	}

	if !resp.Approved {
		r.logger.Info("extension denied", "request_id", resp.RequestID)
		r.notify("Extension denied", resp.Message)
		return nil
	}

	bonus, err := r.server.AddBonus(ctx, resp.AdditionalMinutes)
	if err != nil {
		r.logger.Error("failed to apply extension",
			"request_id", resp.RequestID,
			"minutes", resp.AdditionalMinutes,
			"error", err)
		return nil
	}

	r.countdown.Reset(bonus.RemainingMinutes)
	r.logger.Info("extension applied",
		"request_id", resp.RequestID,
		"bonus_minutes", bonus.BonusMinutes,
		"remaining_minutes", bonus.RemainingMinutes)
	r.notify("Extension approved", fmt.Sprintf("%d more minutes", resp.AdditionalMinutes))
	return nil
}

// claim removes the request from the pending list. A response without a
// request id answers the oldest outstanding request.
func (r *Runner) claim(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return false
	}
	if requestID == "" {
		r.pending = r.pending[1:]
		return true
	}
	for i, id := range r.pending {
		if id == requestID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Runner) expire() error {
	r.logger.Info("time is up")
	r.end(core.EndReasonTimeExpired)
	r.lock()
	return ErrTimeExpired
}

// end completes the session; it runs on its own context so it still
// reaches the server after the run context is cancelled
func (r *Runner) end(reason string) {
	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()
	if sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()

	resp, err := r.server.EndSession(ctx, sessionID, reason)
	if err != nil {
		r.logger.Error("failed to end session", "session_id", sessionID, "reason", reason, "error", err)
		return
	}
	r.logger.Info("session ended",
		"session_id", sessionID,
		"reason", reason,
		"total_elapsed_minutes", resp.TotalElapsedMinutes)
}

func (r *Runner) lock() {
	if r.platform == nil {
		return
	}
	if err := r.platform.LockWorkstation(); err != nil {
		r.logger.Error("failed to lock workstation", "error", err)
	}
}

func (r *Runner) notify(title, message string) {
	if r.platform == nil {
		return
	}
	if err := r.platform.ShowWarningNotification(title, message); err != nil {
		r.logger.Error("failed to show notification", "error", err)
	}
}
