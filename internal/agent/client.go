package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DeviceCodeHeader carries the device code on every request
const DeviceCodeHeader = "X-Device-Code"

// Remaining is the server's budget breakdown
type Remaining struct {
	ConfiguredLimit  int `json:"configured_limit"`
	UsedMinutes      int `json:"used_minutes"`
	BonusMinutes     int `json:"bonus_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
}

// ActiveSession is the session the server considers open on the device
type ActiveSession struct {
	ID              string `json:"id"`
	StartTime       string `json:"start_time"`
	ReportedMinutes int    `json:"reported_minutes"`
	BonusMinutes    int    `json:"bonus_minutes"`
}

// Status is the response of GET /child/status
type Status struct {
	DeviceID      string         `json:"device_id"`
	ProfileID     string         `json:"profile_id"`
	Remaining     Remaining      `json:"remaining"`
	ActiveSession *ActiveSession `json:"active_session,omitempty"`
}

// StartResponse is the response of POST /child/session/start
type StartResponse struct {
	SessionID string    `json:"session_id"`
	Remaining Remaining `json:"remaining"`
}

// Warning is a threshold warning fired by the server
type Warning struct {
	ID               string `json:"id"`
	WarningType      string `json:"warning_type"`
	Message          string `json:"message"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

// HeartbeatResponse is the response of POST /child/session/heartbeat
type HeartbeatResponse struct {
	SessionID        string   `json:"session_id"`
	RemainingMinutes int      `json:"remaining_minutes"`
	Warning          *Warning `json:"warning,omitempty"`
}

// EndResponse is the response of POST /child/session/end
type EndResponse struct {
	SessionID           string `json:"session_id"`
	TotalElapsedMinutes int    `json:"total_elapsed_minutes"`
	Reason              string `json:"reason"`
	AlreadyEnded        bool   `json:"already_ended"`
}

// BonusResponse is the response of POST /child/bonus
type BonusResponse struct {
	SessionID        string `json:"session_id"`
	BonusMinutes     int    `json:"bonus_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

// APIError is an error response from the server
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Server is the child surface of the kidfun API
type Server interface {
	Status(ctx context.Context) (*Status, error)
	StartSession(ctx context.Context, appName, activityType string) (*StartResponse, error)
	Heartbeat(ctx context.Context, sessionID string, elapsedMinutes int) (*HeartbeatResponse, error)
	EndSession(ctx context.Context, sessionID, reason string) (*EndResponse, error)
	AddBonus(ctx context.Context, minutes int) (*BonusResponse, error)
	RequestExtension(ctx context.Context, reason string, minutes int) (string, error)
}

// HTTPClient implements Server over HTTP
type HTTPClient struct {
	baseURL    string
	deviceCode string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP client for the child API
func NewHTTPClient(baseURL, deviceCode string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceCode: deviceCode,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With("component", "kidfun-client"),
	}
}

// Status retrieves the remaining budget of the device's profile
func (c *HTTPClient) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/child/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StartSession opens a new session
func (c *HTTPClient) StartSession(ctx context.Context, appName, activityType string) (*StartResponse, error) {
	body := map[string]string{}
	if appName != "" {
		body["app_name"] = appName
	}
	if activityType != "" {
		body["activity_type"] = activityType
	}

	var resp StartResponse
	if err := c.do(ctx, http.MethodPost, "/child/session/start", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat reports the client's elapsed minutes
func (c *HTTPClient) Heartbeat(ctx context.Context, sessionID string, elapsedMinutes int) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/child/session/heartbeat", map[string]any{
		"session_id":      sessionID,
		"elapsed_minutes": elapsedMinutes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndSession completes a session
func (c *HTTPClient) EndSession(ctx context.Context, sessionID, reason string) (*EndResponse, error) {
	var resp EndResponse
	err := c.do(ctx, http.MethodPost, "/child/session/end", map[string]string{
		"session_id": sessionID,
		"reason":     reason,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddBonus applies granted minutes to the active session
func (c *HTTPClient) AddBonus(ctx context.Context, minutes int) (*BonusResponse, error) {
	var resp BonusResponse
	if err := c.do(ctx, http.MethodPost, "/child/bonus", map[string]int{"additional_minutes": minutes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestExtension asks the parents for more time and returns the request id
func (c *HTTPClient) RequestExtension(ctx context.Context, reason string, minutes int) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	err := c.do(ctx, http.MethodPost, "/child/extension/request", map[string]any{
		"reason":            reason,
		"requested_minutes": minutes,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// WebSocketURL returns the child subscription URL
func (c *HTTPClient) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/child/ws"
	q := u.Query()
	q.Set("device_code", c.deviceCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(DeviceCodeHeader, c.deviceCode)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("calling server", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Ensure HTTPClient implements Server
var _ Server = (*HTTPClient)(nil)
