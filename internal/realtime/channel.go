package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kidfun/internal/core"
	"kidfun/internal/idgen"
	"kidfun/internal/metrics"
)

// DefaultExtensionMinutes is requested when the child does not say how much
const DefaultExtensionMinutes = 30

var (
	ErrRoleNotAllowed = fmt.Errorf("%w: frame type not allowed for this role", core.ErrUnauthorized)
	ErrUnknownFrame   = fmt.Errorf("%w: unknown frame type", core.ErrInvalidInput)
)

// ExtensionRequest asks the parents of a family for more time
type ExtensionRequest struct {
	RequestID        string    `json:"request_id"`
	DeviceID         string    `json:"device_id,omitempty"`
	DeviceName       string    `json:"device_name"`
	ProfileName      string    `json:"profile_name"`
	Reason           string    `json:"reason"`
	RequestedMinutes int       `json:"requested_minutes"`
	Timestamp        time.Time `json:"timestamp"`
}

// ExtensionResponse is a parent's decision. RequestID is optional; the
// channel does not track outstanding requests.
type ExtensionResponse struct {
	RequestID         string    `json:"request_id,omitempty"`
	Approved          bool      `json:"approved"`
	AdditionalMinutes int       `json:"additional_minutes"`
	Message           string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
}

// DeviceRemoved tells a child device its linkage is gone
type DeviceRemoved struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame is a message sent by a subscriber over its connection
type InboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the envelope payload into v
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", core.ErrInvalidInput, e.Type, err)
	}
	return nil
}

// ChannelConfig holds the tunables of the negotiation channel
type ChannelConfig struct {
	DefaultMinutes int
	Clock          core.Clock
	Logger         *slog.Logger
}

// Channel relays extension negotiation between a family's child and parent
// endpoints. It is a stateless relay: nothing it publishes is persisted and
// nothing is retried.
type Channel struct {
	hub            *Hub
	broker         Broker
	clock          core.Clock
	defaultMinutes int
	logger         *slog.Logger
}

// NewChannel creates a channel publishing through broker to subscribers of hub
func NewChannel(hub *Hub, broker Broker, cfg ChannelConfig) *Channel {
	if cfg.DefaultMinutes <= 0 {
		cfg.DefaultMinutes = DefaultExtensionMinutes
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Channel{
		hub:            hub,
		broker:         broker,
		clock:          cfg.Clock,
		defaultMinutes: cfg.DefaultMinutes,
		logger:         cfg.Logger.With("component", "extension-channel"),
	}
}

// Join subscribes a member to its family channel
func (c *Channel) Join(member Member) (*Subscription, error) {
	return c.hub.Join(member)
}

// RequestExtension publishes a request to the parents of familyID
func (c *Channel) RequestExtension(ctx context.Context, familyID string, req ExtensionRequest) (*ExtensionRequest, error) {
	if familyID == "" {
		return nil, core.ErrMissingFamily
	}
	if req.RequestedMinutes < 0 {
		return nil, core.ErrInvalidRequestedTime
	}
	if req.RequestedMinutes == 0 {
		req.RequestedMinutes = c.defaultMinutes
	}
	if req.RequestID == "" {
		req.RequestID = idgen.NewExtension()
	}
	req.Reason = strings.TrimSpace(req.Reason)
	req.Timestamp = c.clock.Now()

	if err := c.publish(ctx, familyID, EventExtensionRequest, RoleParent, "", req); err != nil {
		return nil, err
	}

	c.logger.Info("Extension requested",
		"family_id", familyID,
		"request_id", req.RequestID,
		"device_id", req.DeviceID,
		"requested_minutes", req.RequestedMinutes)

	return &req, nil
}

// RespondExtension publishes a parent's decision to the whole family
func (c *Channel) RespondExtension(ctx context.Context, familyID string, resp ExtensionResponse) (*ExtensionResponse, error) {
	if familyID == "" {
		return nil, core.ErrMissingFamily
	}
	if resp.Approved && resp.AdditionalMinutes <= 0 {
		return nil, core.ErrInvalidAdditionalTime
	}
	if !resp.Approved {
		resp.AdditionalMinutes = 0
	}
	resp.Timestamp = c.clock.Now()

	if err := c.publish(ctx, familyID, EventExtensionResponse, "", "", resp); err != nil {
		return nil, err
	}

	c.logger.Info("Extension answered",
		"family_id", familyID,
		"request_id", resp.RequestID,
		"approved", resp.Approved,
		"additional_minutes", resp.AdditionalMinutes)

	return &resp, nil
}

// NotifyDeviceRemoved tells the unlinked device to drop its local linkage
func (c *Channel) NotifyDeviceRemoved(ctx context.Context, familyID, deviceID string) error {
	if familyID == "" {
		return core.ErrMissingFamily
	}

	event := DeviceRemoved{DeviceID: deviceID, Timestamp: c.clock.Now()}
	return c.publish(ctx, familyID, EventDeviceRemoved, "", deviceID, event)
}

// HandleInbound dispatches a frame sent by a subscriber. The role fixed at
// join time decides which frame types are allowed.
func (c *Channel) HandleInbound(ctx context.Context, member Member, frame InboundFrame) error {
	switch frame.Type {
	case InboundRequestExtension:
		if member.Role != RoleChild {
			return ErrRoleNotAllowed
		}

		var req ExtensionRequest
		if err := decodeFrame(frame, &req); err != nil {
			return err
		}
		req.DeviceID = member.DeviceID
		req.DeviceName = member.DeviceName
		req.ProfileName = member.ProfileName

		_, err := c.RequestExtension(ctx, member.FamilyID, req)
		return err

	case InboundRespondExtension:
		if member.Role != RoleParent {
			return ErrRoleNotAllowed
		}

		var resp ExtensionResponse
		if err := decodeFrame(frame, &resp); err != nil {
			return err
		}

		_, err := c.RespondExtension(ctx, member.FamilyID, resp)
		return err

	default:
		return ErrUnknownFrame
	}
}

func (c *Channel) publish(ctx context.Context, familyID, eventType string, audience Role, deviceID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}

	env := Envelope{
		Type:     eventType,
		FamilyID: familyID,
		Audience: audience,
		DeviceID: deviceID,
		Payload:  data,
	}

	if err := c.broker.Publish(ctx, env); err != nil {
		metrics.ChannelPublishErrors.Inc()
		c.logger.Warn("Publish failed", "family_id", familyID, "type", eventType, "error", err)
		return fmt.Errorf("%w: %v", core.ErrTransportUnavailable, err)
	}

	metrics.ChannelEvents.WithLabelValues(eventType).Inc()
	return nil
}

func decodeFrame(frame InboundFrame, v any) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", core.ErrInvalidInput, frame.Type, err)
	}
	return nil
}
