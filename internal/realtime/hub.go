package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"kidfun/internal/core"
	"kidfun/internal/metrics"
)

const subscriptionBufferSize = 16

// ErrHubClosed is returned by Join after Close
var ErrHubClosed = errors.New("realtime hub closed")

// Role is fixed when a member joins its family channel
type Role string

const (
	RoleChild  Role = "child"
	RoleParent Role = "parent"
)

// Outbound event names
const (
	EventExtensionRequest  = "timeExtensionRequest"
	EventExtensionResponse = "timeExtensionResponse"
	EventDeviceRemoved     = "deviceRemoved"
)

// Inbound frame types accepted from subscribers
const (
	InboundRequestExtension = "requestTimeExtension"
	InboundRespondExtension = "respondTimeExtension"
)

// Envelope is one event on a family channel.
// Audience limits delivery to one role; DeviceID limits delivery to a single
// child device. Parents receive device-scoped events regardless.
type Envelope struct {
	Type     string          `json:"type"`
	FamilyID string          `json:"family_id"`
	Audience Role            `json:"audience,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Member identifies who is joining a family channel
type Member struct {
	FamilyID    string
	Role        Role
	DeviceID    string // set for children
	DeviceName  string
	ProfileName string
	AccountID   string // set for parents
}

// Subscription is a member's handle on its family channel
type Subscription struct {
	hub    *Hub
	member Member
	events chan Envelope
}

// Events returns the channel of delivered envelopes. It is closed on Leave.
func (s *Subscription) Events() <-chan Envelope {
	return s.events
}

// Member returns who owns the subscription
func (s *Subscription) Member() Member {
	return s.member
}

// Role returns the role fixed at join time
func (s *Subscription) Role() Role {
	return s.member.Role
}

// Leave removes the subscription from its family channel
func (s *Subscription) Leave() {
	s.hub.leave(s)
}

func (s *Subscription) accepts(env Envelope) bool {
	if env.Audience != "" && env.Audience != s.member.Role {
		return false
	}
	if env.DeviceID != "" && s.member.Role == RoleChild && env.DeviceID != s.member.DeviceID {
		return false
	}
	return true
}

// Hub is the in-process registry of family channels
type Hub struct {
	mu       sync.Mutex
	families map[string]map[*Subscription]struct{}
	closed   bool
	logger   *slog.Logger
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		families: make(map[string]map[*Subscription]struct{}),
		logger:   logger.With("component", "realtime-hub"),
	}
}

// Join subscribes a member to its family channel
func (h *Hub) Join(member Member) (*Subscription, error) {
	if member.FamilyID == "" {
		return nil, core.ErrMissingFamily
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		hub:    h,
		member: member,
		events: make(chan Envelope, subscriptionBufferSize),
	}

	family, ok := h.families[member.FamilyID]
	if !ok {
		family = make(map[*Subscription]struct{})
		h.families[member.FamilyID] = family
	}
	family[sub] = struct{}{}
	metrics.ActiveSubscriptions.WithLabelValues(string(member.Role)).Inc()

	h.logger.Debug("Member joined family channel",
		"family_id", member.FamilyID,
		"role", member.Role,
		"device_id", member.DeviceID)

	return sub, nil
}

func (h *Hub) leave(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	family, ok := h.families[sub.member.FamilyID]
	if !ok {
		return
	}
	if _, ok := family[sub]; !ok {
		return
	}

	delete(family, sub)
	if len(family) == 0 {
		delete(h.families, sub.member.FamilyID)
	}
	close(sub.events)
	metrics.ActiveSubscriptions.WithLabelValues(string(sub.member.Role)).Dec()
}

// Deliver fans an envelope out to the matching subscribers of its family and
// returns how many received it. Slow subscribers whose buffer is full miss it.
func (h *Hub) Deliver(env Envelope) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.families[env.FamilyID] {
		if !sub.accepts(env) {
			continue
		}
		select {
		case sub.events <- env:
			delivered++
		default:
			h.logger.Warn("Subscriber buffer full, dropping event",
				"family_id", env.FamilyID,
				"type", env.Type,
				"role", sub.member.Role)
		}
	}

	return delivered
}

// Count returns the number of subscribers on a family channel with the given
// role, or all of them when role is empty
func (h *Hub) Count(familyID string, role Role) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for sub := range h.families[familyID] {
		if role == "" || sub.member.Role == role {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber and rejects further joins
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for familyID, family := range h.families {
		for sub := range family {
			close(sub.events)
			metrics.ActiveSubscriptions.WithLabelValues(string(sub.member.Role)).Dec()
		}
		delete(h.families, familyID)
	}
}
