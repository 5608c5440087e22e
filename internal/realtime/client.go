package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
)

const (
	replyBufferSize = 4
	pingInterval    = 30 * time.Second
)

// errorPayload is sent back when an inbound frame is rejected
type errorPayload struct {
	Error string `json:"error"`
}

// Client is one WebSocket connection bound to a family subscription
type Client struct {
	conn    *ws.Conn
	sub     *Subscription
	channel *Channel
	replies chan Envelope
	logger  *slog.Logger
}

// NewClient creates a Client for an accepted connection and its subscription
func NewClient(conn *ws.Conn, sub *Subscription, channel *Channel, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		sub:     sub,
		channel: channel,
		replies: make(chan Envelope, replyBufferSize),
		logger:  logger,
	}
}

// Run starts the write pump and runs the read pump. It blocks until the
// connection is closed or the subscription ends, then leaves the channel.
func (c *Client) Run(ctx context.Context) {
	defer c.sub.Leave()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)

	c.conn.Close(ws.StatusNormalClosure, "")
}

// readPump decodes inbound frames and hands them to the channel
func (c *Client) readPump(ctx context.Context) {
	member := c.sub.Member()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(member.FamilyID, "malformed frame")
			continue
		}

		if err := c.channel.HandleInbound(ctx, member, frame); err != nil {
			c.logger.Debug("Inbound frame rejected",
				"family_id", member.FamilyID,
				"role", member.Role,
				"type", frame.Type,
				"error", err)
			c.reply(member.FamilyID, err.Error())
		}
	}
}

func (c *Client) reply(familyID, message string) {
	payload, _ := json.Marshal(errorPayload{Error: message})
	select {
	case c.replies <- Envelope{Type: "error", FamilyID: familyID, Payload: payload}:
	default:
	}
}

// writePump drains the subscription and reply channels and writes them to the
// WebSocket. It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.sub.Events():
			if !ok {
				// Hub closed the subscription
				return
			}
			if err := c.write(ctx, env); err != nil {
				return
			}
		case env := <-c.replies:
			if err := c.write(ctx, env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, ws.MessageText, data)
}

// Serve joins member to its family channel, upgrades the request and runs the
// connection until either side closes it
func Serve(w http.ResponseWriter, r *http.Request, channel *Channel, member Member, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	sub, err := channel.Join(member)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // device agents and parent apps connect from any origin
	})
	if err != nil {
		sub.Leave()
		logger.Warn("WebSocket accept failed", "error", err)
		return
	}

	NewClient(conn, sub, channel, logger.With("component", "realtime-client")).Run(r.Context())
}
