package realtime

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBrokerClosed is returned by Publish after Close
var ErrBrokerClosed = errors.New("broker closed")

// Broker carries envelopes to every hub serving the envelope's family
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// LocalBroker delivers straight into a single in-process hub
type LocalBroker struct {
	hub    *Hub
	closed atomic.Bool
}

// NewLocalBroker creates a broker for single-instance deployments
func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

// Publish delivers env to the hub
func (b *LocalBroker) Publish(ctx context.Context, env Envelope) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.hub.Deliver(env)
	return nil
}

// Close stops accepting publishes
func (b *LocalBroker) Close() error {
	b.closed.Store(true)
	return nil
}
