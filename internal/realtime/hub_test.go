package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"kidfun/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func child(family, device string) Member {
	return Member{FamilyID: family, Role: RoleChild, DeviceID: device, DeviceName: "Laptop", ProfileName: "Alice"}
}

func parent(family string) Member {
	return Member{FamilyID: family, Role: RoleParent, AccountID: family}
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected event %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_JoinLeave(t *testing.T) {
	hub := NewHub(slog.Default())

	c, err := hub.Join(child("fam1", "d1"))
	require.NoError(t, err)
	p, err := hub.Join(parent("fam1"))
	require.NoError(t, err)

	assert.Equal(t, 2, hub.Count("fam1", ""))
	assert.Equal(t, 1, hub.Count("fam1", RoleParent))
	assert.Equal(t, RoleChild, c.Role())

	c.Leave()
	// Should not panic
	c.Leave()
	assert.Equal(t, 1, hub.Count("fam1", ""))

	_, ok := <-c.Events()
	assert.False(t, ok)

	p.Leave()
	assert.Equal(t, 0, hub.Count("fam1", ""))
}

func TestHub_JoinRequiresFamily(t *testing.T) {
	hub := NewHub(slog.Default())

	_, err := hub.Join(Member{Role: RoleChild})
	assert.ErrorIs(t, err, core.ErrMissingFamily)
}

func TestHub_DeliverFiltersByAudienceAndDevice(t *testing.T) {
	hub := NewHub(slog.Default())

	c1, _ := hub.Join(child("fam1", "d1"))
	c2, _ := hub.Join(child("fam1", "d2"))
	p, _ := hub.Join(parent("fam1"))
	other, _ := hub.Join(parent("fam2"))

	n := hub.Deliver(Envelope{Type: EventExtensionRequest, FamilyID: "fam1", Audience: RoleParent})
	assert.Equal(t, 1, n)
	assert.Equal(t, EventExtensionRequest, receive(t, p).Type)
	assertNothing(t, c1)
	assertNothing(t, other)

	n = hub.Deliver(Envelope{Type: EventDeviceRemoved, FamilyID: "fam1", DeviceID: "d2"})
	assert.Equal(t, 2, n)
	assert.Equal(t, EventDeviceRemoved, receive(t, c2).Type)
	assert.Equal(t, EventDeviceRemoved, receive(t, p).Type)
	assertNothing(t, c1)

	n = hub.Deliver(Envelope{Type: EventExtensionResponse, FamilyID: "fam1"})
	assert.Equal(t, 3, n)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(slog.Default())
	p, _ := hub.Join(parent("fam1"))

	for i := 0; i < subscriptionBufferSize; i++ {
		assert.Equal(t, 1, hub.Deliver(Envelope{Type: EventExtensionResponse, FamilyID: "fam1"}))
	}
	assert.Equal(t, 0, hub.Deliver(Envelope{Type: EventExtensionResponse, FamilyID: "fam1"}))
	assert.Len(t, p.Events(), subscriptionBufferSize)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(slog.Default())
	sub, _ := hub.Join(parent("fam1"))

	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Leave after Close is a no-op
	sub.Leave()

	_, err := hub.Join(parent("fam1"))
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestLocalBroker_Publish(t *testing.T) {
	hub := NewHub(slog.Default())
	broker := NewLocalBroker(hub)
	sub, _ := hub.Join(parent("fam1"))

	payload, _ := json.Marshal(map[string]string{"k": "v"})
	require.NoError(t, broker.Publish(context.Background(), Envelope{Type: "x", FamilyID: "fam1", Payload: payload}))
	assert.JSONEq(t, `{"k":"v"}`, string(receive(t, sub).Payload))

	require.NoError(t, broker.Close())
	assert.ErrorIs(t, broker.Publish(context.Background(), Envelope{FamilyID: "fam1"}), ErrBrokerClosed)
}
