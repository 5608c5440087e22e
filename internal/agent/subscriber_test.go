package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kidfun/internal/realtime"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriber_ForwardsEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "A1B2C3D4", r.URL.Query().Get("device_code"))

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(ws.StatusNormalClosure, "")

		payload, _ := json.Marshal(realtime.ExtensionResponse{RequestID: "ext_1", Approved: true, AdditionalMinutes: 10})
		data, _ := json.Marshal(realtime.Envelope{Type: realtime.EventExtensionResponse, FamilyID: "acct1", Payload: payload})
		_ = conn.Write(r.Context(), ws.MessageText, []byte("not json"))
		_ = conn.Write(r.Context(), ws.MessageText, data)

		// Hold the connection until the client goes away
		conn.Read(r.Context())
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/child/ws?device_code=A1B2C3D4"
	subscriber := NewSubscriber(url, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Run(ctx)

	select {
	case env := <-subscriber.Events():
		assert.Equal(t, realtime.EventExtensionResponse, env.Type)
		var resp realtime.ExtensionResponse
		require.NoError(t, env.Decode(&resp))
		assert.Equal(t, "ext_1", resp.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
