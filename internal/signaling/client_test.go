package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRelay answers join-room with an empty roster and records every frame.
func echoRelay(t *testing.T, got chan<- *Message) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			got <- &msg
			if msg.Type == MessageTypeJoinRoom {
				reply, _ := NewMessage(MessageTypeExistingUsers, []mesh.Peer{})
				reply.Target = "me"
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	got := make(chan *Message, 8)
	srv := echoRelay(t, got)
	defer srv.Close()

	c := NewClient(wsURL(srv), dns.NewResolver(dns.Options{Logger: zerolog.Nop()}), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	require.NoError(t, c.JoinRoom("ROOM1", "alice"))
	first := <-got
	assert.Equal(t, MessageTypeJoinRoom, first.Type)
	var join JoinRoomPayload
	require.NoError(t, first.Decode(&join))
	assert.Equal(t, JoinRoomPayload{RoomID: "ROOM1", DisplayName: "alice"}, join)

	select {
	case msg := <-c.Incoming():
		assert.Equal(t, MessageTypeExistingUsers, msg.Type)
		assert.Equal(t, "me", msg.Target)
	case <-ctx.Done():
		t.Fatal("no roster received")
	}

	require.NoError(t, c.SendOffer("peer-b", mesh.Description{Type: mesh.DescriptionOffer, SDP: "v=0"}))
	offer := <-got
	var p DescriptionPayload
	require.NoError(t, offer.Decode(&p))
	assert.Equal(t, "peer-b", p.Target)
	assert.Equal(t, "v=0", p.Description.SDP)
}

func TestClientFlushesOnClose(t *testing.T) {
	got := make(chan *Message, 8)
	srv := echoRelay(t, got)
	defer srv.Close()

	c := NewClient(wsURL(srv), dns.NewResolver(dns.Options{Logger: zerolog.Nop()}), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.LeaveRoom("ROOM1"))
	c.Close()
	c.Close()

	select {
	case msg := <-got:
		assert.Equal(t, MessageTypeLeaveRoom, msg.Type)
	case <-ctx.Done():
		t.Fatal("leave-room was not delivered")
	}
	assert.ErrorIs(t, c.LeaveRoom("ROOM1"), ErrClosed)

	// Incoming is closed once the connection is gone.
	for range c.Incoming() {
	}
}

func TestClientConnectFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", dns.NewResolver(dns.Options{Logger: zerolog.Nop()}), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
}

func TestClientSendBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", dns.NewResolver(dns.Options{Logger: zerolog.Nop()}), zerolog.Nop())
	err := c.JoinRoom("ROOM", "me")
	assert.ErrorIs(t, err, ErrNotConnected)
}
