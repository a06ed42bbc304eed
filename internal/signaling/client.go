package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *Message
	outgoing  chan *Message
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
	resolver  *dns.Resolver
	log       zerolog.Logger
}

// NewClient creates a new signaling client. The relay host is resolved
// through resolver.
func NewClient(serverURL string, resolver *dns.Resolver, log zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		resolver:  resolver,
		incoming:  make(chan *Message, 16),
		outgoing:  make(chan *Message, 64),
		done:      make(chan struct{}),
		log:       log.With().Str("component", "signaling").Logger(),
	}
}

// Connect establishes WebSocket connection to the relay.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = c.resolver.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.log.Debug().Str("url", u.String()).Msg("connected")

	c.connected.Store(true)
	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Warn().Err(err).Str("type", message.Type).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes messages queued before Close, such as leave-room.
func (c *Client) drain() {
	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for the relay.
func (c *Client) Send(msg *Message) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) send(typ string, payload any) error {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		return err
	}
	if err := c.Send(msg); err != nil {
		return &Error{Op: "send " + typ, Err: err}
	}
	return nil
}

func (c *Client) JoinRoom(roomID, displayName string) error {
	return c.send(MessageTypeJoinRoom, JoinRoomPayload{RoomID: roomID, DisplayName: displayName})
}

func (c *Client) LeaveRoom(roomID string) error {
	return c.send(MessageTypeLeaveRoom, roomID)
}

func (c *Client) SendOffer(target mesh.PeerID, d mesh.Description) error {
	return c.send(MessageTypeOffer, DescriptionPayload{Target: target.String(), Description: d})
}

func (c *Client) SendAnswer(target mesh.PeerID, d mesh.Description) error {
	return c.send(MessageTypeAnswer, DescriptionPayload{Target: target.String(), Description: d})
}

func (c *Client) SendCandidate(target mesh.PeerID, cand mesh.Candidate) error {
	return c.send(MessageTypeICECandidate, CandidatePayload{Target: target.String(), Candidate: cand})
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection drops.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close closes the WebSocket connection after flushing queued messages.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
