package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxPeers     = 8
	DefaultEmptyRoomTTL = 10 * time.Minute
)

// Error texts sent to clients in error messages.
const (
	errTextRoomNotFound = "Room not found"
	errTextRoomFull     = "Room is full"
	errTextNotInRoom    = "You must join a room first"
)

type HubOptions struct {
	// MaxPeers caps room membership. Zero means DefaultMaxPeers.
	MaxPeers int
	// EmptyRoomTTL is how long a room survives with nobody in it.
	EmptyRoomTTL time.Duration
	Logger       zerolog.Logger
}

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns every room and client. All of that state is touched only by the
// goroutine running Run.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	calls      chan func()
	done       chan struct{}

	maxPeers int
	roomTTL  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = DefaultMaxPeers
	}
	if opts.EmptyRoomTTL <= 0 {
		opts.EmptyRoomTTL = DefaultEmptyRoomTTL
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		maxPeers:   opts.MaxPeers,
		roomTTL:    opts.EmptyRoomTTL,
		now:        time.Now,
		log:        opts.Logger.With().Str("component", "hub").Logger(),
	}
}

// Run processes hub events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.roomTTL / 2)
	defer sweep.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.disconnect(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug().Str("client", c.ID).Str("addr", c.conn.RemoteAddr().String()).Msg("client registered")

		case c := <-h.unregister:
			if h.clients[c] {
				h.disconnect(c)
			}

		case in := <-h.inbound:
			if h.clients[in.client] {
				h.handle(in.client, in.msg)
			}

		case fn := <-h.calls:
			fn()

		case <-sweep.C:
			h.sweep()
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) deliver(c *Client, msg *signaling.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// call runs fn on the hub goroutine and waits for it.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRoom registers a new empty room and returns its id.
func (h *Hub) CreateRoom(ctx context.Context) (string, error) {
	var id string
	err := h.call(ctx, func() {
		for {
			id = roomName()
			if _, taken := h.rooms[id]; !taken {
				break
			}
		}
		h.rooms[id] = newRoom(id, h.now())
		h.log.Info().Str("room", id).Msg("room created")
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (h *Hub) RoomExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := h.call(ctx, func() {
		_, ok = h.rooms[normalizeRoomID(id)]
	})
	return ok, err
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		var p signaling.JoinRoomPayload
		if err := msg.Decode(&p); err != nil {
			h.log.Warn().Err(err).Str("client", c.ID).Msg("malformed join")
			return
		}
		h.joinRoom(c, p)

	case signaling.MessageTypeLeaveRoom:
		h.leaveRoom(c)

	case signaling.MessageTypeOffer, signaling.MessageTypeAnswer, signaling.MessageTypeICECandidate:
		h.forward(c, msg)

	default:
		h.log.Debug().Str("type", msg.Type).Str("client", c.ID).Msg("unknown message type")
	}
}

func (h *Hub) joinRoom(c *Client, p signaling.JoinRoomPayload) {
	id := normalizeRoomID(p.RoomID)
	room, ok := h.rooms[id]
	if !ok {
		h.log.Debug().Str("room", id).Msg("join failed: room not found")
		h.sendError(c, errTextRoomNotFound)
		return
	}
	if c.RoomID == id {
		return
	}
	if room.Len() >= h.maxPeers {
		h.log.Debug().Str("room", id).Msg("join failed: room is full")
		h.sendError(c, errTextRoomFull)
		return
	}
	if c.RoomID != "" {
		h.leaveRoom(c)
	}

	existing := room.peers(nil)
	c.DisplayName = p.DisplayName
	c.RoomID = id
	room.add(c)
	h.log.Info().Str("room", id).Str("client", c.ID).Int("members", room.Len()).Msg("client joined")

	roster, _ := json.Marshal(existing)
	h.send(c, &signaling.Message{
		Type:    signaling.MessageTypeExistingUsers,
		Payload: roster,
		RoomID:  id,
		Target:  c.ID,
	})

	joined, _ := json.Marshal(c.peer())
	h.broadcast(room, c, &signaling.Message{
		Type:    signaling.MessageTypeUserJoined,
		Payload: joined,
		RoomID:  id,
	})
}

func (h *Hub) leaveRoom(c *Client) {
	if c.RoomID == "" {
		return
	}
	room, ok := h.rooms[c.RoomID]
	c.RoomID = ""
	if !ok || !room.remove(c, h.now()) {
		return
	}
	h.log.Info().Str("room", room.ID).Str("client", c.ID).Int("members", room.Len()).Msg("client left")

	left, _ := json.Marshal(c.ID)
	h.broadcast(room, c, &signaling.Message{
		Type:    signaling.MessageTypeUserLeft,
		Payload: left,
		RoomID:  room.ID,
	})
}

// forward relays a negotiation message to the member named in its payload.
func (h *Hub) forward(c *Client, msg *signaling.Message) {
	if c.RoomID == "" {
		h.sendError(c, errTextNotInRoom)
		return
	}
	room, ok := h.rooms[c.RoomID]
	if !ok {
		h.sendError(c, errTextRoomNotFound)
		return
	}

	var addressed struct {
		Target string `json:"target"`
	}
	if err := msg.Decode(&addressed); err != nil || addressed.Target == "" {
		h.log.Debug().Str("type", msg.Type).Str("client", c.ID).Msg("dropping message without target")
		return
	}
	target := room.member(addressed.Target)
	if target == nil || target == c {
		h.log.Debug().Str("type", msg.Type).Str("target", addressed.Target).Msg("dropping message for unknown target")
		return
	}

	h.send(target, &signaling.Message{
		Type:    msg.Type,
		Payload: msg.Payload,
		RoomID:  room.ID,
		From:    c.ID,
		Target:  target.ID,
	})
}

func (h *Hub) broadcast(room *Room, skip *Client, msg *signaling.Message) {
	for _, m := range append([]*Client(nil), room.members...) {
		if m != skip {
			h.send(m, msg)
		}
	}
}

// send queues msg for c. A client that cannot keep up is disconnected.
func (h *Hub) send(c *Client, msg *signaling.Message) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn().Str("client", c.ID).Msg("send buffer full, dropping client")
		h.disconnect(c)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	payload, _ := json.Marshal(signaling.ErrorPayload{Message: text})
	h.send(c, &signaling.Message{Type: signaling.MessageTypeError, Payload: payload})
}

// disconnect removes c from its room and stops its write pump.
func (h *Hub) disconnect(c *Client) {
	delete(h.clients, c)
	h.leaveRoom(c)
	close(c.send)
	h.log.Debug().Str("client", c.ID).Msg("client unregistered")
}

// sweep deletes rooms that stayed empty longer than the TTL.
func (h *Hub) sweep() {
	now := h.now()
	for id, room := range h.rooms {
		if room.Len() == 0 && now.Sub(room.emptySince) >= h.roomTTL {
			delete(h.rooms, id)
			h.log.Info().Str("room", id).Msg("room expired")
		}
	}
}

func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
