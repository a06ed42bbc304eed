package signaling

import (
	"context"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/rs/zerolog"
)

// Sink receives decoded relay messages. *mesh.Coordinator implements it.
type Sink interface {
	RoomJoined(roomID string, self mesh.Peer, existing []mesh.Peer)
	PeerJoined(p mesh.Peer)
	PeerLeft(id mesh.PeerID)
	InboundOffer(from mesh.PeerID, d mesh.Description)
	InboundAnswer(from mesh.PeerID, d mesh.Description)
	InboundCandidate(from mesh.PeerID, c mesh.Candidate)
	SignalingError(message string)
}

// Handler routes incoming relay messages to a Sink.
type Handler struct {
	incoming    <-chan *Message
	sink        Sink
	roomID      string
	displayName string
	log         zerolog.Logger
}

// NewHandler creates a handler for one room join. roomID and displayName
// describe the local participant and fill in what the relay leaves out.
func NewHandler(client *Client, sink Sink, roomID, displayName string, log zerolog.Logger) *Handler {
	return newHandler(client.Incoming(), sink, roomID, displayName, log)
}

func newHandler(incoming <-chan *Message, sink Sink, roomID, displayName string, log zerolog.Logger) *Handler {
	return &Handler{
		incoming:    incoming,
		sink:        sink,
		roomID:      roomID,
		displayName: displayName,
		log:         log.With().Str("component", "signaling").Str("room", roomID).Logger(),
	}
}

// Run routes messages until ctx is done or the connection drops, in which
// case it returns ErrDisconnected.
func (h *Handler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-h.incoming:
			if !ok {
				return ErrDisconnected
			}
			h.handle(msg)
		}
	}
}

func (h *Handler) handle(msg *Message) {
	switch msg.Type {

	case MessageTypeExistingUsers, MessageTypeUsersInRoom:
		h.handleExistingUsers(msg)

	case MessageTypeUserJoined:
		var p mesh.Peer
		if err := msg.Decode(&p); err != nil || p.ID == "" {
			h.log.Warn().Err(err).Msg("malformed user-joined")
			return
		}
		h.sink.PeerJoined(p)

	case MessageTypeUserLeft:
		var id string
		if err := msg.Decode(&id); err != nil || id == "" {
			h.log.Warn().Err(err).Msg("malformed user-left")
			return
		}
		h.sink.PeerLeft(mesh.PeerID(id))

	case MessageTypeOffer, MessageTypeAnswer:
		h.handleDescription(msg)

	case MessageTypeICECandidate:
		var p CandidatePayload
		if err := msg.Decode(&p); err != nil || msg.From == "" {
			h.log.Warn().Err(err).Str("from", msg.From).Msg("malformed ice-candidate")
			return
		}
		h.sink.InboundCandidate(mesh.PeerID(msg.From), p.Candidate)

	case MessageTypeError:
		h.handleError(msg)

	default:
		h.log.Debug().Str("type", msg.Type).Msg("unhandled message")
	}
}

// handleExistingUsers is the join confirmation. The relay addresses it to us,
// which is how we learn our own id.
func (h *Handler) handleExistingUsers(msg *Message) {
	var users []mesh.Peer
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&users); err != nil {
			h.log.Warn().Err(err).Msg("malformed roster")
			return
		}
	}

	roomID := msg.RoomID
	if roomID == "" {
		roomID = h.roomID
	}
	self := mesh.Peer{ID: mesh.PeerID(msg.Target), DisplayName: h.displayName}
	h.sink.RoomJoined(roomID, self, users)
}

func (h *Handler) handleDescription(msg *Message) {
	var p DescriptionPayload
	if err := msg.Decode(&p); err != nil || msg.From == "" {
		h.log.Warn().Err(err).Str("type", msg.Type).Str("from", msg.From).Msg("malformed description")
		return
	}

	from := mesh.PeerID(msg.From)
	if msg.Type == MessageTypeOffer {
		if p.Description.Type == "" {
			p.Description.Type = mesh.DescriptionOffer
		}
		h.sink.InboundOffer(from, p.Description)
		return
	}
	if p.Description.Type == "" {
		p.Description.Type = mesh.DescriptionAnswer
	}
	h.sink.InboundAnswer(from, p.Description)
}

func (h *Handler) handleError(msg *Message) {
	var p ErrorPayload
	if err := msg.Decode(&p); err != nil || p.Message == "" {
		// The payload may also be a bare string.
		var s string
		if err := msg.Decode(&s); err == nil && s != "" {
			h.sink.SignalingError(s)
			return
		}
		h.sink.SignalingError("Unknown error from server")
		return
	}
	h.sink.SignalingError(p.Message)
}
