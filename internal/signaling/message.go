package signaling

import (
	"encoding/json"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// Message is the envelope for every websocket frame between client and relay.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	Target  string          `json:"target,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom  = "join-room"
	MessageTypeLeaveRoom = "leave-room"

	MessageTypeExistingUsers = "existing-users"
	MessageTypeUsersInRoom   = "users-in-room"
	MessageTypeUserJoined    = "user-joined"
	MessageTypeUserLeft      = "user-left"
	MessageTypeError         = "error"

	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"
)

type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// DescriptionPayload carries an offer or answer for one target.
type DescriptionPayload struct {
	Target      string           `json:"target"`
	Description mesh.Description `json:"description"`
}

type CandidatePayload struct {
	Target    string         `json:"target"`
	Candidate mesh.Candidate `json:"candidate"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds a message with payload encoded as JSON. A nil payload is omitted.
func NewMessage(typ string, payload any) (*Message, error) {
	msg := &Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "encode " + typ, Err: err}
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return &Error{Op: "decode " + m.Type, Err: ErrEmptyPayload}
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &Error{Op: "decode " + m.Type, Err: err}
	}
	return nil
}
