package mesh

import "fmt"

// PeerID identifies a participant inside a room. The relay assigns it.
type PeerID string

func (id PeerID) String() string {
	return string(id)
}

// Short returns the first six characters of the id, used for labels.
func (id PeerID) Short() string {
	if len(id) > 6 {
		return string(id[:6])
	}
	return string(id)
}

// Peer is a room member as announced by the relay.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName"`
}

// Label returns the display name, falling back to the short id.
func (p Peer) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return "User " + p.ID.Short()
}

type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is a session description in its browser-compatible JSON shape.
type Description struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

// Candidate is one trickled network-path candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ICEServer is handed to the engine factory for every new link.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// MediaStream is an opaque handle on media owned by the engine implementation.
// Local streams are attached to engines, remote streams are reported to observers.
type MediaStream interface {
	StreamID() string
}

// Role is the side a link plays in its negotiation.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State is the negotiation state of a link.
type State int

const (
	StateIdle State = iota
	StateOfferCreated
	StateOfferReceived
	StateAnswerExchanged
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferCreated:
		return "offer-created"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerExchanged:
		return "answer-exchanged"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransportState mirrors the engine's connection state. It runs alongside
// the negotiation state and is not derived from it.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// RemoveReason says why a peer left the mesh.
type RemoveReason string

const (
	ReasonLeft              RemoveReason = "left"
	ReasonConnectionLost    RemoveReason = "connection-lost"
	ReasonNegotiationFailed RemoveReason = "negotiation-failed"
	ReasonLocal             RemoveReason = "local"
)
