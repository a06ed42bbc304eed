package mesh

import "context"

// Engine is one media-transport instance, owned by exactly one Link.
// Description and candidate methods are called from the link's worker,
// never from the coordinator loop.
type Engine interface {
	AttachLocalMedia(stream MediaStream) error

	// CreateOffer must request inbound audio and video.
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(ctx context.Context, d Description) error
	SetRemoteDescription(ctx context.Context, d Description) error
	AddCandidate(c Candidate) error

	OnLocalCandidate(fn func(Candidate))
	OnRemoteTrack(fn func(MediaStream))
	OnConnectionStateChange(fn func(TransportState))

	Close() error
}

// Departer is implemented by engines that hear when the remote side hangs up
// on purpose. The link is then removed as if the peer had left the room.
type Departer interface {
	OnDeparture(fn func())
}

// EngineFactory builds one engine per link.
type EngineFactory interface {
	NewEngine(peer PeerID, iceServers []ICEServer) (Engine, error)
}

// Signaler carries outbound negotiation messages to a single named peer.
type Signaler interface {
	SendOffer(target PeerID, d Description) error
	SendAnswer(target PeerID, d Description) error
	SendCandidate(target PeerID, c Candidate) error
}

// Observer receives mesh changes. Calls are made from the coordinator loop
// and must not block.
type Observer interface {
	RoomJoined(roomID string, self Peer)
	PeerAdded(p Peer)
	PeerRemoved(id PeerID, reason RemoveReason)
	LinkState(id PeerID, role Role, s State)
	TransportState(id PeerID, s TransportState)
	RemoteStream(id PeerID, stream MediaStream)
	SignalingError(message string)
}

// NopObserver ignores everything. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) RoomJoined(string, Peer)               {}
func (NopObserver) PeerAdded(Peer)                        {}
func (NopObserver) PeerRemoved(PeerID, RemoveReason)      {}
func (NopObserver) LinkState(PeerID, Role, State)         {}
func (NopObserver) TransportState(PeerID, TransportState) {}
func (NopObserver) RemoteStream(PeerID, MediaStream)      {}
func (NopObserver) SignalingError(string)                 {}

// Observers fans every call out to each observer in order.
type Observers []Observer

func (o Observers) RoomJoined(roomID string, self Peer) {
	for _, ob := range o {
		ob.RoomJoined(roomID, self)
	}
}

func (o Observers) PeerAdded(p Peer) {
	for _, ob := range o {
		ob.PeerAdded(p)
	}
}

func (o Observers) PeerRemoved(id PeerID, reason RemoveReason) {
	for _, ob := range o {
		ob.PeerRemoved(id, reason)
	}
}

func (o Observers) LinkState(id PeerID, role Role, s State) {
	for _, ob := range o {
		ob.LinkState(id, role, s)
	}
}

func (o Observers) TransportState(id PeerID, s TransportState) {
	for _, ob := range o {
		ob.TransportState(id, s)
	}
}

func (o Observers) RemoteStream(id PeerID, stream MediaStream) {
	for _, ob := range o {
		ob.RemoteStream(id, stream)
	}
}

func (o Observers) SignalingError(message string) {
	for _, ob := range o {
		ob.SignalingError(message)
	}
}
