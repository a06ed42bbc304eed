package ui

import (
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// PeerStatus is what the call knows about one remote participant.
type PeerStatus struct {
	Peer      mesh.Peer
	Role      mesh.Role
	HasLink   bool
	State     mesh.State
	Transport mesh.TransportState
	Streams   int
	// Client is the remote software version from its hello, if any.
	Client string

	JoinedAt    time.Time
	ConnectedAt time.Time
	Removed     mesh.RemoveReason
	RemovedAt   time.Time
}

// Snapshot is a copy of the call state safe to read without locks.
type Snapshot struct {
	RoomID  string
	Self    mesh.Peer
	Started time.Time
	Peers   []PeerStatus
	Errors  []string
}

// Call tracks mesh events for display. It implements mesh.Observer; every
// method returns immediately and wakes the view through Changed.
type Call struct {
	mu      sync.Mutex
	roomID  string
	self    mesh.Peer
	started time.Time
	peers   map[mesh.PeerID]*PeerStatus
	order   []mesh.PeerID
	errors  []string

	changed chan struct{}
	now     func() time.Time
}

func NewCall() *Call {
	return &Call{
		peers:   make(map[mesh.PeerID]*PeerStatus),
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Changed receives a value after any update. Bursts collapse into one.
func (c *Call) Changed() <-chan struct{} {
	return c.changed
}

func (c *Call) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// update runs fn under the lock and then wakes the view.
func (c *Call) update(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
	c.notify()
}

// status returns the record for id, creating it if needed. Callers hold mu.
func (c *Call) status(id mesh.PeerID) *PeerStatus {
	if p, ok := c.peers[id]; ok {
		return p
	}
	p := &PeerStatus{Peer: mesh.Peer{ID: id}, JoinedAt: c.now()}
	c.peers[id] = p
	c.order = append(c.order, id)
	return p
}

func (c *Call) RoomJoined(roomID string, self mesh.Peer) {
	c.update(func() {
		c.roomID = roomID
		c.self = self
		c.started = c.now()
		c.peers = make(map[mesh.PeerID]*PeerStatus)
		c.order = nil
	})
}

func (c *Call) PeerAdded(p mesh.Peer) {
	c.update(func() {
		s := c.status(p.ID)
		if s.Removed != "" {
			*s = PeerStatus{JoinedAt: c.now()}
		}
		s.Peer = p
	})
}

func (c *Call) PeerRemoved(id mesh.PeerID, reason mesh.RemoveReason) {
	c.update(func() {
		s := c.status(id)
		s.Removed = reason
		s.RemovedAt = c.now()
		s.State = mesh.StateClosed
	})
}

func (c *Call) LinkState(id mesh.PeerID, role mesh.Role, state mesh.State) {
	c.update(func() {
		s := c.status(id)
		s.HasLink = true
		s.Role = role
		s.State = state
		if state == mesh.StateConnected && s.ConnectedAt.IsZero() {
			s.ConnectedAt = c.now()
		}
	})
}

func (c *Call) TransportState(id mesh.PeerID, state mesh.TransportState) {
	c.update(func() {
		c.status(id).Transport = state
	})
}

func (c *Call) RemoteStream(id mesh.PeerID, _ mesh.MediaStream) {
	c.update(func() {
		c.status(id).Streams++
	})
}

func (c *Call) SignalingError(message string) {
	c.update(func() {
		c.errors = append(c.errors, message)
	})
}

// Hello records the name and client a peer announced over its control channel.
func (c *Call) Hello(id mesh.PeerID, displayName, client string) {
	c.update(func() {
		s := c.status(id)
		if s.Peer.DisplayName == "" {
			s.Peer.DisplayName = displayName
		}
		s.Client = client
	})
}

func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RoomID:  c.roomID,
		Self:    c.self,
		Started: c.started,
		Peers:   make([]PeerStatus, 0, len(c.order)),
		Errors:  append([]string(nil), c.errors...),
	}
	for _, id := range c.order {
		snap.Peers = append(snap.Peers, *c.peers[id])
	}
	return snap
}

// Active counts peers that have not been removed.
func (s Snapshot) Active() int {
	n := 0
	for _, p := range s.Peers {
		if p.Removed == "" {
			n++
		}
	}
	return n
}
