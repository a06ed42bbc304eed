package mesh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInboxSize         = 128
	DefaultDisconnectTimeout = 15 * time.Second
)

// RoomSession is the local view of the joined room.
type RoomSession struct {
	RoomID string
	Self   Peer
	roster map[PeerID]Peer
}

func newRoomSession(roomID string, self Peer) *RoomSession {
	return &RoomSession{RoomID: roomID, Self: self, roster: make(map[PeerID]Peer)}
}

// Members returns the known remote participants ordered by id.
func (s *RoomSession) Members() []Peer {
	out := make([]Peer, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type Options struct {
	Factory  EngineFactory
	Signaler Signaler
	Observer Observer

	// Media is attached to every engine. Nil means no call is active:
	// members are tracked but no link is prepared for them on join.
	Media      MediaStream
	ICEServers []ICEServer

	DisconnectTimeout time.Duration
	InboxSize         int
	Logger            zerolog.Logger
}

// Coordinator owns the mesh for one room. Its exported methods only enqueue;
// Run applies events one at a time.
type Coordinator struct {
	factory    EngineFactory
	out        Signaler
	obs        Observer
	media      MediaStream
	iceServers []ICEServer
	graceLost  time.Duration

	inbox    chan any
	stopped  chan struct{}
	stopOnce sync.Once

	session *RoomSession
	links   map[PeerID]*Link

	newWorker func() worker
	afterFunc func(time.Duration, func()) func() bool

	log zerolog.Logger
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}

	return &Coordinator{
		factory:    opts.Factory,
		out:        opts.Signaler,
		obs:        opts.Observer,
		media:      opts.Media,
		iceServers: opts.ICEServers,
		graceLost:  opts.DisconnectTimeout,
		inbox:      make(chan any, opts.InboxSize),
		stopped:    make(chan struct{}),
		links:      make(map[PeerID]*Link),
		newWorker:  newSerialWorker,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		log: opts.Logger.With().Str("component", "mesh").Logger(),
	}
}

// Run processes events until ctx is cancelled, then tears down every link.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })

	for {
		select {
		case <-ctx.Done():
			c.teardownAll(ReasonLocal)
			c.session = nil
			return nil
		case ev := <-c.inbox:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) post(ev any) {
	select {
	case c.inbox <- ev:
	case <-c.stopped:
	}
}

func (c *Coordinator) RoomJoined(roomID string, self Peer, existing []Peer) {
	c.post(roomJoinedEvent{roomID: roomID, self: self, existing: existing})
}

func (c *Coordinator) PeerJoined(p Peer) { c.post(peerJoinedEvent{peer: p}) }

func (c *Coordinator) PeerLeft(id PeerID) { c.post(peerLeftEvent{id: id}) }

func (c *Coordinator) InboundOffer(from PeerID, d Description) {
	c.post(inboundOfferEvent{from: from, desc: d})
}

func (c *Coordinator) InboundAnswer(from PeerID, d Description) {
	c.post(inboundAnswerEvent{from: from, desc: d})
}

func (c *Coordinator) InboundCandidate(from PeerID, cand Candidate) {
	c.post(inboundCandidateEvent{from: from, candidate: cand})
}

func (c *Coordinator) SignalingError(message string) {
	c.post(signalingErrorEvent{message: message})
}

// TeardownAll ends the call: every link is destroyed and the session dropped.
func (c *Coordinator) TeardownAll() { c.post(teardownEvent{}) }

func (c *Coordinator) handle(ev any) {
	switch ev := ev.(type) {
	case roomJoinedEvent:
		c.onRoomJoined(ev)
	case peerJoinedEvent:
		c.onPeerJoined(ev.peer)
	case peerLeftEvent:
		c.onPeerLeft(ev.id)
	case inboundOfferEvent:
		c.onInboundOffer(ev.from, ev.desc)
	case inboundAnswerEvent:
		c.onInboundAnswer(ev.from, ev.desc)
	case inboundCandidateEvent:
		c.onInboundCandidate(ev.from, ev.candidate)
	case signalingErrorEvent:
		c.log.Error().Str("message", ev.message).Msg("signaling error")
		c.obs.SignalingError(ev.message)
	case teardownEvent:
		c.teardownAll(ReasonLocal)
		c.session = nil

	case offerReadyEvent:
		c.step(ev.link, func() error { return ev.link.offerReady(ev.desc, ev.err) })
	case answerReadyEvent:
		c.step(ev.link, func() error { return ev.link.answerReady(ev.desc, ev.err) })
	case answerAppliedEvent:
		c.step(ev.link, func() error { return ev.link.answerApplied(ev.err) })

	case localCandidateEvent:
		c.onLocalCandidate(ev.link, ev.candidate)
	case remoteTrackEvent:
		c.onRemoteTrack(ev.link, ev.stream)
	case transportEvent:
		c.onTransport(ev.link, ev.state)
	case disconnectExpiredEvent:
		c.onDisconnectExpired(ev.link)
	case departedEvent:
		c.onDeparted(ev.link)

	default:
		c.log.Warn().Type("event", ev).Msg("unknown event")
	}
}

// current reports whether l is the live link for its peer. Completions and
// callbacks for anything else are stale and dropped.
func (c *Coordinator) current(l *Link) bool {
	return l != nil && l.state != StateClosed && c.links[l.peer.ID] == l
}

// step runs fn against a live link, destroys the link on error and reports
// any state change.
func (c *Coordinator) step(l *Link, fn func() error) {
	if !c.current(l) {
		return
	}
	prev := l.state
	if err := fn(); err != nil {
		c.log.Warn().Err(err).Str("peer", l.peer.ID.String()).Msg("negotiation failed")
		c.removeLink(l, ReasonNegotiationFailed)
		return
	}
	if l.state != prev {
		c.obs.LinkState(l.peer.ID, l.role, l.state)
	}
}

func (c *Coordinator) onRoomJoined(ev roomJoinedEvent) {
	if c.session != nil {
		c.log.Info().Str("room", c.session.RoomID).Msg("leaving previous room session")
		c.teardownAll(ReasonLocal)
	}
	c.session = newRoomSession(ev.roomID, ev.self)
	c.log.Info().Str("room", ev.roomID).Str("self", ev.self.ID.String()).Int("existing", len(ev.existing)).Msg("joined room")
	c.obs.RoomJoined(ev.roomID, ev.self)

	for _, p := range ev.existing {
		if p.ID == "" || p.ID == ev.self.ID {
			continue
		}
		c.session.roster[p.ID] = p
		c.obs.PeerAdded(p)

		l := c.createLink(p, RoleInitiator)
		if l == nil {
			continue
		}
		c.step(l, l.initiate)
	}
}

func (c *Coordinator) onPeerJoined(p Peer) {
	if c.session == nil {
		c.log.Debug().Str("peer", p.ID.String()).Msg("user-joined before room join, ignored")
		return
	}
	if p.ID == "" || p.ID == c.session.Self.ID {
		return
	}
	c.session.roster[p.ID] = p
	c.obs.PeerAdded(p)

	if c.media == nil {
		return
	}
	// The newcomer initiates; we only prepare to answer.
	c.createLink(p, RoleResponder)
}

func (c *Coordinator) onPeerLeft(id PeerID) {
	known := false
	if c.session != nil {
		if _, ok := c.session.roster[id]; ok {
			delete(c.session.roster, id)
			known = true
		}
	}
	if l, ok := c.links[id]; ok {
		c.removeLink(l, ReasonLeft)
		return
	}
	if known {
		c.dropPeer(id, ReasonLeft)
	}
}

func (c *Coordinator) onInboundOffer(from PeerID, d Description) {
	if c.session == nil {
		c.log.Warn().Str("peer", from.String()).Msg("offer outside a room session, dropped")
		return
	}
	if from == "" || from == c.session.Self.ID {
		return
	}

	l := c.links[from]
	switch {
	case l == nil:
		p, ok := c.session.roster[from]
		if !ok {
			p = Peer{ID: from}
			c.session.roster[from] = p
			c.obs.PeerAdded(p)
		}
		l = c.createLink(p, RoleResponder)
	case l.role == RoleInitiator && (l.state == StateIdle || l.state == StateOfferCreated):
		// Glare: the inbound offer wins and our own offer is abandoned.
		c.log.Info().Str("peer", from.String()).Str("state", l.state.String()).Msg("simultaneous offer, switching to responder")
		l = c.createLink(l.peer, RoleResponder)
	}
	if l == nil {
		return
	}
	c.step(l, func() error { return l.acceptOffer(d) })
}

func (c *Coordinator) onInboundAnswer(from PeerID, d Description) {
	l, ok := c.links[from]
	if !ok {
		c.log.Debug().Str("peer", from.String()).Msg("answer without link, dropped")
		return
	}
	c.step(l, func() error { return l.acceptAnswer(d) })
}

func (c *Coordinator) onInboundCandidate(from PeerID, cand Candidate) {
	l, ok := c.links[from]
	if !ok {
		c.log.Warn().Str("peer", from.String()).Msg("candidate without link, dropped")
		return
	}
	l.addCandidate(cand)
}

func (c *Coordinator) onLocalCandidate(l *Link, cand Candidate) {
	if !c.current(l) {
		return
	}
	if err := c.out.SendCandidate(l.peer.ID, cand); err != nil {
		c.log.Warn().Err(err).Str("peer", l.peer.ID.String()).Msg("failed to send candidate")
	}
}

func (c *Coordinator) onRemoteTrack(l *Link, stream MediaStream) {
	if !c.current(l) {
		return
	}
	l.streams++
	c.obs.RemoteStream(l.peer.ID, stream)
}

func (c *Coordinator) onTransport(l *Link, s TransportState) {
	if !c.current(l) {
		return
	}
	prev := l.state
	l.transportChanged(s)
	c.obs.TransportState(l.peer.ID, s)
	if l.state != prev {
		c.obs.LinkState(l.peer.ID, l.role, l.state)
	}

	switch s {
	case TransportConnected:
		if l.stopTimer != nil {
			l.stopTimer()
			l.stopTimer = nil
		}
	case TransportDisconnected:
		if l.stopTimer == nil {
			l.stopTimer = c.afterFunc(c.graceLost, func() { c.post(disconnectExpiredEvent{link: l}) })
		}
	case TransportFailed, TransportClosed:
		c.log.Warn().Str("peer", l.peer.ID.String()).Str("transport", string(s)).Msg("connection lost")
		c.removeLink(l, ReasonConnectionLost)
	}
}

func (c *Coordinator) onDeparted(l *Link) {
	if !c.current(l) {
		return
	}
	c.log.Info().Str("peer", l.peer.ID.String()).Msg("peer hung up")
	c.removeLink(l, ReasonLeft)
}

func (c *Coordinator) onDisconnectExpired(l *Link) {
	if !c.current(l) {
		return
	}
	l.stopTimer = nil
	if l.transport == TransportConnected {
		return
	}
	c.log.Warn().Str("peer", l.peer.ID.String()).Dur("after", c.graceLost).Msg("connection did not recover")
	c.removeLink(l, ReasonConnectionLost)
}

// createLink builds a link for p, replacing any existing link for the same id.
func (c *Coordinator) createLink(p Peer, role Role) *Link {
	if old, ok := c.links[p.ID]; ok {
		old.close()
		delete(c.links, p.ID)
		c.obs.LinkState(p.ID, old.role, StateClosed)
	}

	eng, err := c.factory.NewEngine(p.ID, c.iceServers)
	if err != nil {
		c.log.Error().Err(err).Str("peer", p.ID.String()).Msg("failed to create engine")
		c.dropPeer(p.ID, ReasonNegotiationFailed)
		return nil
	}
	if c.media != nil {
		if err := eng.AttachLocalMedia(c.media); err != nil {
			c.log.Error().Err(err).Str("peer", p.ID.String()).Msg("failed to attach local media")
			eng.Close()
			c.dropPeer(p.ID, ReasonNegotiationFailed)
			return nil
		}
	}

	l := newLink(p, role, eng, c.newWorker(), c.out, c.post, c.log)
	eng.OnLocalCandidate(func(cand Candidate) { c.post(localCandidateEvent{link: l, candidate: cand}) })
	eng.OnRemoteTrack(func(s MediaStream) { c.post(remoteTrackEvent{link: l, stream: s}) })
	eng.OnConnectionStateChange(func(s TransportState) { c.post(transportEvent{link: l, state: s}) })
	if d, ok := eng.(Departer); ok {
		d.OnDeparture(func() { c.post(departedEvent{link: l}) })
	}

	c.links[p.ID] = l
	l.log.Debug().Msg("link created")
	c.obs.LinkState(p.ID, role, l.state)
	return l
}

func (c *Coordinator) removeLink(l *Link, reason RemoveReason) {
	l.close()
	if c.links[l.peer.ID] == l {
		delete(c.links, l.peer.ID)
	}
	l.log.Info().Str("reason", string(reason)).Msg("link removed")
	c.obs.LinkState(l.peer.ID, l.role, StateClosed)
	c.dropPeer(l.peer.ID, reason)
}

// dropPeer forgets id and reports it removed. A later offer from the same
// peer adds it back.
func (c *Coordinator) dropPeer(id PeerID, reason RemoveReason) {
	if c.session != nil {
		delete(c.session.roster, id)
	}
	c.obs.PeerRemoved(id, reason)
}

func (c *Coordinator) teardownAll(reason RemoveReason) {
	for _, l := range c.links {
		c.removeLink(l, reason)
	}
}
