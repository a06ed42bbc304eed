package mesh

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Link is the negotiation with one remote peer. All fields are owned by the
// coordinator loop; engine work runs on the link's worker and reports back
// through post.
type Link struct {
	peer      Peer
	role      Role
	state     State
	transport TransportState

	engine        Engine
	buffer        CandidateBuffer
	remoteApplied bool
	// pending is set while a negotiation step is running on the worker.
	pending bool
	streams int

	ctx       context.Context
	cancel    context.CancelFunc
	work      worker
	out       Signaler
	post      func(any)
	stopTimer func() bool

	log zerolog.Logger
}

func newLink(peer Peer, role Role, engine Engine, work worker, out Signaler, post func(any), log zerolog.Logger) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		peer:      peer,
		role:      role,
		state:     StateIdle,
		transport: TransportNew,
		engine:    engine,
		ctx:       ctx,
		cancel:    cancel,
		work:      work,
		out:       out,
		post:      post,
		log:       log.With().Str("peer", peer.ID.String()).Str("role", role.String()).Logger(),
	}
}

func (l *Link) Peer() Peer                { return l.peer }
func (l *Link) Role() Role                { return l.role }
func (l *Link) State() State              { return l.state }
func (l *Link) Transport() TransportState { return l.transport }

func (l *Link) setState(s State) {
	if l.state == s {
		return
	}
	l.log.Debug().Str("from", l.state.String()).Str("to", s.String()).Msg("link state")
	l.state = s
}

// initiate starts the offer toward the peer. Only a fresh initiator link does anything.
func (l *Link) initiate() error {
	if l.role != RoleInitiator || l.state != StateIdle || l.pending {
		l.log.Debug().Str("state", l.state.String()).Msg("initiate ignored")
		return nil
	}
	l.pending = true

	ctx, eng, peer := l.ctx, l.engine, l.peer.ID
	l.work.do(func() {
		d, err := eng.CreateOffer(ctx)
		if err != nil {
			l.post(offerReadyEvent{link: l, err: negotiationError(peer, "create offer", err)})
			return
		}
		err = eng.SetLocalDescription(ctx, d)
		l.post(offerReadyEvent{link: l, desc: d, err: negotiationError(peer, "set local offer", err)})
	})
	return nil
}

func (l *Link) offerReady(d Description, err error) error {
	l.pending = false
	if err != nil {
		return err
	}
	if l.state != StateIdle {
		return nil
	}
	if err := l.out.SendOffer(l.peer.ID, d); err != nil {
		return negotiationError(l.peer.ID, "send offer", fmt.Errorf("%w: %w", ErrSignalingSend, err))
	}
	l.setState(StateOfferCreated)
	return nil
}

// acceptOffer answers an inbound offer. Glare on initiator links is resolved
// by the coordinator before this is called.
func (l *Link) acceptOffer(d Description) error {
	switch {
	case l.state == StateConnected || l.state == StateClosed:
		l.log.Debug().Str("state", l.state.String()).Msg("offer ignored")
		return nil
	case l.pending:
		l.log.Debug().Str("state", l.state.String()).Msg("offer ignored, negotiation step in flight")
		return nil
	case l.state == StateOfferCreated:
		l.log.Warn().Msg("offer on a link with its own offer outstanding")
		return nil
	}

	l.setState(StateOfferReceived)
	l.pending = true

	ctx, eng, peer := l.ctx, l.engine, l.peer.ID
	l.work.do(func() {
		if err := eng.SetRemoteDescription(ctx, d); err != nil {
			l.post(answerReadyEvent{link: l, err: negotiationError(peer, "set remote offer", err)})
			return
		}
		answer, err := eng.CreateAnswer(ctx)
		if err != nil {
			l.post(answerReadyEvent{link: l, err: negotiationError(peer, "create answer", err)})
			return
		}
		err = eng.SetLocalDescription(ctx, answer)
		l.post(answerReadyEvent{link: l, desc: answer, err: negotiationError(peer, "set local answer", err)})
	})
	return nil
}

func (l *Link) answerReady(d Description, err error) error {
	l.pending = false
	if err != nil {
		return err
	}
	if l.state != StateOfferReceived {
		return nil
	}
	if err := l.out.SendAnswer(l.peer.ID, d); err != nil {
		return negotiationError(l.peer.ID, "send answer", fmt.Errorf("%w: %w", ErrSignalingSend, err))
	}
	l.remoteApplied = true
	l.flush()
	l.answerExchanged()
	return nil
}

// acceptAnswer applies the peer's answer. Outside OfferCreated it is a no-op.
func (l *Link) acceptAnswer(d Description) error {
	if l.state != StateOfferCreated || l.pending {
		l.log.Debug().Str("state", l.state.String()).Bool("pending", l.pending).Msg("answer ignored")
		return nil
	}
	l.pending = true

	ctx, eng, peer := l.ctx, l.engine, l.peer.ID
	l.work.do(func() {
		err := eng.SetRemoteDescription(ctx, d)
		l.post(answerAppliedEvent{link: l, err: negotiationError(peer, "set remote answer", err)})
	})
	return nil
}

func (l *Link) answerApplied(err error) error {
	l.pending = false
	if err != nil {
		return err
	}
	if l.state != StateOfferCreated {
		return nil
	}
	l.remoteApplied = true
	l.flush()
	l.answerExchanged()
	return nil
}

func (l *Link) answerExchanged() {
	l.setState(StateAnswerExchanged)
	if l.transport == TransportConnected {
		l.setState(StateConnected)
	}
}

func (l *Link) addCandidate(c Candidate) {
	switch {
	case l.state == StateClosed:
		return
	case !l.remoteApplied:
		l.buffer.Enqueue(c)
		l.log.Debug().Int("buffered", l.buffer.Len()).Msg("candidate buffered")
	default:
		l.applyCandidates([]Candidate{c})
	}
}

// flush hands every buffered candidate to the engine in a single job.
func (l *Link) flush() {
	cands := l.buffer.Flush()
	if len(cands) == 0 {
		return
	}
	l.log.Debug().Int("count", len(cands)).Msg("flushing buffered candidates")
	l.applyCandidates(cands)
}

func (l *Link) applyCandidates(cands []Candidate) {
	eng, log := l.engine, l.log
	l.work.do(func() {
		for _, c := range cands {
			if err := eng.AddCandidate(c); err != nil {
				log.Warn().Err(err).Str("candidate", c.Candidate).Msg("candidate rejected")
			}
		}
	})
}

func (l *Link) transportChanged(s TransportState) {
	l.transport = s
	if s == TransportConnected && l.state == StateAnswerExchanged {
		l.setState(StateConnected)
	}
}

// close releases the engine and drops buffered candidates. Safe to call twice.
func (l *Link) close() {
	if l.state == StateClosed {
		return
	}
	l.setState(StateClosed)
	l.buffer.Clear()
	l.pending = false
	if l.stopTimer != nil {
		l.stopTimer()
		l.stopTimer = nil
	}
	l.cancel()

	eng, log := l.engine, l.log
	l.work.stop(func() {
		if err := eng.Close(); err != nil {
			log.Debug().Err(err).Msg("engine close")
		}
	})
}
