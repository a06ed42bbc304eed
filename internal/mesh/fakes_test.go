package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errRejected = errors.New("rejected")

type fakeStream string

func (s fakeStream) StreamID() string { return string(s) }

type fakeEngine struct {
	peer PeerID

	attached    []MediaStream
	localDescs  []Description
	remoteDescs []Description
	candidates  []Candidate
	closed      int

	offerErr  error
	answerErr error
	remoteErr error
	attachErr error

	onCandidate func(Candidate)
	onTrack     func(MediaStream)
	onState     func(TransportState)
	onBye       func()
}

func (e *fakeEngine) AttachLocalMedia(s MediaStream) error {
	if e.attachErr != nil {
		return e.attachErr
	}
	e.attached = append(e.attached, s)
	return nil
}

func (e *fakeEngine) CreateOffer(context.Context) (Description, error) {
	if e.offerErr != nil {
		return Description{}, e.offerErr
	}
	return Description{Type: DescriptionOffer, SDP: "offer-to-" + string(e.peer)}, nil
}

func (e *fakeEngine) CreateAnswer(context.Context) (Description, error) {
	if e.answerErr != nil {
		return Description{}, e.answerErr
	}
	return Description{Type: DescriptionAnswer, SDP: "answer-to-" + string(e.peer)}, nil
}

func (e *fakeEngine) SetLocalDescription(_ context.Context, d Description) error {
	e.localDescs = append(e.localDescs, d)
	return nil
}

func (e *fakeEngine) SetRemoteDescription(_ context.Context, d Description) error {
	if e.remoteErr != nil {
		return e.remoteErr
	}
	e.remoteDescs = append(e.remoteDescs, d)
	return nil
}

func (e *fakeEngine) AddCandidate(c Candidate) error {
	if c.Candidate == "bad" {
		return errRejected
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) OnLocalCandidate(fn func(Candidate))             { e.onCandidate = fn }
func (e *fakeEngine) OnRemoteTrack(fn func(MediaStream))              { e.onTrack = fn }
func (e *fakeEngine) OnConnectionStateChange(fn func(TransportState)) { e.onState = fn }
func (e *fakeEngine) OnDeparture(fn func())                           { e.onBye = fn }

func (e *fakeEngine) Close() error {
	e.closed++
	return nil
}

type fakeFactory struct {
	engines map[PeerID][]*fakeEngine
	// prepare, if set, configures each engine before it is returned.
	prepare func(*fakeEngine)
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{engines: make(map[PeerID][]*fakeEngine)}
}

func (f *fakeFactory) NewEngine(peer PeerID, _ []ICEServer) (Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{peer: peer}
	if f.prepare != nil {
		f.prepare(e)
	}
	f.engines[peer] = append(f.engines[peer], e)
	return e, nil
}

// last returns the most recent engine created for peer.
func (f *fakeFactory) last(peer PeerID) *fakeEngine {
	es := f.engines[peer]
	if len(es) == 0 {
		return nil
	}
	return es[len(es)-1]
}

type sent struct {
	kind      string
	target    PeerID
	desc      Description
	candidate Candidate
}

type fakeSignaler struct {
	sent []sent
	err  error
	// relay, if set, sees every message that was sent.
	relay func(sent)
}

func (s *fakeSignaler) record(m sent) {
	s.sent = append(s.sent, m)
	if s.relay != nil {
		s.relay(m)
	}
}

func (s *fakeSignaler) SendOffer(target PeerID, d Description) error {
	if s.err != nil {
		return s.err
	}
	s.record(sent{kind: "offer", target: target, desc: d})
	return nil
}

func (s *fakeSignaler) SendAnswer(target PeerID, d Description) error {
	if s.err != nil {
		return s.err
	}
	s.record(sent{kind: "answer", target: target, desc: d})
	return nil
}

func (s *fakeSignaler) SendCandidate(target PeerID, c Candidate) error {
	if s.err != nil {
		return s.err
	}
	s.record(sent{kind: "ice-candidate", target: target, candidate: c})
	return nil
}

func (s *fakeSignaler) count(kind string, target PeerID) int {
	n := 0
	for _, m := range s.sent {
		if m.kind == kind && m.target == target {
			n++
		}
	}
	return n
}

type recordingObserver struct {
	NopObserver
	events  []string
	removed map[PeerID]RemoveReason
	streams map[PeerID][]MediaStream
	errors  []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		removed: make(map[PeerID]RemoveReason),
		streams: make(map[PeerID][]MediaStream),
	}
}

func (o *recordingObserver) PeerAdded(p Peer) {
	o.events = append(o.events, "added "+string(p.ID))
}

func (o *recordingObserver) PeerRemoved(id PeerID, reason RemoveReason) {
	o.removed[id] = reason
	o.events = append(o.events, fmt.Sprintf("removed %s %s", id, reason))
}

func (o *recordingObserver) LinkState(id PeerID, role Role, s State) {
	o.events = append(o.events, fmt.Sprintf("link %s %s %s", id, role, s))
}

func (o *recordingObserver) RemoteStream(id PeerID, s MediaStream) {
	o.streams[id] = append(o.streams[id], s)
}

func (o *recordingObserver) SignalingError(message string) {
	o.errors = append(o.errors, message)
}

// filterEvents keeps the recorded events starting with prefix.
func filterEvents(events []string, prefix string) []string {
	var out []string
	for _, e := range events {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// testWorker queues jobs until the test runs them.
type testWorker struct {
	jobs    []func()
	stopped bool
	ran     int
}

func (w *testWorker) do(fn func()) {
	if w.stopped {
		return
	}
	w.jobs = append(w.jobs, fn)
}

func (w *testWorker) stop(final func()) {
	if w.stopped {
		return
	}
	w.stopped = true
	w.jobs = nil
	if final != nil {
		w.jobs = append(w.jobs, final)
	}
}

func (w *testWorker) runPending() bool {
	ran := false
	for len(w.jobs) > 0 {
		fn := w.jobs[0]
		w.jobs = w.jobs[1:]
		fn()
		w.ran++
		ran = true
	}
	return ran
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) fire() {
	if !t.stopped {
		t.stopped = true
		t.fn()
	}
}

// harness drives a Coordinator without its Run loop so every step is
// deterministic.
type harness struct {
	t       *testing.T
	c       *Coordinator
	factory *fakeFactory
	sig     *fakeSignaler
	obs     *recordingObserver
	workers []*testWorker
	timers  []*fakeTimer
}

func newHarness(t *testing.T, media MediaStream) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		factory: newFakeFactory(),
		sig:     &fakeSignaler{},
		obs:     newRecordingObserver(),
	}
	h.c = NewCoordinator(Options{
		Factory:           h.factory,
		Signaler:          h.sig,
		Observer:          h.obs,
		Media:             media,
		DisconnectTimeout: time.Second,
		Logger:            zerolog.Nop(),
	})
	h.c.newWorker = func() worker {
		w := &testWorker{}
		h.workers = append(h.workers, w)
		return w
	}
	h.c.afterFunc = func(d time.Duration, fn func()) func() bool {
		tm := &fakeTimer{d: d, fn: fn}
		h.timers = append(h.timers, tm)
		return tm.stop
	}
	return h
}

// drain handles every queued event and reports whether there were any.
func (h *harness) drain() bool {
	n := 0
	for {
		select {
		case ev := <-h.c.inbox:
			h.c.handle(ev)
			n++
		default:
			return n > 0
		}
	}
}

// pump runs queued worker jobs then handles queued events once.
func (h *harness) pump() bool {
	ran := false
	for _, w := range h.workers {
		if w.runPending() {
			ran = true
		}
	}
	return h.drain() || ran
}

// settle pumps until both workers and inbox are idle.
func (h *harness) settle() {
	for h.pump() {
	}
}

func (h *harness) link(id PeerID) *Link {
	return h.c.links[id]
}

func newTestLink(role Role) (*Link, *fakeEngine, *testWorker, *fakeSignaler, *[]any) {
	eng := &fakeEngine{peer: "remote"}
	w := &testWorker{}
	sig := &fakeSignaler{}
	posted := &[]any{}
	post := func(ev any) { *posted = append(*posted, ev) }
	l := newLink(Peer{ID: "remote"}, role, eng, w, sig, post, zerolog.Nop())
	return l, eng, w, sig, posted
}

func strPtr(s string) *string { return &s }
