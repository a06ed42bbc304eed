package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	controlLabel = "meshcall-control"
	controlID    = uint16(0)
	byeWait      = 200 * time.Millisecond
)

var ErrUnsupportedStream = errors.New("stream has no local tracks")

// TrackSource is a local stream that can be sent to peers.
type TrackSource interface {
	mesh.MediaStream
	Tracks() []webrtc.TrackLocal
}

// RemoteTrack is one inbound track, handed to the mesh as a stream.
type RemoteTrack struct {
	*webrtc.TrackRemote
	Peer mesh.PeerID
	pc   *webrtc.PeerConnection
}

// RequestKeyframe sends a picture loss indication for this track.
func (t *RemoteTrack) RequestKeyframe() error {
	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.SSRC())},
	})
}

// Engine adapts a pion PeerConnection to mesh.Engine.
type Engine struct {
	peer    mesh.PeerID
	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
	hello   Hello

	mu          sync.Mutex
	onCandidate func(mesh.Candidate)
	onTrack     func(mesh.MediaStream)
	onState     func(mesh.TransportState)
	onBye       func()
	onHello     func(mesh.PeerID, Hello)
	closed      bool

	log zerolog.Logger
}

func newEngine(peer mesh.PeerID, pc *webrtc.PeerConnection, hello Hello, onHello func(mesh.PeerID, Hello), log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		peer:    peer,
		pc:      pc,
		hello:   hello,
		onHello: onHello,
		log:     log.With().Str("peer", peer.String()).Logger(),
	}

	negotiated := true
	id := controlID
	dc, err := pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create control channel: %w", err)
	}
	e.control = dc
	e.setupControlChannel()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if fn := e.candidateHandler(); fn != nil {
			fn(mesh.Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		if fn := e.trackHandler(); fn != nil {
			fn(&RemoteTrack{TrackRemote: track, Peer: peer, pc: pc})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.log.Debug().Str("state", s.String()).Msg("connection state")
		e.emitState(transportState(s))
	})

	return e, nil
}

func (e *Engine) setupControlChannel() {
	e.control.OnOpen(func() {
		data, err := encode(MessageTypeHello, e.hello)
		if err != nil {
			e.log.Error().Err(err).Msg("failed to encode hello")
			return
		}
		if err := e.control.Send(data); err != nil {
			e.log.Warn().Err(err).Msg("failed to send hello")
		}
	})

	e.control.OnMessage(func(raw webrtc.DataChannelMessage) {
		msg, err := decode(raw.Data)
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to parse control message")
			return
		}

		switch msg.Type {
		case MessageTypeHello:
			var h Hello
			if err := msg.DecodePayload(&h); err != nil {
				e.log.Warn().Err(err).Msg("malformed hello")
				return
			}
			e.log.Info().Str("name", h.DisplayName).Str("client", h.Client).Msg("peer hello")
			if e.onHello != nil {
				e.onHello(e.peer, h)
			}

		case MessageTypeBye:
			e.log.Info().Msg("peer said bye")
			e.mu.Lock()
			fn := e.onBye
			e.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
}

func (e *Engine) candidateHandler() func(mesh.Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onCandidate
}

func (e *Engine) trackHandler() func(mesh.MediaStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onTrack
}

func (e *Engine) emitState(s mesh.TransportState) {
	if s == "" {
		return
	}
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (e *Engine) AttachLocalMedia(stream mesh.MediaStream) error {
	src, ok := stream.(TrackSource)
	if !ok {
		return ErrUnsupportedStream
	}

	for _, track := range src.Tracks() {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		// RTCP has to be read for the interceptors to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// CreateOffer asks to receive audio and video even when nothing is sent.
func (e *Engine) CreateOffer(ctx context.Context) (mesh.Description, error) {
	if err := ctx.Err(); err != nil {
		return mesh.Description{}, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if e.hasTransceiver(kind) {
			continue
		}
		if _, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return mesh.Description{}, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return mesh.Description{}, err
	}
	return fromSession(offer), nil
}

func (e *Engine) hasTransceiver(kind webrtc.RTPCodecType) bool {
	for _, t := range e.pc.GetTransceivers() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (e *Engine) CreateAnswer(ctx context.Context) (mesh.Description, error) {
	if err := ctx.Err(); err != nil {
		return mesh.Description{}, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return mesh.Description{}, err
	}
	return fromSession(answer), nil
}

func (e *Engine) SetLocalDescription(ctx context.Context, d mesh.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.SetLocalDescription(toSession(d))
}

func (e *Engine) SetRemoteDescription(ctx context.Context, d mesh.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(toSession(d))
}

func (e *Engine) AddCandidate(c mesh.Candidate) error {
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (e *Engine) OnLocalCandidate(fn func(mesh.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Engine) OnRemoteTrack(fn func(mesh.MediaStream)) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

func (e *Engine) OnConnectionStateChange(fn func(mesh.TransportState)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// OnDeparture registers fn for a bye from the remote side.
func (e *Engine) OnDeparture(fn func()) {
	e.mu.Lock()
	e.onBye = fn
	e.mu.Unlock()
}

// Close says bye on the control channel when it is open, then closes the
// connection. Callbacks are dropped first so nothing fires after Close.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.onCandidate, e.onTrack, e.onState, e.onBye = nil, nil, nil, nil
	e.mu.Unlock()

	if e.control.ReadyState() == webrtc.DataChannelStateOpen {
		if data, err := encode(MessageTypeBye, struct{}{}); err == nil {
			if err := e.control.Send(data); err == nil {
				time.Sleep(byeWait)
			}
		}
	}
	return e.pc.Close()
}

func toSession(d mesh.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func fromSession(sd webrtc.SessionDescription) mesh.Description {
	return mesh.Description{Type: mesh.DescriptionType(sd.Type.String()), SDP: sd.SDP}
}

func transportState(s webrtc.PeerConnectionState) mesh.TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return mesh.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return mesh.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return mesh.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return mesh.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return mesh.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return mesh.TransportClosed
	}
	return ""
}
