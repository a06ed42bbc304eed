package webrtc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainStream string

func (s plainStream) StreamID() string { return string(s) }

func newTestEngines(t *testing.T, onHello func(mesh.PeerID, Hello)) (*Engine, *Engine) {
	t.Helper()
	f, err := NewFactory(FactoryOptions{DisplayName: "tester", OnHello: onHello, Logger: zerolog.Nop()})
	require.NoError(t, err)

	a, err := f.NewEngine("peer-b", nil)
	require.NoError(t, err)
	b, err := f.NewEngine("peer-a", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a.(*Engine), b.(*Engine)
}

// watchStates collects connection states without blocking pion.
func watchStates(e *Engine) <-chan mesh.TransportState {
	ch := make(chan mesh.TransportState, 32)
	e.OnConnectionStateChange(func(s mesh.TransportState) {
		select {
		case ch <- s:
		default:
		}
	})
	return ch
}

func waitState(t *testing.T, ch <-chan mesh.TransportState, want mesh.TransportState, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s not reached", want)
		}
	}
}

func TestOfferRequestsAudioAndVideo(t *testing.T) {
	a, _ := newTestEngines(t, nil)
	offer, err := a.CreateOffer(context.Background())
	require.NoError(t, err)

	assert.Equal(t, mesh.DescriptionOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=recvonly")
	assert.Contains(t, offer.SDP, "m=application")

	// Transceivers are only added once.
	_, err = a.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Len(t, a.pc.GetTransceivers(), 2)
}

func TestEngineRespectsCancelledContext(t *testing.T) {
	a, _ := newTestEngines(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, a.SetRemoteDescription(ctx, mesh.Description{Type: mesh.DescriptionOffer}), context.Canceled)
}

func TestMalformedRemoteDescription(t *testing.T) {
	a, _ := newTestEngines(t, nil)
	err := a.SetRemoteDescription(context.Background(), mesh.Description{Type: mesh.DescriptionOffer, SDP: "not sdp"})
	assert.Error(t, err)
}

func TestAttachRejectsForeignStream(t *testing.T) {
	a, _ := newTestEngines(t, nil)
	assert.ErrorIs(t, a.AttachLocalMedia(plainStream("x")), ErrUnsupportedStream)
}

func TestEnginesConnectAndSayBye(t *testing.T) {
	hellos := make(chan Hello, 4)
	a, b := newTestEngines(t, func(_ mesh.PeerID, h Hello) { hellos <- h })

	candsA := make(chan mesh.Candidate, 64)
	candsB := make(chan mesh.Candidate, 64)
	a.OnLocalCandidate(func(c mesh.Candidate) { candsA <- c })
	b.OnLocalCandidate(func(c mesh.Candidate) { candsB <- c })
	statesA := watchStates(a)
	statesB := watchStates(b)

	ctx := context.Background()
	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(ctx, offer))
	require.NoError(t, b.SetRemoteDescription(ctx, offer))
	answer, err := b.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, mesh.DescriptionAnswer, answer.Type)
	require.NoError(t, b.SetLocalDescription(ctx, answer))
	require.NoError(t, a.SetRemoteDescription(ctx, answer))

	done := make(chan struct{})
	defer close(done)
	pipe := func(in <-chan mesh.Candidate, to *Engine) {
		for {
			select {
			case c := <-in:
				to.AddCandidate(c)
			case <-done:
				return
			}
		}
	}
	go pipe(candsA, b)
	go pipe(candsB, a)

	waitState(t, statesA, mesh.TransportConnected, 15*time.Second)
	waitState(t, statesB, mesh.TransportConnected, 15*time.Second)

	for i := 0; i < 2; i++ {
		select {
		case h := <-hellos:
			assert.Equal(t, "tester", h.DisplayName)
			assert.True(t, strings.HasPrefix(h.Client, "meshcall-cli/"))
		case <-time.After(5 * time.Second):
			t.Fatal("hello not received")
		}
	}

	departed := make(chan struct{}, 1)
	b.OnDeparture(func() { departed <- struct{}{} })
	require.NoError(t, a.Close())
	select {
	case <-departed:
	case <-time.After(10 * time.Second):
		t.Fatal("bye not received")
	}
}

func TestTransportStateMapping(t *testing.T) {
	assert.Equal(t, mesh.TransportConnected, transportState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, mesh.TransportFailed, transportState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, mesh.TransportState(""), transportState(webrtc.PeerConnectionStateUnknown))
}

func TestRestrictedInterface(t *testing.T) {
	lan := &net.IPNet{IP: net.ParseIP("192.168.1.10"), Mask: net.CIDRMask(24, 32)}
	cgnat := &net.IPNet{IP: net.ParseIP("100.72.3.4"), Mask: net.CIDRMask(10, 32)}

	assert.False(t, restrictedInterface("eth0", []net.Addr{lan}))
	assert.True(t, restrictedInterface("wg0", []net.Addr{lan}))
	assert.True(t, restrictedInterface("utun3", nil))
	assert.True(t, restrictedInterface("en0", []net.Addr{cgnat}))
}

func TestControlMessageCodec(t *testing.T) {
	data, err := encode(MessageTypeHello, Hello{DisplayName: "alice", Client: "meshcall-cli/dev"})
	require.NoError(t, err)

	msg, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeHello, msg.Type)

	var h Hello
	require.NoError(t, msg.DecodePayload(&h))
	assert.Equal(t, Hello{DisplayName: "alice", Client: "meshcall-cli/dev"}, h)

	_, err = decode([]byte{0xc1})
	assert.Error(t, err)
}
