package media

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a minimal IVF file with the given fourcc and frames.
func writeIVF(t *testing.T, fourcc string, frames ...[]byte) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:], 64)
	binary.LittleEndian.PutUint16(header[14:], 48)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))

	data := header
	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		data = append(data, fh...)
		data = append(data, f...)
	}

	path := filepath.Join(t.TempDir(), "in.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestOpenLocalStreamVideo(t *testing.T) {
	path := writeIVF(t, "VP80", []byte{0x10, 0x02, 0x00}, []byte{0x11, 0x02, 0x00})
	s, err := OpenLocalStream(path, "", zerolog.Nop())
	require.NoError(t, err)

	tracks := s.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[0].Kind())
	assert.Equal(t, s.StreamID(), tracks[0].StreamID())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestOpenLocalStreamErrors(t *testing.T) {
	_, err := OpenLocalStream("", "", zerolog.Nop())
	assert.ErrorIs(t, err, ErrMediaUnavailable)

	_, err = OpenLocalStream(filepath.Join(t.TempDir(), "missing.ivf"), "", zerolog.Nop())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenLocalStream(writeIVF(t, "H264"), "", zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	junk := filepath.Join(t.TempDir(), "junk.ogg")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not ogg"), 0o600))
	_, err = OpenLocalStream("", junk, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

type fakeTrack struct {
	kind    webrtc.RTPCodecType
	codec   webrtc.RTPCodecParameters
	packets []*rtp.Packet

	mu        sync.Mutex
	keyframes int
}

func (f *fakeTrack) StreamID() string                 { return "remote" }
func (f *fakeTrack) Kind() webrtc.RTPCodecType        { return f.kind }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters { return f.codec }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil, nil
}

func (f *fakeTrack) RequestKeyframe() error {
	f.mu.Lock()
	f.keyframes++
	f.mu.Unlock()
	return nil
}

func opusPackets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		out[i] = &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}
	}
	return out
}

func TestRecorderWritesOpus(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, zerolog.Nop())
	track := &fakeTrack{
		kind: webrtc.RTPCodecTypeAudio,
		codec: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		},
		packets: opusPackets(5),
	}

	r.Consume(context.Background(), "peer-abcdef", track)
	r.Wait()

	st := r.Stats()["peer-abcdef"]
	assert.Equal(t, 1, st.Tracks)
	assert.Equal(t, uint64(5), st.Packets)
	assert.Equal(t, uint64(15), st.Bytes)
	require.Len(t, st.Files, 1)
	assert.Equal(t, filepath.Join(dir, "peer-a-audio.ogg"), st.Files[0])
	info, err := os.Stat(st.Files[0])
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRecorderCountsVideoAndRequestsKeyframes(t *testing.T) {
	r := NewRecorder("", zerolog.Nop())
	track := &fakeTrack{
		kind: webrtc.RTPCodecTypeVideo,
		codec: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
		packets: opusPackets(3),
	}

	r.Consume(context.Background(), "peer-v", track)
	r.Wait()

	st := r.Stats()["peer-v"]
	assert.Equal(t, uint64(3), st.Packets)
	assert.Empty(t, st.Files)
	assert.Eventually(t, func() bool {
		track.mu.Lock()
		defer track.mu.Unlock()
		return track.keyframes >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecorderIgnoresOtherStreams(t *testing.T) {
	r := NewRecorder("", zerolog.Nop())
	r.Consume(context.Background(), "x", plain("x"))
	r.Wait()
	assert.Empty(t, r.Stats())
}

type plain string

func (p plain) StreamID() string { return string(p) }

var _ mesh.MediaStream = plain("")
