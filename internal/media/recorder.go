package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
)

const keyframeInterval = 3 * time.Second

// RemoteTrack is an inbound track as delivered by the engine.
type RemoteTrack interface {
	mesh.MediaStream
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	RequestKeyframe() error
}

// TrackStats counts what was received from one peer.
type TrackStats struct {
	Tracks  int
	Packets uint64
	Bytes   uint64
	Files   []string
}

// Recorder drains every remote track so the receive buffers never fill, and
// writes VP8 video and Opus audio to dir when dir is set.
type Recorder struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	stats map[mesh.PeerID]*TrackStats
	wg    sync.WaitGroup
}

func NewRecorder(dir string, log zerolog.Logger) *Recorder {
	return &Recorder{
		dir:   dir,
		log:   log.With().Str("component", "recorder").Logger(),
		stats: make(map[mesh.PeerID]*TrackStats),
	}
}

// Consume starts draining stream in the background. Streams that are not
// remote tracks are ignored.
func (r *Recorder) Consume(ctx context.Context, peer mesh.PeerID, stream mesh.MediaStream) {
	track, ok := stream.(RemoteTrack)
	if !ok {
		return
	}

	r.mu.Lock()
	st := r.statsFor(peer)
	st.Tracks++
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.drain(ctx, peer, track); err != nil {
			r.log.Warn().Err(err).Str("peer", peer.String()).Msg("recording stopped")
		}
	}()
}

func (r *Recorder) statsFor(peer mesh.PeerID) *TrackStats {
	st, ok := r.stats[peer]
	if !ok {
		st = &TrackStats{}
		r.stats[peer] = st
	}
	return st
}

func (r *Recorder) drain(ctx context.Context, peer mesh.PeerID, track RemoteTrack) error {
	log := r.log.With().Str("peer", peer.String()).Str("kind", track.Kind().String()).Logger()

	writer, path, err := r.openWriter(peer, track)
	if err != nil {
		return err
	}
	if writer != nil {
		defer writer.Close()
		r.mu.Lock()
		st := r.statsFor(peer)
		st.Files = append(st.Files, path)
		r.mu.Unlock()
		log.Info().Str("file", path).Msg("recording")
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go requestKeyframes(ctx, track, log)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			// The track ends when the peer connection closes.
			return nil
		}

		r.mu.Lock()
		st := r.statsFor(peer)
		st.Packets++
		st.Bytes += uint64(len(pkt.Payload))
		r.mu.Unlock()

		if writer != nil {
			if err := writer.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Msg("write failed")
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Recorder) openWriter(peer mesh.PeerID, track RemoteTrack) (pionmedia.Writer, string, error) {
	if r.dir == "" {
		return nil, "", nil
	}
	codec := track.Codec()
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", peer.Short(), track.Kind()))

	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		path := base + ".ivf"
		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, "", &Error{Op: "create recording", Path: path, Err: err}
		}
		return w, path, nil

	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		path := base + ".ogg"
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		w, err := oggwriter.New(path, codec.ClockRate, channels)
		if err != nil {
			return nil, "", &Error{Op: "create recording", Path: path, Err: err}
		}
		return w, path, nil
	}

	r.log.Info().Str("codec", codec.MimeType).Msg("codec not recordable, counting only")
	return nil, "", nil
}

func requestKeyframes(ctx context.Context, track RemoteTrack, log zerolog.Logger) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		if err := track.RequestKeyframe(); err != nil {
			log.Debug().Err(err).Msg("keyframe request failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stats returns a copy of the per-peer counters.
func (r *Recorder) Stats() map[mesh.PeerID]TrackStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[mesh.PeerID]TrackStats, len(r.stats))
	for id, st := range r.stats {
		cp := *st
		cp.Files = append([]string(nil), st.Files...)
		out[id] = cp
	}
	return out
}

// Wait blocks until every consumed track has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
