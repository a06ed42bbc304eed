package media

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const oggPageDuration = 20 * time.Millisecond

// LocalStream plays media files from disk on loop into sample tracks shared
// by every peer link.
type LocalStream struct {
	id        string
	videoPath string
	audioPath string
	video     *webrtc.TrackLocalStaticSample
	audio     *webrtc.TrackLocalStaticSample
	log       zerolog.Logger
}

// OpenLocalStream checks the files and builds the tracks. videoPath is an IVF
// file (VP8, VP9 or AV1) and audioPath an Ogg Opus file; either may be empty.
func OpenLocalStream(videoPath, audioPath string, log zerolog.Logger) (*LocalStream, error) {
	s := &LocalStream{
		id:        "meshcall-" + uuid.NewString()[:8],
		videoPath: videoPath,
		audioPath: audioPath,
		log:       log.With().Str("component", "media").Logger(),
	}

	if videoPath != "" {
		mime, err := probeIVF(videoPath)
		if err != nil {
			return nil, err
		}
		s.video, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", s.id)
		if err != nil {
			return nil, unavailable("create video track", videoPath, err)
		}
	}

	if audioPath != "" {
		if err := probeOgg(audioPath); err != nil {
			return nil, err
		}
		var err error
		s.audio, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.id)
		if err != nil {
			return nil, unavailable("create audio track", audioPath, err)
		}
	}

	if s.video == nil && s.audio == nil {
		return nil, unavailable("open local media", "", errors.New("no media files given"))
	}
	return s, nil
}

func (s *LocalStream) StreamID() string { return s.id }

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

// Run pumps samples until ctx is done.
func (s *LocalStream) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)
	if s.video != nil {
		g.Go(func() error { return loop(ctx, s.videoPath, s.playIVF) })
	}
	if s.audio != nil {
		g.Go(func() error { return loop(ctx, s.audioPath, s.playOgg) })
	}
	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

// loop replays the file each time it reaches the end.
func loop(ctx context.Context, path string, play func(context.Context, io.Reader) error) error {
	for {
		f, err := os.Open(path)
		if err != nil {
			return unavailable("open", path, err)
		}
		err = play(ctx, f)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *LocalStream) playIVF(ctx context.Context, r io.Reader) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return &Error{Op: "read ivf", Path: s.videoPath, Err: err}
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := s.video.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			s.log.Debug().Err(err).Msg("video sample dropped")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *LocalStream) playOgg(ctx context.Context, r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return &Error{Op: "read ogg", Path: s.audioPath, Err: err}
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}

		// Granule positions count 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

		if err := s.audio.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			s.log.Debug().Err(err).Msg("audio sample dropped")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func probeIVF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", unavailable("open", path, err)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", unavailable("read ivf header", path, err)
	}

	switch header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", unavailable("read ivf header", path, ErrUnsupportedCodec)
}

func probeOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return unavailable("open", path, err)
	}
	defer f.Close()

	if _, _, err := oggreader.NewWith(f); err != nil {
		return unavailable("read ogg header", path, err)
	}
	return nil
}
