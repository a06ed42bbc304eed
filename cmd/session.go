package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/webrtc"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	errCallEnded = errors.New("call ended")

	// recorderWait bounds how long the summary waits for recordings to flush.
	recorderWait = 3 * time.Second
)

// Call flags shared by create and join.
var (
	flagVideo     string
	flagAudio     string
	flagRecordDir string
	flagPlain     bool
)

func addCallFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flagVideo, "video", "", "IVF file (VP8/VP9/AV1) to send as video, looped")
	fs.StringVar(&flagAudio, "audio", "", "Ogg Opus file to send as audio, looped")
	fs.StringVar(&flagRecordDir, "record-dir", "", "Write received VP8 video and Opus audio here")
	fs.BoolVar(&flagPlain, "plain", false, "Print events line by line instead of the live view")
}

// recordStreams hands every remote stream to the recorder.
type recordStreams struct {
	mesh.NopObserver
	ctx      context.Context
	recorder *media.Recorder
}

func (o recordStreams) RemoteStream(id mesh.PeerID, stream mesh.MediaStream) {
	o.recorder.Consume(o.ctx, id, stream)
}

// runCall joins roomID and keeps the mesh running until the user leaves, the
// relay connection drops or ctx is done.
func runCall(ctx context.Context, cfg *config.Config, resolver *dns.Resolver, roomID string) error {
	logger := log.Logger.With().Str("room", roomID).Logger()

	// Local media problems are fatal before anything is connected.
	var local *media.LocalStream
	if flagVideo != "" || flagAudio != "" {
		var err error
		local, err = media.OpenLocalStream(flagVideo, flagAudio, logger)
		if err != nil {
			return err
		}
	}

	call := ui.NewCall()
	factory, err := webrtc.NewFactory(webrtc.FactoryOptions{
		DisplayName: cfg.DisplayName,
		ForceRelay:  cfg.ForceRelay,
		OnHello: func(peer mesh.PeerID, h webrtc.Hello) {
			call.Hello(peer, h.DisplayName, h.Client)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	client := signaling.NewClient(cfg.WebSocketURL, resolver, logger)
	err = client.Connect(ctx)
	stopSpinner()
	if err != nil {
		return &signaling.Error{Op: "connect to relay", Err: err, Details: cfg.RelayHost}
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plain := flagPlain || !isatty.IsTerminal(os.Stdout.Fd())
	recorder := media.NewRecorder(flagRecordDir, logger)
	observers := mesh.Observers{call, recordStreams{ctx: ctx, recorder: recorder}}
	if plain {
		observers = append(observers, ui.NewPlainObserver(os.Stdout))
	}

	opts := mesh.Options{
		Factory:           factory,
		Signaler:          client,
		Observer:          observers,
		ICEServers:        cfg.ICEServers(),
		DisconnectTimeout: cfg.DisconnectTimeout,
		Logger:            logger,
	}
	if local != nil {
		opts.Media = local
	}
	coordinator := mesh.NewCoordinator(opts)
	handler := signaling.NewHandler(client, coordinator, roomID, cfg.DisplayName, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return handler.Run(gctx) })
	if local != nil {
		g.Go(func() error { return local.Run(gctx) })
	}
	g.Go(func() error {
		if plain {
			<-gctx.Done()
			return nil
		}
		if err := ui.NewMeshView(call).Run(gctx); err != nil {
			return err
		}
		return errCallEnded
	})

	if err := client.JoinRoom(roomID, cfg.DisplayName); err != nil {
		cancel()
		g.Wait()
		return err
	}

	err = g.Wait()
	cancel()
	if err := client.LeaveRoom(roomID); err != nil {
		logger.Debug().Err(err).Msg("leave room")
	}
	client.Close()
	waitRecorder(recorder)

	fmt.Println()
	ui.RenderCallSummary(call.Snapshot(), recorder.Stats(), time.Now())

	if err == nil || errors.Is(err, errCallEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func waitRecorder(r *media.Recorder) {
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(recorderWait):
		ui.PrintWarning("Recordings may be incomplete, the recorder was still busy")
	}
}
