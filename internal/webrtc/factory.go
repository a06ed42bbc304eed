package webrtc

import (
	"fmt"
	"strings"

	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type FactoryOptions struct {
	DisplayName string
	// ForceRelay restricts ICE to TURN. When unset, TURN-only is still chosen
	// on hosts that look restricted, as long as a TURN server is configured.
	ForceRelay bool
	// OnHello is called from pion's goroutines when a peer's hello arrives.
	OnHello func(peer mesh.PeerID, h Hello)
	Logger  zerolog.Logger
}

// Factory builds one pion PeerConnection per peer link from a shared API.
type Factory struct {
	api   *webrtc.API
	opts  FactoryOptions
	relay bool
	log   zerolog.Logger
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{
		LoggerFactory: logging.PionLoggerFactory{Logger: opts.Logger},
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	return &Factory{
		api:   api,
		opts:  opts,
		relay: opts.ForceRelay || likelyRestricted(),
		log:   opts.Logger.With().Str("component", "webrtc").Logger(),
	}, nil
}

func (f *Factory) NewEngine(peer mesh.PeerID, iceServers []mesh.ICEServer) (mesh.Engine, error) {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	hasTURN := false
	for _, s := range iceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn") {
				hasTURN = true
			}
		}
	}

	policy := webrtc.ICETransportPolicyAll
	if hasTURN && f.relay {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	hello := Hello{DisplayName: f.opts.DisplayName, Client: version.Client()}
	e, err := newEngine(peer, pc, hello, f.opts.OnHello, f.log)
	if err != nil {
		pc.Close()
		return nil, err
	}
	return e, nil
}
