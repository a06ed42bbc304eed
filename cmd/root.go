package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Connection flags shared by every command that talks to a relay.
var (
	flagConfig            string
	flagRelayHost         string
	flagInsecure          bool
	flagSTUN              string
	flagTURN              string
	flagTURNUser          string
	flagTURNPass          string
	flagForceRelay        bool
	flagName              string
	flagDisconnectTimeout time.Duration
	flagDNS               []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Multi-party WebRTC calls from the terminal",
	Long: `meshcall joins a room on a signaling relay and opens a direct WebRTC
connection to every other participant. Media never passes through the relay;
it only carries the offers, answers and candidates needed to set the mesh up.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func addConnectionFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&flagRelayHost, "relay-host", "", "Relay host[:port]")
	fs.BoolVar(&flagInsecure, "insecure", false, "Use ws/http instead of wss/https")
	fs.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	fs.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	fs.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	fs.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	fs.BoolVarP(&flagForceRelay, "force-relay", "r", false, "Only use TURN relay candidates")
	fs.StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	fs.DurationVar(&flagDisconnectTimeout, "disconnect-timeout", 0, "How long a disconnected peer may take to recover")
	fs.StringSliceVar(&flagDNS, "dns", nil, "DNS servers to try when the system resolver fails")
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		ConfigFile:        flagConfig,
		RelayHost:         flagRelayHost,
		Insecure:          flagInsecure,
		STUNServer:        flagSTUN,
		TURNServer:        flagTURN,
		TURNUser:          flagTURNUser,
		TURNPass:          flagTURNPass,
		ForceRelay:        flagForceRelay,
		DisplayName:       flagName,
		DisconnectTimeout: flagDisconnectTimeout,
		DNSServers:        flagDNS,
	})
}

// newResolver builds the resolver one command uses for every relay request.
func newResolver(cfg *config.Config) *dns.Resolver {
	return dns.NewResolver(dns.Options{Servers: cfg.DNSServers, Logger: log.Logger})
}

func init() {
	addConnectionFlags(rootCmd.PersistentFlags())
}
