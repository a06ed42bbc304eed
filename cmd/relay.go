package cmd

import (
	"time"

	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagAddr     string
	flagMaxPeers int
	flagRoomTTL  time.Duration
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the relay that creates rooms and forwards negotiation messages between
participants. It serves the REST API under /api, the websocket on /ws and a
health check on /health.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.PrintInfof("Relay listening on %s (max %d peers per room)", flagAddr, flagMaxPeers)
		return relay.Serve(cmd.Context(), relay.Options{
			Addr: flagAddr,
			HubOptions: relay.HubOptions{
				MaxPeers:     flagMaxPeers,
				EmptyRoomTTL: flagRoomTTL,
				Logger:       log.Logger,
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVarP(&flagAddr, "addr", "a", ":4000", "Listen address")
	relayCmd.Flags().IntVar(&flagMaxPeers, "max-peers", relay.DefaultMaxPeers, "Participants allowed per room")
	relayCmd.Flags().DurationVar(&flagRoomTTL, "room-ttl", relay.DefaultEmptyRoomTTL, "How long an empty room is kept")
}
