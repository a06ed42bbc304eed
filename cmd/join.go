package cmd

import (
	"fmt"

	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|room-link>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room and connect to everyone already in it. The room can be given
as its id or as the link printed by "meshcall create".

Examples:
  meshcall join brave-otter-ramen-comet
  meshcall join https://relay.example.com/r/BRAVE-OTTER-RAMEN-COMET
  meshcall join --video clip.ivf --audio voice.ogg BRAVE-OTTER-RAMEN-COMET`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := relay.ParseRoomID(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		resolver := newResolver(cfg)
		stopSpinner := ui.RunConnectionSpinner("Looking up room...")
		exists, err := relay.NewAPI(cfg.APIURL, resolver).RoomExists(ctx, roomID)
		stopSpinner()
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", relay.ErrRoomNotFound, roomID)
		}
		ui.PrintSuccess(fmt.Sprintf("Found room %s", roomID))

		return runCall(ctx, cfg, resolver, roomID)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addCallFlags(joinCmd.Flags())
}
