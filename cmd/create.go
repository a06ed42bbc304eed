package cmd

import (
	"fmt"

	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
)

var flagNoJoin bool

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"new"},
	Short:   "Create a room and join it",
	Long: `Create a new room on the relay, print its id and link, then join it and
wait for others.

Examples:
  meshcall create
  meshcall create --no-join
  meshcall create --relay-host relay.example.com --video clip.ivf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		resolver := newResolver(cfg)
		stopSpinner := ui.RunConnectionSpinner("Creating room...")
		roomID, err := relay.NewAPI(cfg.APIURL, resolver).CreateRoom(ctx)
		stopSpinner()
		if err != nil {
			return err
		}

		fmt.Println()
		ui.NewRoomInfo(roomID, cfg.RoomLink(roomID)).Render()

		if flagNoJoin {
			return nil
		}
		return runCall(ctx, cfg, resolver, roomID)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().BoolVar(&flagNoJoin, "no-join", false, "Only create the room")
	addCallFlags(createCmd.Flags())
}
