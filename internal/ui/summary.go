package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummaryView renders one row per peer seen during the call. received
// may be nil when nothing was recorded.
func CallSummaryView(snap Snapshot, received map[mesh.PeerID]media.TrackStats, ended time.Time) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("📊 Call Summary · %s · %s", snap.RoomID, FormatDuration(ended.Sub(snap.Started))))
	t.AppendHeader(table.Row{"Peer", "Role", "Outcome", "Connected", "Tracks", "Received"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	var totalBytes uint64
	for _, p := range snap.Peers {
		st := received[p.Peer.ID]
		totalBytes += st.Bytes

		role := "-"
		if p.HasLink {
			role = p.Role.String()
		}
		t.AppendRow(table.Row{
			p.Peer.Label(),
			role,
			outcome(p),
			connectedFor(p, ended),
			st.Tracks,
			FormatSize(int64(st.Bytes)),
		})
	}

	if len(snap.Peers) == 0 {
		t.AppendRow(table.Row{"nobody joined", "", "", "", "", ""})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", FormatSize(int64(totalBytes))})
	return t.Render()
}

func RenderCallSummary(snap Snapshot, received map[mesh.PeerID]media.TrackStats, ended time.Time) {
	fmt.Println(CallSummaryView(snap, received, ended))
}

func outcome(p PeerStatus) string {
	if p.Removed != "" {
		return string(p.Removed)
	}
	if p.HasLink {
		return p.State.String()
	}
	return "waiting"
}

func connectedFor(p PeerStatus, ended time.Time) string {
	if p.ConnectedAt.IsZero() {
		return "-"
	}
	until := ended
	if !p.RemovedAt.IsZero() {
		until = p.RemovedAt
	}
	return FormatDuration(until.Sub(p.ConnectedAt))
}
