package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const maxShownErrors = 3

type callChangedMsg struct{}

type clockMsg time.Time

// MeshView is the live terminal view of a call. It only reads from Call.
type MeshView struct {
	call *Call
	opts []tea.ProgramOption
}

func NewMeshView(call *Call, opts ...tea.ProgramOption) *MeshView {
	return &MeshView{call: call, opts: opts}
}

// Run shows the view until the user quits or ctx is done. Both return nil.
func (v *MeshView) Run(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, v.opts...)
	p := tea.NewProgram(newMeshModel(v.call), opts...)
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return fmt.Errorf("mesh view: %w", err)
	}
	return nil
}

type meshModel struct {
	call     *Call
	snap     Snapshot
	spinner  spinner.Model
	now      time.Time
	quitting bool
}

func newMeshModel(call *Call) meshModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return meshModel{
		call:    call,
		snap:    call.Snapshot(),
		spinner: s,
		now:     time.Now(),
	}
}

func (m meshModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange(), tick())
}

func (m meshModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.call.Changed()
		return callChangedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func (m meshModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case callChangedMsg:
		m.snap = m.call.Snapshot()
		return m, m.waitForChange()

	case clockMsg:
		m.now = time.Time(msg)
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m meshModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	snap := m.snap

	if snap.RoomID == "" {
		fmt.Fprintf(&b, "\n%s Joining room...\n", m.spinner.View())
		b.WriteString(FooterStyle.Render("Press q to leave"))
		return b.String()
	}

	fmt.Fprintf(&b, "\n%s Room %s  %s\n",
		IconRoom,
		StatusStyle.Render(snap.RoomID),
		MutedStyle.Render(fmt.Sprintf("you are %s · %s %s", snap.Self.Label(), IconTime, FormatDuration(m.now.Sub(snap.Started)))),
	)
	b.WriteString("\n")

	if snap.Active() == 0 {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), MutedStyle.Render("Waiting for others to join..."))
	}

	for _, p := range snap.Peers {
		b.WriteString(m.peerRow(p))
		b.WriteString("\n")
	}

	errs := snap.Errors
	if len(errs) > maxShownErrors {
		errs = errs[len(errs)-maxShownErrors:]
	}
	for _, e := range errs {
		fmt.Fprintf(&b, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(e))
	}

	b.WriteString(FooterStyle.Render("Press q to leave the call"))
	return b.String()
}

func (m meshModel) peerRow(p PeerStatus) string {
	name := peerNameStyle.Render(truncate(p.Peer.Label(), 16))

	if p.Removed != "" {
		return fmt.Sprintf("  %s %s %s", MutedStyle.Render(IconPeer), MutedStyle.Render(name), MutedStyle.Render(string(p.Removed)))
	}
	if !p.HasLink {
		return fmt.Sprintf("  %s %s %s", IconPeer, name, MutedStyle.Render("waiting for offer"))
	}

	icon := m.spinner.View()
	if p.State == mesh.StateConnected {
		icon = IconSuccess
	}

	transport := p.Transport
	if transport == "" {
		transport = mesh.TransportNew
	}

	row := fmt.Sprintf("  %s %s %s %s %s",
		icon,
		name,
		peerCellStyle.Render(stateStyle(p.State).Render(p.State.String())),
		peerCellStyle.Render(transportStyle(transport).Render(string(transport))),
		MutedStyle.Render(fmt.Sprintf("%s %d", IconVideo, p.Streams)),
	)
	if p.Client != "" {
		row += " " + MutedStyle.Render(p.Client)
	}
	return row
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
