package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// PlainObserver prints one line per mesh event, for terminals without the
// live view or when output is piped.
type PlainObserver struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewPlainObserver(w io.Writer) *PlainObserver {
	return &PlainObserver{w: w, now: time.Now}
}

func (o *PlainObserver) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s %s\n", o.now().Format(time.TimeOnly), fmt.Sprintf(format, args...))
}

func (o *PlainObserver) RoomJoined(roomID string, self mesh.Peer) {
	o.printf("%s joined room %s as %s", IconRoom, roomID, self.ID)
}

func (o *PlainObserver) PeerAdded(p mesh.Peer) {
	o.printf("%s %s is in the room", IconPeer, p.Label())
}

func (o *PlainObserver) PeerRemoved(id mesh.PeerID, reason mesh.RemoveReason) {
	o.printf("%s %s removed (%s)", IconPeer, id.Short(), reason)
}

func (o *PlainObserver) LinkState(id mesh.PeerID, role mesh.Role, s mesh.State) {
	o.printf("%s %s %s: %s", IconConnect, id.Short(), role, s)
}

func (o *PlainObserver) TransportState(id mesh.PeerID, s mesh.TransportState) {
	o.printf("%s %s transport %s", IconConnect, id.Short(), s)
}

func (o *PlainObserver) RemoteStream(id mesh.PeerID, stream mesh.MediaStream) {
	o.printf("%s %s stream %s", IconVideo, id.Short(), stream.StreamID())
}

func (o *PlainObserver) SignalingError(message string) {
	o.printf("%s relay error: %s", IconError, message)
}
