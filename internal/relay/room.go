package relay

import (
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// Room is a set of clients that see each other's membership and exchange
// negotiation messages.
type Room struct {
	ID string

	// members in join order; existing-users lists them this way.
	members []*Client

	// emptySince is set while nobody is in the room.
	emptySince time.Time
}

func newRoom(id string, now time.Time) *Room {
	return &Room{ID: id, emptySince: now}
}

func (r *Room) Len() int {
	return len(r.members)
}

func (r *Room) member(id string) *Client {
	for _, c := range r.members {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
	r.emptySince = time.Time{}
}

func (r *Room) remove(c *Client, now time.Time) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			if len(r.members) == 0 {
				r.emptySince = now
			}
			return true
		}
	}
	return false
}

// peers describes every member except skip.
func (r *Room) peers(skip *Client) []mesh.Peer {
	out := make([]mesh.Peer, 0, len(r.members))
	for _, c := range r.members {
		if c == skip {
			continue
		}
		out = append(out, c.peer())
	}
	return out
}
