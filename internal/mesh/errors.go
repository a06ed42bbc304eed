package mesh

import (
	"errors"
	"fmt"
)

// ErrSignalingSend wraps failures to hand a description to the signaler.
var ErrSignalingSend = errors.New("signaling send failed")

// NegotiationError reports a failed negotiation step for one peer.
// The link it belongs to is destroyed and not retried.
type NegotiationError struct {
	Peer PeerID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(peer PeerID, op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return err
	}
	return &NegotiationError{Peer: peer, Op: op, Err: err}
}
