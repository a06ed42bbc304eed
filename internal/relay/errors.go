package relay

import "errors"

var (
	ErrHubStopped   = errors.New("relay hub stopped")
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidRoom  = errors.New("invalid room id")
)
