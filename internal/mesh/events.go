package mesh

// Everything that mutates the mesh arrives on the coordinator inbox as one of
// these and is handled to completion before the next one.

type roomJoinedEvent struct {
	roomID   string
	self     Peer
	existing []Peer
}

type peerJoinedEvent struct{ peer Peer }

type peerLeftEvent struct{ id PeerID }

type inboundOfferEvent struct {
	from PeerID
	desc Description
}

type inboundAnswerEvent struct {
	from PeerID
	desc Description
}

type inboundCandidateEvent struct {
	from      PeerID
	candidate Candidate
}

type signalingErrorEvent struct{ message string }

type teardownEvent struct{}

// Completions of engine work scheduled by a link.

type offerReadyEvent struct {
	link *Link
	desc Description
	err  error
}

type answerReadyEvent struct {
	link *Link
	desc Description
	err  error
}

type answerAppliedEvent struct {
	link *Link
	err  error
}

// Engine callbacks.

type localCandidateEvent struct {
	link      *Link
	candidate Candidate
}

type remoteTrackEvent struct {
	link   *Link
	stream MediaStream
}

type transportEvent struct {
	link  *Link
	state TransportState
}

type disconnectExpiredEvent struct{ link *Link }

type departedEvent struct{ link *Link }
