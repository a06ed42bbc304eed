package mesh

// CandidateBuffer holds candidates that arrived before the remote description
// was applied. It is only touched from the coordinator loop.
type CandidateBuffer struct {
	items []Candidate
}

func (b *CandidateBuffer) Enqueue(c Candidate) {
	b.items = append(b.items, c)
}

// Flush returns the buffered candidates in receipt order and empties the buffer.
func (b *CandidateBuffer) Flush() []Candidate {
	out := b.items
	b.items = nil
	return out
}

func (b *CandidateBuffer) Clear() {
	b.items = nil
}

func (b *CandidateBuffer) Len() int {
	return len(b.items)
}
