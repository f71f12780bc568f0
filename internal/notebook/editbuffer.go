package notebook

import "github.com/nbsync/nbclient/internal/protocol"

type bufferedEdit struct {
	LocalVersion int
	Message      *protocol.Message
}

// EditBuffer is the ordered log of locally issued, not-yet-acknowledged
// edits keyed by local version. Append-only from the client's perspective;
// entries are pruned when the authority confirms a global version at or
// beyond an edit's point, and the remainder is replayed after a reconnect.
type EditBuffer struct {
	edits []bufferedEdit
}

// Append records a sent message under its local version. Local versions are
// issued monotonically by the dispatcher, so ordering is by construction.
func (b *EditBuffer) Append(localVersion int, msg *protocol.Message) {
	b.edits = append(b.edits, bufferedEdit{LocalVersion: localVersion, Message: msg})
}

// Prune drops every buffered edit with localVersion <= confirmed and
// returns how many were removed.
func (b *EditBuffer) Prune(confirmed int) int {
	keep := b.edits[:0]
	removed := 0
	for _, e := range b.edits {
		if e.LocalVersion <= confirmed {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	b.edits = keep
	return removed
}

// Pending returns the unacknowledged messages in local-version order.
func (b *EditBuffer) Pending() []*protocol.Message {
	out := make([]*protocol.Message, len(b.edits))
	for i, e := range b.edits {
		out[i] = e.Message
	}
	return out
}

// Len returns the number of unacknowledged edits.
func (b *EditBuffer) Len() int {
	return len(b.edits)
}
