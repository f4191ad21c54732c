package models

// UserID is an opaque identity id; clients manage meaning.
type UserID string

// MessageID is a caller-supplied idempotency token, unique within a chat.
type MessageID string

// EventIndex is the position of an event in a chat's ordered log. Indices
// are strictly increasing and never reused, even after pruning.
type EventIndex uint64

// MessageIndex is the dense, gapless sequence number of a message. It is
// independent of (and always <=) the event index because not every event
// is a message.
type MessageIndex uint64

// CompletedTransfer records the outcome of an external ledger transfer.
type CompletedTransfer struct {
	Ledger     string `json:"ledger"`
	Token      string `json:"token"`
	Amount     uint64 `json:"amount"`
	From       UserID `json:"from,omitempty"`
	To         UserID `json:"to,omitempty"`
	BlockIndex uint64 `json:"block_index"`
	TS         int64  `json:"ts"`
}

// ExpiredRange marks a span of event indices that existed and were
// physically removed by the TTL sweep. Readers asking for an index inside
// the range get an explicit "expired" answer rather than "not found".
type ExpiredRange struct {
	First EventIndex `json:"first"`
	Last  EventIndex `json:"last"`
}

// Contains reports whether idx falls inside the range.
func (r ExpiredRange) Contains(idx EventIndex) bool {
	return idx >= r.First && idx <= r.Last
}

// ChatRole is a member's role within a chat.
type ChatRole string

const (
	RoleOwner       ChatRole = "owner"
	RoleAdmin       ChatRole = "admin"
	RoleModerator   ChatRole = "moderator"
	RoleParticipant ChatRole = "participant"
)
