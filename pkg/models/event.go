package models

import (
	"encoding/json"
	"fmt"
)

// EventPayload is the closed union of everything that can happen in a
// chat. Each variant reports a stable wire kind; the decoder in this file
// maps kinds back to concrete types, so stored events survive upgrades
// (unknown kinds round-trip through UnknownPayload instead of failing).
type EventPayload interface {
	Kind() string
}

// Event is one immutable slot in a chat's ordered log. ExpiresAt of zero
// means the event never expires. Correlation links the event back to the
// inbound call that produced it.
type Event struct {
	Index       EventIndex
	TS          int64
	ExpiresAt   int64
	Correlation uint64
	Payload     EventPayload
}

// Expired reports whether the event's retention window has elapsed at now
// (unix nanos).
func (e *Event) Expired(now int64) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= now
}

type wireEvent struct {
	Index       EventIndex      `json:"index"`
	TS          int64           `json:"ts"`
	ExpiresAt   int64           `json:"expires_at,omitempty"`
	Correlation uint64          `json:"correlation,omitempty"`
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON flattens the payload union into a kind/data envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d has no payload", e.Index)
	}
	var data json.RawMessage
	var err error
	if u, ok := e.Payload.(*UnknownPayload); ok {
		data = u.Raw
	} else if data, err = json.Marshal(e.Payload); err != nil {
		return nil, fmt.Errorf("marshal event %d payload: %w", e.Index, err)
	}
	return json.Marshal(wireEvent{
		Index:       e.Index,
		TS:          e.TS,
		ExpiresAt:   e.ExpiresAt,
		Correlation: e.Correlation,
		Kind:        e.Payload.Kind(),
		Data:        data,
	})
}

// UnmarshalJSON decodes the kind/data envelope. Payload kinds this build
// does not know decode to UnknownPayload so newer data is preserved.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := decodeEventPayload(w.Kind, w.Data)
	if err != nil {
		return fmt.Errorf("decode event %d: %w", w.Index, err)
	}
	e.Index = w.Index
	e.TS = w.TS
	e.ExpiresAt = w.ExpiresAt
	e.Correlation = w.Correlation
	e.Payload = p
	return nil
}

// Event payload variants. Mutations to a message are applied in place on
// the message record and additionally appended as one of these audit
// events, so the log remains a complete account of what happened.

type MessagePushed struct {
	Message *Message `json:"message"`
}

type MessageEdited struct {
	MessageIndex MessageIndex `json:"message_index"`
	MessageID    MessageID    `json:"message_id"`
	EditedBy     UserID       `json:"edited_by"`
}

type MessageDeleted struct {
	MessageIndex MessageIndex `json:"message_index"`
	MessageID    MessageID    `json:"message_id"`
	DeletedBy    UserID       `json:"deleted_by"`
}

type MessageUndeleted struct {
	MessageIndex MessageIndex `json:"message_index"`
	MessageID    MessageID    `json:"message_id"`
	UndeletedBy  UserID       `json:"undeleted_by"`
}

type ReactionAdded struct {
	MessageIndex MessageIndex `json:"message_index"`
	Reaction     string       `json:"reaction"`
	AddedBy      UserID       `json:"added_by"`
}

type ReactionRemoved struct {
	MessageIndex MessageIndex `json:"message_index"`
	Reaction     string       `json:"reaction"`
	RemovedBy    UserID       `json:"removed_by"`
}

type MembersAdded struct {
	Users   []UserID `json:"users"`
	AddedBy UserID   `json:"added_by"`
}

type MembersRemoved struct {
	Users     []UserID `json:"users"`
	RemovedBy UserID   `json:"removed_by"`
}

type MemberJoined struct {
	User UserID `json:"user"`
}

type MemberLeft struct {
	User UserID `json:"user"`
}

type RoleChanged struct {
	Users     []UserID `json:"users"`
	ChangedBy UserID   `json:"changed_by"`
	OldRole   ChatRole `json:"old_role"`
	NewRole   ChatRole `json:"new_role"`
}

type PollVoteRegistered struct {
	MessageIndex MessageIndex `json:"message_index"`
	VotedBy      UserID       `json:"voted_by"`
	Option       int          `json:"option"`
}

type PollEnded struct {
	MessageIndex MessageIndex `json:"message_index"`
}

type ProposalVoteRecorded struct {
	MessageIndex MessageIndex `json:"message_index"`
	VotedBy      UserID       `json:"voted_by"`
	Adopt        bool         `json:"adopt"`
}

type PrizeClaimed struct {
	MessageIndex MessageIndex      `json:"message_index"`
	MessageID    MessageID         `json:"message_id"`
	Winner       UserID            `json:"winner"`
	Amount       uint64            `json:"amount"`
	Token        string            `json:"token"`
	Transfer     CompletedTransfer `json:"transfer"`
}

type P2PSwapCompleted struct {
	SwapID       uint64       `json:"swap_id"`
	MessageIndex MessageIndex `json:"message_index"`
	AcceptedBy   UserID       `json:"accepted_by"`
}

type P2PSwapCancelled struct {
	SwapID       uint64       `json:"swap_id"`
	MessageIndex MessageIndex `json:"message_index"`
}

type P2PSwapExpired struct {
	SwapID       uint64       `json:"swap_id"`
	MessageIndex MessageIndex `json:"message_index"`
}

type GateUpdated struct {
	UpdatedBy UserID `json:"updated_by"`
	Gate      string `json:"gate,omitempty"`
}

type TTLUpdated struct {
	UpdatedBy UserID `json:"updated_by"`
	// TTLNanos of zero clears the retention window.
	TTLNanos int64 `json:"ttl,omitempty"`
}

type ChatCreated struct {
	Name      string `json:"name,omitempty"`
	CreatedBy UserID `json:"created_by"`
}

type ThreadSummaryUpdated struct {
	RootMessageIndex MessageIndex `json:"root_message_index"`
	UpdatedBy        UserID       `json:"updated_by"`
}

// UnknownPayload preserves an event whose kind postdates this build.
type UnknownPayload struct {
	RawKind string
	Raw     json.RawMessage
}

func (MessagePushed) Kind() string        { return "message" }
func (MessageEdited) Kind() string        { return "message_edited" }
func (MessageDeleted) Kind() string       { return "message_deleted" }
func (MessageUndeleted) Kind() string     { return "message_undeleted" }
func (ReactionAdded) Kind() string        { return "reaction_added" }
func (ReactionRemoved) Kind() string      { return "reaction_removed" }
func (MembersAdded) Kind() string         { return "members_added" }
func (MembersRemoved) Kind() string       { return "members_removed" }
func (MemberJoined) Kind() string         { return "member_joined" }
func (MemberLeft) Kind() string           { return "member_left" }
func (RoleChanged) Kind() string          { return "role_changed" }
func (PollVoteRegistered) Kind() string   { return "poll_vote" }
func (PollEnded) Kind() string            { return "poll_ended" }
func (ProposalVoteRecorded) Kind() string { return "proposal_vote" }
func (PrizeClaimed) Kind() string         { return "prize_claimed" }
func (P2PSwapCompleted) Kind() string     { return "p2p_swap_completed" }
func (P2PSwapCancelled) Kind() string     { return "p2p_swap_cancelled" }
func (P2PSwapExpired) Kind() string       { return "p2p_swap_expired" }
func (GateUpdated) Kind() string          { return "gate_updated" }
func (TTLUpdated) Kind() string           { return "ttl_updated" }
func (ChatCreated) Kind() string          { return "chat_created" }
func (ThreadSummaryUpdated) Kind() string { return "thread_summary_updated" }
func (u UnknownPayload) Kind() string     { return u.RawKind }

var eventDecoders = map[string]func() EventPayload{
	"message":                func() EventPayload { return &MessagePushed{} },
	"message_edited":         func() EventPayload { return &MessageEdited{} },
	"message_deleted":        func() EventPayload { return &MessageDeleted{} },
	"message_undeleted":      func() EventPayload { return &MessageUndeleted{} },
	"reaction_added":         func() EventPayload { return &ReactionAdded{} },
	"reaction_removed":       func() EventPayload { return &ReactionRemoved{} },
	"members_added":          func() EventPayload { return &MembersAdded{} },
	"members_removed":        func() EventPayload { return &MembersRemoved{} },
	"member_joined":          func() EventPayload { return &MemberJoined{} },
	"member_left":            func() EventPayload { return &MemberLeft{} },
	"role_changed":           func() EventPayload { return &RoleChanged{} },
	"poll_vote":              func() EventPayload { return &PollVoteRegistered{} },
	"poll_ended":             func() EventPayload { return &PollEnded{} },
	"proposal_vote":          func() EventPayload { return &ProposalVoteRecorded{} },
	"prize_claimed":          func() EventPayload { return &PrizeClaimed{} },
	"p2p_swap_completed":     func() EventPayload { return &P2PSwapCompleted{} },
	"p2p_swap_cancelled":     func() EventPayload { return &P2PSwapCancelled{} },
	"p2p_swap_expired":       func() EventPayload { return &P2PSwapExpired{} },
	"gate_updated":           func() EventPayload { return &GateUpdated{} },
	"ttl_updated":            func() EventPayload { return &TTLUpdated{} },
	"chat_created":           func() EventPayload { return &ChatCreated{} },
	"thread_summary_updated": func() EventPayload { return &ThreadSummaryUpdated{} },
}

func decodeEventPayload(kind string, data json.RawMessage) (EventPayload, error) {
	mk, ok := eventDecoders[kind]
	if !ok {
		return &UnknownPayload{RawKind: kind, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	p := mk()
	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("payload kind %q: %w", kind, err)
		}
	}
	return p, nil
}
