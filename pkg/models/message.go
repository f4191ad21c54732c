package models

import (
	"encoding/json"
	"fmt"
)

// Message is the payload of a "message" event. It is created on append
// and mutated in place for edits, deletes, reactions, poll votes and
// thread-summary updates; every mutation is also appended to the log as
// its own audit event.
type Message struct {
	MessageIndex  MessageIndex        `json:"message_index"`
	MessageID     MessageID           `json:"message_id"`
	Sender        UserID              `json:"sender"`
	Content       MessageContent      `json:"-"`
	ReplyContext  *ReplyContext       `json:"reply_context,omitempty"`
	Reactions     map[string][]UserID `json:"reactions,omitempty"`
	Edited        bool                `json:"edited,omitempty"`
	Forwarded     bool                `json:"forwarded,omitempty"`
	Deleted       *DeletionInfo       `json:"deleted,omitempty"`
	ThreadSummary *ThreadSummary      `json:"thread_summary,omitempty"`
	// BlobRefs lists attachment ids owned by this message; they are
	// handed to the blob deleter when the message is purged.
	BlobRefs []string `json:"blob_refs,omitempty"`
	// LastEdited is the ns timestamp of the most recent edit.
	LastEdited int64 `json:"last_edited,omitempty"`
}

// DeletionInfo marks a message as logically deleted. The content stays in
// place (privileged readers can still see it) until the purge timer
// replaces it with a tombstone.
type DeletionInfo struct {
	DeletedBy UserID `json:"deleted_by"`
	TS        int64  `json:"ts"`
}

// ReplyContext points at the message being replied to. ChatID is set only
// for cross-chat replies.
type ReplyContext struct {
	EventIndex EventIndex `json:"event_index"`
	ChatID     string     `json:"chat_id,omitempty"`
}

// ThreadSummary is denormalized onto a thread's root message so list
// views can render reply activity without loading the thread log.
type ThreadSummary struct {
	ReplyCount       int        `json:"reply_count"`
	LatestEventIndex EventIndex `json:"latest_event_index"`
	LatestEventTS    int64      `json:"latest_event_ts"`
	Participants     []UserID   `json:"participants,omitempty"`
}

// AddParticipant records a thread participant once, preserving order.
func (s *ThreadSummary) AddParticipant(u UserID) {
	for _, p := range s.Participants {
		if p == u {
			return
		}
	}
	s.Participants = append(s.Participants, u)
}

type messageAlias Message

type wireMessage struct {
	messageAlias
	Content wireContent `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	wc, err := encodeContent(m.Content)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.MessageID, err)
	}
	return json.Marshal(wireMessage{messageAlias: messageAlias(m), Content: wc})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	c, err := decodeContent(w.Content)
	if err != nil {
		return fmt.Errorf("message %s content: %w", w.MessageID, err)
	}
	*m = Message(w.messageAlias)
	m.Content = c
	return nil
}

// AddReaction records a reaction by the given user. It reports false when
// the user already reacted with the same symbol.
func (m *Message) AddReaction(reaction string, u UserID) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]UserID)
	}
	for _, existing := range m.Reactions[reaction] {
		if existing == u {
			return false
		}
	}
	m.Reactions[reaction] = append(m.Reactions[reaction], u)
	return true
}

// RemoveReaction removes the user's reaction. It reports false when there
// was nothing to remove.
func (m *Message) RemoveReaction(reaction string, u UserID) bool {
	users := m.Reactions[reaction]
	for i, existing := range users {
		if existing == u {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, reaction)
			} else {
				m.Reactions[reaction] = users
			}
			return true
		}
	}
	return false
}
