package chat

import "chatstore/pkg/models"

// Restore path. The store rebuilds an aggregate by feeding back the meta
// record, then every surviving event in key (= index) order, then the
// expired ranges. Indices are rebuilt from the events themselves, so the
// persisted footprint stays small.

// Meta is the serialized header of a chat aggregate.
type Meta struct {
	ChatID         string                    `json:"chat_id"`
	HistoryVisible bool                      `json:"history_visible"`
	TTLNanos       int64                     `json:"ttl,omitempty"`
	CreatedAt      int64                     `json:"created_at"`
	Seed           int64                     `json:"seed"`
	RNGUses        uint64                    `json:"rng_uses,omitempty"`
	NextSwapID     uint64                    `json:"next_swap_id,omitempty"`
	Members        map[models.UserID]*Member `json:"members,omitempty"`
}

// Meta snapshots the aggregate header for persistence.
func (ce *ChatEvents) Meta() Meta {
	return Meta{
		ChatID:         ce.chatID,
		HistoryVisible: ce.historyVisible,
		TTLNanos:       ce.ttl,
		CreatedAt:      ce.createdAt,
		Seed:           ce.rng.seed,
		RNGUses:        ce.rng.uses,
		NextSwapID:     ce.nextSwapID,
		Members:        ce.members,
	}
}

// Restore starts an aggregate from a persisted meta record.
func Restore(meta Meta) *ChatEvents {
	ce := newEmpty(meta.ChatID, nil)
	ce.historyVisible = meta.HistoryVisible
	ce.ttl = meta.TTLNanos
	ce.createdAt = meta.CreatedAt
	ce.nextSwapID = meta.NextSwapID
	ce.rng = restoreDrawSource(meta.Seed, meta.RNGUses)
	if meta.Members != nil {
		ce.members = meta.Members
	}
	return ce
}

// RestoreEvent re-inserts a persisted event and rebuilds the secondary
// indices it feeds. Events must arrive in ascending index order.
func (ce *ChatEvents) RestoreEvent(e *models.Event) {
	ce.log.restore(e)
	mp, ok := e.Payload.(*models.MessagePushed)
	if !ok {
		return
	}
	m := mp.Message
	ce.msgRefs = append(ce.msgRefs, msgRef{Msg: m.MessageIndex, Event: e.Index})
	ce.byMsgID[m.MessageID] = e.Index
	if m.MessageIndex >= ce.nextMessageIdx {
		ce.nextMessageIdx = m.MessageIndex + 1
	}
	if swap, ok := m.Content.(*models.P2PSwapContent); ok {
		// the persisted counter can lag the surviving swap events;
		// take the max so reuse is impossible
		if root := ce.root(); swap.SwapID > root.nextSwapID {
			root.nextSwapID = swap.SwapID
		}
		if !swap.Terminal() {
			ce.openSwaps[m.MessageID] = e.Index
		}
	}
}

// RestoreExpiredRange re-registers a pruned span.
func (ce *ChatEvents) RestoreExpiredRange(r models.ExpiredRange) {
	ce.log.restoreExpired(r)
}

// RestoreThread materializes the nested log for a persisted thread. The
// thread shares members, draw source and TTL with its parent; a thread
// whose events were all pruned restarts its dense message sequence while
// the event indices stay monotonic through the expired ranges.
func (ce *ChatEvents) RestoreThread(root models.EventIndex) *ChatEvents {
	if t, ok := ce.threads[root]; ok {
		return t
	}
	t := newEmpty(ce.chatID, &root)
	t.parent = ce
	t.historyVisible = true
	t.ttl = ce.ttl
	t.members = ce.members
	t.rng = ce.rng
	ce.threads[root] = t
	return t
}
