package chat

import (
	"math/rand"
	"sort"
	"time"

	"chatstore/pkg/models"
)

// ChatEvents is the aggregate root for one chat's event store: the
// ordered log, the message indices, per-member visibility floors, nested
// thread logs, and the in-flight prize/swap state machines embedded in
// message content. The caller owns the value and mutates it directly;
// there is no ambient global. Every operation is a single synchronous
// mutation, which is what makes the reserve/commit split safe when the
// surrounding code awaits an external transfer between the two calls.
type ChatEvents struct {
	chatID     string
	threadRoot *models.EventIndex
	parent     *ChatEvents // nil at the chat root

	log       *eventLog
	msgRefs   []msgRef
	byMsgID   map[models.MessageID]models.EventIndex
	threads   map[models.EventIndex]*ChatEvents
	members   map[models.UserID]*Member
	openSwaps map[models.MessageID]models.EventIndex

	historyVisible bool
	ttl            int64 // ns; 0 keeps events forever
	nextMessageIdx models.MessageIndex
	nextSwapID     uint64
	createdAt      int64

	rng *drawSource

	pending pendingDelta
}

// msgRef links the dense message sequence to the sparse event sequence.
// Both columns are ascending, so either side resolves by binary search.
type msgRef struct {
	Msg   models.MessageIndex
	Event models.EventIndex
}

// Member records a chat member's read floor. The floor is set once at
// join time and never decreases.
type Member struct {
	MinVisibleEventIndex models.EventIndex `json:"min_visible_event_index"`
	Privileged           bool              `json:"privileged"`
	JoinedAt             int64             `json:"joined_at"`
}

// Viewer is the visibility identity a read runs under.
type Viewer struct {
	User       models.UserID
	MinVisible models.EventIndex
	Privileged bool
}

// drawSource is a reproducible random source for prize draws. The seed
// and the number of draws taken are persisted so a reloaded aggregate
// continues the exact same sequence.
type drawSource struct {
	r    *rand.Rand
	seed int64
	uses uint64
}

func newDrawSource(seed int64) *drawSource {
	return &drawSource{r: rand.New(rand.NewSource(seed)), seed: seed}
}

func (d *drawSource) Float64() float64 {
	d.uses++
	return d.r.Float64()
}

func restoreDrawSource(seed int64, uses uint64) *drawSource {
	d := newDrawSource(seed)
	for i := uint64(0); i < uses; i++ {
		d.r.Float64()
	}
	d.uses = uses
	return d
}

// New creates the event store for a fresh chat and appends the
// ChatCreated event. The creator joins privileged with floor zero.
func New(chatID string, createdBy models.UserID, historyVisible bool, ttl time.Duration, seed int64, now int64) *ChatEvents {
	ce := newEmpty(chatID, nil)
	ce.historyVisible = historyVisible
	ce.ttl = int64(ttl)
	ce.createdAt = now
	ce.rng = newDrawSource(seed)
	ce.members[createdBy] = &Member{MinVisibleEventIndex: 0, Privileged: true, JoinedAt: now}
	ce.pushEvent(&models.ChatCreated{CreatedBy: createdBy}, 0, now)
	ce.markMetaChanged()
	return ce
}

func newEmpty(chatID string, threadRoot *models.EventIndex) *ChatEvents {
	return &ChatEvents{
		chatID:     chatID,
		threadRoot: threadRoot,
		log:        newEventLog(),
		byMsgID:    make(map[models.MessageID]models.EventIndex),
		threads:    make(map[models.EventIndex]*ChatEvents),
		members:    make(map[models.UserID]*Member),
		openSwaps:  make(map[models.MessageID]models.EventIndex),
		pending:    newPendingDelta(),
	}
}

// ChatID returns the owning chat id.
func (ce *ChatEvents) ChatID() string { return ce.chatID }

// root walks up to the chat-level aggregate. Threads share the members,
// draw source, swap id counter and meta record of their root.
func (ce *ChatEvents) root() *ChatEvents {
	r := ce
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// markMetaChanged flags the chat-level meta record dirty. The meta is
// persisted only at the root, so thread mutations that touch shared
// state (draw count, swap ids, members) must dirty the root, not the
// thread's own delta.
func (ce *ChatEvents) markMetaChanged() {
	ce.root().pending.metaChanged = true
}

// TTL returns the configured retention window in nanoseconds (0 = none).
func (ce *ChatEvents) TTL() int64 { return ce.ttl }

// LatestEventIndex returns the index the next event will NOT reuse.
func (ce *ChatEvents) LatestEventIndex() models.EventIndex {
	return ce.log.next
}

// LatestMessageIndex returns the next dense message index.
func (ce *ChatEvents) LatestMessageIndex() models.MessageIndex {
	return ce.nextMessageIdx
}

func (ce *ChatEvents) expiryAt(now int64) int64 {
	if ce.ttl == 0 {
		return 0
	}
	return now + ce.ttl
}

// pushEvent appends a non-message event and marks it dirty.
func (ce *ChatEvents) pushEvent(payload models.EventPayload, correlation uint64, now int64) *models.Event {
	e := ce.log.push(payload, correlation, now, ce.expiryAt(now))
	ce.pending.markEvent(e.Index)
	return e
}

// PushEvent appends a non-message payload supplied by the entry points
// (membership changes, gate updates). Message payloads must go through
// PushMessage so the indices stay consistent; they are rejected here.
func (ce *ChatEvents) PushEvent(payload models.EventPayload, correlation uint64, now int64) (models.EventIndex, bool) {
	if _, ok := payload.(*models.MessagePushed); ok {
		return 0, false
	}
	return ce.pushEvent(payload, correlation, now).Index, true
}

// PushMessageArgs carries everything needed to append a message.
type PushMessageArgs struct {
	MessageID    models.MessageID
	Sender       models.UserID
	Content      models.MessageContent
	ReplyContext *models.ReplyContext
	Forwarded    bool
	BlobRefs     []string
	Correlation  uint64
	Now          int64
}

// PushMessage appends a message event. It is the idempotency boundary
// for "send message": a previously seen message id creates no second
// event and returns the original indices.
func (ce *ChatEvents) PushMessage(args PushMessageArgs) PushMessageResult {
	if idx, ok := ce.byMsgID[args.MessageID]; ok {
		// pruning drops byMsgID entries together with their events, so
		// a mapped index always resolves
		e, m, _ := ce.messageAt(idx)
		return PushMessageResult{
			EventIndex:   e.Index,
			MessageIndex: m.MessageIndex,
			TS:           e.TS,
			ExpiresAt:    e.ExpiresAt,
			Duplicate:    true,
		}
	}

	msg := &models.Message{
		MessageIndex: ce.nextMessageIdx,
		MessageID:    args.MessageID,
		Sender:       args.Sender,
		Content:      args.Content,
		ReplyContext: args.ReplyContext,
		Forwarded:    args.Forwarded,
		BlobRefs:     args.BlobRefs,
	}
	ce.prepareContent(msg, args.Now)
	ce.nextMessageIdx++

	e := ce.pushEvent(&models.MessagePushed{Message: msg}, args.Correlation, args.Now)
	ce.msgRefs = append(ce.msgRefs, msgRef{Msg: msg.MessageIndex, Event: e.Index})
	ce.byMsgID[args.MessageID] = e.Index
	ce.pending.markMsgID(args.MessageID, e.Index)

	if _, ok := msg.Content.(*models.P2PSwapContent); ok {
		ce.openSwaps[args.MessageID] = e.Index
	}

	return PushMessageResult{
		EventIndex:   e.Index,
		MessageIndex: msg.MessageIndex,
		TS:           e.TS,
		ExpiresAt:    e.ExpiresAt,
	}
}

// prepareContent fills in server-assigned fields of stateful content.
func (ce *ChatEvents) prepareContent(msg *models.Message, now int64) {
	switch c := msg.Content.(type) {
	case *models.P2PSwapContent:
		// swap ids are chat-unique, so thread swaps draw from the
		// root counter too
		root := ce.root()
		root.nextSwapID++
		c.SwapID = root.nextSwapID
		c.CreatedBy = msg.Sender
		c.CreatedAt = now
		if c.Status == nil {
			c.Status = &models.SwapOpen{}
		}
		ce.markMetaChanged()
	case *models.PrizeContent:
		if len(c.Remaining) == 0 && c.TotalAmount > 0 && c.Count > 0 {
			c.Remaining = generatePrizes(ce.rng, c.TotalAmount, c.Count)
			ce.markMetaChanged()
		}
		if c.Reservations == nil {
			c.Reservations = make(map[models.UserID]uint64)
		}
		if c.Winners == nil {
			c.Winners = make(map[models.UserID]uint64)
		}
	}
}

// messageAt returns the event and message at an event index group.
func (ce *ChatEvents) messageAt(idx models.EventIndex) (*models.Event, *models.Message, Lookup) {
	e, st := ce.log.get(idx)
	if st != LookupFound {
		return nil, nil, st
	}
	mp, ok := e.Payload.(*models.MessagePushed)
	if !ok {
		return nil, nil, LookupNotFound
	}
	return e, mp.Message, LookupFound
}

// messageByID resolves a message through the idempotency index.
func (ce *ChatEvents) messageByID(id models.MessageID) (*models.Event, *models.Message, Lookup) {
	idx, ok := ce.byMsgID[id]
	if !ok {
		return nil, nil, LookupNotFound
	}
	return ce.messageAt(idx)
}

// MessageEventByID returns the (unredacted) event holding the message
// with the given id. Entry points use it for reply lookups.
func (ce *ChatEvents) MessageEventByID(id models.MessageID) (*models.Event, Lookup) {
	e, _, st := ce.messageByID(id)
	return e, st
}

// EventIndexOfMessage maps the dense message index to its event index.
func (ce *ChatEvents) EventIndexOfMessage(midx models.MessageIndex) (models.EventIndex, bool) {
	i := sort.Search(len(ce.msgRefs), func(i int) bool { return ce.msgRefs[i].Msg >= midx })
	if i < len(ce.msgRefs) && ce.msgRefs[i].Msg == midx {
		return ce.msgRefs[i].Event, true
	}
	return 0, false
}

// MessageIndexOfEvent maps an event index back to the message it carries.
func (ce *ChatEvents) MessageIndexOfEvent(idx models.EventIndex) (models.MessageIndex, bool) {
	i := sort.Search(len(ce.msgRefs), func(i int) bool { return ce.msgRefs[i].Event >= idx })
	if i < len(ce.msgRefs) && ce.msgRefs[i].Event == idx {
		return ce.msgRefs[i].Msg, true
	}
	return 0, false
}

// EditMessage replaces the message content in place and appends the
// audit event. Only the sender may edit, and not after deletion.
func (ce *ChatEvents) EditMessage(id models.MessageID, editedBy models.UserID, content models.MessageContent, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return MutateMessageNotFound
	}
	if msg.Sender != editedBy {
		return MutateNotAuthorized
	}
	if msg.Deleted != nil {
		return MutateNoChange
	}
	msg.Content = content
	msg.Edited = true
	msg.LastEdited = now
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.MessageEdited{MessageIndex: msg.MessageIndex, MessageID: id, EditedBy: editedBy}, correlation, now)
	return MutateSuccess
}

// DeleteMessage marks the message logically deleted. The body survives
// (hidden from unprivileged readers) until PurgeDeleted tombstones it.
func (ce *ChatEvents) DeleteMessage(id models.MessageID, deletedBy models.UserID, privileged bool, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return MutateMessageNotFound
	}
	if msg.Sender != deletedBy && !privileged {
		return MutateNotAuthorized
	}
	if msg.Deleted != nil {
		return MutateNoChange
	}
	msg.Deleted = &models.DeletionInfo{DeletedBy: deletedBy, TS: now}
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.MessageDeleted{MessageIndex: msg.MessageIndex, MessageID: id, DeletedBy: deletedBy}, correlation, now)
	return MutateSuccess
}

// UndeleteMessage reverses a logical delete while the body still exists.
func (ce *ChatEvents) UndeleteMessage(id models.MessageID, by models.UserID, privileged bool, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return MutateMessageNotFound
	}
	if msg.Deleted == nil {
		return MutateNoChange
	}
	if msg.Deleted.DeletedBy != by && !privileged {
		return MutateNotAuthorized
	}
	if _, purged := msg.Content.(*models.DeletedContent); purged {
		// body already tombstoned; nothing to bring back
		return MutateNoChange
	}
	msg.Deleted = nil
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.MessageUndeleted{MessageIndex: msg.MessageIndex, MessageID: id, UndeletedBy: by}, correlation, now)
	return MutateSuccess
}

// AddReaction records a reaction and its audit event.
func (ce *ChatEvents) AddReaction(id models.MessageID, reaction string, by models.UserID, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return MutateMessageNotFound
	}
	if !msg.AddReaction(reaction, by) {
		return MutateNoChange
	}
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.ReactionAdded{MessageIndex: msg.MessageIndex, Reaction: reaction, AddedBy: by}, correlation, now)
	return MutateSuccess
}

// RemoveReaction removes a reaction and records the audit event.
func (ce *ChatEvents) RemoveReaction(id models.MessageID, reaction string, by models.UserID, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return MutateMessageNotFound
	}
	if !msg.RemoveReaction(reaction, by) {
		return MutateNoChange
	}
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.ReactionRemoved{MessageIndex: msg.MessageIndex, Reaction: reaction, RemovedBy: by}, correlation, now)
	return MutateSuccess
}

// RegisterPollVote applies a vote to a poll message.
func (ce *ChatEvents) RegisterPollVote(id models.MessageID, voter models.UserID, option int, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return MutateMessageNotFound
	}
	poll, ok := msg.Content.(*models.PollContent)
	if !ok {
		return MutateMessageNotFound
	}
	if poll.EndDate != 0 && now >= poll.EndDate {
		poll.Ended = true
	}
	if !poll.RegisterVote(voter, option) {
		return MutateNoChange
	}
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.PollVoteRegistered{MessageIndex: msg.MessageIndex, VotedBy: voter, Option: option}, correlation, now)
	return MutateSuccess
}

// EndPoll closes a poll and records the audit event.
func (ce *ChatEvents) EndPoll(id models.MessageID, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return MutateMessageNotFound
	}
	poll, ok := msg.Content.(*models.PollContent)
	if !ok {
		return MutateMessageNotFound
	}
	if poll.Ended {
		return MutateNoChange
	}
	poll.Ended = true
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.PollEnded{MessageIndex: msg.MessageIndex}, correlation, now)
	return MutateSuccess
}

// RecordProposalVote records a governance vote on a proposal message.
func (ce *ChatEvents) RecordProposalVote(id models.MessageID, voter models.UserID, adopt bool, correlation uint64, now int64) MutateOutcome {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return MutateMessageNotFound
	}
	prop, ok := msg.Content.(*models.GovernanceProposalContent)
	if !ok {
		return MutateMessageNotFound
	}
	if prev, voted := prop.Votes[voter]; voted && prev == adopt {
		return MutateNoChange
	}
	if prop.Votes == nil {
		prop.Votes = make(map[models.UserID]bool)
	}
	prop.Votes[voter] = adopt
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.ProposalVoteRecorded{MessageIndex: msg.MessageIndex, VotedBy: voter, Adopt: adopt}, correlation, now)
	return MutateSuccess
}

// SetTTL updates the retention window for newly appended events and
// records the change. Existing events keep their expiry.
func (ce *ChatEvents) SetTTL(ttl time.Duration, by models.UserID, correlation uint64, now int64) {
	ce.ttl = int64(ttl)
	ce.markMetaChanged()
	ce.pushEvent(&models.TTLUpdated{UpdatedBy: by, TTLNanos: int64(ttl)}, correlation, now)
}

// JoinMember sets the member's visibility floor. The floor is immutable:
// rejoining never lowers (or raises) it. Returns the effective floor.
func (ce *ChatEvents) JoinMember(user models.UserID, privileged bool, now int64) models.EventIndex {
	if m, ok := ce.members[user]; ok {
		return m.MinVisibleEventIndex
	}
	floor := ce.log.next
	if ce.historyVisible {
		floor = 0
	}
	ce.members[user] = &Member{MinVisibleEventIndex: floor, Privileged: privileged, JoinedAt: now}
	ce.markMetaChanged()
	return floor
}

// RemoveMember forgets the member's floor. Their events remain.
func (ce *ChatEvents) RemoveMember(user models.UserID) {
	if _, ok := ce.members[user]; ok {
		delete(ce.members, user)
		ce.markMetaChanged()
	}
}

// ViewerFor builds the visibility identity for a member.
func (ce *ChatEvents) ViewerFor(user models.UserID) (Viewer, bool) {
	m, ok := ce.members[user]
	if !ok {
		return Viewer{}, false
	}
	return Viewer{User: user, MinVisible: m.MinVisibleEventIndex, Privileged: m.Privileged}, true
}

// Thread returns the nested event log rooted at the given event index,
// creating it on first use when the root is a live message.
func (ce *ChatEvents) Thread(root models.EventIndex, create bool) (*ChatEvents, bool) {
	if t, ok := ce.threads[root]; ok {
		return t, true
	}
	if !create {
		return nil, false
	}
	if _, _, st := ce.messageAt(root); st != LookupFound {
		return nil, false
	}
	t := newEmpty(ce.chatID, &root)
	t.parent = ce
	t.historyVisible = true
	t.ttl = ce.ttl
	t.members = ce.members
	t.rng = ce.rng
	ce.threads[root] = t
	return t, true
}

// PushThreadMessage appends a message to the thread rooted at the given
// event, updates the root's thread summary, and records the summary
// update on the root log.
func (ce *ChatEvents) PushThreadMessage(root models.EventIndex, args PushMessageArgs) (PushMessageResult, bool) {
	rootEvent, rootMsg, st := ce.messageAt(root)
	if st != LookupFound {
		return PushMessageResult{}, false
	}
	t, ok := ce.Thread(root, true)
	if !ok {
		return PushMessageResult{}, false
	}
	res := t.PushMessage(args)
	if res.Duplicate {
		return res, true
	}
	if rootMsg.ThreadSummary == nil {
		rootMsg.ThreadSummary = &models.ThreadSummary{}
	}
	sum := rootMsg.ThreadSummary
	sum.ReplyCount++
	sum.LatestEventIndex = res.EventIndex
	sum.LatestEventTS = res.TS
	sum.AddParticipant(args.Sender)
	ce.pending.markEvent(rootEvent.Index)
	ce.pushEvent(&models.ThreadSummaryUpdated{RootMessageIndex: rootMsg.MessageIndex, UpdatedBy: args.Sender}, args.Correlation, args.Now)
	return res, true
}

// RemoveExpired physically removes every event whose retention window has
// elapsed, recursing into threads. Removed spans become expired ranges;
// blob refs owned by removed messages are returned for external deletion.
func (ce *ChatEvents) RemoveExpired(now int64) PruneResult {
	var res PruneResult
	removed := ce.log.removeExpired(now)
	for _, e := range removed {
		ce.pending.markRemoved(e.Index)
		if mp, ok := e.Payload.(*models.MessagePushed); ok {
			m := mp.Message
			delete(ce.byMsgID, m.MessageID)
			delete(ce.openSwaps, m.MessageID)
			res.BlobRefs = append(res.BlobRefs, m.BlobRefs...)
			ce.dropMsgRef(m.MessageIndex)
			if t, ok := ce.threads[e.Index]; ok {
				res.BlobRefs = append(res.BlobRefs, t.allBlobRefs()...)
				delete(ce.threads, e.Index)
				ce.pending.markThreadRemoved(e.Index)
			}
		}
	}
	if len(removed) > 0 {
		ce.pending.expiredChanged = true
	}
	res.Removed = len(removed)
	res.Ranges = ce.log.expiredRanges()

	for _, t := range ce.threads {
		sub := t.RemoveExpired(now)
		res.Removed += sub.Removed
		res.BlobRefs = append(res.BlobRefs, sub.BlobRefs...)
	}
	return res
}

func (ce *ChatEvents) dropMsgRef(midx models.MessageIndex) {
	i := sort.Search(len(ce.msgRefs), func(i int) bool { return ce.msgRefs[i].Msg >= midx })
	if i < len(ce.msgRefs) && ce.msgRefs[i].Msg == midx {
		ce.msgRefs = append(ce.msgRefs[:i], ce.msgRefs[i+1:]...)
	}
}

func (ce *ChatEvents) allBlobRefs() []string {
	var out []string
	for it := ce.log.since(0); ; {
		e, ok := it.next()
		if !ok {
			break
		}
		if mp, ok := e.Payload.(*models.MessagePushed); ok {
			out = append(out, mp.Message.BlobRefs...)
		}
	}
	for _, t := range ce.threads {
		out = append(out, t.allBlobRefs()...)
	}
	return out
}

// PurgeDeleted replaces the bodies of messages deleted before the cutoff
// with permanent tombstones and returns the released blob refs.
func (ce *ChatEvents) PurgeDeleted(cutoff int64) []string {
	var blobs []string
	for it := ce.log.since(0); ; {
		e, ok := it.next()
		if !ok {
			break
		}
		mp, ok := e.Payload.(*models.MessagePushed)
		if !ok {
			continue
		}
		m := mp.Message
		if m.Deleted == nil || m.Deleted.TS > cutoff {
			continue
		}
		if _, already := m.Content.(*models.DeletedContent); already {
			continue
		}
		blobs = append(blobs, m.BlobRefs...)
		m.Content = &models.DeletedContent{DeletedBy: m.Deleted.DeletedBy, TS: m.Deleted.TS}
		m.BlobRefs = nil
		ce.pending.markEvent(e.Index)
	}
	for _, t := range ce.threads {
		blobs = append(blobs, t.PurgeDeleted(cutoff)...)
	}
	return blobs
}
