package chat

import (
	"sort"

	"chatstore/pkg/models"
)

// pendingDelta accumulates the storage footprint of mutations since the
// last persist. Every operation in this package touches a bounded set of
// keys, so the whole aggregate never has to be rewritten.
type pendingDelta struct {
	events         map[models.EventIndex]struct{}
	removed        map[models.EventIndex]struct{}
	msgIDs         map[models.MessageID]models.EventIndex
	removedThreads map[models.EventIndex]struct{}
	expiredChanged bool
	metaChanged    bool
}

func newPendingDelta() pendingDelta {
	return pendingDelta{
		events:         make(map[models.EventIndex]struct{}),
		removed:        make(map[models.EventIndex]struct{}),
		msgIDs:         make(map[models.MessageID]models.EventIndex),
		removedThreads: make(map[models.EventIndex]struct{}),
	}
}

func (p *pendingDelta) markEvent(idx models.EventIndex) { p.events[idx] = struct{}{} }

func (p *pendingDelta) markRemoved(idx models.EventIndex) {
	delete(p.events, idx)
	p.removed[idx] = struct{}{}
}

func (p *pendingDelta) markMsgID(id models.MessageID, idx models.EventIndex) {
	p.msgIDs[id] = idx
}

func (p *pendingDelta) markThreadRemoved(root models.EventIndex) {
	p.removedThreads[root] = struct{}{}
}

// Delta is the serializable change set a persist call writes in one
// batch. Event indices refer to records to rewrite; Removed lists keys to
// delete. Thread deltas are keyed by the root event index.
type Delta struct {
	Events         []models.EventIndex
	Removed        []models.EventIndex
	MsgIDs         map[models.MessageID]models.EventIndex
	RemovedThreads []models.EventIndex
	ExpiredChanged bool
	MetaChanged    bool
	Threads        map[models.EventIndex]Delta
}

// Empty reports whether the delta carries no writes.
func (d Delta) Empty() bool {
	return len(d.Events) == 0 && len(d.Removed) == 0 && len(d.MsgIDs) == 0 &&
		len(d.RemovedThreads) == 0 && !d.ExpiredChanged && !d.MetaChanged &&
		len(d.Threads) == 0
}

// TakeDelta drains the pending change set, including nested threads'.
func (ce *ChatEvents) TakeDelta() Delta {
	d := Delta{
		Events:         sortedIndices(ce.pending.events),
		Removed:        sortedIndices(ce.pending.removed),
		RemovedThreads: sortedIndices(ce.pending.removedThreads),
		ExpiredChanged: ce.pending.expiredChanged,
		MetaChanged:    ce.pending.metaChanged,
	}
	if len(ce.pending.msgIDs) > 0 {
		d.MsgIDs = ce.pending.msgIDs
	}
	for root, t := range ce.threads {
		td := t.TakeDelta()
		if td.Empty() {
			continue
		}
		if d.Threads == nil {
			d.Threads = make(map[models.EventIndex]Delta)
		}
		d.Threads[root] = td
	}
	ce.pending = newPendingDelta()
	return d
}

func sortedIndices(m map[models.EventIndex]struct{}) []models.EventIndex {
	if len(m) == 0 {
		return nil
	}
	out := make([]models.EventIndex, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventAt exposes a raw event record for persistence. It bypasses
// visibility on purpose; only the store should use it.
func (ce *ChatEvents) EventAt(idx models.EventIndex) (*models.Event, bool) {
	e, st := ce.log.get(idx)
	return e, st == LookupFound
}

// ExpiredRanges returns the current expired-range list for persistence.
func (ce *ChatEvents) ExpiredRanges() []models.ExpiredRange {
	return ce.log.expiredRanges()
}

// Threads returns the live nested thread logs keyed by root event index.
func (ce *ChatEvents) Threads() map[models.EventIndex]*ChatEvents {
	return ce.threads
}
