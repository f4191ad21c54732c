package chat

import (
	"sort"

	"chatstore/pkg/models"
)

// eventLog owns the append-only ordered sequence of event slots for one
// chat (or one thread). Entries stay sorted by index; pruning removes
// slots physically but records the removed span so the indices keep
// answering "expired" instead of "not found".
type eventLog struct {
	entries []*models.Event
	next    models.EventIndex
	expired []models.ExpiredRange
}

func newEventLog() *eventLog {
	return &eventLog{}
}

// push appends payload at the next index. Indices are never recycled: the
// counter only moves forward, even after pruning.
func (l *eventLog) push(payload models.EventPayload, correlation uint64, now, expiresAt int64) *models.Event {
	e := &models.Event{
		Index:       l.next,
		TS:          now,
		ExpiresAt:   expiresAt,
		Correlation: correlation,
		Payload:     payload,
	}
	l.entries = append(l.entries, e)
	l.next++
	return e
}

// restore re-inserts a persisted event during load. Events arrive in key
// order from the store, which is index order.
func (l *eventLog) restore(e *models.Event) {
	l.entries = append(l.entries, e)
	if e.Index >= l.next {
		l.next = e.Index + 1
	}
}

func (l *eventLog) restoreExpired(r models.ExpiredRange) {
	l.expired = append(l.expired, r)
	if r.Last >= l.next {
		l.next = r.Last + 1
	}
}

// get looks up a single index.
func (l *eventLog) get(idx models.EventIndex) (*models.Event, Lookup) {
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Index >= idx })
	if i < len(l.entries) && l.entries[i].Index == idx {
		return l.entries[i], LookupFound
	}
	for _, r := range l.expired {
		if r.Contains(idx) {
			return nil, LookupExpired
		}
	}
	return nil, LookupNotFound
}

// latest returns the most recent event, or nil for an empty log.
func (l *eventLog) latest() *models.Event {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// iter is a finite forward iterator over the log, restartable from any
// index by constructing a fresh one.
type iter struct {
	log *eventLog
	pos int
}

// since positions an iterator at the first entry with index >= idx.
func (l *eventLog) since(idx models.EventIndex) *iter {
	pos := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Index >= idx })
	return &iter{log: l, pos: pos}
}

func (it *iter) next() (*models.Event, bool) {
	if it.pos >= len(it.log.entries) {
		return nil, false
	}
	e := it.log.entries[it.pos]
	it.pos++
	return e, true
}

// removeExpired physically drops every entry whose retention window has
// elapsed and folds the removed indices into the expired-range list.
// It returns the removed events so the aggregate can unindex them.
func (l *eventLog) removeExpired(now int64) []*models.Event {
	var removed []*models.Event
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Expired(now) {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	for _, e := range removed {
		l.addExpired(e.Index)
	}
	return removed
}

// addExpired extends or inserts a range covering idx, merging adjacent
// spans so the list stays short.
func (l *eventLog) addExpired(idx models.EventIndex) {
	for i := range l.expired {
		r := &l.expired[i]
		if r.Contains(idx) {
			return
		}
		if idx == r.Last+1 {
			r.Last = idx
			// possible merge with the following range
			if i+1 < len(l.expired) && l.expired[i+1].First == idx+1 {
				r.Last = l.expired[i+1].Last
				l.expired = append(l.expired[:i+1], l.expired[i+2:]...)
			}
			return
		}
		if idx+1 == r.First {
			r.First = idx
			return
		}
	}
	l.expired = append(l.expired, models.ExpiredRange{First: idx, Last: idx})
	sort.Slice(l.expired, func(i, j int) bool { return l.expired[i].First < l.expired[j].First })
}

// expiredRanges returns a copy of the recorded ranges.
func (l *eventLog) expiredRanges() []models.ExpiredRange {
	out := make([]models.ExpiredRange, len(l.expired))
	copy(out, l.expired)
	return out
}
