package chat

import "chatstore/pkg/models"

// Read paths. Every read runs under a Viewer: events below the viewer's
// floor read as not-found (out of visibility is indistinguishable from
// never-existed), pruned spans read as expired, and logically deleted
// bodies are swapped for a tombstone unless the viewer is privileged or
// the sender.

// GetEvent is the visibility-filtered point lookup.
func (ce *ChatEvents) GetEvent(v Viewer, idx models.EventIndex) (*models.Event, Lookup) {
	if idx < v.MinVisible {
		return nil, LookupNotFound
	}
	e, st := ce.log.get(idx)
	if st != LookupFound {
		return nil, st
	}
	return ce.redact(v, e), LookupFound
}

// EventsSince returns up to max visible events with index >= from. The
// result is finite and the scan is restartable from any index.
func (ce *ChatEvents) EventsSince(v Viewer, from models.EventIndex, max int) []*models.Event {
	if from < v.MinVisible {
		from = v.MinVisible
	}
	var out []*models.Event
	for it := ce.log.since(from); ; {
		e, ok := it.next()
		if !ok {
			break
		}
		out = append(out, ce.redact(v, e))
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// EventsRange returns the visible events in [from, to].
func (ce *ChatEvents) EventsRange(v Viewer, from, to models.EventIndex, max int) []*models.Event {
	if from < v.MinVisible {
		from = v.MinVisible
	}
	var out []*models.Event
	for it := ce.log.since(from); ; {
		e, ok := it.next()
		if !ok || e.Index > to {
			break
		}
		out = append(out, ce.redact(v, e))
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// GetMessageByID is the visibility-filtered lookup by idempotency token.
func (ce *ChatEvents) GetMessageByID(v Viewer, id models.MessageID) (*models.Event, Lookup) {
	idx, ok := ce.byMsgID[id]
	if !ok {
		return nil, LookupNotFound
	}
	return ce.GetEvent(v, idx)
}

// redact returns the event as the viewer may see it. Deleted message
// bodies are replaced by a tombstone copy; everything else passes
// through unmodified.
func (ce *ChatEvents) redact(v Viewer, e *models.Event) *models.Event {
	mp, ok := e.Payload.(*models.MessagePushed)
	if !ok {
		return e
	}
	m := mp.Message
	if m.Deleted == nil || v.Privileged || v.User == m.Sender {
		return e
	}
	hidden := *m
	hidden.Content = &models.DeletedContent{DeletedBy: m.Deleted.DeletedBy, TS: m.Deleted.TS}
	hidden.Reactions = nil
	hidden.BlobRefs = nil
	out := *e
	out.Payload = &models.MessagePushed{Message: &hidden}
	return &out
}
