package chat

import (
	"testing"
	"time"

	"chatstore/pkg/models"
)

const baseTS = int64(1_700_000_000_000_000_000)

func newTestChat(t *testing.T) *ChatEvents {
	t.Helper()
	return New("c1", "alice", true, 0, 42, baseTS)
}

func pushText(t *testing.T, ce *ChatEvents, id models.MessageID, sender models.UserID, text string) PushMessageResult {
	t.Helper()
	res := ce.PushMessage(PushMessageArgs{
		MessageID: id,
		Sender:    sender,
		Content:   &models.TextContent{Text: text},
		Now:       baseTS,
	})
	if res.Duplicate {
		t.Fatalf("unexpected duplicate for %s", id)
	}
	return res
}

func TestNew_AppendsChatCreated(t *testing.T) {
	ce := newTestChat(t)
	if ce.LatestEventIndex() != 1 {
		t.Fatalf("expected next index 1, got %d", ce.LatestEventIndex())
	}
	v, ok := ce.ViewerFor("alice")
	if !ok || !v.Privileged || v.MinVisible != 0 {
		t.Fatalf("creator viewer wrong: %+v ok=%v", v, ok)
	}
	e, st := ce.GetEvent(v, 0)
	if st != LookupFound {
		t.Fatalf("expected created event, got %v", st)
	}
	created, ok := e.Payload.(*models.ChatCreated)
	if !ok || created.CreatedBy != "alice" {
		t.Fatalf("unexpected payload %#v", e.Payload)
	}
}

func TestPushMessage_AssignsBothIndices(t *testing.T) {
	ce := newTestChat(t)
	r1 := pushText(t, ce, "m1", "alice", "hello")
	if r1.EventIndex != 1 || r1.MessageIndex != 0 {
		t.Fatalf("first message got event=%d msg=%d", r1.EventIndex, r1.MessageIndex)
	}
	// a non-message event in between leaves the message sequence dense
	if _, ok := ce.PushEvent(&models.GateUpdated{UpdatedBy: "alice"}, 0, baseTS); !ok {
		t.Fatalf("push event rejected")
	}
	r2 := pushText(t, ce, "m2", "alice", "world")
	if r2.EventIndex != 3 || r2.MessageIndex != 1 {
		t.Fatalf("second message got event=%d msg=%d", r2.EventIndex, r2.MessageIndex)
	}

	if idx, ok := ce.EventIndexOfMessage(1); !ok || idx != 3 {
		t.Fatalf("message index 1 resolved to event %d ok=%v", idx, ok)
	}
	if midx, ok := ce.MessageIndexOfEvent(1); !ok || midx != 0 {
		t.Fatalf("event 1 resolved to message %d ok=%v", midx, ok)
	}
	if _, ok := ce.MessageIndexOfEvent(2); ok {
		t.Fatalf("non-message event resolved to a message index")
	}
}

func TestPushMessage_DuplicateID(t *testing.T) {
	ce := newTestChat(t)
	r1 := pushText(t, ce, "m1", "alice", "hello")
	r2 := ce.PushMessage(PushMessageArgs{
		MessageID: "m1",
		Sender:    "alice",
		Content:   &models.TextContent{Text: "other body"},
		Now:       baseTS + 100,
	})
	if !r2.Duplicate {
		t.Fatalf("expected duplicate")
	}
	if r2.EventIndex != r1.EventIndex || r2.MessageIndex != r1.MessageIndex {
		t.Fatalf("duplicate returned different indices: %+v vs %+v", r2, r1)
	}
	if ce.LatestEventIndex() != 2 {
		t.Fatalf("duplicate appended an event")
	}
}

func TestPushEvent_RejectsMessagePayload(t *testing.T) {
	ce := newTestChat(t)
	if _, ok := ce.PushEvent(&models.MessagePushed{Message: &models.Message{}}, 0, baseTS); ok {
		t.Fatalf("message payload must go through PushMessage")
	}
}

func TestEditMessage(t *testing.T) {
	ce := newTestChat(t)
	pushText(t, ce, "m1", "alice", "hello")

	if o := ce.EditMessage("nope", "alice", &models.TextContent{Text: "x"}, 0, baseTS); o != MutateMessageNotFound {
		t.Fatalf("unknown id: got %v", o)
	}
	if o := ce.EditMessage("m1", "bob", &models.TextContent{Text: "x"}, 0, baseTS); o != MutateNotAuthorized {
		t.Fatalf("non-sender edit: got %v", o)
	}
	if o := ce.EditMessage("m1", "alice", &models.TextContent{Text: "edited"}, 0, baseTS+1); o != MutateSuccess {
		t.Fatalf("edit failed: %v", o)
	}

	e, st := ce.MessageEventByID("m1")
	if st != LookupFound {
		t.Fatalf("message vanished: %v", st)
	}
	m := e.Payload.(*models.MessagePushed).Message
	if !m.Edited || m.Content.(*models.TextContent).Text != "edited" {
		t.Fatalf("edit not applied: %+v", m)
	}
	// the audit event trails the mutation
	last, _ := ce.EventAt(ce.LatestEventIndex() - 1)
	if _, ok := last.Payload.(*models.MessageEdited); !ok {
		t.Fatalf("expected MessageEdited audit event, got %T", last.Payload)
	}
}

func TestDeleteUndelete(t *testing.T) {
	ce := newTestChat(t)
	pushText(t, ce, "m1", "alice", "hello")

	if o := ce.DeleteMessage("m1", "bob", false, 0, baseTS); o != MutateNotAuthorized {
		t.Fatalf("non-sender unprivileged delete: got %v", o)
	}
	if o := ce.DeleteMessage("m1", "bob", true, 0, baseTS); o != MutateSuccess {
		t.Fatalf("privileged delete failed: %v", o)
	}
	if o := ce.DeleteMessage("m1", "alice", false, 0, baseTS); o != MutateNoChange {
		t.Fatalf("double delete: got %v", o)
	}
	// deleted messages cannot be edited
	if o := ce.EditMessage("m1", "alice", &models.TextContent{Text: "x"}, 0, baseTS); o != MutateNoChange {
		t.Fatalf("edit after delete: got %v", o)
	}
	if o := ce.UndeleteMessage("m1", "alice", false, 0, baseTS); o != MutateNotAuthorized {
		t.Fatalf("undelete by someone else's delete: got %v", o)
	}
	if o := ce.UndeleteMessage("m1", "bob", false, 0, baseTS); o != MutateSuccess {
		t.Fatalf("undelete failed: %v", o)
	}
	e, _ := ce.MessageEventByID("m1")
	if e.Payload.(*models.MessagePushed).Message.Deleted != nil {
		t.Fatalf("message still marked deleted")
	}
}

func TestReactions(t *testing.T) {
	ce := newTestChat(t)
	pushText(t, ce, "m1", "alice", "hello")

	if o := ce.AddReaction("m1", "👍", "bob", 0, baseTS); o != MutateSuccess {
		t.Fatalf("add reaction: %v", o)
	}
	if o := ce.AddReaction("m1", "👍", "bob", 0, baseTS); o != MutateNoChange {
		t.Fatalf("duplicate reaction: %v", o)
	}
	if o := ce.RemoveReaction("m1", "👍", "bob", 0, baseTS); o != MutateSuccess {
		t.Fatalf("remove reaction: %v", o)
	}
	if o := ce.RemoveReaction("m1", "👍", "bob", 0, baseTS); o != MutateNoChange {
		t.Fatalf("remove absent reaction: %v", o)
	}
}

func TestPollVoting(t *testing.T) {
	ce := newTestChat(t)
	ce.PushMessage(PushMessageArgs{
		MessageID: "poll1",
		Sender:    "alice",
		Content:   &models.PollContent{Question: "q", Options: []string{"a", "b"}},
		Now:       baseTS,
	})

	if o := ce.RegisterPollVote("poll1", "bob", 0, 0, baseTS); o != MutateSuccess {
		t.Fatalf("vote: %v", o)
	}
	if o := ce.RegisterPollVote("poll1", "bob", 0, 0, baseTS); o != MutateNoChange {
		t.Fatalf("same vote again: %v", o)
	}
	// changing the vote moves it, not duplicates it
	if o := ce.RegisterPollVote("poll1", "bob", 1, 0, baseTS); o != MutateSuccess {
		t.Fatalf("change vote: %v", o)
	}
	e, _ := ce.MessageEventByID("poll1")
	poll := e.Payload.(*models.MessagePushed).Message.Content.(*models.PollContent)
	if len(poll.Votes[0]) != 0 || len(poll.Votes[1]) != 1 {
		t.Fatalf("vote not moved: %+v", poll.Votes)
	}
	if o := ce.RegisterPollVote("poll1", "bob", 9, 0, baseTS); o != MutateNoChange {
		t.Fatalf("out of range option: %v", o)
	}
	if o := ce.EndPoll("poll1", 0, baseTS); o != MutateSuccess {
		t.Fatalf("end poll: %v", o)
	}
	if o := ce.RegisterPollVote("poll1", "carol", 0, 0, baseTS); o != MutateNoChange {
		t.Fatalf("vote after end: %v", o)
	}
}

func TestProposalVoting(t *testing.T) {
	ce := newTestChat(t)
	ce.PushMessage(PushMessageArgs{
		MessageID: "prop1",
		Sender:    "alice",
		Content:   &models.GovernanceProposalContent{ProposalID: 7},
		Now:       baseTS,
	})
	if o := ce.RecordProposalVote("prop1", "bob", true, 0, baseTS); o != MutateSuccess {
		t.Fatalf("vote: %v", o)
	}
	if o := ce.RecordProposalVote("prop1", "bob", true, 0, baseTS); o != MutateNoChange {
		t.Fatalf("identical vote: %v", o)
	}
	if o := ce.RecordProposalVote("prop1", "bob", false, 0, baseTS); o != MutateSuccess {
		t.Fatalf("flip vote: %v", o)
	}
}

func TestJoinMember_FloorSemantics(t *testing.T) {
	// gated chat: newcomers see nothing before their join point
	ce := New("c1", "alice", false, 0, 42, baseTS)
	pushTextAt := func(id models.MessageID) {
		ce.PushMessage(PushMessageArgs{MessageID: id, Sender: "alice", Content: &models.TextContent{Text: "x"}, Now: baseTS})
	}
	pushTextAt("m1")
	pushTextAt("m2")

	floor := ce.JoinMember("bob", false, baseTS)
	if floor != 3 {
		t.Fatalf("expected floor 3, got %d", floor)
	}
	// rejoining never moves the floor
	pushTextAt("m3")
	if f := ce.JoinMember("bob", false, baseTS); f != floor {
		t.Fatalf("rejoin moved floor: %d -> %d", floor, f)
	}

	v, _ := ce.ViewerFor("bob")
	if _, st := ce.GetEvent(v, 1); st != LookupNotFound {
		t.Fatalf("pre-join event visible: %v", st)
	}
	events := ce.EventsSince(v, 0, 0)
	if len(events) != 1 || events[0].Index != 3 {
		t.Fatalf("expected only post-join events, got %d", len(events))
	}

	// open-history chat: floor is zero
	open := New("c2", "alice", true, 0, 42, baseTS)
	if f := open.JoinMember("bob", false, baseTS); f != 0 {
		t.Fatalf("open history floor: %d", f)
	}
}

func TestRemoveMember(t *testing.T) {
	ce := newTestChat(t)
	ce.JoinMember("bob", false, baseTS)
	ce.RemoveMember("bob")
	if _, ok := ce.ViewerFor("bob"); ok {
		t.Fatalf("removed member still resolves")
	}
	// events pushed by bob before removal remain
	if _, st := ce.GetEvent(Viewer{Privileged: true}, 0); st != LookupFound {
		t.Fatalf("log lost events after member removal")
	}
}

func TestSetTTL_AffectsOnlyNewEvents(t *testing.T) {
	ce := newTestChat(t)
	pushText(t, ce, "m1", "alice", "forever")
	ce.SetTTL(time.Hour, "alice", 0, baseTS)
	r := ce.PushMessage(PushMessageArgs{MessageID: "m2", Sender: "alice", Content: &models.TextContent{Text: "x"}, Now: baseTS})
	if r.ExpiresAt != baseTS+int64(time.Hour) {
		t.Fatalf("new event expiry %d", r.ExpiresAt)
	}
	e, _ := ce.MessageEventByID("m1")
	if e.ExpiresAt != 0 {
		t.Fatalf("old event gained an expiry: %d", e.ExpiresAt)
	}
}

func TestThreads(t *testing.T) {
	ce := newTestChat(t)
	root := pushText(t, ce, "m1", "alice", "root")

	if _, ok := ce.Thread(root.EventIndex, false); ok {
		t.Fatalf("thread exists before first reply")
	}
	res, ok := ce.PushThreadMessage(root.EventIndex, PushMessageArgs{
		MessageID: "t1", Sender: "bob", Content: &models.TextContent{Text: "reply"}, Now: baseTS,
	})
	if !ok || res.Duplicate {
		t.Fatalf("thread push failed: ok=%v res=%+v", ok, res)
	}
	if res.EventIndex != 0 || res.MessageIndex != 0 {
		t.Fatalf("thread log does not start at zero: %+v", res)
	}

	e, _ := ce.MessageEventByID("m1")
	sum := e.Payload.(*models.MessagePushed).Message.ThreadSummary
	if sum == nil || sum.ReplyCount != 1 || len(sum.Participants) != 1 || sum.Participants[0] != "bob" {
		t.Fatalf("thread summary wrong: %+v", sum)
	}

	// duplicate reply id does not bump the summary
	res2, ok := ce.PushThreadMessage(root.EventIndex, PushMessageArgs{
		MessageID: "t1", Sender: "bob", Content: &models.TextContent{Text: "reply"}, Now: baseTS,
	})
	if !ok || !res2.Duplicate {
		t.Fatalf("expected duplicate thread push")
	}
	if sum.ReplyCount != 1 {
		t.Fatalf("duplicate bumped reply count to %d", sum.ReplyCount)
	}

	// threads cannot root at a non-message event
	if _, ok := ce.PushThreadMessage(0, PushMessageArgs{MessageID: "t2", Sender: "bob", Content: &models.TextContent{Text: "x"}, Now: baseTS}); ok {
		t.Fatalf("thread rooted at ChatCreated")
	}
}

func TestPushMessage_PrunedIDIsFreshAgain(t *testing.T) {
	ce := New("c1", "alice", true, time.Hour, 42, baseTS)
	pushText(t, ce, "m1", "alice", "hello")

	pr := ce.RemoveExpired(baseTS + 2*int64(time.Hour))
	if pr.Removed == 0 {
		t.Fatalf("nothing pruned")
	}

	// the idempotency index forgets pruned messages with their events
	res := ce.PushMessage(PushMessageArgs{
		MessageID: "m1",
		Sender:    "alice",
		Content:   &models.TextContent{Text: "again"},
		Now:       baseTS + 3*int64(time.Hour),
	})
	if res.Duplicate {
		t.Fatalf("pruned id reported as duplicate: %+v", res)
	}
	if res.MessageIndex != 1 || res.TS != baseTS+3*int64(time.Hour) {
		t.Fatalf("re-push got %+v", res)
	}
	if e, st := ce.MessageEventByID("m1"); st != LookupFound || e.Index != res.EventIndex {
		t.Fatalf("re-pushed message unresolvable: %v", st)
	}
}
