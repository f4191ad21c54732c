package store

import (
	"errors"
	"testing"
	"time"

	"chatstore/pkg/chat"
	"chatstore/pkg/models"
)

func openTestStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
	return dir
}

func reopen(t *testing.T, dir string) {
	t.Helper()
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCreateChat_Conflict(t *testing.T) {
	openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CreateChat("c1", "bob", true, 0, 42); err == nil {
		t.Fatalf("duplicate create accepted")
	}
}

func TestLoadChat_NotFound(t *testing.T) {
	openTestStore(t)
	_, err := LoadChat("missing")
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestRoundTrip_EventsAndIndices(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	var pushed chat.PushMessageResult
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		pushed = ce.PushMessage(chat.PushMessageArgs{
			MessageID: "m1", Sender: "alice",
			Content: &models.TextContent{Text: "hello"},
			Now:     time.Now().UnixNano(),
		})
		ce.JoinMember("bob", false, time.Now().UnixNano())
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reopen(t, dir)

	ce, err := LoadChat("c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ce.LatestEventIndex() != pushed.EventIndex+1 {
		t.Fatalf("next index %d, want %d", ce.LatestEventIndex(), pushed.EventIndex+1)
	}
	v, ok := ce.ViewerFor("bob")
	if !ok {
		t.Fatalf("member lost on reload")
	}
	e, st := ce.GetMessageByID(v, "m1")
	if st != chat.LookupFound {
		t.Fatalf("message lost: %v", st)
	}
	m := e.Payload.(*models.MessagePushed).Message
	if m.Content.(*models.TextContent).Text != "hello" || m.MessageIndex != pushed.MessageIndex {
		t.Fatalf("message mangled: %+v", m)
	}
	// the idempotency index is rebuilt: a duplicate push is still detected
	res := ce.PushMessage(chat.PushMessageArgs{MessageID: "m1", Sender: "alice", Content: &models.TextContent{Text: "x"}})
	if !res.Duplicate {
		t.Fatalf("duplicate not detected after reload")
	}
}

func TestRoundTrip_DrawSourceContinues(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 1234); err != nil {
		t.Fatalf("create: %v", err)
	}
	var before []uint64
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		before = ce.GeneratePrizes(1000, 5)
		return nil
	})
	if err != nil {
		t.Fatalf("draw: %v", err)
	}

	// the same chat restarted from disk must not repeat the sequence
	reopen(t, dir)
	ce, err := LoadChat("c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	after := ce.GeneratePrizes(1000, 5)

	fresh := chat.New("other", "alice", true, 0, 1234, time.Now().UnixNano()).GeneratePrizes(1000, 5)
	if equalU64(after, fresh) && !equalU64(before, fresh) {
		t.Fatalf("draw source restarted from the seed after reload")
	}
}

func TestRoundTrip_ExpiredRanges(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, time.Hour, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		ce.PushMessage(chat.PushMessageArgs{MessageID: "m1", Sender: "alice", Content: &models.TextContent{Text: "x"}, Now: time.Now().UnixNano()})
		ce.RemoveExpired(time.Now().Add(2 * time.Hour).UnixNano())
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reopen(t, dir)
	ce, err := LoadChat("c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ranges := ce.ExpiredRanges()
	if len(ranges) != 1 || ranges[0].First != 0 || ranges[0].Last != 1 {
		t.Fatalf("ranges after reload: %v", ranges)
	}
	if _, st := ce.GetEvent(chat.Viewer{Privileged: true}, 0); st != chat.LookupExpired {
		t.Fatalf("pruned slot reads %v after reload", st)
	}
	// the index counter does not fall back into the pruned span
	if ce.LatestEventIndex() != 2 {
		t.Fatalf("next index %d after reload", ce.LatestEventIndex())
	}
}

func TestRoundTrip_Threads(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	var root models.EventIndex
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		r := ce.PushMessage(chat.PushMessageArgs{MessageID: "m1", Sender: "alice", Content: &models.TextContent{Text: "root"}, Now: time.Now().UnixNano()})
		root = r.EventIndex
		if _, ok := ce.PushThreadMessage(root, chat.PushMessageArgs{MessageID: "t1", Sender: "alice", Content: &models.TextContent{Text: "reply"}, Now: time.Now().UnixNano()}); !ok {
			t.Fatalf("thread push failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reopen(t, dir)
	ce, err := LoadChat("c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	th, ok := ce.Thread(root, false)
	if !ok {
		t.Fatalf("thread lost on reload")
	}
	events := th.EventsSince(chat.Viewer{Privileged: true}, 0, 0)
	if len(events) != 1 {
		t.Fatalf("thread events %d", len(events))
	}
	// thread summary on the root message survived too
	e, _ := ce.MessageEventByID("m1")
	sum := e.Payload.(*models.MessagePushed).Message.ThreadSummary
	if sum == nil || sum.ReplyCount != 1 {
		t.Fatalf("summary after reload: %+v", sum)
	}
}

func TestWithChat_ErrorDropsCache(t *testing.T) {
	openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		ce.PushMessage(chat.PushMessageArgs{MessageID: "mX", Sender: "alice", Content: &models.TextContent{Text: "x"}, Now: time.Now().UnixNano()})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error not propagated: %v", err)
	}
	// the failed mutation must not be visible afterwards
	err = ViewChat("c1", func(ce *chat.ChatEvents) error {
		if _, st := ce.MessageEventByID("mX"); st == chat.LookupFound {
			t.Fatalf("unpersisted mutation leaked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestListAndDeleteChat(t *testing.T) {
	openTestStore(t)
	for _, id := range []string{"a1", "b2"} {
		if err := CreateChat(id, "alice", true, 0, 42); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	ids, err := ListChatIDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("list: %v %v", ids, err)
	}
	if err := DeleteChat("a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	EvictChat("a1")
	if _, err := LoadChat("a1"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("deleted chat still loads: %v", err)
	}
	ids, _ = ListChatIDs()
	if len(ids) != 1 || ids[0] != "b2" {
		t.Fatalf("list after delete: %v", ids)
	}
}

func equalU64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRoundTrip_ThreadSwapCounter(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		r := ce.PushMessage(chat.PushMessageArgs{MessageID: "m1", Sender: "alice", Content: &models.TextContent{Text: "root"}, Now: time.Now().UnixNano()})
		_, ok := ce.PushThreadMessage(r.EventIndex, chat.PushMessageArgs{
			MessageID: "ts1", Sender: "alice",
			Content: &models.P2PSwapContent{Token0: "AAA", Amount0: 1, Token1: "BBB", Amount1: 2},
			Now:     time.Now().UnixNano(),
		})
		if !ok {
			t.Fatalf("thread swap push failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// the counter moved by a thread swap must survive the reload; a
	// second swap reusing id 1 would corrupt ledger correlation
	reopen(t, dir)
	err = WithChat("c1", func(ce *chat.ChatEvents) error {
		if next := ce.Meta().NextSwapID; next != 1 {
			t.Fatalf("counter after reload %d, want 1", next)
		}
		ce.PushMessage(chat.PushMessageArgs{
			MessageID: "s2", Sender: "alice",
			Content: &models.P2PSwapContent{Token0: "AAA", Amount0: 1, Token1: "BBB", Amount1: 2},
			Now:     time.Now().UnixNano(),
		})
		e, st := ce.MessageEventByID("s2")
		if st != chat.LookupFound {
			t.Fatalf("swap message gone: %v", st)
		}
		swap := e.Payload.(*models.MessagePushed).Message.Content.(*models.P2PSwapContent)
		if swap.SwapID != 2 {
			t.Fatalf("swap id after reload %d, want 2", swap.SwapID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate after reload: %v", err)
	}
}

func TestRoundTrip_ThreadDrawAdvancesSource(t *testing.T) {
	dir := openTestStore(t)
	if err := CreateChat("c1", "alice", true, 0, 1234); err != nil {
		t.Fatalf("create: %v", err)
	}
	var root models.EventIndex
	err := WithChat("c1", func(ce *chat.ChatEvents) error {
		r := ce.PushMessage(chat.PushMessageArgs{MessageID: "m1", Sender: "alice", Content: &models.TextContent{Text: "root"}, Now: time.Now().UnixNano()})
		root = r.EventIndex
		_, ok := ce.PushThreadMessage(root, chat.PushMessageArgs{
			MessageID: "tp1", Sender: "alice",
			Content: &models.PrizeContent{Token: "TOK", Ledger: "ldg1", TotalAmount: 1000, Count: 5},
			Now:     time.Now().UnixNano(),
		})
		if !ok {
			t.Fatalf("thread prize push failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// a draw taken inside a thread counts against the shared source, so
	// a reload must not replay it
	reopen(t, dir)
	ce, err := LoadChat("c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	after := ce.GeneratePrizes(1000, 5)
	fresh := chat.New("other", "alice", true, 0, 1234, time.Now().UnixNano()).GeneratePrizes(1000, 5)
	if equalU64(after, fresh) {
		t.Fatalf("draw source replayed the thread draw after reload")
	}
}
