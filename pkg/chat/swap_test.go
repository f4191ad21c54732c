package chat

import (
	"testing"
	"time"

	"chatstore/pkg/models"
)

func pushSwap(t *testing.T, ce *ChatEvents, id models.MessageID, expiresAt int64) {
	t.Helper()
	res := ce.PushMessage(PushMessageArgs{
		MessageID: id,
		Sender:    "alice",
		Content: &models.P2PSwapContent{
			Token0:    "AAA",
			Amount0:   100,
			Token1:    "BBB",
			Amount1:   200,
			ExpiresAt: expiresAt,
		},
		Now: baseTS,
	})
	if res.Duplicate {
		t.Fatalf("duplicate swap push")
	}
}

func swapContent(t *testing.T, ce *ChatEvents, id models.MessageID) *models.P2PSwapContent {
	t.Helper()
	e, st := ce.MessageEventByID(id)
	if st != LookupFound {
		t.Fatalf("swap message gone: %v", st)
	}
	return e.Payload.(*models.MessagePushed).Message.Content.(*models.P2PSwapContent)
}

func TestPushSwap_AssignsServerFields(t *testing.T) {
	ce := newTestChat(t)
	pushSwap(t, ce, "s1", 0)
	pushSwap(t, ce, "s2", 0)

	s1 := swapContent(t, ce, "s1")
	s2 := swapContent(t, ce, "s2")
	if s1.SwapID != 1 || s2.SwapID != 2 {
		t.Fatalf("swap ids %d, %d", s1.SwapID, s2.SwapID)
	}
	if s1.CreatedBy != "alice" || s1.CreatedAt != baseTS {
		t.Fatalf("creator fields %+v", s1)
	}
	if _, open := s1.Status.(*models.SwapOpen); !open {
		t.Fatalf("new swap not open: %T", s1.Status)
	}
}

func TestSwap_FullLifecycle(t *testing.T) {
	ce := newTestChat(t)
	pushSwap(t, ce, "s1", 0)

	// the creator cannot take their own swap
	if r := ce.ReserveSwap("s1", "alice", baseTS); r.Outcome != SwapWrongStatus {
		t.Fatalf("self reserve: %v", r.Outcome)
	}

	r := ce.ReserveSwap("s1", "bob", baseTS)
	if r.Outcome != SwapSuccess || r.Content == nil {
		t.Fatalf("reserve: %+v", r)
	}
	if _, ok := r.CurrentStatus.(*models.SwapReserved); !ok {
		t.Fatalf("status after reserve: %T", r.CurrentStatus)
	}
	// a second taker is told who got there first
	if r2 := ce.ReserveSwap("s1", "carol", baseTS); r2.Outcome != SwapWrongStatus {
		t.Fatalf("concurrent reserve: %v", r2.Outcome)
	}

	// only the holder can accept
	if a := ce.AcceptSwap("s1", "carol", 5, baseTS); a.Outcome != SwapWrongStatus {
		t.Fatalf("accept by non-holder: %v", a.Outcome)
	}
	a := ce.AcceptSwap("s1", "bob", 5, baseTS)
	if a.Outcome != SwapSuccess {
		t.Fatalf("accept: %v", a.Outcome)
	}
	acc, ok := a.CurrentStatus.(*models.SwapAccepted)
	if !ok || acc.Token1TransferIndex != 5 {
		t.Fatalf("accepted status: %#v", a.CurrentStatus)
	}

	t0 := models.CompletedTransfer{Token: "AAA", Amount: 100, BlockIndex: 10}
	t1 := models.CompletedTransfer{Token: "BBB", Amount: 200, BlockIndex: 5}
	c := ce.CompleteSwap("s1", "bob", t0, t1, 0, baseTS)
	if c.Outcome != SwapSuccess {
		t.Fatalf("complete: %v", c.Outcome)
	}
	done, ok := c.CurrentStatus.(*models.SwapCompleted)
	if !ok || done.Token0Transfer.BlockIndex != 10 || done.Token1Transfer.BlockIndex != 5 {
		t.Fatalf("completed status: %#v", c.CurrentStatus)
	}
	last, _ := ce.EventAt(ce.LatestEventIndex() - 1)
	if _, ok := last.Payload.(*models.P2PSwapCompleted); !ok {
		t.Fatalf("expected completion event, got %T", last.Payload)
	}
	// terminal states only accept refund bookkeeping
	if r := ce.ReserveSwap("s1", "carol", baseTS); r.Outcome != SwapWrongStatus {
		t.Fatalf("reserve after completion: %v", r.Outcome)
	}
	if o := ce.AddSwapRefund("s1", models.CompletedTransfer{BlockIndex: 11}); o != SwapSuccess {
		t.Fatalf("refund on terminal swap: %v", o)
	}
}

func TestSwap_UnreserveRollsBackToOpen(t *testing.T) {
	ce := newTestChat(t)
	pushSwap(t, ce, "s1", 0)
	if r := ce.ReserveSwap("s1", "bob", baseTS); r.Outcome != SwapSuccess {
		t.Fatalf("reserve failed")
	}
	if u := ce.UnreserveSwap("s1", "carol", baseTS); u.Outcome != SwapWrongStatus {
		t.Fatalf("unreserve by non-holder: %v", u.Outcome)
	}
	u := ce.UnreserveSwap("s1", "bob", baseTS)
	if u.Outcome != SwapSuccess {
		t.Fatalf("unreserve: %v", u.Outcome)
	}
	if _, open := u.CurrentStatus.(*models.SwapOpen); !open {
		t.Fatalf("status after rollback: %T", u.CurrentStatus)
	}
	// someone else can now take it
	if r := ce.ReserveSwap("s1", "carol", baseTS); r.Outcome != SwapSuccess {
		t.Fatalf("re-reserve: %v", r.Outcome)
	}
}

func TestSwap_CancelOnlyWhileOpen(t *testing.T) {
	ce := newTestChat(t)
	pushSwap(t, ce, "s1", 0)

	if c := ce.CancelSwap("s1", "bob", 0, baseTS); c.Outcome != SwapWrongStatus {
		t.Fatalf("cancel by non-creator: %v", c.Outcome)
	}
	c := ce.CancelSwap("s1", "alice", 0, baseTS)
	if c.Outcome != SwapSuccess {
		t.Fatalf("cancel: %v", c.Outcome)
	}
	if _, ok := c.CurrentStatus.(*models.SwapCancelled); !ok {
		t.Fatalf("status after cancel: %T", c.CurrentStatus)
	}
	last, _ := ce.EventAt(ce.LatestEventIndex() - 1)
	if _, ok := last.Payload.(*models.P2PSwapCancelled); !ok {
		t.Fatalf("expected cancellation event, got %T", last.Payload)
	}
	if c2 := ce.CancelSwap("s1", "alice", 0, baseTS); c2.Outcome != SwapWrongStatus {
		t.Fatalf("double cancel: %v", c2.Outcome)
	}
}

func TestSwap_Expiry(t *testing.T) {
	ce := newTestChat(t)
	deadline := baseTS + int64(time.Hour)
	pushSwap(t, ce, "s1", deadline)
	pushSwap(t, ce, "s2", 0) // never expires

	// reserve attempt past the deadline expires the swap inline
	r := ce.ReserveSwap("s1", "bob", deadline+1)
	if r.Outcome != SwapWrongStatus {
		t.Fatalf("reserve after deadline: %v", r.Outcome)
	}
	if _, ok := r.CurrentStatus.(*models.SwapExpired); !ok {
		t.Fatalf("status after late reserve: %T", r.CurrentStatus)
	}

	expired := ce.MarkExpiredSwaps(0, deadline+1)
	if len(expired) != 0 {
		t.Fatalf("sweep found already-expired swaps: %v", expired)
	}
	if r := ce.ReserveSwap("s2", "bob", deadline+1); r.Outcome != SwapSuccess {
		t.Fatalf("unexpiring swap affected: %v", r.Outcome)
	}
}

func TestMarkExpiredSwaps_SweepsOpenSwaps(t *testing.T) {
	ce := newTestChat(t)
	deadline := baseTS + int64(time.Hour)
	pushSwap(t, ce, "s1", deadline)
	pushSwap(t, ce, "s2", deadline)
	// a reserved swap is not expired by the sweep
	if r := ce.ReserveSwap("s2", "bob", baseTS); r.Outcome != SwapSuccess {
		t.Fatalf("reserve failed")
	}

	expired := ce.MarkExpiredSwaps(3, deadline+1)
	if len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expired %v", expired)
	}
	if _, ok := swapContent(t, ce, "s1").Status.(*models.SwapExpired); !ok {
		t.Fatalf("s1 not expired")
	}
	if _, ok := swapContent(t, ce, "s2").Status.(*models.SwapReserved); !ok {
		t.Fatalf("s2 should still be reserved")
	}
	// a second sweep is a no-op
	if again := ce.MarkExpiredSwaps(3, deadline+2); len(again) != 0 {
		t.Fatalf("second sweep: %v", again)
	}
}

func TestAddSwapRefund_RequiresTerminalState(t *testing.T) {
	ce := newTestChat(t)
	pushSwap(t, ce, "s1", 0)
	if o := ce.AddSwapRefund("s1", models.CompletedTransfer{}); o != SwapWrongStatus {
		t.Fatalf("refund on open swap: %v", o)
	}
	ce.CancelSwap("s1", "alice", 0, baseTS)
	if o := ce.AddSwapRefund("s1", models.CompletedTransfer{BlockIndex: 4}); o != SwapSuccess {
		t.Fatalf("refund on cancelled swap: %v", o)
	}
	if refunds := swapContent(t, ce, "s1").Refunds; len(refunds) != 1 || refunds[0].BlockIndex != 4 {
		t.Fatalf("refunds %v", refunds)
	}
}

func TestThreadSwap_DrawsFromChatWideIDSequence(t *testing.T) {
	ce := newTestChat(t)
	root := pushText(t, ce, "m1", "alice", "root")
	ce.TakeDelta()

	pushSwap(t, ce, "s1", 0)
	res, ok := ce.PushThreadMessage(root.EventIndex, PushMessageArgs{
		MessageID: "ts1",
		Sender:    "bob",
		Content:   &models.P2PSwapContent{Token0: "AAA", Amount0: 1, Token1: "BBB", Amount1: 2},
		Now:       baseTS,
	})
	if !ok || res.Duplicate {
		t.Fatalf("thread swap push failed: ok=%v res=%+v", ok, res)
	}
	pushSwap(t, ce, "s2", 0)

	th, _ := ce.Thread(root.EventIndex, false)
	if id := swapContent(t, th, "ts1").SwapID; id != 2 {
		t.Fatalf("thread swap id %d, want 2", id)
	}
	if id := swapContent(t, ce, "s2").SwapID; id != 3 {
		t.Fatalf("swap id after thread swap %d, want 3", id)
	}
	if next := ce.Meta().NextSwapID; next != 3 {
		t.Fatalf("meta counter %d, want 3", next)
	}

	// the counter lives in the chat-level meta record, so the thread
	// mutation must dirty the root delta, not its own
	d := ce.TakeDelta()
	if !d.MetaChanged {
		t.Fatalf("thread swap left root meta clean")
	}
	if td, ok := d.Threads[root.EventIndex]; !ok || td.MetaChanged {
		t.Fatalf("thread delta wrong: ok=%v meta=%v", ok, td.MetaChanged)
	}
}
