package models

import (
	"encoding/json"
	"testing"
)

func TestEvent_RoundTrip(t *testing.T) {
	e := Event{
		Index:       7,
		TS:          123,
		ExpiresAt:   456,
		Correlation: 99,
		Payload: &MessagePushed{Message: &Message{
			MessageIndex: 3,
			MessageID:    "m1",
			Sender:       "alice",
			Content:      &TextContent{Text: "hello"},
		}},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Index != 7 || back.Correlation != 99 || back.ExpiresAt != 456 {
		t.Fatalf("envelope fields lost: %+v", back)
	}
	mp, ok := back.Payload.(*MessagePushed)
	if !ok {
		t.Fatalf("payload type %T", back.Payload)
	}
	txt, ok := mp.Message.Content.(*TextContent)
	if !ok || txt.Text != "hello" {
		t.Fatalf("content %#v", mp.Message.Content)
	}
}

func TestEvent_UnknownKindPreserved(t *testing.T) {
	raw := []byte(`{"index":4,"ts":1,"kind":"hologram_rendered","data":{"frame":9}}`)
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	u, ok := e.Payload.(*UnknownPayload)
	if !ok || u.RawKind != "hologram_rendered" {
		t.Fatalf("payload %#v", e.Payload)
	}

	// the raw payload survives a re-encode byte for byte
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal unknown: %v", err)
	}
	var again Event
	if err := json.Unmarshal(b, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	u2 := again.Payload.(*UnknownPayload)
	if string(u2.Raw) != string(u.Raw) {
		t.Fatalf("raw payload changed: %s vs %s", u2.Raw, u.Raw)
	}
}

func TestEvent_NoPayloadFailsMarshal(t *testing.T) {
	if _, err := json.Marshal(Event{Index: 1}); err == nil {
		t.Fatalf("expected error for payload-less event")
	}
}

func TestDecodeContent(t *testing.T) {
	c, err := DecodeContent([]byte(`{"kind":"text","data":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if txt, ok := c.(*TextContent); !ok || txt.Text != "hi" {
		t.Fatalf("content %#v", c)
	}

	if _, err := DecodeContent([]byte(`{"data":{"text":"hi"}}`)); err == nil {
		t.Fatalf("missing kind accepted")
	}

	u, err := DecodeContent([]byte(`{"kind":"sticker","data":{"pack":"cats"}}`))
	if err != nil {
		t.Fatalf("unknown kind: %v", err)
	}
	us, ok := u.(*UnsupportedContent)
	if !ok || us.RawKind != "sticker" {
		t.Fatalf("content %#v", u)
	}
	// unsupported content re-encodes under its original kind
	b, err := EncodeContent(us)
	if err != nil {
		t.Fatalf("encode unsupported: %v", err)
	}
	var w struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(b, &w); err != nil || w.Kind != "sticker" {
		t.Fatalf("re-encoded kind %q err=%v", w.Kind, err)
	}
}

func TestSwapStatus_RoundTrip(t *testing.T) {
	for _, st := range []SwapStatus{
		&SwapOpen{},
		&SwapReserved{ReservedBy: "bob"},
		&SwapAccepted{AcceptedBy: "bob", Token1TransferIndex: 12},
		&SwapCompleted{AcceptedBy: "bob", Token0Transfer: CompletedTransfer{BlockIndex: 1}, Token1Transfer: CompletedTransfer{BlockIndex: 2}},
		&SwapCancelled{},
		&SwapExpired{},
	} {
		s := P2PSwapContent{SwapID: 5, CreatedBy: "alice", Token0: "AAA", Token1: "BBB", Status: st}
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("%s: marshal: %v", st.SwapStatusKind(), err)
		}
		var back P2PSwapContent
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("%s: unmarshal: %v", st.SwapStatusKind(), err)
		}
		if back.Status.SwapStatusKind() != st.SwapStatusKind() {
			t.Fatalf("status changed: %s -> %s", st.SwapStatusKind(), back.Status.SwapStatusKind())
		}
	}

	if err := json.Unmarshal([]byte(`{"swap_id":1,"status":{"kind":"liquidated"}}`), &P2PSwapContent{}); err == nil {
		t.Fatalf("unknown swap status accepted")
	}
}

func TestMessage_DeletedContentSerializes(t *testing.T) {
	m := Message{
		MessageIndex: 1,
		MessageID:    "m1",
		Sender:       "alice",
		Content:      &DeletedContent{DeletedBy: "bob", TS: 9},
		Deleted:      &DeletionInfo{DeletedBy: "bob", TS: 9},
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Message
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tomb, ok := back.Content.(*DeletedContent)
	if !ok || tomb.DeletedBy != "bob" {
		t.Fatalf("content %#v", back.Content)
	}
	if back.Deleted == nil || back.Deleted.TS != 9 {
		t.Fatalf("deletion info lost: %+v", back.Deleted)
	}
}

func TestPrizeContent_Total(t *testing.T) {
	p := PrizeContent{
		Remaining:    []uint64{1, 2, 3},
		Reservations: map[UserID]uint64{"a": 4},
		Winners:      map[UserID]uint64{"b": 5},
	}
	if p.Total() != 15 {
		t.Fatalf("total %d", p.Total())
	}
	reserved, won := p.UserStatus("a")
	if !reserved || won {
		t.Fatalf("status a: %v %v", reserved, won)
	}
	reserved, won = p.UserStatus("b")
	if reserved || !won {
		t.Fatalf("status b: %v %v", reserved, won)
	}
}
