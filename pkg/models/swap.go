package models

import (
	"encoding/json"
	"fmt"
)

// P2PSwapContent is a single bilateral asset exchange: the creator offers
// amount0 of token0 for amount1 of token1. Status moves
// Open -> Reserved -> Accepted -> Completed, with rollback
// (Reserved -> Open) and the terminal Cancelled/Expired exits from Open.
type P2PSwapContent struct {
	SwapID    uint64     `json:"swap_id"`
	CreatedBy UserID     `json:"created_by"`
	CreatedAt int64      `json:"created_at"`
	Token0    string     `json:"token0"`
	Amount0   uint64     `json:"amount0"`
	Ledger0   string     `json:"ledger0,omitempty"`
	Token1    string     `json:"token1"`
	Amount1   uint64     `json:"amount1"`
	Ledger1   string     `json:"ledger1,omitempty"`
	ExpiresAt int64      `json:"expires_at"`
	Status    SwapStatus `json:"-"`
	Caption   string     `json:"caption,omitempty"`
	// Refunds records compensating transfers made after the swap reached
	// a terminal state, appended as each transfer completes.
	Refunds []CompletedTransfer `json:"refunds,omitempty"`
}

// SwapStatus is the closed union of swap lifecycle states.
type SwapStatus interface {
	SwapStatusKind() string
}

type SwapOpen struct{}

type SwapReserved struct {
	ReservedBy UserID `json:"reserved_by"`
}

type SwapAccepted struct {
	AcceptedBy UserID `json:"accepted_by"`
	// Token1TransferIndex is the block index of the counterparty's
	// incoming transfer of the requested token.
	Token1TransferIndex uint64 `json:"token1_transfer_index"`
}

type SwapCompleted struct {
	AcceptedBy     UserID            `json:"accepted_by"`
	Token0Transfer CompletedTransfer `json:"token0_transfer"`
	Token1Transfer CompletedTransfer `json:"token1_transfer"`
}

type SwapCancelled struct{}

type SwapExpired struct{}

func (SwapOpen) SwapStatusKind() string      { return "open" }
func (SwapReserved) SwapStatusKind() string  { return "reserved" }
func (SwapAccepted) SwapStatusKind() string  { return "accepted" }
func (SwapCompleted) SwapStatusKind() string { return "completed" }
func (SwapCancelled) SwapStatusKind() string { return "cancelled" }
func (SwapExpired) SwapStatusKind() string   { return "expired" }

var swapStatusDecoders = map[string]func() SwapStatus{
	"open":      func() SwapStatus { return &SwapOpen{} },
	"reserved":  func() SwapStatus { return &SwapReserved{} },
	"accepted":  func() SwapStatus { return &SwapAccepted{} },
	"completed": func() SwapStatus { return &SwapCompleted{} },
	"cancelled": func() SwapStatus { return &SwapCancelled{} },
	"expired":   func() SwapStatus { return &SwapExpired{} },
}

type swapAlias P2PSwapContent

type wireSwap struct {
	swapAlias
	Status wireContent `json:"status"`
}

func (s P2PSwapContent) MarshalJSON() ([]byte, error) {
	st := s.Status
	if st == nil {
		st = &SwapOpen{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal swap %d status: %w", s.SwapID, err)
	}
	return json.Marshal(wireSwap{
		swapAlias: swapAlias(s),
		Status:    wireContent{Kind: st.SwapStatusKind(), Data: data},
	})
}

func (s *P2PSwapContent) UnmarshalJSON(b []byte) error {
	var w wireSwap
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	mk, ok := swapStatusDecoders[w.Status.Kind]
	if !ok {
		return fmt.Errorf("unknown swap status %q", w.Status.Kind)
	}
	st := mk()
	if len(w.Status.Data) > 0 {
		if err := json.Unmarshal(w.Status.Data, st); err != nil {
			return fmt.Errorf("swap status %q: %w", w.Status.Kind, err)
		}
	}
	*s = P2PSwapContent(w.swapAlias)
	s.Status = st
	return nil
}

// Terminal reports whether the swap can no longer change state (other
// than refund bookkeeping).
func (s *P2PSwapContent) Terminal() bool {
	switch s.Status.(type) {
	case *SwapCompleted, *SwapCancelled, *SwapExpired:
		return true
	}
	return false
}
