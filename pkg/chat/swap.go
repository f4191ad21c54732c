package chat

import "chatstore/pkg/models"

// P2P swap state machine. Mirrors the prize machine but with an explicit
// status instead of a pool: Open -> Reserved -> Accepted -> Completed,
// rollback Reserved -> Open, and Open -> Cancelled/Expired as terminal
// exits. At most one reservation holder exists at a time; accept is only
// legal for the holder.

func (ce *ChatEvents) swapByID(id models.MessageID) (*models.Event, *models.Message, *models.P2PSwapContent, bool) {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return nil, nil, nil, false
	}
	swap, ok := msg.Content.(*models.P2PSwapContent)
	if !ok {
		return nil, nil, nil, false
	}
	return e, msg, swap, true
}

// ReserveSwap transitions Open -> Reserved(caller) and hands back the
// full swap content so the caller can run its outgoing transfer leg. The
// creator cannot reserve their own swap.
func (ce *ChatEvents) ReserveSwap(id models.MessageID, caller models.UserID, now int64) SwapReserveResult {
	e, msg, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapReserveResult{Outcome: SwapNotFound}
	}
	if _, open := swap.Status.(*models.SwapOpen); open && swap.ExpiresAt != 0 && now >= swap.ExpiresAt {
		ce.expireSwap(e, msg, swap, 0, now)
		return SwapReserveResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	if _, open := swap.Status.(*models.SwapOpen); !open || caller == swap.CreatedBy {
		return SwapReserveResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	swap.Status = &models.SwapReserved{ReservedBy: caller}
	ce.pending.markEvent(e.Index)
	return SwapReserveResult{Outcome: SwapSuccess, Content: swap, CurrentStatus: swap.Status}
}

// AcceptSwap transitions Reserved(caller) -> Accepted(caller, transfer),
// recording the block index of the counterparty's incoming transfer.
func (ce *ChatEvents) AcceptSwap(id models.MessageID, caller models.UserID, token1TransferIndex uint64, now int64) SwapResult {
	e, _, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapResult{Outcome: SwapNotFound}
	}
	r, reserved := swap.Status.(*models.SwapReserved)
	if !reserved || r.ReservedBy != caller {
		return SwapResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	swap.Status = &models.SwapAccepted{AcceptedBy: caller, Token1TransferIndex: token1TransferIndex}
	ce.pending.markEvent(e.Index)
	return SwapResult{Outcome: SwapSuccess, CurrentStatus: swap.Status}
}

// UnreserveSwap rolls Reserved(caller) back to Open after the external
// transfer failed.
func (ce *ChatEvents) UnreserveSwap(id models.MessageID, caller models.UserID, now int64) SwapResult {
	e, _, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapResult{Outcome: SwapNotFound}
	}
	r, reserved := swap.Status.(*models.SwapReserved)
	if !reserved || r.ReservedBy != caller {
		return SwapResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	swap.Status = &models.SwapOpen{}
	ce.pending.markEvent(e.Index)
	return SwapResult{Outcome: SwapSuccess, CurrentStatus: swap.Status}
}

// CompleteSwap transitions Accepted(caller) -> Completed once both legs'
// transfers are recorded, and appends the completion event.
func (ce *ChatEvents) CompleteSwap(id models.MessageID, caller models.UserID, token0Transfer, token1Transfer models.CompletedTransfer, correlation uint64, now int64) SwapResult {
	e, msg, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapResult{Outcome: SwapNotFound}
	}
	a, accepted := swap.Status.(*models.SwapAccepted)
	if !accepted || a.AcceptedBy != caller {
		return SwapResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	swap.Status = &models.SwapCompleted{
		AcceptedBy:     caller,
		Token0Transfer: token0Transfer,
		Token1Transfer: token1Transfer,
	}
	delete(ce.openSwaps, id)
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.P2PSwapCompleted{SwapID: swap.SwapID, MessageIndex: msg.MessageIndex, AcceptedBy: caller}, correlation, now)
	return SwapResult{Outcome: SwapSuccess, CurrentStatus: swap.Status}
}

// CancelSwap lets the creator withdraw a swap that is still Open.
// Refund-transfer bookkeeping follows via AddSwapRefund.
func (ce *ChatEvents) CancelSwap(id models.MessageID, caller models.UserID, correlation uint64, now int64) SwapResult {
	e, msg, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapResult{Outcome: SwapNotFound}
	}
	if _, open := swap.Status.(*models.SwapOpen); !open || caller != swap.CreatedBy {
		return SwapResult{Outcome: SwapWrongStatus, CurrentStatus: swap.Status}
	}
	swap.Status = &models.SwapCancelled{}
	delete(ce.openSwaps, id)
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.P2PSwapCancelled{SwapID: swap.SwapID, MessageIndex: msg.MessageIndex}, correlation, now)
	return SwapResult{Outcome: SwapSuccess, CurrentStatus: swap.Status}
}

// MarkExpiredSwaps sweeps swaps still Open past their expiry and returns
// the message ids that transitioned so refunds can be issued.
func (ce *ChatEvents) MarkExpiredSwaps(correlation uint64, now int64) []models.MessageID {
	var expired []models.MessageID
	for id := range ce.openSwaps {
		e, msg, swap, ok := ce.swapByID(id)
		if !ok {
			delete(ce.openSwaps, id)
			continue
		}
		if _, open := swap.Status.(*models.SwapOpen); !open {
			continue
		}
		if swap.ExpiresAt == 0 || now < swap.ExpiresAt {
			continue
		}
		ce.expireSwap(e, msg, swap, correlation, now)
		expired = append(expired, id)
	}
	for _, t := range ce.threads {
		expired = append(expired, t.MarkExpiredSwaps(correlation, now)...)
	}
	return expired
}

func (ce *ChatEvents) expireSwap(e *models.Event, msg *models.Message, swap *models.P2PSwapContent, correlation uint64, now int64) {
	swap.Status = &models.SwapExpired{}
	delete(ce.openSwaps, msg.MessageID)
	ce.pending.markEvent(e.Index)
	ce.pushEvent(&models.P2PSwapExpired{SwapID: swap.SwapID, MessageIndex: msg.MessageIndex}, correlation, now)
}

// AddSwapRefund appends a completed compensating transfer to a swap that
// reached a terminal state.
func (ce *ChatEvents) AddSwapRefund(id models.MessageID, transfer models.CompletedTransfer) SwapOutcome {
	e, _, swap, ok := ce.swapByID(id)
	if !ok {
		return SwapNotFound
	}
	if !swap.Terminal() {
		return SwapWrongStatus
	}
	swap.Refunds = append(swap.Refunds, transfer)
	ce.pending.markEvent(e.Index)
	return SwapSuccess
}
