package chat

import "chatstore/pkg/models"

// Typed results for the operations that can legitimately be declined.
// Nothing in this package panics across the boundary; callers switch on
// the outcome and map it to their own surface (the HTTP layer turns
// conflict outcomes into 409s, not-found into 404s, and so on).

// Lookup classifies a point read of the event log.
type Lookup int

const (
	// LookupFound means the event exists and is returned.
	LookupFound Lookup = iota
	// LookupExpired means the index was inside a pruned range: the event
	// existed and was intentionally discarded.
	LookupExpired
	// LookupNotFound means the index never existed or sits below the
	// caller's visibility floor.
	LookupNotFound
)

func (l Lookup) String() string {
	switch l {
	case LookupFound:
		return "found"
	case LookupExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// PushMessageResult reports where a pushed message landed. Duplicate is
// set when the message id had been seen before; the indices then refer
// to the original append and no new event was created.
type PushMessageResult struct {
	EventIndex   models.EventIndex
	MessageIndex models.MessageIndex
	TS           int64
	ExpiresAt    int64
	Duplicate    bool
}

// MutateOutcome classifies the in-place message mutations (edit, delete,
// react, poll vote, proposal vote).
type MutateOutcome int

const (
	MutateSuccess MutateOutcome = iota
	MutateMessageNotFound
	MutateNotAuthorized
	MutateNoChange
)

func (o MutateOutcome) String() string {
	switch o {
	case MutateSuccess:
		return "success"
	case MutateMessageNotFound:
		return "message_not_found"
	case MutateNotAuthorized:
		return "not_authorized"
	default:
		return "no_change"
	}
}

// PrizeReserveOutcome classifies reserve_prize.
type PrizeReserveOutcome int

const (
	PrizeReserveSuccess PrizeReserveOutcome = iota
	PrizeReserveAlreadyClaimed
	PrizeReserveMessageNotFound
	PrizeReserveFullyClaimed
	PrizeReserveEnded
)

func (o PrizeReserveOutcome) String() string {
	switch o {
	case PrizeReserveSuccess:
		return "success"
	case PrizeReserveAlreadyClaimed:
		return "already_claimed"
	case PrizeReserveMessageNotFound:
		return "message_not_found"
	case PrizeReserveFullyClaimed:
		return "prize_fully_claimed"
	default:
		return "prize_ended"
	}
}

// PrizeReservation is the capability handed back by a successful reserve;
// the caller performs the external transfer and then finalizes with
// ClaimPrize or rolls back with UnreservePrize.
type PrizeReservation struct {
	Token  string
	Ledger string
	Amount uint64
}

// PrizeFinalizeOutcome classifies claim_prize / unreserve_prize.
type PrizeFinalizeOutcome int

const (
	PrizeFinalizeSuccess PrizeFinalizeOutcome = iota
	PrizeFinalizeMessageNotFound
	PrizeFinalizeReservationNotFound
)

func (o PrizeFinalizeOutcome) String() string {
	switch o {
	case PrizeFinalizeSuccess:
		return "success"
	case PrizeFinalizeMessageNotFound:
		return "message_not_found"
	default:
		return "reservation_not_found"
	}
}

// SwapOutcome classifies the swap operations.
type SwapOutcome int

const (
	SwapSuccess SwapOutcome = iota
	SwapNotFound
	// SwapWrongStatus carries the current status so "someone got there
	// first" can be surfaced to the user.
	SwapWrongStatus
)

func (o SwapOutcome) String() string {
	switch o {
	case SwapSuccess:
		return "success"
	case SwapNotFound:
		return "swap_not_found"
	default:
		return "wrong_status"
	}
}

// SwapReserveResult returns the full swap content so the caller can run
// the outgoing transfer leg while holding the reservation.
type SwapReserveResult struct {
	Outcome       SwapOutcome
	Content       *models.P2PSwapContent
	CurrentStatus models.SwapStatus
}

// SwapResult reports a swap transition and the status after it.
type SwapResult struct {
	Outcome       SwapOutcome
	CurrentStatus models.SwapStatus
}

// PruneResult summarizes one remove_expired run.
type PruneResult struct {
	Removed  int
	Ranges   []models.ExpiredRange
	BlobRefs []string
}
