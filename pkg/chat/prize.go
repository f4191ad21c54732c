package chat

import (
	"math"

	"chatstore/pkg/models"
)

// Prize claim state machine. A prize message holds a pool of unclaimed
// amounts; a claim runs as reserve -> external transfer -> claim (commit)
// or unreserve (rollback). The reservation mutation happens before the
// caller suspends on the transfer, so no other caller can take the same
// slot in the meantime. If the process dies between reserve and the
// finalize call the amount stays reserved; that bounded leak is accepted
// instead of cross-call transactionality.

// GeneratePrizes splits total into count amounts using the chat's
// seeded draw source and a power-law weighted draw that front-loads
// smaller prizes:
//
//	amount = ((rnd * (max/min)^0.25)^4) * min
//
// with each draw clamped to the budget still available, and the last
// slot absorbing any remainder so the amounts always sum to total.
func (ce *ChatEvents) GeneratePrizes(total uint64, count int) []uint64 {
	out := generatePrizes(ce.rng, total, count)
	if len(out) > 0 {
		ce.markMetaChanged() // rng use count must persist
	}
	return out
}

func generatePrizes(rng *drawSource, total uint64, count int) []uint64 {
	if count <= 0 || total == 0 {
		return nil
	}
	avg := total / uint64(count)
	if avg == 0 {
		avg = 1
	}
	min := avg / 5
	if min == 0 {
		min = 1
	}
	max := avg * 5
	ratio := math.Pow(float64(max)/float64(min), 0.25)

	out := make([]uint64, 0, count)
	budget := total
	for i := 0; i < count; i++ {
		if budget == 0 {
			break
		}
		if i == count-1 {
			out = append(out, budget)
			budget = 0
			break
		}
		draw := math.Pow(rng.Float64()*ratio, 4) * float64(min)
		amount := uint64(draw)
		if amount == 0 {
			amount = 1
		}
		// clamp so the draw never exceeds what is left
		if amount > budget {
			amount = budget
		}
		out = append(out, amount)
		budget -= amount
	}
	return out
}

// ReservePrize moves the next amount from the remaining pool into a
// reservation held by user. A second reserve by the same user without an
// intervening unreserve returns AlreadyClaimed, as does a recorded win.
func (ce *ChatEvents) ReservePrize(id models.MessageID, user models.UserID, now int64) (PrizeReservation, PrizeReserveOutcome) {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound || msg.Deleted != nil {
		return PrizeReservation{}, PrizeReserveMessageNotFound
	}
	prize, ok := msg.Content.(*models.PrizeContent)
	if !ok {
		return PrizeReservation{}, PrizeReserveMessageNotFound
	}
	if prize.EndDate != 0 && now >= prize.EndDate {
		return PrizeReservation{}, PrizeReserveEnded
	}
	if reserved, won := prize.UserStatus(user); reserved || won {
		return PrizeReservation{}, PrizeReserveAlreadyClaimed
	}
	if len(prize.Remaining) == 0 {
		return PrizeReservation{}, PrizeReserveFullyClaimed
	}

	amount := prize.Remaining[len(prize.Remaining)-1]
	prize.Remaining = prize.Remaining[:len(prize.Remaining)-1]
	if prize.Reservations == nil {
		prize.Reservations = make(map[models.UserID]uint64)
	}
	prize.Reservations[user] = amount
	ce.pending.markEvent(e.Index)

	return PrizeReservation{Token: prize.Token, Ledger: prize.Ledger, Amount: amount}, PrizeReserveSuccess
}

// HeldReservation returns the reservation user currently holds on a
// prize message, if any. A claim interrupted after the reserve step
// finds its pending reservation through this instead of reserving again.
func (ce *ChatEvents) HeldReservation(id models.MessageID, user models.UserID) (PrizeReservation, bool) {
	_, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return PrizeReservation{}, false
	}
	prize, ok := msg.Content.(*models.PrizeContent)
	if !ok {
		return PrizeReservation{}, false
	}
	amount, ok := prize.Reservations[user]
	if !ok {
		return PrizeReservation{}, false
	}
	return PrizeReservation{Token: prize.Token, Ledger: prize.Ledger, Amount: amount}, true
}

// ClaimPrize commits a reservation after the external transfer
// succeeded: the amount moves to the winners map and a PrizeClaimed
// event is appended. The returned event is suitable for building a
// notification.
func (ce *ChatEvents) ClaimPrize(id models.MessageID, winner models.UserID, transfer models.CompletedTransfer, correlation uint64, now int64) (*models.Event, PrizeFinalizeOutcome) {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return nil, PrizeFinalizeMessageNotFound
	}
	prize, ok := msg.Content.(*models.PrizeContent)
	if !ok {
		return nil, PrizeFinalizeMessageNotFound
	}
	amount, ok := prize.Reservations[winner]
	if !ok {
		return nil, PrizeFinalizeReservationNotFound
	}
	delete(prize.Reservations, winner)
	if prize.Winners == nil {
		prize.Winners = make(map[models.UserID]uint64)
	}
	prize.Winners[winner] = amount
	ce.pending.markEvent(e.Index)

	claimed := ce.pushEvent(&models.PrizeClaimed{
		MessageIndex: msg.MessageIndex,
		MessageID:    id,
		Winner:       winner,
		Amount:       amount,
		Token:        prize.Token,
		Transfer:     transfer,
	}, correlation, now)
	return claimed, PrizeFinalizeSuccess
}

// UnreservePrize rolls a reservation back after the external transfer
// failed, returning the amount to the remaining pool.
func (ce *ChatEvents) UnreservePrize(id models.MessageID, user models.UserID, now int64) (uint64, PrizeFinalizeOutcome) {
	e, msg, st := ce.messageByID(id)
	if st != LookupFound {
		return 0, PrizeFinalizeMessageNotFound
	}
	prize, ok := msg.Content.(*models.PrizeContent)
	if !ok {
		return 0, PrizeFinalizeMessageNotFound
	}
	amount, ok := prize.Reservations[user]
	if !ok {
		return 0, PrizeFinalizeReservationNotFound
	}
	delete(prize.Reservations, user)
	prize.Remaining = append(prize.Remaining, amount)
	ce.pending.markEvent(e.Index)
	return amount, PrizeFinalizeSuccess
}
