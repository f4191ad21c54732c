package models

// PrizeContent is a pool of token amounts users claim one slot of.
// Amounts flow remaining -> reservation -> winner (or back to remaining
// on rollback); the sum of the three buckets is conserved from creation.
// A user holds at most one reservation or one win per prize message.
type PrizeContent struct {
	Token  string `json:"token"`
	Ledger string `json:"ledger"`
	// TotalAmount and Count are set by the sender when the pool should
	// be drawn server-side; the append path replaces them with a
	// generated Remaining list.
	TotalAmount uint64 `json:"total_amount,omitempty"`
	Count       int    `json:"count,omitempty"`
	// Remaining is the ordered list of unclaimed amounts; reservations
	// take from the tail.
	Remaining []uint64 `json:"remaining"`
	// Reservations holds amounts taken but not yet finalized while the
	// external transfer is in flight.
	Reservations map[UserID]uint64 `json:"reservations,omitempty"`
	Winners      map[UserID]uint64 `json:"winners,omitempty"`
	EndDate      int64             `json:"end_date"`
	Caption      string            `json:"caption,omitempty"`
}

// Total returns remaining + reserved + won, which never changes across
// reserve/claim/unreserve sequences.
func (p *PrizeContent) Total() uint64 {
	var total uint64
	for _, a := range p.Remaining {
		total += a
	}
	for _, a := range p.Reservations {
		total += a
	}
	for _, a := range p.Winners {
		total += a
	}
	return total
}

// UserStatus reports whether the user already holds a reservation or win.
func (p *PrizeContent) UserStatus(u UserID) (reserved, won bool) {
	_, reserved = p.Reservations[u]
	_, won = p.Winners[u]
	return reserved, won
}
