// Package escrow implements the voting-escrow engine: token locks whose
// voting power decays linearly to zero on a fixed period grid, with
// append-only checkpoint histories for point-in-time queries and lazily
// settled scheduled slope changes for the global aggregate.
package escrow

import (
	"github.com/shopspring/decimal"
)

// Point is one immutable checkpoint of a linear decay segment. Voting
// power at period p >= Start along the segment is
// max(0, Power - Slope*(p-Start)). End is the period the underlying lock
// expires on; the global aggregate does not track an end and stores 0.
type Point struct {
	Power decimal.Decimal
	Slope decimal.Decimal
	Start uint64
	End   uint64
}

// PowerAt evaluates the segment at the given period.
func (p Point) PowerAt(period uint64) decimal.Decimal {
	if period <= p.Start {
		return p.Power
	}
	if p.End != 0 && period >= p.End {
		return decimal.Zero
	}
	dt := decimal.NewFromUint64(period - p.Start)
	v := p.Power.Sub(p.Slope.Mul(dt))
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Lock is a user's token commitment. Start, End and LastUpdate are
// periods. A lock with Amount 0 or End at or before the current period is
// expired.
type Lock struct {
	Amount     uint64
	Start      uint64
	End        uint64
	LastUpdate uint64
}

// ExpiredAt reports whether the lock is expired at the given period.
func (l Lock) ExpiredAt(period uint64) bool {
	return l.Amount == 0 || l.End <= period
}
