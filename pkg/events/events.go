// Package events carries the structured governance events emitted by the
// escrow engine, the gauge ledger and the tally engine, and fans them out
// to in-process subscribers (the websocket layer) and, best effort, to
// Redis Pub/Sub for external indexers.
package events

import "encoding/json"

// Event kinds.
const (
	KindCreateLock  = "lock.created"
	KindDeposit     = "lock.deposited"
	KindExtendLock  = "lock.extended"
	KindWithdraw    = "lock.withdrawn"
	KindBlacklist   = "user.blacklisted"
	KindUnblacklist = "user.unblacklisted"
	KindCastVote    = "vote.cast"
	KindRemoveVote  = "vote.removed"
	KindGaugeAdded  = "gauge.registered"
	KindGaugeRemove = "gauge.deregistered"
	KindTally       = "epoch.tallied"
)

// Event is the structured record emitted on every governance state change.
// NewEnd and Timestamp are unix seconds; Amount is in base token units.
type Event struct {
	Kind      string `json:"kind"`
	User      string `json:"user,omitempty"`
	GaugeID   string `json:"gauge_id,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	NewEnd    uint64 `json:"new_end,omitempty"`
	Epoch     uint64 `json:"epoch,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// JSON renders the event for the wire. Marshalling a flat struct of
// scalars cannot fail.
func (e Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives events synchronously from the engines. Implementations
// must not block the caller for long; publication is fire-and-forget from
// the engines' point of view.
type Sink interface {
	Publish(Event)
}

// NopSink discards all events. Used by engine tests.
type NopSink struct{}

func (NopSink) Publish(Event) {}
