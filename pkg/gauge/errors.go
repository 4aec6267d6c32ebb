package gauge

import "errors"

var (
	// ErrNoVotingPower is returned when a user with zero current voting
	// power tries to cast a vote.
	ErrNoVotingPower = errors.New("no voting power")
	// ErrTooManyGauges is returned when an allocation set exceeds the
	// per-user gauge limit.
	ErrTooManyGauges = errors.New("too many gauges")
	// ErrFractionOutOfRange is returned when any fraction is outside
	// (0,1] or the fractions sum to more than 1.
	ErrFractionOutOfRange = errors.New("fraction out of range")
	// ErrDuplicateGauge is returned when an allocation set names the same
	// gauge twice.
	ErrDuplicateGauge = errors.New("duplicate gauge in allocation set")
	// ErrVoteCooldownActive is returned when a user votes again before
	// the cooldown elapsed.
	ErrVoteCooldownActive = errors.New("vote cooldown active")
	// ErrUnknownGauge is returned for votes referencing an unregistered
	// gauge.
	ErrUnknownGauge = errors.New("unknown gauge")
	// ErrGaugeExists is returned when registering an already registered
	// gauge.
	ErrGaugeExists = errors.New("gauge already registered")
	// ErrAlreadyTallied is returned when settling an epoch that already
	// has a snapshot.
	ErrAlreadyTallied = errors.New("epoch already tallied")
	// ErrEpochInFuture is returned when settling an epoch that has not
	// started yet.
	ErrEpochInFuture = errors.New("epoch has not started")
)
