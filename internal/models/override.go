package models

// OverrideLevel ranks how much authority a transition request carries.
// Validity checks switch on the level exhaustively instead of matching
// substrings in free-text reasons.
type OverrideLevel int

const (
	// OverrideNone is a normal request, bound by the adjacency tables.
	OverrideNone OverrideLevel = iota
	// OverrideRecovery is a watchdog or safety-timer recovery request. It may
	// take edges outside the adjacency tables.
	OverrideRecovery
	// OverrideDirect is the terminal escalation. It always passes validation
	// and is always logged as a forced change.
	OverrideDirect
)

// Override carries the authority and audit context of a transition request.
type Override struct {
	Level    OverrideLevel
	Strategy Strategy // set for recovery-level overrides
	Reason   string
}

// Normal builds a standard, table-validated request.
func Normal(reason string) Override {
	return Override{Level: OverrideNone, Reason: reason}
}

// Recovery builds a watchdog request carrying its escalation strategy.
func Recovery(strategy Strategy, reason string) Override {
	return Override{Level: OverrideRecovery, Strategy: strategy, Reason: reason}
}

// DirectOverride builds an unconditional forced request.
func DirectOverride(reason string) Override {
	return Override{Level: OverrideDirect, Strategy: StrategyDirectOverride, Reason: reason}
}

// Emergency reports whether the request may bypass the adjacency tables.
func (o Override) Emergency() bool {
	return o.Level > OverrideNone
}
