// Package models defines the core domain types for nightshift.
package models

import "time"

// GameState represents the coarse session lifecycle.
type GameState string

const (
	StateNotStarted GameState = "not_started"
	StateInProgress GameState = "in_progress"
)

// GamePhase represents the day/night gameplay cycle, including the two
// transient in-between phases.
type GamePhase string

const (
	PhaseDay               GamePhase = "day"
	PhaseNight             GamePhase = "night"
	PhaseTransitionToDay   GamePhase = "transition_to_day"
	PhaseTransitionToNight GamePhase = "transition_to_night"
)

// IsTransitional reports whether the phase is one of the transient
// transition_to_* values.
func (p GamePhase) IsTransitional() bool {
	return p == PhaseTransitionToDay || p == PhaseTransitionToNight
}

// Terminal returns the phase a transitional phase resolves to. For terminal
// phases it returns the phase itself.
func (p GamePhase) Terminal() GamePhase {
	switch p {
	case PhaseTransitionToDay:
		return PhaseDay
	case PhaseTransitionToNight:
		return PhaseNight
	default:
		return p
	}
}

// TransitionType classifies a tracked transition by its direction.
type TransitionType string

const (
	TransitionDayToNight TransitionType = "day_to_night"
	TransitionNightToDay TransitionType = "night_to_day"
	TransitionOther      TransitionType = "other"
)

// TransitionTypeFor derives the transition type from the phase being entered.
func TransitionTypeFor(to GamePhase) TransitionType {
	switch to {
	case PhaseTransitionToNight:
		return TransitionDayToNight
	case PhaseTransitionToDay:
		return TransitionNightToDay
	default:
		return TransitionOther
	}
}

// TransitionState tracks the lifecycle of a watched transition.
type TransitionState string

const (
	TransitionPending    TransitionState = "pending"
	TransitionInProgress TransitionState = "in_progress"
	TransitionCompleted  TransitionState = "completed"
	TransitionFailed     TransitionState = "failed"
	TransitionRecovered  TransitionState = "recovered"
)

// Strategy is an escalation level for stuck-transition recovery, ordered from
// least to most forceful.
type Strategy string

const (
	StrategyGentle         Strategy = "gentle"
	StrategyNormal         Strategy = "normal"
	StrategyAggressive     Strategy = "aggressive"
	StrategyDirectOverride Strategy = "direct_override"
)

// Next returns the strategy one escalation step above the receiver.
// direct_override is terminal and escalates to itself.
func (s Strategy) Next() Strategy {
	switch s {
	case StrategyGentle:
		return StrategyNormal
	case StrategyNormal:
		return StrategyAggressive
	default:
		return StrategyDirectOverride
	}
}

// TransitionRecord is an immutable diagnostic entry for a single phase change
// attempt. Kept in a bounded ring on the state machine; not authoritative for
// recovery.
type TransitionRecord struct {
	From      GamePhase `json:"from"`
	To        GamePhase `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Succeeded bool      `json:"succeeded"`
	Emergency bool      `json:"emergency"`
}

// ActiveTransition is the guarantor's live tracking record for a transition
// that has started but not yet completed.
type ActiveTransition struct {
	ID               string          `json:"id"`
	Type             TransitionType  `json:"type"`
	From             GamePhase       `json:"from"`
	To               GamePhase       `json:"to"`
	State            TransitionState `json:"state"`
	StartTime        time.Time       `json:"start_time"`
	Timeout          time.Duration   `json:"timeout"`
	RecoveryAttempts int             `json:"recovery_attempts"`
	Strategy         Strategy        `json:"strategy"`
	Reason           string          `json:"reason"`
}

// RepairOperation records a forced-repair attempt made by the resolver.
type RepairOperation struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
}

// Snapshot is a read-only view of the state machine, served by the admin
// surface and the debug TUI.
type Snapshot struct {
	State           GameState `json:"state"`
	Phase           GamePhase `json:"phase"`
	IsTransitioning bool      `json:"is_transitioning"`
	DayCount        int       `json:"day_count"`
	CompletedNodes  []string  `json:"completed_nodes"`
	PhaseSince      time.Time `json:"phase_since"`
}
