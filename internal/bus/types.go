package bus

import (
	"time"

	"github.com/fentz26/nightshift/internal/models"
)

// EventType identifies a bus message type.
type EventType string

const (
	EventStateChanged        EventType = "state.changed"
	EventPhaseChanged        EventType = "phase.changed"
	EventTransitionStarted   EventType = "transition.started"
	EventTransitionCompleted EventType = "transition.completed"
	EventNodeCompleted       EventType = "node.completed"
	EventRecoveryAttempted   EventType = "recovery.attempted"
	EventConsistencyChecked  EventType = "consistency.checked"
	EventJournalAcquired     EventType = "journal.acquired"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// StateChange is the payload for state.changed events.
type StateChange struct {
	From   models.GameState `json:"from"`
	To     models.GameState `json:"to"`
	Reason string           `json:"reason"`
}

// PhaseChange is the payload for phase.changed events.
type PhaseChange struct {
	From      models.GamePhase `json:"from"`
	To        models.GamePhase `json:"to"`
	Reason    string           `json:"reason"`
	Emergency bool             `json:"emergency"`
}

// TransitionEvent is the payload for transition.started and
// transition.completed events.
type TransitionEvent struct {
	Type   models.TransitionType `json:"transition_type"`
	From   models.GamePhase      `json:"from"`
	To     models.GamePhase      `json:"to"`
	Reason string                `json:"reason"`
}

// NodeCompleted is the payload for node.completed events.
type NodeCompleted struct {
	NodeID string `json:"node_id"`
	Day    int    `json:"day"`
}

// RecoveryAttempt is the payload for recovery.attempted events.
type RecoveryAttempt struct {
	TransitionID string           `json:"transition_id"`
	Strategy     models.Strategy  `json:"strategy"`
	Target       models.GamePhase `json:"target"`
	Attempt      int              `json:"attempt"`
	Success      bool             `json:"success"`
	Emergency    bool             `json:"emergency"`
}

// ConsistencyCheck is the payload for consistency.checked events.
type ConsistencyCheck struct {
	Boundary models.TransitionType `json:"boundary"`
	OK       bool                  `json:"ok"`
	Repaired bool                  `json:"repaired"`
	Detail   string                `json:"detail,omitempty"`
}

// JournalAcquired is the payload for journal.acquired events.
type JournalAcquired struct {
	Tier   string `json:"tier"`
	Source string `json:"source"`
	Forced bool   `json:"forced"`
}
