package models

import "time"

// RecoveryRecord is the persisted form of a guarantor recovery attempt.
type RecoveryRecord struct {
	ID           string    `json:"id"`
	TransitionID string    `json:"transition_id"`
	Strategy     Strategy  `json:"strategy"`
	Target       GamePhase `json:"target"`
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// TrailEntry is an audit record for a state-mutating forced action.
type TrailEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
