package phase

import "github.com/fentz26/nightshift/internal/models"

// stateAdjacency lists the legal session-state edges. Anything else needs an
// emergency-level override.
var stateAdjacency = map[models.GameState][]models.GameState{
	models.StateNotStarted: {models.StateInProgress},
	models.StateInProgress: {models.StateNotStarted},
}

// phaseAdjacency is deliberately restrictive: each phase has exactly one legal
// successor, so the happy path is narrow and every other edge is visibly an
// exception carrying an override.
var phaseAdjacency = map[models.GamePhase]models.GamePhase{
	models.PhaseDay:               models.PhaseTransitionToNight,
	models.PhaseNight:             models.PhaseTransitionToDay,
	models.PhaseTransitionToNight: models.PhaseNight,
	models.PhaseTransitionToDay:   models.PhaseDay,
}

// stateEdgeAllowed reports whether from->to is in the session-state table.
func stateEdgeAllowed(from, to models.GameState) bool {
	for _, next := range stateAdjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// phaseEdgeAllowed reports whether from->to is in the phase table.
func phaseEdgeAllowed(from, to models.GamePhase) bool {
	return phaseAdjacency[from] == to
}
