// Package phase implements the day/night state machine at the center of the
// transition reliability core. The machine is the single writer of the session
// state and game phase; every other component mutates them only through its
// validated transition API.
package phase

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/nightshift/internal/audit"
	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/models"
)

// Source tags events dispatched by the machine.
const Source = "phase_machine"

// Recorder persists transition records for postmortem analysis. The machine
// treats persistence as best-effort; a failing recorder never blocks a
// transition.
type Recorder interface {
	RecordTransition(rec models.TransitionRecord) error
}

// Machine owns the session state, the game phase, the bounded transition
// history and the per-session progress counters.
type Machine struct {
	cfg      *Config
	bus      *bus.Bus
	trail    *audit.Trail
	recorder Recorder

	mu              sync.Mutex
	state           models.GameState
	phase           models.GamePhase
	isTransitioning bool
	phaseSince      time.Time
	dayCount        int
	completed       map[string]struct{}
	history         []models.TransitionRecord

	// Local safety timer, independent of and redundant with the guarantor.
	safety    *time.Timer
	safetyFor models.GamePhase
}

// New creates a machine in the not_started state at day 1, daytime.
func New(b *bus.Bus, trail *audit.Trail, cfg *Config) *Machine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Machine{
		cfg:        cfg,
		bus:        b,
		trail:      trail,
		state:      models.StateNotStarted,
		phase:      models.PhaseDay,
		phaseSince: time.Now().UTC(),
		dayCount:   1,
		completed:  make(map[string]struct{}),
	}
}

// SetRecorder attaches an optional transition record sink.
func (m *Machine) SetRecorder(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// TransitionToState moves the session lifecycle to target. Already being in
// target is a no-op success; edges outside the adjacency table are rejected
// unless the override carries emergency authority.
func (m *Machine) TransitionToState(target models.GameState, ov models.Override) bool {
	m.mu.Lock()
	if m.state == target {
		m.mu.Unlock()
		return true
	}
	if !stateEdgeAllowed(m.state, target) && !ov.Emergency() {
		from := m.state
		m.mu.Unlock()
		log.Printf("phase: rejected state transition %s -> %s (%s)", from, target, ov.Reason)
		return false
	}
	from := m.state
	m.state = target

	// Session reset tears down per-session progress.
	if target == models.StateNotStarted {
		m.completed = make(map[string]struct{})
		m.dayCount = 1
	}
	m.mu.Unlock()

	if ov.Emergency() {
		m.trail.Record("state.force", map[string]any{"from": from, "to": target}, "success", "", ov.Reason)
	}
	m.bus.Dispatch(bus.EventStateChanged, bus.StateChange{From: from, To: target, Reason: ov.Reason}, Source)
	return true
}

// TransitionToPhase moves the game phase to target. Already being in target is
// a no-op success with no notification. Edges outside the adjacency table are
// rejected unless the override carries emergency authority; that emergency
// branch is the sole sanctioned bypass, and every use of it is logged and
// written to the audit trail.
func (m *Machine) TransitionToPhase(target models.GamePhase, ov models.Override) bool {
	m.mu.Lock()
	if m.phase == target {
		m.mu.Unlock()
		return true
	}

	from := m.phase
	now := time.Now().UTC()

	if !phaseEdgeAllowed(from, target) && !ov.Emergency() {
		m.appendHistory(models.TransitionRecord{
			From: from, To: target, Timestamp: now,
			Reason: ov.Reason, Succeeded: false, Emergency: false,
		})
		m.mu.Unlock()
		log.Printf("phase: rejected phase transition %s -> %s (%s)", from, target, ov.Reason)
		return false
	}

	m.phase = target
	m.phaseSince = now

	starting := target.IsTransitional()
	completing := from.IsTransitional() && !target.IsTransitional()

	if starting {
		m.isTransitioning = true
		m.armSafetyLocked(target)
	} else {
		// Completing a transition, or an emergency jump between terminal
		// phases; either way no transition is in flight anymore.
		m.isTransitioning = false
		m.cancelSafetyLocked()
	}

	rec := models.TransitionRecord{
		From: from, To: target, Timestamp: now,
		Reason: ov.Reason, Succeeded: true, Emergency: ov.Emergency(),
	}
	m.appendHistory(rec)
	recorder := m.recorder
	m.mu.Unlock()

	if recorder != nil {
		if err := recorder.RecordTransition(rec); err != nil {
			log.Printf("phase: failed to persist transition record: %v", err)
		}
	}
	if ov.Emergency() {
		log.Printf("phase: forced phase transition %s -> %s (strategy=%s reason=%s)", from, target, ov.Strategy, ov.Reason)
		m.trail.Record("phase.force", map[string]any{"from": from, "to": target, "strategy": ov.Strategy}, "success", "", ov.Reason)
	}

	m.bus.Dispatch(bus.EventPhaseChanged, bus.PhaseChange{From: from, To: target, Reason: ov.Reason, Emergency: ov.Emergency()}, Source)
	if starting {
		m.bus.Dispatch(bus.EventTransitionStarted, bus.TransitionEvent{
			Type: models.TransitionTypeFor(target), From: from, To: target, Reason: ov.Reason,
		}, Source)
	}
	if completing {
		m.bus.Dispatch(bus.EventTransitionCompleted, bus.TransitionEvent{
			Type: models.TransitionTypeFor(from), From: from, To: target, Reason: ov.Reason,
		}, Source)
	}
	return true
}

// BeginDayCompletion starts the day -> night transition. Rejected if the
// session is not running, the phase is not day, or a transition is already in
// flight.
func (m *Machine) BeginDayCompletion() bool {
	m.mu.Lock()
	if m.state != models.StateInProgress || m.isTransitioning || m.phase != models.PhaseDay {
		state, ph := m.state, m.phase
		m.mu.Unlock()
		log.Printf("phase: begin day completion rejected (state=%s phase=%s)", state, ph)
		return false
	}
	m.mu.Unlock()

	return m.TransitionToPhase(models.PhaseTransitionToNight, models.Normal("day_complete"))
}

// BeginNightCompletion starts the night -> day transition. It resets the
// completed-activity set and increments the day counter before the transition
// starts, so dependent systems see the new day while the transition is still
// playing out.
func (m *Machine) BeginNightCompletion() bool {
	m.mu.Lock()
	if m.state != models.StateInProgress || m.isTransitioning || m.phase != models.PhaseNight {
		state, ph := m.state, m.phase
		m.mu.Unlock()
		log.Printf("phase: begin night completion rejected (state=%s phase=%s)", state, ph)
		return false
	}
	m.completed = make(map[string]struct{})
	m.dayCount++
	day := m.dayCount
	m.mu.Unlock()

	log.Printf("phase: advancing to day %d", day)
	return m.TransitionToPhase(models.PhaseTransitionToDay, models.Normal("night_complete"))
}

// FinalizeDayTransition completes the day -> night transition once the
// presentation layer reports its animation finished. If the machine has
// already resolved, this is a no-op success; if it is stuck in the opposite
// transition, a best-effort recovery resolves that transition instead.
func (m *Machine) FinalizeDayTransition() bool {
	return m.finalize(models.PhaseTransitionToNight)
}

// FinalizeNightTransition completes the night -> day transition; same contract
// as FinalizeDayTransition.
func (m *Machine) FinalizeNightTransition() bool {
	return m.finalize(models.PhaseTransitionToDay)
}

func (m *Machine) finalize(expected models.GamePhase) bool {
	m.mu.Lock()
	cur := m.phase
	m.mu.Unlock()

	terminal := expected.Terminal()
	switch {
	case cur == terminal:
		// Already resolved, likely by a safety timer or the guarantor.
		return true
	case cur == expected:
		return m.TransitionToPhase(terminal, models.Normal("transition_finalize"))
	case cur.IsTransitional():
		// Stuck in the other transition phase; resolve that one rather than
		// failing the caller.
		log.Printf("phase: finalize expected %s but found %s, recovering", expected, cur)
		return m.TransitionToPhase(cur.Terminal(), models.Recovery(models.StrategyNormal, "finalize_mismatch"))
	default:
		log.Printf("phase: finalize expected %s but phase is %s, nothing to do", expected, cur)
		return false
	}
}

// MarkNodeCompleted records a completed activity. Idempotent; duplicates
// dispatch no notification.
func (m *Machine) MarkNodeCompleted(id string) {
	m.mu.Lock()
	if _, ok := m.completed[id]; ok {
		m.mu.Unlock()
		return
	}
	m.completed[id] = struct{}{}
	day := m.dayCount
	m.mu.Unlock()

	m.bus.Dispatch(bus.EventNodeCompleted, bus.NodeCompleted{NodeID: id, Day: day}, Source)
}

// CheckForStuckTransitions detects and self-heals the three known
// inconsistency patterns between the transitioning flag, the safety timer and
// the phase value. It returns the number of repairs performed.
func (m *Machine) CheckForStuckTransitions() int {
	m.mu.Lock()
	repaired := 0

	// Flag says transitioning but the phase is terminal.
	if m.isTransitioning && !m.phase.IsTransitional() {
		log.Printf("phase: stuck check: transitioning flag set while in %s, clearing", m.phase)
		m.isTransitioning = false
		m.cancelSafetyLocked()
		repaired++
	}

	// A live safety timer with no transition in flight.
	if m.safety != nil && !m.isTransitioning {
		log.Printf("phase: stuck check: orphaned safety timer for %s, cancelling", m.safetyFor)
		m.cancelSafetyLocked()
		repaired++
	}

	// Overdue transitional phase.
	var force models.GamePhase
	threshold := time.Duration(float64(m.cfg.TransitionTimeout) * m.cfg.StuckMultiplier)
	if m.phase.IsTransitional() && time.Since(m.phaseSince) > threshold {
		force = m.phase.Terminal()
	}
	m.mu.Unlock()

	if force != "" {
		log.Printf("phase: stuck check: transition overdue, forcing %s", force)
		if m.TransitionToPhase(force, models.Recovery(models.StrategyNormal, "stuck_check")) {
			repaired++
		}
	}
	return repaired
}

// --- Safety timer ---

// armSafetyLocked arms the machine's own completion timer for a transitional
// phase, replacing any previous timer. Caller holds m.mu.
func (m *Machine) armSafetyLocked(transitional models.GamePhase) {
	m.cancelSafetyLocked()
	m.safetyFor = transitional
	m.safety = time.AfterFunc(m.cfg.TransitionTimeout, func() {
		m.onSafetyTimeout(transitional)
	})
}

// cancelSafetyLocked stops and clears the safety timer. Caller holds m.mu.
func (m *Machine) cancelSafetyLocked() {
	if m.safety != nil {
		m.safety.Stop()
		m.safety = nil
		m.safetyFor = ""
	}
}

// onSafetyTimeout fires when no explicit finalize arrived in time. The phase
// is re-read before acting; a timer that outlived its transition does nothing.
func (m *Machine) onSafetyTimeout(transitional models.GamePhase) {
	m.mu.Lock()
	if m.phase != transitional {
		m.mu.Unlock()
		return
	}
	m.safety = nil
	m.safetyFor = ""
	m.mu.Unlock()

	log.Printf("phase: safety timeout in %s, forcing completion", transitional)
	m.TransitionToPhase(transitional.Terminal(), models.Recovery(models.StrategyNormal, "safety_timeout"))
}

// appendHistory appends to the bounded record ring. Caller holds m.mu.
func (m *Machine) appendHistory(rec models.TransitionRecord) {
	m.history = append(m.history, rec)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

// --- Accessors ---

// State returns the current session state.
func (m *Machine) State() models.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Phase returns the current game phase.
func (m *Machine) Phase() models.GamePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// IsTransitioning reports whether a phase transition is in flight.
func (m *Machine) IsTransitioning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isTransitioning
}

// DayCount returns the current day number.
func (m *Machine) DayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dayCount
}

// HasCompleted reports whether an activity has been completed this day cycle.
func (m *Machine) HasCompleted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.completed[id]
	return ok
}

// CompletedNodes returns the completed activity IDs, sorted.
func (m *Machine) CompletedNodes() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.completed))
	for id := range m.completed {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// History returns a copy of the bounded transition record ring, oldest first.
func (m *Machine) History() []models.TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Snapshot returns a consistent read-only view of the machine.
func (m *Machine) Snapshot() models.Snapshot {
	m.mu.Lock()
	snap := models.Snapshot{
		State:           m.state,
		Phase:           m.phase,
		IsTransitioning: m.isTransitioning,
		DayCount:        m.dayCount,
		PhaseSince:      m.phaseSince,
	}
	for id := range m.completed {
		snap.CompletedNodes = append(snap.CompletedNodes, id)
	}
	m.mu.Unlock()
	sort.Strings(snap.CompletedNodes)
	return snap
}

// Teardown cancels the safety timer; used on session shutdown.
func (m *Machine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelSafetyLocked()
}
