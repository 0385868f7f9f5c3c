package phase

import (
	"testing"
	"time"

	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/models"
)

func newTestMachine(cfg *Config) (*Machine, *bus.Bus) {
	b := bus.New()
	m := New(b, nil, cfg)
	return m, b
}

// startSession moves a fresh machine into a running session.
func startSession(t *testing.T, m *Machine) {
	t.Helper()
	if !m.TransitionToState(models.StateInProgress, models.Normal("test_start")) {
		t.Fatal("Failed to start session")
	}
}

// forcePhase jumps the machine to an arbitrary phase for test setup.
func forcePhase(t *testing.T, m *Machine, target models.GamePhase) {
	t.Helper()
	if !m.TransitionToPhase(target, models.DirectOverride("test_setup")) {
		t.Fatalf("Failed to force phase %s", target)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestNewMachineDefaults(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	if m.State() != models.StateNotStarted {
		t.Errorf("Expected state not_started, got %s", m.State())
	}
	if m.Phase() != models.PhaseDay {
		t.Errorf("Expected phase day, got %s", m.Phase())
	}
	if m.DayCount() != 1 {
		t.Errorf("Expected day 1, got %d", m.DayCount())
	}
	if m.IsTransitioning() {
		t.Error("Fresh machine should not be transitioning")
	}
}

func TestPhaseAdjacency(t *testing.T) {
	valid := []struct{ from, to models.GamePhase }{
		{models.PhaseDay, models.PhaseTransitionToNight},
		{models.PhaseTransitionToNight, models.PhaseNight},
		{models.PhaseNight, models.PhaseTransitionToDay},
		{models.PhaseTransitionToDay, models.PhaseDay},
	}
	for _, c := range valid {
		m, _ := newTestMachine(nil)
		forcePhase(t, m, c.from)
		if !m.TransitionToPhase(c.to, models.Normal("test")) {
			t.Errorf("Expected %s -> %s to be allowed", c.from, c.to)
		}
		m.Teardown()
	}

	invalid := []struct{ from, to models.GamePhase }{
		{models.PhaseDay, models.PhaseNight},
		{models.PhaseDay, models.PhaseTransitionToDay},
		{models.PhaseNight, models.PhaseDay},
		{models.PhaseNight, models.PhaseTransitionToNight},
		{models.PhaseTransitionToNight, models.PhaseDay},
		{models.PhaseTransitionToNight, models.PhaseTransitionToDay},
		{models.PhaseTransitionToDay, models.PhaseNight},
		{models.PhaseTransitionToDay, models.PhaseTransitionToNight},
	}
	for _, c := range invalid {
		m, _ := newTestMachine(nil)
		forcePhase(t, m, c.from)
		if m.TransitionToPhase(c.to, models.Normal("test")) {
			t.Errorf("Expected %s -> %s to be rejected", c.from, c.to)
		}
		if m.Phase() != c.from {
			t.Errorf("Rejected transition changed phase: expected %s, got %s", c.from, m.Phase())
		}
		m.Teardown()
	}
}

func TestRejectedTransitionRecordsFailure(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	m.TransitionToPhase(models.PhaseNight, models.Normal("illegal"))

	hist := m.History()
	if len(hist) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(hist))
	}
	rec := hist[0]
	if rec.Succeeded {
		t.Error("Expected rejected transition to be recorded as failed")
	}
	if rec.From != models.PhaseDay || rec.To != models.PhaseNight {
		t.Errorf("Expected day -> night record, got %s -> %s", rec.From, rec.To)
	}
}

func TestEmergencyBypassesAdjacency(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	if !m.TransitionToPhase(models.PhaseNight, models.DirectOverride("test")) {
		t.Fatal("Expected direct override to bypass the adjacency table")
	}
	if m.Phase() != models.PhaseNight {
		t.Errorf("Expected phase night, got %s", m.Phase())
	}

	hist := m.History()
	if len(hist) != 1 || !hist[0].Emergency {
		t.Error("Expected the forced transition to be recorded as emergency")
	}
}

func TestSameTargetIsNoOp(t *testing.T) {
	m, b := newTestMachine(nil)
	defer m.Teardown()

	dispatched := 0
	b.Subscribe(bus.EventPhaseChanged, func(ev bus.Event) { dispatched++ })

	if !m.TransitionToPhase(models.PhaseDay, models.Normal("noop")) {
		t.Error("Expected same-target transition to report success")
	}
	if dispatched != 0 {
		t.Errorf("Expected no notification for a no-op, got %d", dispatched)
	}
	if len(m.History()) != 0 {
		t.Error("Expected no history record for a no-op")
	}
}

func TestTransitionNotifications(t *testing.T) {
	m, b := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)

	var started, completed []bus.TransitionEvent
	b.Subscribe(bus.EventTransitionStarted, func(ev bus.Event) {
		started = append(started, ev.Payload.(bus.TransitionEvent))
	})
	b.Subscribe(bus.EventTransitionCompleted, func(ev bus.Event) {
		completed = append(completed, ev.Payload.(bus.TransitionEvent))
	})

	if !m.BeginDayCompletion() {
		t.Fatal("BeginDayCompletion failed")
	}
	if len(started) != 1 || started[0].Type != models.TransitionDayToNight {
		t.Fatalf("Expected one day_to_night started event, got %v", started)
	}
	if !m.IsTransitioning() {
		t.Error("Expected transitioning flag set after begin")
	}

	if !m.FinalizeDayTransition() {
		t.Fatal("FinalizeDayTransition failed")
	}
	if len(completed) != 1 || completed[0].Type != models.TransitionDayToNight {
		t.Fatalf("Expected one day_to_night completed event, got %v", completed)
	}
	if m.Phase() != models.PhaseNight {
		t.Errorf("Expected phase night, got %s", m.Phase())
	}
	if m.IsTransitioning() {
		t.Error("Expected transitioning flag cleared after finalize")
	}
}

func TestBeginDayCompletionGuards(t *testing.T) {
	// Session not running.
	m, _ := newTestMachine(nil)
	if m.BeginDayCompletion() {
		t.Error("Expected rejection while session not started")
	}
	m.Teardown()

	// Wrong phase.
	m, _ = newTestMachine(nil)
	startSession(t, m)
	forcePhase(t, m, models.PhaseNight)
	if m.BeginDayCompletion() {
		t.Error("Expected rejection while in night phase")
	}
	m.Teardown()

	// Transition already in flight.
	m, _ = newTestMachine(nil)
	startSession(t, m)
	if !m.BeginDayCompletion() {
		t.Fatal("First begin should succeed")
	}
	if m.BeginDayCompletion() {
		t.Error("Expected rejection while a transition is in flight")
	}
	m.Teardown()
}

func TestBeginNightCompletionAdvancesDayOnce(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)
	forcePhase(t, m, models.PhaseNight)

	m.MarkNodeCompleted("evening_walk")
	if !m.HasCompleted("evening_walk") {
		t.Fatal("Expected node to be completed")
	}

	if !m.BeginNightCompletion() {
		t.Fatal("BeginNightCompletion failed")
	}
	if m.DayCount() != 2 {
		t.Errorf("Expected day 2, got %d", m.DayCount())
	}
	if m.HasCompleted("evening_walk") {
		t.Error("Expected completed set reset at the night boundary")
	}

	// Duplicate begin is absorbed by the phase guard, not the counter.
	if m.BeginNightCompletion() {
		t.Error("Expected duplicate begin to be rejected")
	}
	if m.DayCount() != 2 {
		t.Errorf("Day count moved on a rejected begin: got %d", m.DayCount())
	}
}

func TestFinalizeAfterAlreadyResolved(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)
	forcePhase(t, m, models.PhaseNight)

	// Transition already resolved out from under the caller.
	if !m.FinalizeDayTransition() {
		t.Error("Expected finalize on already-terminal phase to succeed as a no-op")
	}
	if m.Phase() != models.PhaseNight {
		t.Errorf("Expected phase unchanged, got %s", m.Phase())
	}
}

func TestFinalizeMismatchRecoversOtherTransition(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)
	forcePhase(t, m, models.PhaseTransitionToDay)

	// Caller believes a day -> night transition is pending, but the machine is
	// stuck going the other way. The stuck one gets resolved.
	if !m.FinalizeDayTransition() {
		t.Error("Expected mismatch finalize to recover the live transition")
	}
	if m.Phase() != models.PhaseDay {
		t.Errorf("Expected phase day after recovery, got %s", m.Phase())
	}
}

func TestFinalizeFromTerminalMismatch(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	// Day phase, no transition anywhere near night.
	if m.FinalizeNightTransition() {
		t.Error("Expected finalize with nothing in flight from the wrong terminal to fail")
	}
}

func TestMarkNodeCompletedIdempotent(t *testing.T) {
	m, b := newTestMachine(nil)
	defer m.Teardown()

	events := 0
	b.Subscribe(bus.EventNodeCompleted, func(ev bus.Event) { events++ })

	m.MarkNodeCompleted("n1")
	m.MarkNodeCompleted("n1")
	m.MarkNodeCompleted("n2")

	if events != 2 {
		t.Errorf("Expected 2 notifications, got %d", events)
	}
	nodes := m.CompletedNodes()
	if len(nodes) != 2 || nodes[0] != "n1" || nodes[1] != "n2" {
		t.Errorf("Expected [n1 n2], got %v", nodes)
	}
}

func TestSessionResetClearsProgress(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)
	forcePhase(t, m, models.PhaseNight)
	m.MarkNodeCompleted("n1")
	if !m.BeginNightCompletion() {
		t.Fatal("BeginNightCompletion failed")
	}
	if !m.FinalizeNightTransition() {
		t.Fatal("FinalizeNightTransition failed")
	}

	if !m.TransitionToState(models.StateNotStarted, models.Normal("session_end")) {
		t.Fatal("Failed to reset session")
	}
	if m.DayCount() != 1 {
		t.Errorf("Expected day count reset to 1, got %d", m.DayCount())
	}
	if len(m.CompletedNodes()) != 0 {
		t.Error("Expected completed set cleared on session reset")
	}
}

func TestSafetyTimerForcesCompletion(t *testing.T) {
	cfg := &Config{TransitionTimeout: 30 * time.Millisecond, StuckMultiplier: 1.5, HistoryLimit: 20}
	m, _ := newTestMachine(cfg)
	defer m.Teardown()
	startSession(t, m)

	if !m.BeginDayCompletion() {
		t.Fatal("BeginDayCompletion failed")
	}

	// No finalize ever arrives; the machine's own timer must resolve it.
	waitFor(t, time.Second, func() bool { return m.Phase() == models.PhaseNight })

	if m.IsTransitioning() {
		t.Error("Expected transitioning flag cleared after safety timeout")
	}

	hist := m.History()
	last := hist[len(hist)-1]
	if !last.Emergency || last.Reason != "safety_timeout" {
		t.Errorf("Expected emergency safety_timeout record, got %+v", last)
	}
}

func TestSafetyTimerCancelledByFinalize(t *testing.T) {
	cfg := &Config{TransitionTimeout: 40 * time.Millisecond, StuckMultiplier: 1.5, HistoryLimit: 20}
	m, _ := newTestMachine(cfg)
	defer m.Teardown()
	startSession(t, m)

	if !m.BeginDayCompletion() {
		t.Fatal("BeginDayCompletion failed")
	}
	if !m.FinalizeDayTransition() {
		t.Fatal("FinalizeDayTransition failed")
	}

	// Let the timer window pass; no emergency record may appear.
	time.Sleep(80 * time.Millisecond)
	for _, rec := range m.History() {
		if rec.Emergency {
			t.Errorf("Unexpected emergency record after explicit finalize: %+v", rec)
		}
	}
}

func TestCheckForStuckTransitionsFlagMismatch(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	// Inject the inconsistency directly: flag set while in a terminal phase.
	m.mu.Lock()
	m.isTransitioning = true
	m.mu.Unlock()

	repaired := m.CheckForStuckTransitions()
	if repaired != 1 {
		t.Errorf("Expected 1 repair, got %d", repaired)
	}
	if m.IsTransitioning() {
		t.Error("Expected transitioning flag cleared")
	}
}

func TestCheckForStuckTransitionsOrphanedTimer(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()

	m.mu.Lock()
	m.safetyFor = models.PhaseTransitionToNight
	m.safety = time.AfterFunc(time.Hour, func() {})
	m.mu.Unlock()

	repaired := m.CheckForStuckTransitions()
	if repaired != 1 {
		t.Errorf("Expected 1 repair, got %d", repaired)
	}

	m.mu.Lock()
	cleared := m.safety == nil
	m.mu.Unlock()
	if !cleared {
		t.Error("Expected orphaned safety timer cancelled")
	}
}

func TestCheckForStuckTransitionsOverduePhase(t *testing.T) {
	cfg := &Config{TransitionTimeout: 10 * time.Millisecond, StuckMultiplier: 1.5, HistoryLimit: 20}
	m, _ := newTestMachine(cfg)
	defer m.Teardown()
	startSession(t, m)

	if !m.BeginDayCompletion() {
		t.Fatal("BeginDayCompletion failed")
	}
	// Disarm the safety timer and age the phase so only the stuck check can win.
	m.mu.Lock()
	m.cancelSafetyLocked()
	m.phaseSince = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	repaired := m.CheckForStuckTransitions()
	if repaired == 0 {
		t.Fatal("Expected the overdue transition to be repaired")
	}
	if m.Phase() != models.PhaseNight {
		t.Errorf("Expected phase forced to night, got %s", m.Phase())
	}
}

func TestCheckForStuckTransitionsHealthy(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)

	if repaired := m.CheckForStuckTransitions(); repaired != 0 {
		t.Errorf("Expected no repairs on a healthy machine, got %d", repaired)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	cfg := &Config{TransitionTimeout: time.Hour, StuckMultiplier: 1.5, HistoryLimit: 5}
	m, _ := newTestMachine(cfg)
	defer m.Teardown()

	phases := []models.GamePhase{models.PhaseNight, models.PhaseDay}
	for i := 0; i < 10; i++ {
		forcePhase(t, m, phases[i%2])
	}

	if len(m.History()) != 5 {
		t.Errorf("Expected history capped at 5, got %d", len(m.History()))
	}
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestMachine(nil)
	defer m.Teardown()
	startSession(t, m)
	m.MarkNodeCompleted("n1")

	snap := m.Snapshot()
	if snap.State != models.StateInProgress {
		t.Errorf("Expected state in_progress, got %s", snap.State)
	}
	if snap.Phase != models.PhaseDay {
		t.Errorf("Expected phase day, got %s", snap.Phase)
	}
	if snap.DayCount != 1 {
		t.Errorf("Expected day 1, got %d", snap.DayCount)
	}
	if len(snap.CompletedNodes) != 1 || snap.CompletedNodes[0] != "n1" {
		t.Errorf("Expected completed [n1], got %v", snap.CompletedNodes)
	}
	if snap.PhaseSince.IsZero() {
		t.Error("Expected phase_since set")
	}
}
