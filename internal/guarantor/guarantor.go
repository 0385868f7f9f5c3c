// Package guarantor implements the transition watchdog. It tracks every
// in-flight phase transition against a deadline and escalates through
// increasingly forceful recovery strategies when a transition fails to
// self-report completion. It does not trust the state machine's own safety
// timer; a periodic sweep re-derives stuck and orphaned transitions from the
// live phase as a second line of defense against missed notifications.
package guarantor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fentz26/nightshift/internal/audit"
	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/phase"
	"github.com/google/uuid"
)

// Source tags events dispatched by the guarantor.
const Source = "transition_guarantor"

// Recorder persists recovery attempts for postmortem analysis.
type Recorder interface {
	RecordRecovery(rec models.RecoveryRecord) error
}

// Stats aggregates watchdog outcomes.
type Stats struct {
	Active          int           `json:"active"`
	Completed       int           `json:"completed"`
	Recovered       int           `json:"recovered"`
	Failed          int           `json:"failed"`
	DirectOverrides int           `json:"direct_overrides"`
	AvgCompletion   time.Duration `json:"avg_completion"`
}

// tracked pairs an active transition record with its cancellable timer and the
// transitional phase it guards.
type tracked struct {
	models.ActiveTransition
	transitional models.GamePhase
	timer        *time.Timer
}

// Guarantor watches phase transitions and repairs the stuck ones.
type Guarantor struct {
	cfg      *Config
	machine  *phase.Machine
	bus      *bus.Bus
	trail    *audit.Trail
	recorder Recorder

	mu      sync.Mutex
	active  map[string]*tracked
	history []models.ActiveTransition

	completed       int
	recovered       int
	failed          int
	directOverrides int
	totalCompletion time.Duration

	unsubs []func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a guarantor and subscribes it to the bus. Call Start to run the
// periodic sweep and Stop to tear everything down.
func New(m *phase.Machine, b *bus.Bus, trail *audit.Trail, cfg *Config) *Guarantor {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Guarantor{
		cfg:     cfg,
		machine: m,
		bus:     b,
		trail:   trail,
		active:  make(map[string]*tracked),
		ctx:     ctx,
		cancel:  cancel,
	}

	g.unsubs = append(g.unsubs,
		b.Subscribe(bus.EventTransitionStarted, g.onTransitionStarted),
		b.Subscribe(bus.EventTransitionCompleted, g.onTransitionCompleted),
	)
	return g
}

// SetRecorder attaches an optional recovery attempt sink.
func (g *Guarantor) SetRecorder(r Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

// Start begins the periodic sweep loop.
func (g *Guarantor) Start() {
	g.wg.Add(1)
	go g.sweepLoop()
	log.Println("guarantor: started")
}

// Stop cancels the sweep, all per-transition timers and the bus
// subscriptions.
func (g *Guarantor) Stop() {
	g.cancel()
	g.wg.Wait()

	for _, unsub := range g.unsubs {
		unsub()
	}

	g.mu.Lock()
	for _, tr := range g.active {
		if tr.timer != nil {
			tr.timer.Stop()
		}
	}
	g.mu.Unlock()
	log.Println("guarantor: stopped")
}

// sweepLoop periodically re-derives stuck transitions from the live phase.
func (g *Guarantor) sweepLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// --- Bus handlers ---

func (g *Guarantor) onTransitionStarted(ev bus.Event) {
	payload, ok := ev.Payload.(bus.TransitionEvent)
	if !ok {
		return
	}
	g.track(payload.To, payload.From, payload.Reason, time.Now().UTC(), models.StrategyGentle)
}

func (g *Guarantor) onTransitionCompleted(ev bus.Event) {
	payload, ok := ev.Payload.(bus.TransitionEvent)
	if !ok {
		return
	}
	// payload.From is the transitional phase the completed transition went
	// through.
	g.mu.Lock()
	for id, tr := range g.active {
		if tr.transitional == payload.From {
			g.finishLocked(id, models.TransitionCompleted)
			break
		}
	}
	g.mu.Unlock()
}

// track allocates a watching record for a transition into a transitional
// phase. A stale record for the same transitional phase is superseded.
func (g *Guarantor) track(transitional, from models.GamePhase, reason string, startTime time.Time, strategy models.Strategy) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, tr := range g.active {
		if tr.transitional == transitional {
			log.Printf("guarantor: superseding stale record %s for %s", id, transitional)
			g.finishLocked(id, models.TransitionFailed)
		}
	}

	id := uuid.New().String()
	tr := &tracked{
		ActiveTransition: models.ActiveTransition{
			ID:        id,
			Type:      models.TransitionTypeFor(transitional),
			From:      from,
			To:        transitional.Terminal(),
			State:     models.TransitionInProgress,
			StartTime: startTime,
			Timeout:   g.cfg.InitialTimeout,
			Strategy:  strategy,
			Reason:    reason,
		},
		transitional: transitional,
	}
	tr.timer = time.AfterFunc(tr.Timeout, func() { g.onTimeout(id) })
	g.active[id] = tr
	return id
}

// finishLocked archives a record and removes it from the active map; the
// recovered state set by a successful forced repair is preserved. Caller holds
// g.mu.
func (g *Guarantor) finishLocked(id string, state models.TransitionState) {
	tr, ok := g.active[id]
	if !ok {
		return
	}
	if tr.timer != nil {
		tr.timer.Stop()
		tr.timer = nil
	}
	if tr.State != models.TransitionRecovered {
		tr.State = state
	}

	switch tr.State {
	case models.TransitionCompleted:
		g.completed++
		g.totalCompletion += time.Since(tr.StartTime)
	case models.TransitionRecovered:
		g.recovered++
	default:
		g.failed++
	}

	g.history = append(g.history, tr.ActiveTransition)
	if len(g.history) > g.cfg.HistoryLimit {
		g.history = g.history[len(g.history)-g.cfg.HistoryLimit:]
	}
	delete(g.active, id)
}

// --- Recovery ---

// onTimeout fires when a tracked transition misses its deadline. The live
// phase is re-read first: a transition that resolved without a notification is
// closed without action.
func (g *Guarantor) onTimeout(id string) {
	g.mu.Lock()
	tr, ok := g.active[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	transitional := tr.transitional
	terminal := tr.To
	strategy := tr.Strategy
	attempt := tr.RecoveryAttempts + 1
	g.mu.Unlock()

	live := g.machine.Phase()
	if live != transitional {
		log.Printf("guarantor: %s resolved silently (phase=%s), closing record %s", transitional, live, id)
		g.mu.Lock()
		g.finishLocked(id, models.TransitionCompleted)
		g.mu.Unlock()
		return
	}

	direct := attempt > g.cfg.MaxAttempts
	ov := models.Recovery(strategy, "watchdog_timeout")
	if direct {
		strategy = models.StrategyDirectOverride
		ov = models.DirectOverride("watchdog_exhausted")
	}

	// Mark recovered before commanding the machine: the completion
	// notification for a successful forced transition arrives synchronously
	// and must archive this record as recovered, not completed.
	g.mu.Lock()
	if tr, ok := g.active[id]; ok {
		tr.State = models.TransitionRecovered
		tr.Strategy = strategy
		tr.RecoveryAttempts = attempt
	}
	g.mu.Unlock()

	log.Printf("guarantor: transition %s stuck in %s, attempt %d (%s)", id, transitional, attempt, strategy)
	success := g.machine.TransitionToPhase(terminal, ov)
	g.recordAttempt(id, strategy, terminal, attempt, success, ov.Emergency())

	g.mu.Lock()
	defer g.mu.Unlock()
	tr, still := g.active[id]
	if !still {
		// Archived by the completion notification during the forced call.
		return
	}
	if success {
		g.finishLocked(id, models.TransitionRecovered)
		return
	}

	// Escalate and re-arm.
	tr.State = models.TransitionInProgress
	tr.Strategy = strategy.Next()
	tr.Timeout = time.Duration(float64(tr.Timeout) * g.cfg.BackoffFactor)
	if tr.Timeout > g.cfg.MaxTimeout {
		tr.Timeout = g.cfg.MaxTimeout
	}
	tr.timer = time.AfterFunc(tr.Timeout, func() { g.onTimeout(id) })
}

// recordAttempt publishes and persists a single recovery attempt.
func (g *Guarantor) recordAttempt(id string, strategy models.Strategy, target models.GamePhase, attempt int, success, emergency bool) {
	if strategy == models.StrategyDirectOverride {
		g.mu.Lock()
		g.directOverrides++
		g.mu.Unlock()
	}

	rec := models.RecoveryRecord{
		ID:           uuid.New().String(),
		TransitionID: id,
		Strategy:     strategy,
		Target:       target,
		Attempt:      attempt,
		Success:      success,
		Timestamp:    time.Now().UTC(),
	}

	g.mu.Lock()
	recorder := g.recorder
	g.mu.Unlock()
	if recorder != nil {
		if err := recorder.RecordRecovery(rec); err != nil {
			log.Printf("guarantor: failed to persist recovery attempt: %v", err)
		}
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}
	g.trail.Record("recovery.attempt", map[string]any{"transition_id": id, "strategy": strategy, "target": target}, outcome, id, "")

	g.bus.Dispatch(bus.EventRecoveryAttempted, bus.RecoveryAttempt{
		TransitionID: id,
		Strategy:     strategy,
		Target:       target,
		Attempt:      attempt,
		Success:      success,
		Emergency:    emergency,
	}, Source)
}

// sweep is the second line of defense. It synthesizes records for orphaned
// transitions the guarantor never saw start, and force-escalates transitions
// stuck far beyond their deadline whose own timer has not fired.
func (g *Guarantor) sweep() {
	snap := g.machine.Snapshot()

	// Orphan detection: live phase is transitional but nothing tracks it.
	if snap.Phase.IsTransitional() {
		g.mu.Lock()
		orphaned := true
		for _, tr := range g.active {
			if tr.transitional == snap.Phase {
				orphaned = false
				break
			}
		}
		g.mu.Unlock()

		if orphaned {
			log.Printf("guarantor: sweep found orphaned transition in %s", snap.Phase)
			from := models.PhaseDay
			if snap.Phase == models.PhaseTransitionToDay {
				from = models.PhaseNight
			}
			id := g.track(snap.Phase, from, "sweep_orphan", snap.PhaseSince, models.StrategyAggressive)
			g.onTimeout(id)
			return
		}
	}

	// Clock-drift protection: fire overdue timers ourselves.
	now := time.Now().UTC()
	var overdue []string
	g.mu.Lock()
	for id, tr := range g.active {
		deadline := time.Duration(float64(tr.Timeout) * g.cfg.OverdueFactor)
		if now.Sub(tr.StartTime) > deadline && tr.State == models.TransitionInProgress {
			if tr.timer != nil {
				tr.timer.Stop()
				tr.timer = nil
			}
			overdue = append(overdue, id)
		}
	}
	g.mu.Unlock()

	for _, id := range overdue {
		log.Printf("guarantor: sweep force-escalating overdue transition %s", id)
		g.onTimeout(id)
	}
}

// ForceRepairAll drives every tracked transition through the direct override
// path unconditionally. Administrative use only. Returns the number of
// transitions repaired.
func (g *Guarantor) ForceRepairAll() int {
	g.mu.Lock()
	ids := make([]string, 0, len(g.active))
	targets := make(map[string]models.GamePhase, len(g.active))
	for id, tr := range g.active {
		tr.State = models.TransitionRecovered
		tr.Strategy = models.StrategyDirectOverride
		tr.RecoveryAttempts++
		ids = append(ids, id)
		targets[id] = tr.To
	}
	g.mu.Unlock()

	repaired := 0
	for _, id := range ids {
		target := targets[id]
		success := g.machine.TransitionToPhase(target, models.DirectOverride("force_repair_all"))
		g.recordAttempt(id, models.StrategyDirectOverride, target, 1, success, true)
		g.mu.Lock()
		g.finishLocked(id, models.TransitionRecovered)
		g.mu.Unlock()
		if success {
			repaired++
		}
	}

	// The live phase may be transitional with no record at all; repair that
	// too rather than leaving the player stuck.
	if ph := g.machine.Phase(); ph.IsTransitional() {
		if g.machine.TransitionToPhase(ph.Terminal(), models.DirectOverride("force_repair_all")) {
			repaired++
		}
	}
	return repaired
}

// --- Diagnostics ---

// ActiveTransitions returns a copy of the live tracking records.
func (g *Guarantor) ActiveTransitions() []models.ActiveTransition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ActiveTransition, 0, len(g.active))
	for _, tr := range g.active {
		out = append(out, tr.ActiveTransition)
	}
	return out
}

// History returns a copy of the archived transition ring, oldest first.
func (g *Guarantor) History() []models.ActiveTransition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ActiveTransition, len(g.history))
	copy(out, g.history)
	return out
}

// GetStats returns aggregate watchdog statistics.
func (g *Guarantor) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := Stats{
		Active:          len(g.active),
		Completed:       g.completed,
		Recovered:       g.recovered,
		Failed:          g.failed,
		DirectOverrides: g.directOverrides,
	}
	if g.completed > 0 {
		stats.AvgCompletion = g.totalCompletion / time.Duration(g.completed)
	}
	return stats
}
