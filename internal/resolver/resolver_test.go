package resolver

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/journal"
	"github.com/fentz26/nightshift/internal/knowledge"
	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/phase"
)

// fakeProgress implements Progress with a fixed completed set.
type fakeProgress struct {
	completed map[string]bool
	day       int
}

func (f *fakeProgress) HasCompleted(id string) bool { return f.completed[id] }
func (f *fakeProgress) DayCount() int               { return f.day }

// fakeJournal implements Journal and records acquisitions.
type fakeJournal struct {
	has      bool
	acquired []string
	fail     error
}

func (f *fakeJournal) HasJournal() bool { return f.has }
func (f *fakeJournal) AcquireJournal(tier string) error {
	if f.fail != nil {
		return f.fail
	}
	f.has = true
	f.acquired = append(f.acquired, tier)
	return nil
}

// fakeKnowledge implements Knowledge with a fixed pending set.
type fakeKnowledge struct {
	pending     []string
	transferred bool
	fail        error
}

func (f *fakeKnowledge) PendingInsights() []string { return f.pending }
func (f *fakeKnowledge) TransferPendingInsights() error {
	if f.fail != nil {
		return f.fail
	}
	f.pending = nil
	f.transferred = true
	return nil
}

func testConfig() *Config {
	return &Config{
		JournalNodes:   []string{"meet_keeper"},
		BaselineTier:   "basic",
		RepairLogLimit: 100,
	}
}

func TestDayToNightConsistent(t *testing.T) {
	b := bus.New()
	j := &fakeJournal{has: true}
	r := New(&fakeProgress{completed: map[string]bool{"meet_keeper": true}, day: 1}, j, &fakeKnowledge{}, b, nil, testConfig())
	defer r.Stop()

	var checks []bus.ConsistencyCheck
	b.Subscribe(bus.EventConsistencyChecked, func(ev bus.Event) {
		checks = append(checks, ev.Payload.(bus.ConsistencyCheck))
	})

	if !r.ValidateDayToNight() {
		t.Error("Expected consistent state to validate")
	}
	if len(j.acquired) != 0 {
		t.Error("Expected no forced acquisition")
	}
	if len(checks) != 1 || !checks[0].OK || checks[0].Repaired {
		t.Errorf("Expected clean check event, got %+v", checks)
	}

	ops := r.Repairs()
	if len(ops) != 1 || !ops[0].Success {
		t.Errorf("Expected one successful validation entry, got %+v", ops)
	}
}

func TestDayToNightNoJournalNodeCompleted(t *testing.T) {
	b := bus.New()
	j := &fakeJournal{}
	r := New(&fakeProgress{completed: map[string]bool{}, day: 1}, j, &fakeKnowledge{}, b, nil, testConfig())
	defer r.Stop()

	if !r.ValidateDayToNight() {
		t.Error("Expected validation to pass when no journal node completed")
	}
	if len(j.acquired) != 0 {
		t.Error("Journal must not be acquired when no granting activity completed")
	}
}

func TestDayToNightForcesJournal(t *testing.T) {
	b := bus.New()
	j := &fakeJournal{}
	r := New(&fakeProgress{completed: map[string]bool{"meet_keeper": true}, day: 1}, j, &fakeKnowledge{}, b, nil, testConfig())
	defer r.Stop()

	var granted []bus.JournalAcquired
	var checks []bus.ConsistencyCheck
	b.Subscribe(bus.EventJournalAcquired, func(ev bus.Event) {
		granted = append(granted, ev.Payload.(bus.JournalAcquired))
	})
	b.Subscribe(bus.EventConsistencyChecked, func(ev bus.Event) {
		checks = append(checks, ev.Payload.(bus.ConsistencyCheck))
	})

	if !r.ValidateDayToNight() {
		t.Error("Expected repair to succeed")
	}
	if len(j.acquired) != 1 || j.acquired[0] != "basic" {
		t.Errorf("Expected forced basic acquisition, got %v", j.acquired)
	}
	if len(granted) != 1 || !granted[0].Forced || granted[0].Tier != "basic" {
		t.Errorf("Expected forced journal.acquired event, got %+v", granted)
	}
	if len(checks) != 1 || !checks[0].OK || !checks[0].Repaired {
		t.Errorf("Expected repaired check event, got %+v", checks)
	}

	ops := r.Repairs()
	if len(ops) != 1 || !ops[0].Success {
		t.Fatalf("Expected one successful repair, got %+v", ops)
	}
}

func TestDayToNightRepairFailure(t *testing.T) {
	b := bus.New()
	j := &fakeJournal{fail: errors.New("journal locked")}
	r := New(&fakeProgress{completed: map[string]bool{"meet_keeper": true}, day: 1}, j, &fakeKnowledge{}, b, nil, testConfig())
	defer r.Stop()

	granted := 0
	b.Subscribe(bus.EventJournalAcquired, func(ev bus.Event) { granted++ })

	if r.ValidateDayToNight() {
		t.Error("Expected validation to fail when the repair fails")
	}
	if granted != 0 {
		t.Error("Failed repair must not announce an acquisition")
	}

	ops := r.Repairs()
	if len(ops) != 1 || ops[0].Success {
		t.Errorf("Expected one failed repair entry, got %+v", ops)
	}
}

func TestNightToDayConsistent(t *testing.T) {
	b := bus.New()
	k := &fakeKnowledge{}
	r := New(&fakeProgress{day: 1}, &fakeJournal{}, k, b, nil, testConfig())
	defer r.Stop()

	if !r.ValidateNightToDay() {
		t.Error("Expected empty pending set to validate")
	}
	if k.transferred {
		t.Error("Expected no transfer")
	}
}

func TestNightToDayTransfersPending(t *testing.T) {
	b := bus.New()
	k := &fakeKnowledge{pending: []string{"i1", "i2"}}
	r := New(&fakeProgress{day: 1}, &fakeJournal{}, k, b, nil, testConfig())
	defer r.Stop()

	if !r.ValidateNightToDay() {
		t.Error("Expected repair to succeed")
	}
	if !k.transferred {
		t.Error("Expected pending insights transferred")
	}

	ops := r.Repairs()
	if len(ops) != 1 || !ops[0].Success {
		t.Fatalf("Expected one successful repair, got %+v", ops)
	}
}

func TestNightToDayTransferFailure(t *testing.T) {
	b := bus.New()
	k := &fakeKnowledge{pending: []string{"i1"}, fail: errors.New("store closed")}
	r := New(&fakeProgress{day: 1}, &fakeJournal{}, k, b, nil, testConfig())
	defer r.Stop()

	if r.ValidateNightToDay() {
		t.Error("Expected validation to fail when the transfer fails")
	}
	ops := r.Repairs()
	if len(ops) != 1 || ops[0].Success {
		t.Errorf("Expected one failed repair entry, got %+v", ops)
	}
}

func TestRepairLogBounded(t *testing.T) {
	cfg := testConfig()
	cfg.RepairLogLimit = 3

	r := New(&fakeProgress{day: 1}, &fakeJournal{has: true}, &fakeKnowledge{}, bus.New(), nil, cfg)
	defer r.Stop()

	for i := 0; i < 10; i++ {
		r.ValidateNightToDay()
	}
	if len(r.Repairs()) != 3 {
		t.Errorf("Expected repair log capped at 3, got %d", len(r.Repairs()))
	}
}

// The full pipeline: a real machine, journal and knowledge store, with the
// resolver healing the boundaries as transitions start.
func TestBoundaryValidationEndToEnd(t *testing.T) {
	b := bus.New()
	m := phase.New(b, nil, &phase.Config{
		TransitionTimeout: time.Hour,
		StuckMultiplier:   1.5,
		HistoryLimit:      20,
	})
	defer m.Teardown()

	j := journal.New()
	k := knowledge.New()
	r := New(m, j, k, b, nil, testConfig())
	defer r.Stop()

	if !m.TransitionToState(models.StateInProgress, models.Normal("start")) {
		t.Fatal("Failed to start session")
	}

	// Day 1: the journal-granting activity completes but the journal was
	// never handed over. Entering the transition must heal it.
	m.MarkNodeCompleted("meet_keeper")
	if j.HasJournal() {
		t.Fatal("Journal should be unacquired before the boundary")
	}
	if !m.BeginDayCompletion() {
		t.Fatal("BeginDayCompletion failed")
	}
	if !j.HasJournal() || j.Tier() != journal.TierBasic {
		t.Errorf("Expected basic journal forced at the boundary, got %q", j.Tier())
	}
	if !m.FinalizeDayTransition() {
		t.Fatal("FinalizeDayTransition failed")
	}

	// Night 1: insights accumulate but nothing transfers them. Entering the
	// morning transition must carry them over.
	k.AddInsight("the lighthouse was dark")
	if !m.BeginNightCompletion() {
		t.Fatal("BeginNightCompletion failed")
	}
	if len(k.PendingInsights()) != 0 {
		t.Error("Expected pending insights transferred at the boundary")
	}
	if len(k.Transferred()) != 1 {
		t.Errorf("Expected 1 transferred insight, got %d", len(k.Transferred()))
	}
	if !m.FinalizeNightTransition() {
		t.Fatal("FinalizeNightTransition failed")
	}

	if m.DayCount() != 2 {
		t.Errorf("Expected day 2, got %d", m.DayCount())
	}

	repairs := r.Repairs()
	if len(repairs) != 2 {
		t.Fatalf("Expected 2 boundary entries, got %d", len(repairs))
	}
	for _, op := range repairs {
		if !op.Success {
			t.Errorf("Expected successful repair, got %+v", op)
		}
	}
}

func TestStopRemovesSubscription(t *testing.T) {
	b := bus.New()
	j := &fakeJournal{}
	r := New(&fakeProgress{completed: map[string]bool{"meet_keeper": true}, day: 1}, j, &fakeKnowledge{}, b, nil, testConfig())

	r.Stop()
	b.Dispatch(bus.EventPhaseChanged, bus.PhaseChange{To: models.PhaseTransitionToNight}, "test")

	if len(j.acquired) != 0 {
		t.Error("Stopped resolver must not react to phase changes")
	}
}

func TestConcurrentValidation(t *testing.T) {
	b := bus.New()
	r := New(&fakeProgress{day: 1}, &fakeJournal{has: true}, &fakeKnowledge{}, b, nil, testConfig())
	defer r.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ValidateNightToDay()
		}()
	}
	wg.Wait()

	if len(r.Repairs()) != 8 {
		t.Errorf("Expected 8 log entries, got %d", len(r.Repairs()))
	}
}
