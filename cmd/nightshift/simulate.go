package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/nightshift/internal/audit"
	"github.com/fentz26/nightshift/internal/bus"
	"github.com/fentz26/nightshift/internal/guarantor"
	"github.com/fentz26/nightshift/internal/journal"
	"github.com/fentz26/nightshift/internal/knowledge"
	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/phase"
	"github.com/fentz26/nightshift/internal/resolver"
	"github.com/fentz26/nightshift/internal/store"
	"github.com/spf13/cobra"
)

var simDays int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run scripted day/night cycles in-process",
	Long: `Drives the reliability core through scripted day/night cycles with
millisecond-scale timeouts, including one deliberately dropped finalize so the
watchdog recovery path can be observed end to end.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simDays, "days", 3, "Number of day/night cycles to run")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	dir, err := os.MkdirTemp("", "nightshift-sim")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	st, err := store.New(filepath.Join(dir, "sim.db"))
	if err != nil {
		return err
	}
	defer st.Close()
	trail := audit.NewTrail(st)

	b := bus.New()
	machine := phase.New(b, trail, &phase.Config{
		TransitionTimeout: 200 * time.Millisecond,
		StuckMultiplier:   1.5,
		HistoryLimit:      20,
	})
	machine.SetRecorder(st)

	guard := guarantor.New(machine, b, trail, &guarantor.Config{
		InitialTimeout: 100 * time.Millisecond,
		BackoffFactor:  1.5,
		MaxTimeout:     500 * time.Millisecond,
		MaxAttempts:    3,
		SweepInterval:  50 * time.Millisecond,
		OverdueFactor:  2.0,
		HistoryLimit:   50,
	})
	guard.SetRecorder(st)
	guard.Start()
	defer guard.Stop()

	jrnl := journal.New()
	knw := knowledge.New()
	res := resolver.New(machine, jrnl, knw, b, trail, &resolver.Config{
		JournalNodes:   []string{"intro_vision"},
		BaselineTier:   journal.TierBasic,
		RepairLogLimit: 100,
	})
	res.SetRecorder(st)
	defer res.Stop()

	machine.TransitionToState(models.StateInProgress, models.Normal("session_start"))

	for day := 1; day <= simDays; day++ {
		fmt.Printf("--- day %d ---\n", machine.DayCount())

		// Daytime activities. The journal-granting vision is completed
		// without telling the journal subsystem, so the resolver has
		// something to repair at the boundary.
		machine.MarkNodeCompleted("intro_vision")
		machine.MarkNodeCompleted(fmt.Sprintf("errand_%d", day))

		if !machine.BeginDayCompletion() {
			return fmt.Errorf("day %d: begin day completion rejected", day)
		}
		if day == 2 {
			// Drop the finalize and let the watchdog force night.
			fmt.Println("dropping finalize; waiting for watchdog...")
			waitForPhase(machine, models.PhaseNight, 3*time.Second)
		} else {
			machine.FinalizeDayTransition()
		}
		fmt.Printf("phase: %s, journal tier: %q\n", machine.Phase(), jrnl.Tier())

		// Night earns insights that must transfer at dawn.
		knw.AddInsight(fmt.Sprintf("dream_%d", day))

		if !machine.BeginNightCompletion() {
			return fmt.Errorf("day %d: begin night completion rejected", day)
		}
		machine.FinalizeNightTransition()
		fmt.Printf("phase: %s, transferred insights: %d\n", machine.Phase(), len(knw.Transferred()))
	}

	stats := guard.GetStats()
	fmt.Printf("\nwatchdog: completed=%d recovered=%d failed=%d overrides=%d\n",
		stats.Completed, stats.Recovered, stats.Failed, stats.DirectOverrides)
	fmt.Printf("repairs logged: %d\n", len(res.Repairs()))
	return nil
}

func waitForPhase(m *phase.Machine, want models.GamePhase, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			log.Printf("simulate: timed out waiting for %s", want)
			return
		case <-ticker.C:
			if m.Phase() == want {
				return
			}
		}
	}
}
