package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/nightshift/internal/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current phase, day counter and watchdog state",
	RunE:  runStatus,
}

var repairCmd = &cobra.Command{
	Use:   "force-repair",
	Short: "Drive every tracked transition through the direct override path",
	RunE:  runForceRepair,
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/status")
	if err != nil {
		return err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	fmt.Printf("state:   %s\n", snap.State)
	fmt.Printf("phase:   %s", snap.Phase)
	if snap.IsTransitioning {
		fmt.Printf("  (in flight for %s)", time.Since(snap.PhaseSince).Round(time.Millisecond))
	}
	fmt.Println()
	fmt.Printf("day:     %d\n", snap.DayCount)
	fmt.Printf("nodes:   %d completed\n", len(snap.CompletedNodes))

	body, err = apiGet("/active")
	if err != nil {
		return err
	}
	var active []models.ActiveTransition
	if err := json.Unmarshal(body, &active); err != nil {
		return fmt.Errorf("parse active transitions: %w", err)
	}
	if len(active) > 0 {
		fmt.Println("\ntracked transitions:")
		for _, tr := range active {
			fmt.Printf("  %s -> %s  strategy=%s attempts=%d\n", tr.From, tr.To, tr.Strategy, tr.RecoveryAttempts)
		}
	}
	return nil
}

func runForceRepair(cmd *cobra.Command, args []string) error {
	body, err := apiPost("/repair/all", nil)
	if err != nil {
		return err
	}

	var out map[string]int
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Printf("repaired %d transition(s)\n", out["repaired"])
	return nil
}
