// Package admin provides the HTTP administrative surface for nightshift. It
// is read-mostly and non-authoritative: every command is a thin wrapper over
// an already-validated core API, never a second path to a capability.
package admin

import (
	"github.com/fentz26/nightshift/internal/guarantor"
	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/phase"
	"github.com/fentz26/nightshift/internal/resolver"
	"github.com/fentz26/nightshift/internal/store"
)

// Service exposes the reliability core to the admin server.
type Service struct {
	machine   *phase.Machine
	guarantor *guarantor.Guarantor
	resolver  *resolver.Resolver
	store     *store.Store
}

// NewService creates a new admin service.
func NewService(m *phase.Machine, g *guarantor.Guarantor, r *resolver.Resolver, s *store.Store) *Service {
	return &Service{machine: m, guarantor: g, resolver: r, store: s}
}

// Snapshot returns the current state machine view.
func (s *Service) Snapshot() models.Snapshot {
	return s.machine.Snapshot()
}

// TransitionHistory returns the machine's bounded in-memory record ring.
func (s *Service) TransitionHistory() []models.TransitionRecord {
	return s.machine.History()
}

// ActiveTransitions returns the guarantor's live tracking records.
func (s *Service) ActiveTransitions() []models.ActiveTransition {
	return s.guarantor.ActiveTransitions()
}

// GuarantorHistory returns the guarantor's archived transitions.
func (s *Service) GuarantorHistory() []models.ActiveTransition {
	return s.guarantor.History()
}

// Stats returns aggregate watchdog statistics.
func (s *Service) Stats() guarantor.Stats {
	return s.guarantor.GetStats()
}

// Repairs returns the resolver's bounded repair log.
func (s *Service) Repairs() []models.RepairOperation {
	return s.resolver.Repairs()
}

// Recoveries returns persisted recovery attempts, newest first.
func (s *Service) Recoveries(limit int) ([]models.RecoveryRecord, error) {
	return s.store.ListRecoveries(limit)
}

// ForcePhase commands a phase value through the machine's emergency branch.
func (s *Service) ForcePhase(target models.GamePhase, reason string) error {
	switch target {
	case models.PhaseDay, models.PhaseNight, models.PhaseTransitionToDay, models.PhaseTransitionToNight:
	default:
		return ErrInvalidPhase
	}
	if reason == "" {
		return ErrReasonRequired
	}
	if !s.machine.TransitionToPhase(target, models.DirectOverride("admin: "+reason)) {
		return ErrTransitionRejected
	}
	return nil
}

// ForceRepairAll drives every tracked transition through direct override.
func (s *Service) ForceRepairAll() int {
	return s.guarantor.ForceRepairAll()
}

// CheckStuckTransitions runs the machine's self-heal pass and returns the
// number of repairs performed.
func (s *Service) CheckStuckTransitions() int {
	return s.machine.CheckForStuckTransitions()
}
