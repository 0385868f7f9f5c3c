// Package audit provides trail writing for forced state changes in nightshift.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/fentz26/nightshift/internal/models"
	"github.com/fentz26/nightshift/internal/store"
)

// Trail writes audit records for every forced transition, recovery attempt and
// repair. A nil Trail discards records, so components never need to guard
// their audit calls.
type Trail struct {
	store *store.Store
}

// NewTrail creates a new audit trail backed by the diagnostics store.
func NewTrail(s *store.Store) *Trail {
	return &Trail{store: s}
}

// Record writes a trail entry for a state-mutating action.
func (t *Trail) Record(action string, inputs interface{}, outcome, subjectID, details string) *models.TrailEntry {
	if t == nil || t.store == nil {
		return nil
	}
	entry, err := t.store.WriteTrail(action, hashInputs(inputs), outcome, subjectID, details)
	if err != nil {
		log.Printf("audit: failed to write trail entry for %s: %v", action, err)
		return nil
	}
	return entry
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
