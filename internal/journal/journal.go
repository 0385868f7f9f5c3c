// Package journal is the in-process journal subsystem. The reliability core
// consumes it only through the resolver's Journal interface; this
// implementation backs the daemon and the simulation harness.
package journal

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Tier names, lowest to highest.
const (
	TierBasic    = "basic"
	TierExpanded = "expanded"
	TierComplete = "complete"
)

var tierRank = map[string]int{
	TierBasic:    1,
	TierExpanded: 2,
	TierComplete: 3,
}

// Journal tracks whether and at what tier the player holds the journal.
type Journal struct {
	mu         sync.Mutex
	tier       string
	acquiredAt time.Time
}

// New creates an unacquired journal.
func New() *Journal {
	return &Journal{}
}

// HasJournal reports whether any tier has been acquired.
func (j *Journal) HasJournal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tier != ""
}

// Tier returns the current tier, or "" when unacquired.
func (j *Journal) Tier() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tier
}

// AcquireJournal grants the given tier. Idempotent: acquiring a tier at or
// below the current one changes nothing.
func (j *Journal) AcquireJournal(tier string) error {
	rank, ok := tierRank[tier]
	if !ok {
		return fmt.Errorf("unknown journal tier %q", tier)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if rank <= tierRank[j.tier] {
		return nil
	}
	if j.tier == "" {
		j.acquiredAt = time.Now().UTC()
	}
	log.Printf("journal: acquired tier %s", tier)
	j.tier = tier
	return nil
}
