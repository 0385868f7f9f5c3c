// Package knowledge is the in-process knowledge subsystem holding insights
// earned at night until they transfer into the waking day. The reliability
// core consumes it only through the resolver's Knowledge interface.
package knowledge

import (
	"log"
	"sync"
)

// Store holds pending and transferred insights.
type Store struct {
	mu          sync.Mutex
	pending     []string
	transferred []string
}

// New creates an empty knowledge store.
func New() *Store {
	return &Store{}
}

// AddInsight queues an insight for transfer at the next night -> day boundary.
func (s *Store) AddInsight(insight string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, insight)
}

// PendingInsights returns a copy of the untransferred insights.
func (s *Store) PendingInsights() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pending))
	copy(out, s.pending)
	return out
}

// TransferPendingInsights moves every pending insight to the transferred set.
func (s *Store) TransferPendingInsights() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	log.Printf("knowledge: transferring %d insights", len(s.pending))
	s.transferred = append(s.transferred, s.pending...)
	s.pending = nil
	return nil
}

// Transferred returns a copy of the insights already carried across.
func (s *Store) Transferred() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transferred))
	copy(out, s.transferred)
	return out
}
