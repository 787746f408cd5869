package clip

import (
	"sync"

	"go.klb.dev/clipvault/internal/selection"
)

// Memory is an in-process Backend that holds offers verbatim. Every Set or
// Write signals Watch.
type Memory struct {
	mu      sync.Mutex
	offers  []selection.Offer
	writes  int
	watchCh chan struct{}
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{watchCh: make(chan struct{}, 1)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Read() ([]selection.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]selection.Offer(nil), m.offers...), nil
}

func (m *Memory) Write(offers []selection.Offer) error {
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
	m.Set(offers)
	return nil
}

// Set replaces the contents as if another application had copied them.
func (m *Memory) Set(offers []selection.Offer) {
	m.mu.Lock()
	m.offers = append([]selection.Offer(nil), offers...)
	m.mu.Unlock()
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}

// Writes returns how many times Write was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}
