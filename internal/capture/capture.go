// Package capture runs the capture helper that reports clipboard changes.
//
// A Backend owns one helper process. The helper writes wire frames to its
// stdout; every decoded selection is passed to the configured Handler. The
// helper's stderr is relayed into the host's log. A helper that dies is
// logged and not restarted.
package capture

import (
	"context"
	"errors"
	"sort"

	"go.klb.dev/clipvault/internal/selection"
)

var (
	// ErrStartTimeout is returned when the helper does not start in time.
	ErrStartTimeout = errors.New("capture: helper did not start in time")
	// ErrNotRunning is returned by Stop when no helper is running.
	ErrNotRunning = errors.New("capture: helper not running")
	// ErrAlreadyRunning is returned by Start on a running backend.
	ErrAlreadyRunning = errors.New("capture: helper already running")
)

// Handler receives every selection decoded from the helper, in order.
type Handler func(selection.Selection)

// Backend is a source of clipboard selections.
type Backend interface {
	Name() string
	Start(ctx context.Context) error
	// Stop terminates the helper and blocks until it has exited.
	Stop() error
	IsAlive() bool
}

// Candidate is a backend that may be usable in the current session.
type Candidate struct {
	Name     string
	Priority int
	// Probe reports whether the backend can run here.
	Probe func() bool
	New   func() Backend
}

// Select returns the highest-priority candidate whose probe succeeds.
// Candidates of equal priority keep their order.
func Select(cands []Candidate) (Candidate, bool) {
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	for _, c := range sorted {
		if c.Probe == nil || c.Probe() {
			return c, true
		}
	}
	return Candidate{}, false
}
