package history

import (
	"context"

	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

// QueryRequest asks for one page of history.
type QueryRequest struct {
	Limit  int
	Offset int
	Text   string
	Kind   selection.Kind
	// RequestKey groups queries from one client view. When set, only the
	// latest query for the key returns results; older ones that are still
	// queued or running return ErrSuperseded.
	RequestKey string
}

type queryResult struct {
	page store.Page
	err  error
}

// Query runs req on the query worker pool and waits for its result.
func (s *Service) Query(ctx context.Context, req QueryRequest) (store.Page, error) {
	gen := s.nextGeneration(req.RequestKey)

	if err := s.queries.Acquire(ctx, 1); err != nil {
		return store.Page{}, err
	}

	done := make(chan queryResult, 1)
	go func() {
		defer s.queries.Release(1)
		if s.superseded(req.RequestKey, gen) {
			done <- queryResult{err: ErrSuperseded}
			return
		}
		page, err := s.store.Query(ctx, store.Query{
			Limit:  req.Limit,
			Offset: req.Offset,
			Text:   req.Text,
			Kind:   req.Kind,
		})
		done <- queryResult{page: page, err: err}
	}()

	var res queryResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return store.Page{}, ctx.Err()
	}
	if res.err != nil {
		return store.Page{}, res.err
	}
	if s.superseded(req.RequestKey, gen) {
		return store.Page{}, ErrSuperseded
	}
	return res.page, nil
}

func (s *Service) nextGeneration(key string) uint64 {
	if key == "" {
		return 0
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[key]++
	return s.gens[key]
}

func (s *Service) superseded(key string, gen uint64) bool {
	if key == "" {
		return false
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[key] != gen
}
