package coach

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/kv"
	"github.com/colonyops/coach/internal/core/logging"
)

// GoalService reads goal documents, caching list pages in the local KV store.
type GoalService struct {
	fetcher document.Fetcher
	cache   *kv.TypedKV[document.Page]
	ttl     time.Duration
	bus     *eventbus.EventBus
	log     zerolog.Logger
}

// NewGoalService creates a GoalService. A nil store disables caching.
func NewGoalService(fetcher document.Fetcher, store kv.KV, ttl time.Duration, bus *eventbus.EventBus) *GoalService {
	s := &GoalService{
		fetcher: fetcher,
		ttl:     ttl,
		bus:     bus,
		log:     logging.Component("goals"),
	}
	if store != nil {
		s.cache = kv.Scoped[document.Page](store, "goals")
	}
	return s
}

// List returns one page of goals. cached reports whether the page came from
// the local cache. Cache failures fall back to the server.
func (s *GoalService) List(ctx context.Context, opts document.ListOptions) (page document.Page, cached bool, err error) {
	if s.cache == nil {
		page, err = s.fetcher.ListGoals(ctx, opts)
		return page, false, err
	}

	var (
		loaded  bool
		loadErr error
	)
	page, cached, err = s.cache.GetOrLoad(ctx, listKey(opts), s.ttl, func(ctx context.Context) (document.Page, error) {
		loaded = true
		p, err := s.fetcher.ListGoals(ctx, opts)
		loadErr = err
		return p, err
	})

	switch {
	case err == nil:
		return page, cached, nil
	case !loaded:
		s.log.Warn().Err(err).Msg("read goal list cache")
		page, err = s.fetcher.ListGoals(ctx, opts)
		return page, false, err
	case loadErr != nil:
		return document.Page{}, false, loadErr
	default:
		s.log.Warn().Err(err).Msg("write goal list cache")
		return page, false, nil
	}
}

// Get fetches one goal from the server. Details are never cached.
func (s *GoalService) Get(ctx context.Context, id string) (document.Goal, error) {
	return s.fetcher.GetGoal(ctx, id)
}

// Invalidate drops every cached list page and publishes
// documents.invalidated. The event is published even if the purge fails.
func (s *GoalService) Invalidate(ctx context.Context, documentID string) error {
	defer s.bus.PublishDocumentsInvalidated(eventbus.DocumentsInvalidatedPayload{DocumentID: documentID})

	if s.cache == nil {
		return nil
	}
	n, err := s.cache.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge goal cache: %w", err)
	}
	s.log.Debug().Int64("removed", n).Str("document_id", documentID).Msg("goal cache invalidated")
	return nil
}

func listKey(opts document.ListOptions) string {
	return fmt.Sprintf("list:%d:%d:%s", opts.Page, opts.PageSize, opts.Phase)
}
