package lists

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/engine"
	"github.com/mediacore/mediacore/internal/filter"
)

// Service provides list operations.
type Service struct {
	store           *Store
	refresher       *Refresher
	evaluator       Evaluator
	defaultInterval int
	logger          zerolog.Logger
}

// NewService creates a new list service.
func NewService(store *Store, refresher *Refresher, evaluator Evaluator, logger zerolog.Logger) *Service {
	return &Service{
		store:           store,
		refresher:       refresher,
		evaluator:       evaluator,
		defaultInterval: DefaultUpdateIntervalHours,
		logger:          logger.With().Str("component", "lists").Logger(),
	}
}

// SetDefaultInterval sets the update interval given to lists created without one.
func (s *Service) SetDefaultInterval(hours int) {
	if validateInterval(hours) == nil {
		s.defaultInterval = hours
	}
}

// Get retrieves a list with its items.
func (s *Service) Get(ctx context.Context, id int64) (*List, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.State = s.refresher.State(id)
	return l, nil
}

// List returns all lists without their items.
func (s *Service) List(ctx context.Context) ([]*List, error) {
	lists, err := s.store.LoadLists(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		l.State = s.refresher.State(l.ID)
	}
	return lists, nil
}

// Create saves a new list and evaluates it once before returning. A failed
// first evaluation does not fail the create; it is recorded on the list.
func (s *Service) Create(ctx context.Context, input CreateListInput) (*List, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidList)
	}

	interval := input.UpdateIntervalHours
	if interval == 0 {
		interval = s.defaultInterval
	}
	if err := validateInterval(interval); err != nil {
		return nil, err
	}

	set := input.Filter.WithDefaults()
	if err := set.Validate(); err != nil {
		return nil, err
	}

	autoUpdate := true
	if input.AutoUpdate != nil {
		autoUpdate = *input.AutoUpdate
	}

	created, err := s.store.Create(ctx, &List{
		Name:                name,
		Description:         input.Description,
		Filter:              set,
		AutoUpdate:          autoUpdate,
		UpdateIntervalHours: interval,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("listId", created.ID).Str("name", created.Name).Msg("Created list")

	return s.refreshAndGet(ctx, created.ID)
}

// Update applies an edit. A changed filter triggers one synchronous refresh.
func (s *Service) Update(ctx context.Context, id int64, input UpdateListInput) (*List, error) {
	l, err := s.store.getList(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidList)
		}
		l.Name = name
	}
	if input.Description != nil {
		l.Description = *input.Description
	}
	if input.AutoUpdate != nil {
		l.AutoUpdate = *input.AutoUpdate
	}
	if input.UpdateIntervalHours != nil {
		if err := validateInterval(*input.UpdateIntervalHours); err != nil {
			return nil, err
		}
		l.UpdateIntervalHours = *input.UpdateIntervalHours
	}

	filterChanged := false
	if input.Filter != nil {
		set := input.Filter.WithDefaults()
		if err := set.Validate(); err != nil {
			return nil, err
		}
		filterChanged = !sameFilter(l.Filter, set)
		l.Filter = set
	}

	if err := s.store.SaveList(ctx, l); err != nil {
		return nil, err
	}

	if filterChanged {
		s.logger.Info().Int64("listId", id).Msg("List filter changed")
		return s.refreshAndGet(ctx, id)
	}
	return s.Get(ctx, id)
}

// Delete removes a list.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("listId", id).Msg("Deleted list")
	return nil
}

// Preview evaluates a filter set with the caller's context and stores nothing.
// Errors are returned unchanged.
func (s *Service) Preview(ctx context.Context, set filter.Set) (*engine.Result, error) {
	return s.evaluator.Evaluate(ctx, set)
}

// RequestRefresh queues a background refresh of an existing list. It reports
// whether the list was queued; false means a refresh is already pending.
func (s *Service) RequestRefresh(ctx context.Context, id int64) (bool, error) {
	if _, err := s.store.getList(ctx, id); err != nil {
		return false, err
	}
	return s.refresher.Enqueue(id), nil
}

func (s *Service) refreshAndGet(ctx context.Context, id int64) (*List, error) {
	outcome, err := s.refresher.Refresh(ctx, id)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Int64("listId", id).Msg("Initial list evaluation failed")
	case outcome.Coalesced:
		s.logger.Debug().Int64("listId", id).Msg("List already refreshing")
	}
	return s.Get(ctx, id)
}

func validateInterval(hours int) error {
	if hours < MinUpdateIntervalHours || hours > MaxUpdateIntervalHours {
		return fmt.Errorf("%w: update interval must be between %d and %d hours, got %d",
			ErrInvalidList, MinUpdateIntervalHours, MaxUpdateIntervalHours, hours)
	}
	return nil
}

func sameFilter(a, b filter.Set) bool {
	if a.MediaType != b.MediaType || a.Combinator != b.Combinator ||
		a.SortKey != b.SortKey || a.SortDirection != b.SortDirection ||
		a.Limit != b.Limit || len(a.Conditions) != len(b.Conditions) {
		return false
	}
	for i := range a.Conditions {
		if a.Conditions[i].String() != b.Conditions[i].String() {
			return false
		}
	}
	return true
}
