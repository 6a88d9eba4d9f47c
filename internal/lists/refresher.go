package lists

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/engine"
	"github.com/mediacore/mediacore/internal/filter"
	"github.com/mediacore/mediacore/internal/metrics"
)

// Websocket event types emitted by the refresher.
const (
	EventRefreshed     = "list:refreshed"
	EventRefreshFailed = "list:refreshFailed"
)

// Evaluator runs a filter set. Implemented by *engine.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, set filter.Set, opts ...engine.Option) (*engine.Result, error)
}

// Broadcaster publishes refresh events to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// Outcome describes what a refresh request did.
type Outcome struct {
	// Coalesced is set when the list was already refreshing and the request was
	// absorbed by the refresh in flight.
	Coalesced bool
	Result    *engine.Result
}

// RefresherConfig sizes the background worker pool.
type RefresherConfig struct {
	Workers   int
	QueueSize int
}

// Refresher owns the per-list refresh state. A list is refreshed by at most one
// goroutine at a time; the state map is the only writer guard for its items.
type Refresher struct {
	store     *Store
	evaluator Evaluator
	hub       Broadcaster
	logger    zerolog.Logger
	workers   int
	now       func() time.Time

	mu     sync.Mutex
	states map[int64]State
	queued map[int64]bool
	rerun  map[int64]bool
	queue  chan int64

	wg sync.WaitGroup
}

// NewRefresher creates a refresher. hub may be nil.
func NewRefresher(store *Store, evaluator Evaluator, hub Broadcaster, cfg RefresherConfig, logger zerolog.Logger) *Refresher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	return &Refresher{
		store:     store,
		evaluator: evaluator,
		hub:       hub,
		logger:    logger.With().Str("component", "lists.refresher").Logger(),
		workers:   cfg.Workers,
		now:       time.Now,
		states:    make(map[int64]State),
		queued:    make(map[int64]bool),
		rerun:     make(map[int64]bool),
		queue:     make(chan int64, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled; a refresh
// already past its first page runs to completion first.
func (r *Refresher) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	r.logger.Info().Int("workers", r.workers).Msg("Started list refresh workers")
}

// Wait blocks until every worker has exited.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.mu.Lock()
			delete(r.queued, id)
			r.mu.Unlock()

			// Failures are recorded on the list and logged by Refresh
			_, _ = r.Refresh(ctx, id)
		}
	}
}

// State returns the refresh state of a list.
func (r *Refresher) State(id int64) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[id]; ok {
		return state
	}
	return StateIdle
}

// Enqueue schedules a background refresh. It returns false when the list is
// already queued or refreshing, or the queue is full.
func (r *Refresher) Enqueue(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queued[id] || r.states[id] == StateRefreshing {
		return false
	}

	select {
	case r.queue <- id:
		r.queued[id] = true
		return true
	default:
		r.logger.Warn().Int64("listId", id).Msg("Refresh queue full, list will be retried on the next tick")
		return false
	}
}

// Tick enqueues every list that is due for refresh. Called by the scheduler.
func (r *Refresher) Tick(ctx context.Context) error {
	due, err := r.store.DueForRefresh(ctx, r.now())
	if err != nil {
		return err
	}

	enqueued := 0
	for _, l := range due {
		if r.Enqueue(l.ID) {
			enqueued++
		}
	}
	if len(due) > 0 {
		r.logger.Debug().Int("due", len(due)).Int("enqueued", enqueued).Msg("Refresh tick")
	}
	return nil
}

// claim moves a list to Refreshing. It returns false if a refresh is in flight,
// in which case the running refresh is asked to evaluate once more when done.
func (r *Refresher) claim(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[id] == StateRefreshing {
		r.rerun[id] = true
		return false
	}
	r.states[id] = StateRefreshing
	return true
}

// finish ends one evaluation cycle. It returns true, keeping the claim, when a
// request arrived during a successful cycle. Otherwise the list becomes idle,
// or failed until its next claim.
func (r *Refresher) finish(id int64, err error, failed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	again := r.rerun[id] && err == nil
	delete(r.rerun, id)
	if again {
		return true
	}
	if failed {
		r.states[id] = StateFailed
	} else {
		delete(r.states, id)
	}
	return false
}

// Refresh evaluates a list and replaces its items. A request for a list that is
// already refreshing returns immediately with Outcome.Coalesced set, and the
// refresh in flight runs one more cycle so edits saved meanwhile are picked up.
// On failure the previous items are kept, the error is recorded on the list,
// and the list is left failed without retrying.
func (r *Refresher) Refresh(ctx context.Context, id int64) (Outcome, error) {
	if !r.claim(id) {
		metrics.ListRefreshes.WithLabelValues("coalesced").Inc()
		r.logger.Debug().Int64("listId", id).Msg("Refresh already in progress, coalesced")
		return Outcome{Coalesced: true}, nil
	}

	for {
		outcome, failed, err := r.refreshOnce(ctx, id)
		if !r.finish(id, err, failed) {
			return outcome, err
		}
		r.logger.Debug().Int64("listId", id).Msg("List changed during refresh, evaluating again")
	}
}

func (r *Refresher) refreshOnce(ctx context.Context, id int64) (Outcome, bool, error) {
	runID := uuid.NewString()
	logger := r.logger.With().Int64("listId", id).Str("runId", runID).Logger()
	start := time.Now()

	list, err := r.store.getList(ctx, id)
	if err != nil {
		return Outcome{}, false, err
	}

	result, err := r.evaluator.Evaluate(ctx, list.Filter, engine.DetachAfterFirstPage())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info().Err(err).Msg("Refresh canceled before the first page")
			return Outcome{}, false, err
		}
		r.fail(ctx, logger, list, err)
		return Outcome{}, true, err
	}

	// The spent fetches cannot be undone, so the result is persisted even if the
	// caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	evaluatedAt := r.now().UTC()
	if err := r.store.ReplaceItems(persistCtx, id, result.Items, evaluatedAt, result.PossiblyIncomplete); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Info().Msg("List deleted during refresh, result discarded")
			return Outcome{}, false, err
		}
		r.fail(persistCtx, logger, list, err)
		return Outcome{}, true, err
	}

	elapsed := time.Since(start)
	metrics.ListRefreshes.WithLabelValues("success").Inc()
	metrics.ListRefreshDuration.Observe(elapsed.Seconds())

	logger.Info().
		Str("name", list.Name).
		Str("mode", string(result.Mode)).
		Int("items", len(result.Items)).
		Int("pages", result.PagesFetched).
		Bool("possiblyIncomplete", result.PossiblyIncomplete).
		Dur("elapsed", elapsed).
		Msg("List refreshed")

	r.broadcast(EventRefreshed, map[string]any{
		"id":                 id,
		"itemCount":          len(result.Items),
		"possiblyIncomplete": result.PossiblyIncomplete,
		"lastEvaluatedAt":    evaluatedAt,
	})

	return Outcome{Result: result}, false, nil
}

func (r *Refresher) fail(ctx context.Context, logger zerolog.Logger, list *List, cause error) {
	metrics.ListRefreshes.WithLabelValues("failed").Inc()

	logger.Error().Err(cause).Str("name", list.Name).Msg("List refresh failed")

	if err := r.store.RecordFailure(context.WithoutCancel(ctx), list.ID, cause, r.now()); err != nil {
		logger.Warn().Err(err).Msg("Failed to record refresh failure")
	}

	r.broadcast(EventRefreshFailed, map[string]any{
		"id":    list.ID,
		"error": cause.Error(),
	})
}

func (r *Refresher) broadcast(msgType string, payload any) {
	if r.hub == nil {
		return
	}
	if err := r.hub.Broadcast(msgType, payload); err != nil {
		r.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to broadcast event")
	}
}
