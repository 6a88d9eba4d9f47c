// Package engine evaluates filter sets against the remote catalog and the local
// rating index, producing the ordered, deduplicated and capped item sequence
// that a list materializes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/filter"
	"github.com/mediacore/mediacore/internal/metrics"
)

// DefaultPageCapMultiplier sizes the joined-mode page budget as a multiple of the
// pages needed to fill the limit.
const DefaultPageCapMultiplier = 10

// ErrRatingIndex marks an evaluation aborted because the rating index failed.
var ErrRatingIndex = errors.New("rating index unavailable")

// RatingIndex is the read side of the local rating store.
type RatingIndex interface {
	Lookup(ctx context.Context, key catalog.Key) (catalog.LocalRating, bool, error)
}

// Mode is how a filter set was executed.
type Mode string

const (
	// ModeRemote means the catalog filtered and ordered everything.
	ModeRemote Mode = "remote"
	// ModeJoined means candidates were filtered or sorted locally after fetch.
	ModeJoined Mode = "joined"
)

// Result is the outcome of one evaluation.
type Result struct {
	Items        []catalog.Item
	Mode         Mode
	PagesFetched int
	// PossiblyIncomplete is set when the page budget ran out while the catalog
	// still had pages that could have changed the result.
	PossiblyIncomplete bool
}

// Config holds engine settings.
type Config struct {
	PageCapMultiplier int
}

// Engine evaluates filter sets. It is safe for concurrent use.
type Engine struct {
	catalog catalog.Catalog
	ratings RatingIndex
	config  Config
	logger  zerolog.Logger
}

// New creates an engine.
func New(cat catalog.Catalog, ratings RatingIndex, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PageCapMultiplier < 1 {
		cfg.PageCapMultiplier = DefaultPageCapMultiplier
	}
	return &Engine{
		catalog: cat,
		ratings: ratings,
		config:  cfg,
		logger:  logger.With().Str("component", "engine").Logger(),
	}
}

type options struct {
	detachAfterFirstPage bool
}

// Option configures a single evaluation.
type Option func(*options)

// DetachAfterFirstPage lets an evaluation run to completion once its first page
// has been fetched, even if the caller's context is canceled afterwards. Used by
// persisted refreshes whose spent rate budget cannot be returned.
func DetachAfterFirstPage() Option {
	return func(o *options) {
		o.detachAfterFirstPage = true
	}
}

// PageBudget returns the maximum number of catalog pages each query of the plan
// may fetch for the given limit.
func (e *Engine) PageBudget(plan filter.Plan, limit int) int {
	results := limit
	if plan.Selective() {
		results = limit * e.config.PageCapMultiplier
	}
	pages := (results + catalog.PageSize - 1) / catalog.PageSize
	return max(1, min(pages, catalog.MaxPage))
}

// Evaluate runs the filter set. Invalid sets fail with *filter.InvalidFilterError
// before any remote call. A failed page fetch aborts the evaluation with an error
// wrapping catalog.ErrUnavailable; partial results are never returned.
func (e *Engine) Evaluate(ctx context.Context, set filter.Set, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	set = set.WithDefaults()
	plan, err := filter.Translate(set)
	if err != nil {
		return nil, err
	}

	mode := ModeRemote
	if !plan.PureRemote() {
		mode = ModeJoined
	}
	needsRatings := plan.NeedsJoin()
	budget := e.PageBudget(plan, set.Limit)
	queries := plan.Queries()

	// Without a selective local sort the first limit matches of each query, in
	// catalog order, are enough.
	earlyStop := plan.ResidualSort == nil || plan.Merged

	start := time.Now()
	fetchCtx := ctx
	seen := make(map[catalog.Key]struct{})
	var (
		matched    []catalog.Item
		pages      int
		incomplete bool
	)

	for _, query := range queries {
		var (
			queryPages   int
			queryMatches int
			exhausted    bool
		)

		for page := 1; page <= budget; page++ {
			if err := fetchCtx.Err(); err != nil {
				return nil, err
			}

			result, err := e.catalog.Discover(fetchCtx, query, page)
			if err != nil {
				if ctxErr := fetchCtx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("%w: page %d: %w", catalog.ErrUnavailable, page, err)
			}
			pages++
			queryPages++

			if pages == 1 && o.detachAfterFirstPage {
				fetchCtx = context.WithoutCancel(ctx)
			}

			for _, item := range result.Items {
				key := item.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				if needsRatings {
					rating, ok, err := e.ratings.Lookup(fetchCtx, key)
					if err != nil {
						return nil, fmt.Errorf("%w: %w", ErrRatingIndex, err)
					}
					if ok {
						item.Rating = &rating
						if item.ImdbID == "" {
							item.ImdbID = rating.ImdbID
						}
					}
				}

				if filter.Match(plan.Residual, plan.Combinator, item) {
					matched = append(matched, item)
					queryMatches++
				}
			}

			if earlyStop && queryMatches >= set.Limit {
				break
			}
			if !result.HasMore() {
				exhausted = true
				break
			}
		}

		capped := !exhausted && queryPages == budget
		if capped && (!earlyStop || queryMatches < set.Limit) {
			incomplete = true
		}
	}

	if plan.ResidualSort != nil {
		spec := *plan.ResidualSort
		sort.SliceStable(matched, func(i, j int) bool {
			return spec.Less(matched[i], matched[j])
		})
	}
	if len(matched) > set.Limit {
		matched = matched[:set.Limit]
	}

	metrics.EvaluationPages.WithLabelValues(string(mode)).Observe(float64(pages))

	e.logger.Debug().
		Str("mediaType", string(set.MediaType)).
		Str("mode", string(mode)).
		Int("queries", len(queries)).
		Int("pages", pages).
		Int("budget", budget).
		Int("items", len(matched)).
		Bool("possiblyIncomplete", incomplete).
		Dur("elapsed", time.Since(start)).
		Msg("Filter set evaluated")

	return &Result{
		Items:              matched,
		Mode:               mode,
		PagesFetched:       pages,
		PossiblyIncomplete: incomplete,
	}, nil
}
