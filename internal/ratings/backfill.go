package ratings

import (
	"context"
	"errors"

	"github.com/mediacore/mediacore/internal/catalog"
)

// DetailFetcher resolves a catalog title with its external ids.
type DetailFetcher interface {
	Detail(ctx context.Context, mediaType catalog.MediaType, id int) (*catalog.Item, error)
}

// Backfiller resolves IMDb ids for titles the engine looked up without a link.
type Backfiller struct {
	store     *Store
	catalog   DetailFetcher
	batchSize int
}

// NewBackfiller creates a backfiller that resolves at most batchSize titles per run.
func NewBackfiller(store *Store, catalog DetailFetcher, batchSize int) *Backfiller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Backfiller{store: store, catalog: catalog, batchSize: batchSize}
}

// Run fetches details for pending titles and stores the links found. Titles the
// catalog has no IMDb id for are dropped; a failing catalog stops the run and
// returns the unprocessed titles to the pending set.
func (b *Backfiller) Run(ctx context.Context) (int, error) {
	keys := b.store.TakePending(b.batchSize)
	if len(keys) == 0 {
		return 0, nil
	}

	links := make([]Link, 0, len(keys))
	var runErr error
	for i, key := range keys {
		item, err := b.catalog.Detail(ctx, key.MediaType, key.ID)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			for _, rest := range keys[i:] {
				b.store.markPending(rest)
			}
			runErr = err
			break
		}
		if item.ImdbID != "" {
			links = append(links, Link{Key: key, ImdbID: item.ImdbID})
		}
	}

	n, err := b.store.UpsertLinks(ctx, links)
	if err != nil {
		return 0, err
	}

	b.store.logger.Info().
		Int("resolved", n).
		Int("attempted", len(keys)).
		Err(runErr).
		Msg("Title link backfill finished")

	return n, runErr
}
