package ratings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/testutil"
)

type detailStub struct {
	items map[catalog.Key]*catalog.Item
	err   error
	calls int
}

func (d *detailStub) Detail(_ context.Context, mediaType catalog.MediaType, id int) (*catalog.Item, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	item, ok := d.items[catalog.Key{MediaType: mediaType, ID: id}]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return item, nil
}

func TestBackfiller_ResolvesPendingLinks(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	ctx := context.Background()
	store := NewStore(tdb.Conn, tdb.Logger)
	_, err := store.UpsertRatings(ctx, []Rating{{ImdbID: "tt0133093", Rating: 8.7, Votes: 100}})
	require.NoError(t, err)

	missing := catalog.Key{MediaType: catalog.MediaTypeMovie, ID: 1}
	for _, key := range []catalog.Key{matrix, missing} {
		_, ok, err := store.Lookup(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)
	}

	stub := &detailStub{items: map[catalog.Key]*catalog.Item{
		matrix: {ID: 603, MediaType: catalog.MediaTypeMovie, ImdbID: "tt0133093"},
	}}

	n, err := NewBackfiller(store, stub, 10).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, stub.calls)

	rating, ok, err := store.Lookup(ctx, matrix)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 8.7, rating.Rating, 0.0001)
}

func TestBackfiller_CatalogFailureKeepsPending(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	ctx := context.Background()
	store := NewStore(tdb.Conn, tdb.Logger)
	_, _, err := store.Lookup(ctx, matrix)
	require.NoError(t, err)

	stub := &detailStub{err: errors.New("connection refused")}
	_, err = NewBackfiller(store, stub, 10).Run(ctx)
	assert.Error(t, err)

	assert.Equal(t, []catalog.Key{matrix}, store.TakePending(10))
}

func TestBackfiller_NothingPending(t *testing.T) {
	stub := &detailStub{}
	n, err := NewBackfiller(NewStore(nil, testutil.NewTestLogger(t)), stub, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, stub.calls)
}
