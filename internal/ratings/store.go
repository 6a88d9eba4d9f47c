// Package ratings holds the local IMDb rating index and the links that map
// catalog titles onto IMDb ids.
package ratings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/catalog"
)

// maxPendingLinks bounds the set of unlinked titles kept for backfill.
const maxPendingLinks = 5000

// Rating is one row of the rating dataset.
type Rating struct {
	ImdbID string
	Rating float64
	Votes  int
}

// Link maps a catalog title to its IMDb id.
type Link struct {
	Key    catalog.Key
	ImdbID string
}

// Store is the SQLite-backed rating index.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[catalog.Key]struct{}
}

// NewStore creates a rating store on an open, migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:      db,
		logger:  logger.With().Str("component", "ratings").Logger(),
		pending: make(map[catalog.Key]struct{}),
	}
}

// Lookup returns the rating for a catalog title. The boolean is false when the
// title has no link or its IMDb id has no rating. Titles without a link are
// remembered for the link backfill.
func (s *Store) Lookup(ctx context.Context, key catalog.Key) (catalog.LocalRating, bool, error) {
	var (
		imdbID string
		rating sql.NullFloat64
		votes  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT l.imdb_id, r.rating, r.votes
		FROM title_links l
		LEFT JOIN imdb_ratings r ON r.imdb_id = l.imdb_id
		WHERE l.media_type = ? AND l.tmdb_id = ?`,
		string(key.MediaType), key.ID,
	).Scan(&imdbID, &rating, &votes)

	if errors.Is(err, sql.ErrNoRows) {
		s.markPending(key)
		return catalog.LocalRating{}, false, nil
	}
	if err != nil {
		return catalog.LocalRating{}, false, fmt.Errorf("failed to look up rating for %s: %w", key, err)
	}
	if !rating.Valid {
		return catalog.LocalRating{}, false, nil
	}

	return catalog.LocalRating{ImdbID: imdbID, Rating: rating.Float64, Votes: int(votes.Int64)}, true, nil
}

// RatingByImdbID returns the rating of an IMDb title.
func (s *Store) RatingByImdbID(ctx context.Context, imdbID string) (catalog.LocalRating, bool, error) {
	r := catalog.LocalRating{ImdbID: imdbID}
	err := s.db.QueryRowContext(ctx,
		`SELECT rating, votes FROM imdb_ratings WHERE imdb_id = ?`, imdbID,
	).Scan(&r.Rating, &r.Votes)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.LocalRating{}, false, nil
	}
	if err != nil {
		return catalog.LocalRating{}, false, fmt.Errorf("failed to look up rating for %s: %w", imdbID, err)
	}
	return r, true, nil
}

// UpsertRatings inserts or replaces ratings in one transaction.
func (s *Store) UpsertRatings(ctx context.Context, ratings []Rating) (int, error) {
	if len(ratings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO imdb_ratings (imdb_id, rating, votes, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (imdb_id) DO UPDATE SET
			rating = excluded.rating,
			votes = excluded.votes,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare rating upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range ratings {
		if _, err := stmt.ExecContext(ctx, r.ImdbID, r.Rating, r.Votes); err != nil {
			return 0, fmt.Errorf("failed to upsert rating %s: %w", r.ImdbID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ratings: %w", err)
	}
	return len(ratings), nil
}

// UpsertLinks inserts or replaces title links in one transaction.
func (s *Store) UpsertLinks(ctx context.Context, links []Link) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO title_links (media_type, tmdb_id, imdb_id, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (media_type, tmdb_id) DO UPDATE SET
			imdb_id = excluded.imdb_id,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare link upsert: %w", err)
	}
	defer stmt.Close()

	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, string(l.Key.MediaType), l.Key.ID, l.ImdbID); err != nil {
			return 0, fmt.Errorf("failed to upsert link %s: %w", l.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit links: %w", err)
	}

	s.mu.Lock()
	for _, l := range links {
		delete(s.pending, l.Key)
	}
	s.mu.Unlock()

	return len(links), nil
}

// Counts returns the number of stored ratings and links.
func (s *Store) Counts(ctx context.Context) (ratings, links int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM imdb_ratings), (SELECT COUNT(*) FROM title_links)`,
	).Scan(&ratings, &links)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count rating index: %w", err)
	}
	return ratings, links, nil
}

func (s *Store) markPending(key catalog.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) < maxPendingLinks {
		s.pending[key] = struct{}{}
	}
}

// TakePending removes and returns up to n titles that were looked up without a link.
func (s *Store) TakePending(n int) []catalog.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]catalog.Key, 0, min(n, len(s.pending)))
	for key := range s.pending {
		if len(keys) == n {
			break
		}
		keys = append(keys, key)
		delete(s.pending, key)
	}
	return keys
}
