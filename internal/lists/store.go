package lists

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/catalog"
)

const listColumns = `
	l.id, l.name, l.description, l.filter, l.auto_update, l.update_interval_hours,
	l.last_evaluated_at, l.possibly_incomplete, l.last_error, l.last_error_at,
	l.created_at, l.updated_at,
	(SELECT COUNT(*) FROM list_items i WHERE i.list_id = l.id)`

// Store persists lists and their items.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a list store on an open, migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "lists.store").Logger(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*List, error) {
	var (
		l             List
		filterJSON    string
		lastEvaluated sql.NullTime
		lastFailed    sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.Name, &l.Description, &filterJSON, &l.AutoUpdate, &l.UpdateIntervalHours,
		&lastEvaluated, &l.PossiblyIncomplete, &l.LastError, &lastFailed,
		&l.CreatedAt, &l.UpdatedAt,
		&l.ItemCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filterJSON), &l.Filter); err != nil {
		return nil, fmt.Errorf("failed to decode filter of list %d: %w", l.ID, err)
	}
	if lastEvaluated.Valid {
		t := lastEvaluated.Time
		l.LastEvaluatedAt = &t
	}
	if lastFailed.Valid {
		t := lastFailed.Time
		l.LastFailedAt = &t
	}
	l.State = StateIdle
	return &l, nil
}

// Create inserts a new list and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, l *List) (*List, error) {
	filterJSON, err := json.Marshal(l.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lists (name, description, media_type, filter, auto_update, update_interval_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.Description, string(l.Filter.MediaType), string(filterJSON),
		l.AutoUpdate, l.UpdateIntervalHours, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read list id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns a list with its items in order.
func (s *Store) Get(ctx context.Context, id int64) (*List, error) {
	l, err := s.getList(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.items(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Items = items
	return l, nil
}

// getList returns a list without its items.
func (s *Store) getList(ctx context.Context, id int64) (*List, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists l WHERE l.id = ?`, id)
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return l, nil
}

func (s *Store) items(ctx context.Context, id int64) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM list_items WHERE list_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get list items: %w", err)
	}
	defer rows.Close()

	items := make([]catalog.Item, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan list item: %w", err)
		}
		var item catalog.Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item of list %d: %w", id, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list items: %w", err)
	}
	return items, nil
}

// LoadLists returns every list without its items, ordered by id.
func (s *Store) LoadLists(ctx context.Context) ([]*List, error) {
	return s.query(ctx, `SELECT `+listColumns+` FROM lists l ORDER BY l.id`)
}

// DueForRefresh returns the auto-updating lists whose interval has elapsed at now.
func (s *Store) DueForRefresh(ctx context.Context, now time.Time) ([]*List, error) {
	candidates, err := s.query(ctx, `SELECT `+listColumns+` FROM lists l WHERE l.auto_update = 1 ORDER BY l.id`)
	if err != nil {
		return nil, err
	}

	due := candidates[:0]
	for _, l := range candidates {
		if l.Due(now) {
			due = append(due, l)
		}
	}
	return due, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load lists: %w", err)
	}
	defer rows.Close()

	lists := make([]*List, 0)
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load lists: %w", err)
	}
	return lists, nil
}

// SaveList writes the user-editable fields of a list. Items and evaluation
// state are only changed through ReplaceItems and RecordFailure.
func (s *Store) SaveList(ctx context.Context, l *List) error {
	filterJSON, err := json.Marshal(l.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE lists SET
			name = ?, description = ?, media_type = ?, filter = ?,
			auto_update = ?, update_interval_hours = ?, updated_at = ?
		WHERE id = ?`,
		l.Name, l.Description, string(l.Filter.MediaType), string(filterJSON),
		l.AutoUpdate, l.UpdateIntervalHours, time.Now().UTC(), l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save list: %w", err)
	}
	return expectOne(res)
}

// Delete removes a list and its items.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return expectOne(res)
}

// ReplaceItems swaps the list's items and evaluation timestamp in one
// transaction, so readers see either the old snapshot or the new one. A
// successful replace clears any recorded failure.
func (s *Store) ReplaceItems(ctx context.Context, id int64, items []catalog.Item, evaluatedAt time.Time, possiblyIncomplete bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE lists SET
			last_evaluated_at = ?, possibly_incomplete = ?, last_error = '', last_error_at = NULL
		WHERE id = ?`,
		evaluatedAt.UTC(), possiblyIncomplete, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update list: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE list_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear list items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO list_items (list_id, position, media_type, tmdb_id, data)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode item %s: %w", item.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(item.MediaType), item.ID, string(data)); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit list items: %w", err)
	}

	s.logger.Debug().Int64("listId", id).Int("items", len(items)).Msg("Replaced list items")
	return nil
}

// RecordFailure stores the error of a failed refresh. Items and
// last_evaluated_at are left as they were.
func (s *Store) RecordFailure(ctx context.Context, id int64, cause error, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lists SET last_error = ?, last_error_at = ? WHERE id = ?`,
		cause.Error(), at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record refresh failure: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

