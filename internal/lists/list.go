// Package lists persists filter-based lists and keeps their materialized items
// fresh.
package lists

import (
	"errors"
	"time"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/filter"
)

const (
	DefaultUpdateIntervalHours = 6
	MinUpdateIntervalHours     = 1
	MaxUpdateIntervalHours     = 168
)

var (
	ErrNotFound    = errors.New("list not found")
	ErrInvalidList = errors.New("invalid list")
)

// State is the refresh state of a list.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// List is a saved filter set and its last materialized items.
type List struct {
	ID                  int64          `json:"id"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Filter              filter.Set     `json:"filter"`
	AutoUpdate          bool           `json:"autoUpdate"`
	UpdateIntervalHours int            `json:"updateIntervalHours"`
	Items               []catalog.Item `json:"items,omitempty"`
	ItemCount           int            `json:"itemCount"`
	LastEvaluatedAt     *time.Time     `json:"lastEvaluatedAt,omitempty"`
	PossiblyIncomplete  bool           `json:"possiblyIncomplete"`
	LastError           string         `json:"lastError,omitempty"`
	LastFailedAt        *time.Time     `json:"lastFailedAt,omitempty"`
	State               State          `json:"state"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// UpdateInterval returns the auto-update period.
func (l *List) UpdateInterval() time.Duration {
	return time.Duration(l.UpdateIntervalHours) * time.Hour
}

// Due reports whether an auto-updating list should be refreshed at now. A list
// that was never evaluated is always due.
func (l *List) Due(now time.Time) bool {
	if !l.AutoUpdate {
		return false
	}
	if l.LastEvaluatedAt == nil {
		return true
	}
	return now.Sub(*l.LastEvaluatedAt) >= l.UpdateInterval()
}

// CreateListInput is the payload for creating a list.
type CreateListInput struct {
	Name                string     `json:"name" validate:"required,max=200"`
	Description         string     `json:"description" validate:"max=2000"`
	Filter              filter.Set `json:"filter"`
	AutoUpdate          *bool      `json:"autoUpdate"`
	UpdateIntervalHours int        `json:"updateIntervalHours" validate:"omitempty,min=1,max=168"`
}

// UpdateListInput is the payload for editing a list. Nil fields are unchanged.
type UpdateListInput struct {
	Name                *string     `json:"name" validate:"omitempty,min=1,max=200"`
	Description         *string     `json:"description" validate:"omitempty,max=2000"`
	Filter              *filter.Set `json:"filter"`
	AutoUpdate          *bool       `json:"autoUpdate"`
	UpdateIntervalHours *int        `json:"updateIntervalHours" validate:"omitempty,min=1,max=168"`
}
