package filter

import (
	"fmt"
	"time"

	"github.com/mediacore/mediacore/internal/catalog"
)

// Operator compares a field against a condition value.
type Operator string

const (
	OpEq  Operator = "eq"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

// Combinator joins the conditions of a set.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Direction is a sort order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const (
	// HardLimit caps the number of items any list may hold.
	HardLimit    = 1000
	DefaultLimit = 100
)

// Condition is a single filter predicate.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
}

// Set is a complete filter definition for a list.
type Set struct {
	MediaType     catalog.MediaType `json:"mediaType"`
	Conditions    []Condition       `json:"conditions"`
	Combinator    Combinator        `json:"combinator"`
	SortKey       Field             `json:"sortKey"`
	SortDirection Direction         `json:"sortDirection"`
	Limit         int               `json:"limit"`
}

// WithDefaults fills unset combinator, sort and limit.
func (s Set) WithDefaults() Set {
	if s.Combinator == "" {
		s.Combinator = CombinatorAnd
	}
	if s.SortKey == "" {
		s.SortKey = FieldPopularity
	}
	if s.SortDirection == "" {
		s.SortDirection = Desc
	}
	if s.Limit == 0 {
		s.Limit = DefaultLimit
	}
	return s
}

// InvalidFilterError reports a filter set rejected before any remote call.
type InvalidFilterError struct {
	Field  Field
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Field == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Reason)
}

func invalid(field Field, format string, args ...any) *InvalidFilterError {
	return &InvalidFilterError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the set against the capability registry.
func (s Set) Validate() error {
	if !s.MediaType.Valid() {
		return invalid("", "unknown media type %q", s.MediaType)
	}
	if s.Combinator != CombinatorAnd && s.Combinator != CombinatorOr {
		return invalid("", "unknown combinator %q", s.Combinator)
	}
	if s.Limit < 1 || s.Limit > HardLimit {
		return invalid("", "limit must be between 1 and %d, got %d", HardLimit, s.Limit)
	}

	sortCap, ok := Lookup(s.MediaType, s.SortKey)
	if !ok || !sortCap.Sortable(s.MediaType) {
		return invalid(s.SortKey, "not a sort key for %s", s.MediaType)
	}
	if s.SortDirection != Asc && s.SortDirection != Desc {
		return invalid(s.SortKey, "unknown sort direction %q", s.SortDirection)
	}

	seenEnum := make(map[Field]bool)
	hasRegion := false
	hasProviders := false
	for _, c := range s.Conditions {
		if err := validateCondition(s.MediaType, c); err != nil {
			return err
		}

		capability, _ := Lookup(s.MediaType, c.Field)
		if capability.Kind == KindEnum {
			if seenEnum[c.Field] {
				return invalid(c.Field, "may appear in at most one condition")
			}
			seenEnum[c.Field] = true
		}
		if s.Combinator == CombinatorOr && len(s.Conditions) > 1 && !capability.LocallyEvaluable {
			return invalid(c.Field, "cannot be combined with %q", CombinatorOr)
		}

		switch c.Field {
		case FieldWatchRegion:
			hasRegion = true
		case FieldWatchProviders:
			hasProviders = true
		}
	}

	if hasProviders && !hasRegion {
		return invalid(FieldWatchProviders, "requires a %s condition", FieldWatchRegion)
	}

	if n := queryCount(s); n > 1 {
		if n > MaxQueries {
			return invalid("", "expands to %d catalog queries, at most %d allowed", n, MaxQueries)
		}
		if !sortCap.LocalSortable {
			return invalid(s.SortKey, "cannot order results merged from several queries")
		}
	}

	return nil
}

func validateCondition(mediaType catalog.MediaType, c Condition) error {
	capability, ok := registry[c.Field]
	if !ok {
		return invalid(c.Field, "unknown field")
	}
	if !capability.ValidFor(mediaType) {
		return invalid(c.Field, "not available for %s", mediaType)
	}
	if !capability.Filterable {
		return invalid(c.Field, "cannot be filtered on")
	}
	if !capability.SupportsOperator(c.Operator) {
		return invalid(c.Field, "operator %q not supported for %s values", c.Operator, capability.Kind)
	}
	if c.Value.IsZero() {
		return invalid(c.Field, "value is required")
	}

	switch capability.Kind {
	case KindNumber:
		n, ok := c.Value.AsNumber()
		if !ok {
			return invalid(c.Field, "expected a number, got %s", c.Value)
		}
		if capability.Min != nil && n < *capability.Min {
			return invalid(c.Field, "must be at least %s", formatNumber(*capability.Min))
		}
		if capability.Max != nil && n > *capability.Max {
			return invalid(c.Field, "must be at most %s", formatNumber(*capability.Max))
		}
		if c.Field == FieldYear && n != float64(int(n)) {
			return invalid(c.Field, "year must be a whole number")
		}
	case KindDate:
		d, ok := c.Value.AsString()
		if !ok {
			return invalid(c.Field, "expected a date, got %s", c.Value)
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return invalid(c.Field, "expected a YYYY-MM-DD date, got %q", d)
		}
	case KindEnum:
		members := c.Value.Members()
		if len(members) == 0 {
			return invalid(c.Field, "at least one value is required")
		}
		if c.Operator == OpEq && len(members) != 1 {
			return invalid(c.Field, "operator %q takes a single value", OpEq)
		}
	}

	return nil
}
