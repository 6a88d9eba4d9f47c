package filter

import (
	"fmt"
	"maps"
	"strings"

	"github.com/mediacore/mediacore/internal/catalog"
)

// certificationCountry is sent alongside any certification filter.
const certificationCountry = "US"

// SortSpec is a sort applied by the engine after fetch.
type SortSpec struct {
	Key       Field
	Direction Direction
}

// MaxQueries bounds the discover queries one filter set may fan out to.
const MaxQueries = 12

// Fanout is one native parameter that needs a separate query per value.
type Fanout struct {
	Param  string
	Values []string
}

// Plan is a filter set split into what the catalog evaluates and what is left for
// the engine.
type Plan struct {
	Remote       catalog.DiscoverParams
	Fanout       []Fanout
	Residual     []Condition
	ResidualSort *SortSpec
	Combinator   Combinator
	// Merged is set when ResidualSort only merges fanned out queries that the
	// catalog already orders by the same key.
	Merged bool
}

// PureRemote reports whether the catalog alone produces the final ordered result.
func (p Plan) PureRemote() bool {
	return len(p.Residual) == 0 && p.ResidualSort == nil && len(p.Fanout) == 0
}

// Selective reports whether local filtering or sorting can promote candidates
// from deep catalog pages. Merging remotely ordered queries cannot.
func (p Plan) Selective() bool {
	return len(p.Residual) > 0 || (p.ResidualSort != nil && !p.Merged)
}

// NeedsJoin reports whether any residual condition or the residual sort reads
// the rating index.
func (p Plan) NeedsJoin() bool {
	for _, c := range p.Residual {
		if registry[c.Field].RequiresLocalJoin {
			return true
		}
	}
	return p.ResidualSort != nil && registry[p.ResidualSort.Key].RequiresLocalJoin
}

// Queries expands the fan out into the discover queries to run, in order. A plan
// without fan out has exactly one query.
func (p Plan) Queries() []catalog.DiscoverParams {
	queries := []catalog.DiscoverParams{p.Remote}
	for _, f := range p.Fanout {
		next := make([]catalog.DiscoverParams, 0, len(queries)*len(f.Values))
		for _, q := range queries {
			for _, v := range f.Values {
				filters := make(map[string]string, len(q.Filters)+1)
				maps.Copy(filters, q.Filters)
				filters[f.Param] = v
				next = append(next, catalog.DiscoverParams{
					MediaType: q.MediaType,
					Filters:   filters,
					SortBy:    q.SortBy,
				})
			}
		}
		queries = next
	}
	return queries
}

// Partition splits conditions into those the catalog can evaluate and the residual
// ones. A disjunction of several conditions cannot be narrowed remotely, so it is
// left entirely residual.
func Partition(s Set) (remote, residual []Condition) {
	if s.Combinator == CombinatorOr && len(s.Conditions) > 1 {
		return nil, append([]Condition(nil), s.Conditions...)
	}

	for _, c := range s.Conditions {
		if registry[c.Field].RemoteFilterable {
			remote = append(remote, c)
		} else {
			residual = append(residual, c)
		}
	}
	return remote, residual
}

// splitFanout separates remote conditions that need a query per value.
func splitFanout(mediaType catalog.MediaType, remote []Condition) (single []Condition, fanout []Fanout) {
	for _, c := range remote {
		capability := registry[c.Field]
		if members := c.Value.Members(); capability.FanOut && c.Operator == OpIn && len(members) > 1 {
			fanout = append(fanout, Fanout{Param: capability.Param(mediaType), Values: members})
			continue
		}
		single = append(single, c)
	}
	return single, fanout
}

// queryCount returns how many discover queries the set expands to.
func queryCount(s Set) int {
	remote, _ := Partition(s)
	_, fanout := splitFanout(s.MediaType, remote)
	n := 1
	for _, f := range fanout {
		n *= len(f.Values)
	}
	return n
}

// Translate validates the set and builds its execution plan.
func Translate(s Set) (Plan, error) {
	if err := s.Validate(); err != nil {
		return Plan{}, err
	}

	remote, residual := Partition(s)
	single, fanout := splitFanout(s.MediaType, remote)

	plan := Plan{
		Remote: catalog.DiscoverParams{
			MediaType: s.MediaType,
			Filters:   encodeRemote(s.MediaType, single),
		},
		Fanout:     fanout,
		Residual:   residual,
		Combinator: s.Combinator,
	}

	sortCap := registry[s.SortKey]
	remoteSort := sortCap.RemoteSortable(s.MediaType)
	if remoteSort {
		plan.Remote.SortBy = fmt.Sprintf("%s.%s", sortCap.remoteSort[s.MediaType], s.SortDirection)
	}
	switch {
	case len(fanout) > 0:
		// Results of several queries are merged by sorting them locally.
		plan.ResidualSort = &SortSpec{Key: s.SortKey, Direction: s.SortDirection}
		plan.Merged = remoteSort
	case !remoteSort:
		plan.ResidualSort = &SortSpec{Key: s.SortKey, Direction: s.SortDirection}
	}

	return plan, nil
}

// numberRange collects the bounds for one native numeric parameter.
type numberRange struct {
	lo, hi *float64
}

func (r *numberRange) raise(v float64) {
	if r.lo == nil || v > *r.lo {
		r.lo = &v
	}
}

func (r *numberRange) lower(v float64) {
	if r.hi == nil || v < *r.hi {
		r.hi = &v
	}
}

// dateRange collects the bounds for one native date parameter. ISO dates compare
// correctly as strings.
type dateRange struct {
	lo, hi string
}

func (r *dateRange) raise(v string) {
	if r.lo == "" || v > r.lo {
		r.lo = v
	}
}

func (r *dateRange) lower(v string) {
	if r.hi == "" || v < r.hi {
		r.hi = v
	}
}

// encodeRemote maps remote conditions to native discover parameters. Several range
// conditions on the same parameter collapse into one two-sided range.
func encodeRemote(mediaType catalog.MediaType, conditions []Condition) map[string]string {
	params := make(map[string]string)
	numbers := make(map[string]*numberRange)
	dates := make(map[string]*dateRange)

	numberFor := func(param string) *numberRange {
		if r, ok := numbers[param]; ok {
			return r
		}
		r := &numberRange{}
		numbers[param] = r
		return r
	}
	dateFor := func(param string) *dateRange {
		if r, ok := dates[param]; ok {
			return r
		}
		r := &dateRange{}
		dates[param] = r
		return r
	}

	for _, c := range conditions {
		capability := registry[c.Field]
		param := capability.Param(mediaType)

		switch {
		case c.Field == FieldYear:
			year, _ := c.Value.AsNumber()
			dateParam := registry[FieldReleaseDate].Param(mediaType)
			switch c.Operator {
			case OpEq:
				params[param] = formatNumber(year)
			case OpGte:
				dateFor(dateParam).raise(fmt.Sprintf("%04d-01-01", int(year)))
			case OpLte:
				dateFor(dateParam).lower(fmt.Sprintf("%04d-12-31", int(year)))
			}

		case capability.Kind == KindNumber:
			n, _ := c.Value.AsNumber()
			r := numberFor(param)
			switch c.Operator {
			case OpEq:
				r.raise(n)
				r.lower(n)
			case OpGte:
				r.raise(n)
			case OpLte:
				r.lower(n)
			}

		case capability.Kind == KindDate:
			d, _ := c.Value.AsString()
			r := dateFor(param)
			switch c.Operator {
			case OpEq:
				r.raise(d)
				r.lower(d)
			case OpGte:
				r.raise(d)
			case OpLte:
				r.lower(d)
			}

		case capability.Kind == KindEnum:
			params[param] = strings.Join(c.Value.Members(), capability.separator)
			if c.Field == FieldCertification {
				params["certification_country"] = certificationCountry
			}
		}
	}

	for param, r := range numbers {
		if r.lo != nil {
			params[param+".gte"] = formatNumber(*r.lo)
		}
		if r.hi != nil {
			params[param+".lte"] = formatNumber(*r.hi)
		}
	}
	for param, r := range dates {
		if r.lo != "" {
			params[param+".gte"] = r.lo
		}
		if r.hi != "" {
			params[param+".lte"] = r.hi
		}
	}

	return params
}
