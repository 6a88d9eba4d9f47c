package filter

import (
	"strconv"
	"strings"

	"github.com/mediacore/mediacore/internal/catalog"
)

// Match reports whether an item satisfies the conditions under the combinator.
// An empty condition list matches everything.
func Match(conditions []Condition, combinator Combinator, item catalog.Item) bool {
	if len(conditions) == 0 {
		return true
	}

	for _, c := range conditions {
		ok := c.Matches(item)
		if combinator == CombinatorOr && ok {
			return true
		}
		if combinator != CombinatorOr && !ok {
			return false
		}
	}
	return combinator != CombinatorOr
}

// Matches evaluates the condition against a fetched item. Conditions on fields
// the item does not carry, such as a rating missing from the index, never match.
func (c Condition) Matches(item catalog.Item) bool {
	capability, ok := registry[c.Field]
	if !ok || !capability.LocallyEvaluable {
		return false
	}

	switch capability.Kind {
	case KindNumber:
		have, ok := numberOf(c.Field, item)
		if !ok {
			return false
		}
		want, ok := c.Value.AsNumber()
		if !ok {
			return false
		}
		return compareNumbers(c.Operator, have, want)

	case KindDate:
		have := dateOf(item)
		want, ok := c.Value.AsString()
		if have == "" || !ok {
			return false
		}
		return compareStrings(c.Operator, have, want)

	case KindEnum:
		found := intersects(membersOf(c.Field, item), c.Value.Members())
		if capability.Exclude {
			return !found
		}
		return found
	}

	return false
}

func compareNumbers(op Operator, have, want float64) bool {
	switch op {
	case OpEq:
		return have == want
	case OpGte:
		return have >= want
	case OpLte:
		return have <= want
	}
	return false
}

func compareStrings(op Operator, have, want string) bool {
	switch op {
	case OpEq:
		return have == want
	case OpGte:
		return have >= want
	case OpLte:
		return have <= want
	}
	return false
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func numberOf(field Field, item catalog.Item) (float64, bool) {
	switch field {
	case FieldYear:
		year := item.Year()
		return float64(year), year > 0
	case FieldVoteAverage:
		return item.RemoteScore, true
	case FieldVoteCount:
		return float64(item.RemoteVoteCount), true
	case FieldPopularity:
		return item.Popularity, true
	case FieldImdbRating:
		if item.Rating == nil {
			return 0, false
		}
		return item.Rating.Rating, true
	case FieldImdbVotes:
		if item.Rating == nil {
			return 0, false
		}
		return float64(item.Rating.Votes), true
	}
	return 0, false
}

func dateOf(item catalog.Item) string {
	if len(item.PrimaryDate) > 10 {
		return item.PrimaryDate[:10]
	}
	return item.PrimaryDate
}

func membersOf(field Field, item catalog.Item) []string {
	switch field {
	case FieldGenres, FieldWithoutGenres:
		members := make([]string, len(item.GenreIDs))
		for i, id := range item.GenreIDs {
			members[i] = strconv.Itoa(id)
		}
		return members
	case FieldOriginalLanguage:
		if item.OriginalLanguage == "" {
			return nil
		}
		return []string{item.OriginalLanguage}
	}
	return nil
}

// Less reports whether a sorts before b. Items without a value for the key sort
// after all items that have one, whatever the direction, so the caller's stable
// sort keeps them in catalog order at the end.
func (s SortSpec) Less(a, b catalog.Item) bool {
	av, aok := sortValue(s.Key, a)
	bv, bok := sortValue(s.Key, b)
	if !aok || !bok {
		return aok && !bok
	}

	if av.text || bv.text {
		if av.str == bv.str {
			return false
		}
		if s.Direction == Desc {
			return av.str > bv.str
		}
		return av.str < bv.str
	}

	if av.num == bv.num {
		return false
	}
	if s.Direction == Desc {
		return av.num > bv.num
	}
	return av.num < bv.num
}

type sortKeyValue struct {
	num  float64
	str  string
	text bool
}

func sortValue(field Field, item catalog.Item) (sortKeyValue, bool) {
	switch field {
	case FieldReleaseDate:
		d := dateOf(item)
		return sortKeyValue{str: d, text: true}, d != ""
	case FieldTitle:
		return sortKeyValue{str: strings.ToLower(item.Title), text: true}, item.Title != ""
	}

	n, ok := numberOf(field, item)
	return sortKeyValue{num: n}, ok
}
