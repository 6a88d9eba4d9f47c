package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacore/mediacore/internal/catalog"
)

func TestTranslate_YearAndImdbRating(t *testing.T) {
	s := Set{
		MediaType: catalog.MediaTypeMovie,
		Conditions: []Condition{
			{Field: FieldYear, Operator: OpEq, Value: Number(2020)},
			{Field: FieldImdbRating, Operator: OpGte, Value: Number(8)},
		},
		SortKey:       FieldImdbRating,
		SortDirection: Desc,
		Limit:         5,
	}.WithDefaults()

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"primary_release_year": "2020"}, plan.Remote.Filters)
	assert.Empty(t, plan.Remote.SortBy)
	require.Len(t, plan.Residual, 1)
	assert.Equal(t, FieldImdbRating, plan.Residual[0].Field)
	require.NotNil(t, plan.ResidualSort)
	assert.Equal(t, SortSpec{Key: FieldImdbRating, Direction: Desc}, *plan.ResidualSort)
	assert.True(t, plan.NeedsJoin())
	assert.False(t, plan.PureRemote())
}

func TestTranslate_PureRemote(t *testing.T) {
	s := Set{
		MediaType: catalog.MediaTypeMovie,
		Conditions: []Condition{
			{Field: FieldVoteAverage, Operator: OpGte, Value: Number(7)},
			{Field: FieldGenres, Operator: OpIn, Value: Ints(28, 12)},
		},
		SortKey:       FieldVoteCount,
		SortDirection: Desc,
	}.WithDefaults()

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.True(t, plan.PureRemote())
	assert.False(t, plan.NeedsJoin())
	assert.Equal(t, "vote_count.desc", plan.Remote.SortBy)
	assert.Equal(t, map[string]string{
		"vote_average.gte": "7",
		"with_genres":      "28|12",
	}, plan.Remote.Filters)
}

func TestTranslate_EncodesNativeParameters(t *testing.T) {
	tests := []struct {
		name      string
		mediaType catalog.MediaType
		conds     []Condition
		want      map[string]string
	}{
		{
			name:      "ranges on one parameter collapse to the tightest bounds",
			mediaType: catalog.MediaTypeMovie,
			conds: []Condition{
				{Field: FieldVoteAverage, Operator: OpGte, Value: Number(6)},
				{Field: FieldVoteAverage, Operator: OpGte, Value: Number(7.5)},
				{Field: FieldVoteAverage, Operator: OpLte, Value: Number(9)},
			},
			want: map[string]string{"vote_average.gte": "7.5", "vote_average.lte": "9"},
		},
		{
			name:      "numeric eq becomes a closed range",
			mediaType: catalog.MediaTypeMovie,
			conds:     []Condition{{Field: FieldRuntime, Operator: OpEq, Value: Number(120)}},
			want:      map[string]string{"with_runtime.gte": "120", "with_runtime.lte": "120"},
		},
		{
			name:      "tv year range uses first air date bounds",
			mediaType: catalog.MediaTypeTV,
			conds: []Condition{
				{Field: FieldYear, Operator: OpGte, Value: Number(2010)},
				{Field: FieldYear, Operator: OpLte, Value: Number(2015)},
			},
			want: map[string]string{"first_air_date.gte": "2010-01-01", "first_air_date.lte": "2015-12-31"},
		},
		{
			name:      "year and release date bounds merge",
			mediaType: catalog.MediaTypeMovie,
			conds: []Condition{
				{Field: FieldYear, Operator: OpGte, Value: Number(2010)},
				{Field: FieldReleaseDate, Operator: OpGte, Value: String("2012-06-01")},
			},
			want: map[string]string{"primary_release_date.gte": "2012-06-01"},
		},
		{
			name:      "tv year eq",
			mediaType: catalog.MediaTypeTV,
			conds:     []Condition{{Field: FieldYear, Operator: OpEq, Value: Number(2008)}},
			want:      map[string]string{"first_air_date_year": "2008"},
		},
		{
			name:      "excluded genres use comma",
			mediaType: catalog.MediaTypeMovie,
			conds:     []Condition{{Field: FieldWithoutGenres, Operator: OpIn, Value: Ints(27, 53)}},
			want:      map[string]string{"without_genres": "27,53"},
		},
		{
			name:      "certification carries its country",
			mediaType: catalog.MediaTypeMovie,
			conds:     []Condition{{Field: FieldCertification, Operator: OpIn, Value: Strings("PG", "PG-13")}},
			want:      map[string]string{"certification": "PG|PG-13", "certification_country": "US"},
		},
		{
			name:      "watch providers with region",
			mediaType: catalog.MediaTypeTV,
			conds: []Condition{
				{Field: FieldWatchProviders, Operator: OpIn, Value: Ints(8, 337)},
				{Field: FieldWatchRegion, Operator: OpEq, Value: String("GB")},
			},
			want: map[string]string{"with_watch_providers": "8|337", "watch_region": "GB"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Set{MediaType: tt.mediaType, Conditions: tt.conds}.WithDefaults()
			plan, err := Translate(s)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			assert.Equal(t, tt.want, plan.Remote.Filters)
			assert.Empty(t, plan.Residual)
		})
	}
}

func TestTranslate_PopularityFilterIsResidual(t *testing.T) {
	s := movieSet(Condition{Field: FieldPopularity, Operator: OpGte, Value: Number(50)})

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.Empty(t, plan.Remote.Filters)
	require.Len(t, plan.Residual, 1)
	assert.False(t, plan.NeedsJoin())
	assert.Nil(t, plan.ResidualSort)
	assert.Equal(t, "popularity.desc", plan.Remote.SortBy)
}

func TestTranslate_DisjunctionIsFullyResidual(t *testing.T) {
	s := Set{
		MediaType:  catalog.MediaTypeMovie,
		Combinator: CombinatorOr,
		Conditions: []Condition{
			{Field: FieldVoteAverage, Operator: OpGte, Value: Number(8)},
			{Field: FieldImdbRating, Operator: OpGte, Value: Number(8)},
		},
	}.WithDefaults()

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.Empty(t, plan.Remote.Filters)
	assert.Len(t, plan.Residual, 2)
	assert.Equal(t, CombinatorOr, plan.Combinator)
	assert.True(t, plan.NeedsJoin())
}

func TestTranslate_TitleSortIsAlwaysLocal(t *testing.T) {
	for _, mt := range []catalog.MediaType{catalog.MediaTypeMovie, catalog.MediaTypeTV} {
		t.Run(string(mt), func(t *testing.T) {
			s := Set{MediaType: mt, SortKey: FieldTitle, SortDirection: Asc}.WithDefaults()

			plan, err := Translate(s)
			require.NoError(t, err)

			require.NotNil(t, plan.ResidualSort)
			assert.Equal(t, FieldTitle, plan.ResidualSort.Key)
			assert.False(t, plan.NeedsJoin())
			assert.Empty(t, plan.Remote.SortBy)
		})
	}
}

func TestTranslate_FansOutSingleValueParameters(t *testing.T) {
	s := movieSet(
		Condition{Field: FieldWatchProviders, Operator: OpIn, Value: Ints(8, 337)},
		Condition{Field: FieldWatchRegion, Operator: OpIn, Value: Strings("US", "GB")},
		Condition{Field: FieldOriginalLanguage, Operator: OpIn, Value: Strings("en", "ko")},
	)

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.False(t, plan.PureRemote())
	assert.False(t, plan.Selective())
	assert.True(t, plan.Merged)
	require.NotNil(t, plan.ResidualSort)
	assert.Equal(t, FieldPopularity, plan.ResidualSort.Key)

	queries := plan.Queries()
	require.Len(t, queries, 4)

	var combos []string
	for _, q := range queries {
		assert.Equal(t, "8|337", q.Filters["with_watch_providers"])
		assert.Equal(t, "popularity.desc", q.SortBy)
		combos = append(combos, q.Filters["watch_region"]+"/"+q.Filters["with_original_language"])
	}
	assert.Equal(t, []string{"US/en", "US/ko", "GB/en", "GB/ko"}, combos)

	// The base query is not modified by the expansion.
	assert.NotContains(t, plan.Remote.Filters, "watch_region")
}

func TestTranslate_SingleRegionDoesNotFanOut(t *testing.T) {
	s := movieSet(Condition{Field: FieldWatchRegion, Operator: OpIn, Value: Strings("US")})

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.True(t, plan.PureRemote())
	assert.Empty(t, plan.Fanout)
	require.Len(t, plan.Queries(), 1)
	assert.Equal(t, "US", plan.Queries()[0].Filters["watch_region"])
}

func TestTranslate_FanOutWithLocalSortIsSelective(t *testing.T) {
	s := movieSet(Condition{Field: FieldOriginalLanguage, Operator: OpIn, Value: Strings("en", "fr")})
	s.SortKey = FieldImdbRating

	plan, err := Translate(s)
	require.NoError(t, err)

	assert.False(t, plan.Merged)
	assert.True(t, plan.Selective())
	assert.True(t, plan.NeedsJoin())
	assert.Len(t, plan.Queries(), 2)
}

func TestTranslate_RejectsInvalidSet(t *testing.T) {
	s := movieSet(Condition{Field: FieldImdbVotes, Operator: OpIn, Value: Ints(1)})

	_, err := Translate(s)
	var invalidErr *InvalidFilterError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestRegistry_Invariants(t *testing.T) {
	for _, mt := range []catalog.MediaType{catalog.MediaTypeMovie, catalog.MediaTypeTV} {
		for _, c := range Fields(mt) {
			if c.Filterable && !c.RemoteFilterable && !c.LocallyEvaluable {
				t.Errorf("%s/%s is filterable but can be evaluated nowhere", mt, c.Field)
			}
			if c.RemoteFilterable && c.Param(mt) == "" {
				t.Errorf("%s/%s is remote-filterable without a native parameter", mt, c.Field)
			}
			if c.RequiresLocalJoin && c.RemoteFilterable {
				t.Errorf("%s/%s reads the rating index but claims remote filtering", mt, c.Field)
			}
			if c.Field == "" {
				t.Errorf("capability without a field name for %s", mt)
			}
		}
	}

	for field, c := range registry {
		wantJoin := field == FieldImdbRating || field == FieldImdbVotes
		if c.RequiresLocalJoin != wantJoin {
			t.Errorf("%s RequiresLocalJoin = %v, want %v", field, c.RequiresLocalJoin, wantJoin)
		}
	}
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup(catalog.MediaTypeTV, FieldReleaseType); ok {
		t.Error("release_type should not exist for tv")
	}
	c, ok := Lookup(catalog.MediaTypeMovie, FieldReleaseType)
	if !ok {
		t.Fatal("release_type should exist for movies")
	}
	if c.Field != FieldReleaseType {
		t.Errorf("Field = %q, want %q", c.Field, FieldReleaseType)
	}
}
