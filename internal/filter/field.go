// Package filter models list filter sets, the static capability registry of every
// filterable/sortable field, and the translation of a filter set into a catalog
// discover query plus the residual conditions that must be applied locally.
package filter

import (
	"sort"

	"github.com/mediacore/mediacore/internal/catalog"
)

// Field names a filterable or sortable attribute.
type Field string

const (
	FieldYear             Field = "year"
	FieldReleaseDate      Field = "release_date"
	FieldVoteAverage      Field = "vote_average"
	FieldVoteCount        Field = "vote_count"
	FieldPopularity       Field = "popularity"
	FieldRuntime          Field = "runtime"
	FieldGenres           Field = "genres"
	FieldWithoutGenres    Field = "without_genres"
	FieldOriginalLanguage Field = "original_language"
	FieldKeywords         Field = "keywords"
	FieldWatchProviders   Field = "watch_providers"
	FieldWatchRegion      Field = "watch_region"
	FieldReleaseType      Field = "release_type"
	FieldCertification    Field = "certification"
	FieldNetworks         Field = "networks"
	FieldStatus           Field = "status"
	FieldRevenue          Field = "revenue"
	FieldTitle            Field = "title"
	FieldImdbRating       Field = "imdb_rating"
	FieldImdbVotes        Field = "imdb_votes"
)

// Kind is the declared value type of a field.
type Kind string

const (
	KindNumber Kind = "number"
	KindDate   Kind = "date"
	KindEnum   Kind = "enum"
)

// Operators returns the operators a value kind supports.
func (k Kind) Operators() []Operator {
	switch k {
	case KindNumber, KindDate:
		return []Operator{OpEq, OpGte, OpLte}
	case KindEnum:
		return []Operator{OpEq, OpIn}
	}
	return nil
}

var (
	bothMediaTypes = []catalog.MediaType{catalog.MediaTypeMovie, catalog.MediaTypeTV}
	movieOnly      = []catalog.MediaType{catalog.MediaTypeMovie}
	tvOnly         = []catalog.MediaType{catalog.MediaTypeTV}
)

// Capability describes what can be done with a field.
type Capability struct {
	Field      Field
	Label      string
	Kind       Kind
	MediaTypes []catalog.MediaType

	// Filterable fields may appear in conditions; the rest are sort keys only.
	Filterable bool
	// RemoteFilterable conditions are pushed down to the catalog discover query.
	RemoteFilterable bool
	// LocallyEvaluable conditions can be checked against a fetched item.
	LocallyEvaluable bool
	// RequiresLocalJoin fields are read from the rating index.
	RequiresLocalJoin bool
	// LocalSortable fields can be sorted on after fetch.
	LocalSortable bool

	// Min and Max bound numeric values when set.
	Min, Max *float64
	// Exclude inverts local set matching: the item must carry none of the values.
	Exclude bool
	// FanOut fields take a single native value, so an "in" condition on them is
	// sent as one discover query per value.
	FanOut bool

	// params is the native discover parameter per media type.
	params map[catalog.MediaType]string
	// remoteSort is the native sort field per media type.
	remoteSort map[catalog.MediaType]string
	// separator joins "in" values in the native multi-value syntax.
	separator string
}

// ValidFor reports whether the field exists for the media type.
func (c Capability) ValidFor(mediaType catalog.MediaType) bool {
	for _, mt := range c.MediaTypes {
		if mt == mediaType {
			return true
		}
	}
	return false
}

// RemoteSortable reports whether the catalog can order results by this field.
func (c Capability) RemoteSortable(mediaType catalog.MediaType) bool {
	return c.remoteSort[mediaType] != ""
}

// Sortable reports whether the field is a valid sort key for the media type.
func (c Capability) Sortable(mediaType catalog.MediaType) bool {
	return c.ValidFor(mediaType) && (c.RemoteSortable(mediaType) || c.LocalSortable)
}

// AllowedOperators returns the operators usable with the field.
func (c Capability) AllowedOperators() []Operator {
	return c.Kind.Operators()
}

// SupportsOperator reports whether op may be used with the field.
func (c Capability) SupportsOperator(op Operator) bool {
	for _, o := range c.AllowedOperators() {
		if o == op {
			return true
		}
	}
	return false
}

// Param returns the native discover parameter for the media type.
func (c Capability) Param(mediaType catalog.MediaType) string {
	return c.params[mediaType]
}

func bound(v float64) *float64 { return &v }

func same(v string) map[catalog.MediaType]string {
	return map[catalog.MediaType]string{catalog.MediaTypeMovie: v, catalog.MediaTypeTV: v}
}

// registry is the static capability table. Every field is known at compile time.
var registry = map[Field]Capability{
	FieldYear: {
		Label: "Year", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true,
		params: map[catalog.MediaType]string{
			catalog.MediaTypeMovie: "primary_release_year",
			catalog.MediaTypeTV:    "first_air_date_year",
		},
	},
	FieldReleaseDate: {
		Label: "Release Date", Kind: KindDate, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true, LocalSortable: true,
		params: map[catalog.MediaType]string{
			catalog.MediaTypeMovie: "primary_release_date",
			catalog.MediaTypeTV:    "first_air_date",
		},
		remoteSort: map[catalog.MediaType]string{
			catalog.MediaTypeMovie: "primary_release_date",
			catalog.MediaTypeTV:    "first_air_date",
		},
	},
	FieldVoteAverage: {
		Label: "Rating", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true, LocalSortable: true,
		Min: bound(0), Max: bound(10),
		params:     same("vote_average"),
		remoteSort: same("vote_average"),
	},
	FieldVoteCount: {
		Label: "Vote Count", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true, LocalSortable: true,
		Min:        bound(0),
		params:     same("vote_count"),
		remoteSort: same("vote_count"),
	},
	FieldPopularity: {
		Label: "Popularity", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, LocallyEvaluable: true, LocalSortable: true,
		Min:        bound(0),
		remoteSort: same("popularity"),
	},
	FieldRuntime: {
		Label: "Runtime (minutes)", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true,
		Min:    bound(0),
		params: same("with_runtime"),
	},
	FieldGenres: {
		Label: "Genres (Include)", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true,
		params: same("with_genres"), separator: "|",
	},
	FieldWithoutGenres: {
		Label: "Genres (Exclude)", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true, Exclude: true,
		params: same("without_genres"), separator: ",",
	},
	FieldOriginalLanguage: {
		Label: "Original Language", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, LocallyEvaluable: true, FanOut: true,
		params: same("with_original_language"),
	},
	FieldKeywords: {
		Label: "Keywords", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true,
		params: same("with_keywords"), separator: "|",
	},
	FieldWatchProviders: {
		Label: "Streaming Service", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true,
		params: same("with_watch_providers"), separator: "|",
	},
	FieldWatchRegion: {
		Label: "Watch Region", Kind: KindEnum, MediaTypes: bothMediaTypes,
		Filterable: true, RemoteFilterable: true, FanOut: true,
		params: same("watch_region"),
	},
	FieldReleaseType: {
		Label: "Release Type", Kind: KindEnum, MediaTypes: movieOnly,
		Filterable: true, RemoteFilterable: true,
		params:    map[catalog.MediaType]string{catalog.MediaTypeMovie: "with_release_type"},
		separator: "|",
	},
	FieldCertification: {
		Label: "Age Rating", Kind: KindEnum, MediaTypes: movieOnly,
		Filterable: true, RemoteFilterable: true,
		params:    map[catalog.MediaType]string{catalog.MediaTypeMovie: "certification"},
		separator: "|",
	},
	FieldNetworks: {
		Label: "Networks", Kind: KindEnum, MediaTypes: tvOnly,
		Filterable: true, RemoteFilterable: true,
		params:    map[catalog.MediaType]string{catalog.MediaTypeTV: "with_networks"},
		separator: "|",
	},
	FieldStatus: {
		Label: "Status", Kind: KindEnum, MediaTypes: tvOnly,
		Filterable: true, RemoteFilterable: true,
		params:    map[catalog.MediaType]string{catalog.MediaTypeTV: "with_status"},
		separator: "|",
	},
	FieldRevenue: {
		Label: "Revenue", Kind: KindNumber, MediaTypes: movieOnly,
		remoteSort: map[catalog.MediaType]string{catalog.MediaTypeMovie: "revenue"},
	},
	// The catalog only sorts movies by original title, so title is always
	// sorted locally on the display title for both media types.
	FieldTitle: {
		Label: "Title", Kind: KindEnum, MediaTypes: bothMediaTypes,
		LocalSortable: true,
	},
	FieldImdbRating: {
		Label: "IMDb Rating", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, LocallyEvaluable: true, RequiresLocalJoin: true, LocalSortable: true,
		Min: bound(0), Max: bound(10),
	},
	FieldImdbVotes: {
		Label: "IMDb Votes", Kind: KindNumber, MediaTypes: bothMediaTypes,
		Filterable: true, LocallyEvaluable: true, RequiresLocalJoin: true, LocalSortable: true,
		Min: bound(0),
	},
}

func init() {
	for field, c := range registry {
		c.Field = field
		registry[field] = c
	}
}

// Lookup returns the capability of a field for a media type. The boolean is false
// when the field is unknown or does not exist for the media type.
func Lookup(mediaType catalog.MediaType, field Field) (Capability, bool) {
	c, ok := registry[field]
	if !ok || !c.ValidFor(mediaType) {
		return Capability{}, false
	}
	return c, true
}

// Fields returns every capability valid for the media type, ordered by field name.
func Fields(mediaType catalog.MediaType) []Capability {
	caps := make([]Capability, 0, len(registry))
	for _, c := range registry {
		if c.ValidFor(mediaType) {
			caps = append(caps, c)
		}
	}
	sort.Slice(caps, func(i, j int) bool {
		return caps[i].Field < caps[j].Field
	})
	return caps
}
