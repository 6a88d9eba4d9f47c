// Package catalog defines the types shared by the remote catalog client,
// the evaluation engine and the list store.
package catalog

import (
	"context"
	"fmt"
	"strconv"
)

// MediaType is the kind of title a catalog entry describes.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m == MediaTypeMovie || m == MediaTypeTV
}

const (
	// PageSize is the number of results the catalog returns per page.
	PageSize = 20
	// MaxPage is the highest page number the catalog will serve.
	MaxPage = 500
)

// Key identifies a catalog item.
type Key struct {
	MediaType MediaType
	ID        int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.MediaType, k.ID)
}

// LocalRating is the secondary rating held by the local rating index.
type LocalRating struct {
	ImdbID string  `json:"imdbId"`
	Rating float64 `json:"rating"`
	Votes  int     `json:"votes"`
}

// Item is a movie or TV series as returned by the catalog.
type Item struct {
	ID               int          `json:"tmdbId"`
	MediaType        MediaType    `json:"mediaType"`
	Title            string       `json:"title"`
	OriginalTitle    string       `json:"originalTitle,omitempty"`
	Overview         string       `json:"overview,omitempty"`
	PrimaryDate      string       `json:"releaseDate,omitempty"`
	RemoteScore      float64      `json:"voteAverage"`
	RemoteVoteCount  int          `json:"voteCount"`
	Popularity       float64      `json:"popularity"`
	GenreIDs         []int        `json:"genreIds,omitempty"`
	OriginalLanguage string       `json:"originalLanguage,omitempty"`
	PosterPath       string       `json:"posterPath,omitempty"`
	BackdropPath     string       `json:"backdropPath,omitempty"`
	ImdbID           string       `json:"imdbId,omitempty"`
	TvdbID           int          `json:"tvdbId,omitempty"`
	Rating           *LocalRating `json:"imdb,omitempty"`
}

// Key returns the identity of the item.
func (i Item) Key() Key {
	return Key{MediaType: i.MediaType, ID: i.ID}
}

// Year returns the year of the primary date, or 0 when unknown.
func (i Item) Year() int {
	if len(i.PrimaryDate) < 4 {
		return 0
	}
	year, _ := strconv.Atoi(i.PrimaryDate[:4])
	return year
}

// Page is one page of a paginated catalog response.
type Page struct {
	Items        []Item
	Page         int
	TotalPages   int
	TotalResults int
}

// HasMore reports whether the catalog has pages after this one.
func (p *Page) HasMore() bool {
	return p.Page < p.TotalPages && p.Page < MaxPage
}

// DiscoverParams is a discover query in the catalog's native parameter encoding.
type DiscoverParams struct {
	MediaType MediaType
	// Filters maps native parameter names (e.g. "vote_average.gte") to encoded values.
	Filters map[string]string
	// SortBy is the native sort parameter, empty for the catalog default order.
	SortBy string
}

// SearchParams is a free-text title search.
type SearchParams struct {
	MediaType MediaType
	Query     string
	Year      int
}

// TrendingParams selects the trending feed for a time window ("day" or "week").
type TrendingParams struct {
	MediaType  MediaType
	TimeWindow string
}

// Catalog is the remote catalog consumed by the evaluation engine.
type Catalog interface {
	Discover(ctx context.Context, params DiscoverParams, page int) (*Page, error)
	Search(ctx context.Context, params SearchParams, page int) (*Page, error)
	Trending(ctx context.Context, params TrendingParams, page int) (*Page, error)
	Detail(ctx context.Context, mediaType MediaType, id int) (*Item, error)
}
