package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/ratelimit"
)

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Acquire(context.Context, time.Duration) error {
	l.calls.Add(1)
	return l.err
}

func testConfig(server *httptest.Server) config.TMDBConfig {
	return config.TMDBConfig{
		APIKey:          "test-api-key",
		BaseURL:         server.URL,
		Timeout:         5,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		AcquireTimeout:  time.Second,
		BreakerFailures: 100,
		BreakerTimeout:  time.Minute,
	}
}

func newTestClient(server *httptest.Server) (*Client, *countingLimiter) {
	limiter := &countingLimiter{}
	return NewClient(testConfig(server), limiter, zerolog.Nop()), limiter
}

func TestClient_Name(t *testing.T) {
	client := NewClient(config.TMDBConfig{}, &countingLimiter{}, zerolog.Nop())
	if client.Name() != "tmdb" {
		t.Errorf("Name() = %q, want %q", client.Name(), "tmdb")
	}
}

func TestClient_IsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{"with key", "abc123", true},
		{"without key", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(config.TMDBConfig{APIKey: tt.apiKey}, &countingLimiter{}, zerolog.Nop())
			if got := client.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_DiscoverMovies(t *testing.T) {
	poster := "/poster.jpg"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/discover/movie" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		q := r.URL.Query()
		checks := map[string]string{
			"api_key":              "test-api-key",
			"primary_release_year": "2020",
			"vote_average.gte":     "7",
			"sort_by":              "vote_count.desc",
			"include_adult":        "false",
			"page":                 "2",
		}
		for name, want := range checks {
			if got := q.Get(name); got != want {
				t.Errorf("query %s = %q, want %q", name, got, want)
			}
		}

		json.NewEncoder(w).Encode(MoviePage{
			Page:         2,
			TotalPages:   7,
			TotalResults: 130,
			Results: []MovieResult{
				{
					ID:               496243,
					Title:            "Parasite",
					OriginalTitle:    "기생충",
					ReleaseDate:      "2019-05-30",
					VoteAverage:      8.5,
					VoteCount:        17000,
					Popularity:       55.1,
					GenreIDs:         []int{35, 53, 18},
					OriginalLanguage: "ko",
					PosterPath:       &poster,
				},
			},
		})
	}))
	defer server.Close()

	client, limiter := newTestClient(server)
	page, err := client.Discover(context.Background(), catalog.DiscoverParams{
		MediaType: catalog.MediaTypeMovie,
		Filters:   map[string]string{"primary_release_year": "2020", "vote_average.gte": "7"},
		SortBy:    "vote_count.desc",
	}, 2)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	if page.Page != 2 || page.TotalPages != 7 || page.TotalResults != 130 {
		t.Errorf("page metadata = %d/%d/%d, want 2/7/130", page.Page, page.TotalPages, page.TotalResults)
	}
	if !page.HasMore() {
		t.Error("HasMore() = false, want true")
	}
	if len(page.Items) != 1 {
		t.Fatalf("Discover() returned %d items, want 1", len(page.Items))
	}

	item := page.Items[0]
	if item.Key() != (catalog.Key{MediaType: catalog.MediaTypeMovie, ID: 496243}) {
		t.Errorf("Key() = %v", item.Key())
	}
	if item.Year() != 2019 {
		t.Errorf("Year() = %d, want 2019", item.Year())
	}
	if item.RemoteScore != 8.5 || item.RemoteVoteCount != 17000 {
		t.Errorf("scores = %v/%d, want 8.5/17000", item.RemoteScore, item.RemoteVoteCount)
	}
	if item.PosterPath != poster {
		t.Errorf("PosterPath = %q, want %q", item.PosterPath, poster)
	}
	if limiter.calls.Load() != 1 {
		t.Errorf("limiter acquired %d times, want 1", limiter.calls.Load())
	}
}

func TestClient_DiscoverTV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/discover/tv" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("sort_by") != "" {
			t.Errorf("sort_by should be omitted, got %q", r.URL.Query().Get("sort_by"))
		}
		json.NewEncoder(w).Encode(TVPage{
			Page:       1,
			TotalPages: 1,
			Results: []TVResult{
				{ID: 1396, Name: "Breaking Bad", FirstAirDate: "2008-01-20", VoteAverage: 8.9},
			},
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	page, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeTV}, 1)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if page.HasMore() {
		t.Error("HasMore() = true on the last page")
	}
	if got := page.Items[0]; got.Title != "Breaking Bad" || got.MediaType != catalog.MediaTypeTV {
		t.Errorf("item = %+v", got)
	}
}

func TestClient_SearchTVWithYear(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tv" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "Dark" {
			t.Errorf("unexpected query: %s", got)
		}
		if got := r.URL.Query().Get("first_air_date_year"); got != "2017" {
			t.Errorf("first_air_date_year = %q, want 2017", got)
		}
		json.NewEncoder(w).Encode(TVPage{Page: 1, TotalPages: 1, Results: []TVResult{{ID: 70523, Name: "Dark"}}})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	page, err := client.Search(context.Background(), catalog.SearchParams{
		MediaType: catalog.MediaTypeTV,
		Query:     "Dark",
		Year:      2017,
	}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != 70523 {
		t.Errorf("Search() items = %+v", page.Items)
	}
}

func TestClient_Trending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trending/movie/week" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(MoviePage{Page: 1, TotalPages: 1, Results: []MovieResult{{ID: 1}}})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	if _, err := client.Trending(context.Background(), catalog.TrendingParams{MediaType: catalog.MediaTypeMovie}, 1); err != nil {
		t.Fatalf("Trending() error = %v", err)
	}

	if _, err := client.Trending(context.Background(), catalog.TrendingParams{MediaType: catalog.MediaTypeMovie, TimeWindow: "month"}, 1); err == nil {
		t.Error("Trending() with an unknown window should fail")
	}
}

func TestClient_DetailMovie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/603" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("append_to_response"); got != "external_ids" {
			t.Errorf("append_to_response = %q, want external_ids", got)
		}

		json.NewEncoder(w).Encode(MovieDetails{
			ID:          603,
			Title:       "The Matrix",
			ReleaseDate: "1999-03-30",
			Genres:      []Genre{{ID: 28, Name: "Action"}, {ID: 878, Name: "Science Fiction"}},
			ExternalIDs: &ExternalIDs{ImdbID: "tt0133093"},
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	item, err := client.Detail(context.Background(), catalog.MediaTypeMovie, 603)
	if err != nil {
		t.Fatalf("Detail() error = %v", err)
	}
	if item.ImdbID != "tt0133093" {
		t.Errorf("ImdbID = %q, want %q", item.ImdbID, "tt0133093")
	}
	if len(item.GenreIDs) != 2 || item.GenreIDs[1] != 878 {
		t.Errorf("GenreIDs = %v, want [28 878]", item.GenreIDs)
	}
}

func TestClient_DetailTV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TVDetails{
			ID:          1396,
			Name:        "Breaking Bad",
			ExternalIDs: &ExternalIDs{ImdbID: "tt0903747", TvdbID: 81189},
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	item, err := client.Detail(context.Background(), catalog.MediaTypeTV, 1396)
	if err != nil {
		t.Fatalf("Detail() error = %v", err)
	}
	if item.ImdbID != "tt0903747" || item.TvdbID != 81189 {
		t.Errorf("external ids = %q/%d", item.ImdbID, item.TvdbID)
	}
}

func TestClient_DetailNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{
			StatusCode:    34,
			StatusMessage: "The resource you requested could not be found.",
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	_, err := client.Detail(context.Background(), catalog.MediaTypeMovie, 99999999)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Detail() error = %v, want %v", err, catalog.ErrNotFound)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1 (4xx is not retried)", calls.Load())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(MoviePage{Page: 1, TotalPages: 1})
	}))
	defer server.Close()

	client, limiter := newTestClient(server)
	if _, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
	if limiter.calls.Load() != 3 {
		t.Errorf("limiter acquired %d times, want one per attempt", limiter.calls.Load())
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	_, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1)

	var httpErr *catalog.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Discover() error = %v, want *catalog.HTTPError", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable || httpErr.Body != "maintenance" {
		t.Errorf("HTTPError = %+v", httpErr)
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want MaxRetries+1 = 3", calls.Load())
	}
}

func TestClient_RateLimitedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := newTestClient(server)
	_, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1)
	if !catalog.IsRateLimited(err) {
		t.Errorf("Discover() error = %v, want a 429", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestClient_LimiterTimeoutSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	limiter := &countingLimiter{err: ratelimit.ErrTimeout}
	client := NewClient(testConfig(server), limiter, zerolog.Nop())

	_, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1)
	if !errors.Is(err, ratelimit.ErrTimeout) {
		t.Errorf("Discover() error = %v, want %v", err, ratelimit.ErrTimeout)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestClient_SharedLimiterBoundsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MoviePage{Page: 1, TotalPages: 1})
	}))
	defer server.Close()

	limiter := ratelimit.NewLimiter(ratelimit.Config{Capacity: 2, Window: 200 * time.Millisecond}, zerolog.Nop())
	client := NewClient(testConfig(server), limiter, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1); err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
	}
	// Two tokens up front, then one per 100ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("4 requests took %v, expected the limiter to hold them back", elapsed)
	}
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server)
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	client := NewClient(cfg, &countingLimiter{}, zerolog.Nop())

	params := catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}
	for i := 0; i < 2; i++ {
		if _, err := client.Discover(context.Background(), params, 1); err == nil {
			t.Fatal("Discover() should fail on a 500")
		}
	}

	_, err := client.Discover(context.Background(), params, 1)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Discover() error = %v, want %v", err, gobreaker.ErrOpenState)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig(server)
	cfg.BreakerFailures = 1
	client := NewClient(cfg, &countingLimiter{}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := client.Detail(context.Background(), catalog.MediaTypeMovie, 1)
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Fatalf("Detail() error = %v, want %v", err, catalog.ErrNotFound)
		}
	}
}

func TestClient_NoAPIKey(t *testing.T) {
	client := NewClient(config.TMDBConfig{}, &countingLimiter{}, zerolog.Nop())
	_, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, 1)
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Errorf("Discover() error = %v, want %v", err, ErrAPIKeyMissing)
	}
}

func TestClient_PageRange(t *testing.T) {
	client := NewClient(config.TMDBConfig{APIKey: "key"}, &countingLimiter{}, zerolog.Nop())
	for _, page := range []int{0, catalog.MaxPage + 1} {
		_, err := client.Discover(context.Background(), catalog.DiscoverParams{MediaType: catalog.MediaTypeMovie}, page)
		if !errors.Is(err, ErrPageRange) {
			t.Errorf("Discover(page %d) error = %v, want %v", page, err, ErrPageRange)
		}
	}
}
