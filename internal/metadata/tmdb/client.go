package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/config"
	"github.com/mediacore/mediacore/internal/metrics"
)

var (
	ErrAPIKeyMissing = errors.New("TMDB API key is not configured")
	ErrPageRange     = errors.New("page out of range")
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// Limiter hands out request tokens. Every HTTP attempt takes one.
type Limiter interface {
	Acquire(ctx context.Context, timeout time.Duration) error
}

// Client is a TMDB API client implementing catalog.Catalog.
type Client struct {
	httpClient *http.Client
	config     config.TMDBConfig
	limiter    Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logger     zerolog.Logger
}

var _ catalog.Catalog = (*Client)(nil)

// NewClient creates a new TMDB client. All requests share the given limiter.
func NewClient(cfg config.TMDBConfig, limiter Limiter, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	log := logger.With().Str("component", "tmdb").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config:  cfg,
		limiter: limiter,
		breaker: newBreaker(cfg, log),
		logger:  log,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "tmdb"
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Test verifies connectivity to the TMDB API by making a configuration request.
func (c *Client) Test(ctx context.Context) error {
	var result struct {
		Images struct {
			BaseURL string `json:"base_url"`
		} `json:"images"`
	}
	return c.doRequest(ctx, "configuration", "/configuration", url.Values{}, &result)
}

// Discover runs a discover query and returns one page of results.
func (c *Client) Discover(ctx context.Context, params catalog.DiscoverParams, page int) (*catalog.Page, error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}

	query := url.Values{}
	for name, value := range params.Filters {
		query.Set(name, value)
	}
	if params.SortBy != "" {
		query.Set("sort_by", params.SortBy)
	}
	query.Set("include_adult", "false")
	query.Set("page", strconv.Itoa(page))

	result, err := c.fetchPage(ctx, "discover", "/discover/"+string(params.MediaType), params.MediaType, query)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("mediaType", string(params.MediaType)).
		Str("sortBy", params.SortBy).
		Int("page", page).
		Int("totalPages", result.TotalPages).
		Int("results", len(result.Items)).
		Msg("Discover page fetched")

	return result, nil
}

// Search searches titles by query with an optional year filter.
func (c *Client) Search(ctx context.Context, params catalog.SearchParams, page int) (*catalog.Page, error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("query", params.Query)
	query.Set("include_adult", "false")
	query.Set("page", strconv.Itoa(page))
	if params.Year > 0 {
		if params.MediaType == catalog.MediaTypeTV {
			query.Set("first_air_date_year", strconv.Itoa(params.Year))
		} else {
			query.Set("year", strconv.Itoa(params.Year))
		}
	}

	result, err := c.fetchPage(ctx, "search", "/search/"+string(params.MediaType), params.MediaType, query)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("query", params.Query).
		Int("year", params.Year).
		Int("results", len(result.Items)).
		Msg("Search completed")

	return result, nil
}

// Trending returns one page of the trending feed. The window defaults to a week.
func (c *Client) Trending(ctx context.Context, params catalog.TrendingParams, page int) (*catalog.Page, error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}

	window := params.TimeWindow
	if window == "" {
		window = "week"
	}
	if window != "day" && window != "week" {
		return nil, fmt.Errorf("unknown trending window %q", window)
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))

	path := fmt.Sprintf("/trending/%s/%s", params.MediaType, window)
	return c.fetchPage(ctx, "trending", path, params.MediaType, query)
}

// Detail gets one title with its external ids.
func (c *Client) Detail(ctx context.Context, mediaType catalog.MediaType, id int) (*catalog.Item, error) {
	query := url.Values{}
	query.Set("append_to_response", "external_ids")
	path := fmt.Sprintf("/%s/%d", mediaType, id)

	var (
		item catalog.Item
		err  error
	)
	switch mediaType {
	case catalog.MediaTypeMovie:
		var details MovieDetails
		if err = c.doRequest(ctx, "detail", path, query, &details); err == nil {
			item = movieDetailsToItem(details)
		}
	case catalog.MediaTypeTV:
		var details TVDetails
		if err = c.doRequest(ctx, "detail", path, query, &details); err == nil {
			item = tvDetailsToItem(details)
		}
	default:
		return nil, fmt.Errorf("unknown media type %q", mediaType)
	}

	if err != nil {
		var httpErr *catalog.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, catalog.Key{MediaType: mediaType, ID: id})
		}
		return nil, err
	}

	c.logger.Debug().
		Int("id", id).
		Str("title", item.Title).
		Str("imdbId", item.ImdbID).
		Msg("Got title details")

	return &item, nil
}

func checkPage(page int) error {
	if page < 1 || page > catalog.MaxPage {
		return fmt.Errorf("%w: %d", ErrPageRange, page)
	}
	return nil
}

// fetchPage decodes a paged response of the given media type.
func (c *Client) fetchPage(ctx context.Context, endpoint, path string, mediaType catalog.MediaType, query url.Values) (*catalog.Page, error) {
	switch mediaType {
	case catalog.MediaTypeMovie:
		var response MoviePage
		if err := c.doRequest(ctx, endpoint, path, query, &response); err != nil {
			return nil, err
		}
		items := make([]catalog.Item, len(response.Results))
		for i, movie := range response.Results {
			items[i] = movieToItem(movie)
		}
		return &catalog.Page{Items: items, Page: response.Page, TotalPages: response.TotalPages, TotalResults: response.TotalResults}, nil

	case catalog.MediaTypeTV:
		var response TVPage
		if err := c.doRequest(ctx, endpoint, path, query, &response); err != nil {
			return nil, err
		}
		items := make([]catalog.Item, len(response.Results))
		for i, tv := range response.Results {
			items[i] = tvToItem(tv)
		}
		return &catalog.Page{Items: items, Page: response.Page, TotalPages: response.TotalPages, TotalResults: response.TotalResults}, nil
	}

	return nil, fmt.Errorf("unknown media type %q", mediaType)
}

// transportError is a request that failed before any response arrived.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "HTTP request failed: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

// isServerFailure reports whether err is a 5xx or a transport failure. Only these
// are retried and only these count against the circuit breaker.
func isServerFailure(err error) bool {
	var httpErr *catalog.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

// doRequest performs a GET with retries. Each attempt takes a limiter token and
// runs through the circuit breaker. 5xx and transport failures are retried with
// exponential backoff; 429 and other 4xx are returned immediately.
func (c *Client) doRequest(ctx context.Context, endpoint, path string, params url.Values, result any) error {
	if !c.IsConfigured() {
		return ErrAPIKeyMissing
	}

	params.Set("api_key", c.config.APIKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.config.BaseURL, path, params.Encode())

	backoff := c.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.CatalogRetries.WithLabelValues(endpoint).Inc()
			c.logger.Debug().
				Err(lastErr).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying TMDB request")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		if err := c.limiter.Acquire(ctx, c.config.AcquireTimeout); err != nil {
			return err
		}

		_, err := c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, c.attempt(ctx, endpoint, reqURL, result)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if !isServerFailure(err) {
			return err
		}
	}

	c.logger.Warn().
		Err(lastErr).
		Str("endpoint", endpoint).
		Int("attempts", c.config.MaxRetries+1).
		Msg("TMDB request failed after retries")

	return lastErr
}

// attempt performs a single HTTP GET and decodes a 200 response into result.
func (c *Client) attempt(ctx context.Context, endpoint, reqURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.CatalogRequests.WithLabelValues(endpoint, "error").Inc()
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	metrics.CatalogRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &catalog.HTTPError{Status: resp.StatusCode, Body: string(body)}

		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.StatusMessage != "" {
			httpErr.Body = errResp.StatusMessage
		}

		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Str("message", httpErr.Body).
			Msg("TMDB API error")

		return httpErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func movieToItem(movie MovieResult) catalog.Item {
	return catalog.Item{
		ID:               movie.ID,
		MediaType:        catalog.MediaTypeMovie,
		Title:            movie.Title,
		OriginalTitle:    movie.OriginalTitle,
		Overview:         movie.Overview,
		PrimaryDate:      movie.ReleaseDate,
		RemoteScore:      movie.VoteAverage,
		RemoteVoteCount:  movie.VoteCount,
		Popularity:       movie.Popularity,
		GenreIDs:         movie.GenreIDs,
		OriginalLanguage: movie.OriginalLanguage,
		PosterPath:       deref(movie.PosterPath),
		BackdropPath:     deref(movie.BackdropPath),
	}
}

func tvToItem(tv TVResult) catalog.Item {
	return catalog.Item{
		ID:               tv.ID,
		MediaType:        catalog.MediaTypeTV,
		Title:            tv.Name,
		OriginalTitle:    tv.OriginalName,
		Overview:         tv.Overview,
		PrimaryDate:      tv.FirstAirDate,
		RemoteScore:      tv.VoteAverage,
		RemoteVoteCount:  tv.VoteCount,
		Popularity:       tv.Popularity,
		GenreIDs:         tv.GenreIDs,
		OriginalLanguage: tv.OriginalLanguage,
		PosterPath:       deref(tv.PosterPath),
		BackdropPath:     deref(tv.BackdropPath),
	}
}

func movieDetailsToItem(details MovieDetails) catalog.Item {
	item := catalog.Item{
		ID:               details.ID,
		MediaType:        catalog.MediaTypeMovie,
		Title:            details.Title,
		OriginalTitle:    details.OriginalTitle,
		Overview:         details.Overview,
		PrimaryDate:      details.ReleaseDate,
		RemoteScore:      details.VoteAverage,
		RemoteVoteCount:  details.VoteCount,
		Popularity:       details.Popularity,
		GenreIDs:         genreIDs(details.Genres),
		OriginalLanguage: details.OriginalLanguage,
		PosterPath:       deref(details.PosterPath),
		BackdropPath:     deref(details.BackdropPath),
		ImdbID:           details.ImdbID,
	}
	if details.ExternalIDs != nil {
		if item.ImdbID == "" {
			item.ImdbID = details.ExternalIDs.ImdbID
		}
		item.TvdbID = details.ExternalIDs.TvdbID
	}
	return item
}

func tvDetailsToItem(details TVDetails) catalog.Item {
	item := catalog.Item{
		ID:               details.ID,
		MediaType:        catalog.MediaTypeTV,
		Title:            details.Name,
		OriginalTitle:    details.OriginalName,
		Overview:         details.Overview,
		PrimaryDate:      details.FirstAirDate,
		RemoteScore:      details.VoteAverage,
		RemoteVoteCount:  details.VoteCount,
		Popularity:       details.Popularity,
		GenreIDs:         genreIDs(details.Genres),
		OriginalLanguage: details.OriginalLanguage,
		PosterPath:       deref(details.PosterPath),
		BackdropPath:     deref(details.BackdropPath),
	}
	if details.ExternalIDs != nil {
		item.ImdbID = details.ExternalIDs.ImdbID
		item.TvdbID = details.ExternalIDs.TvdbID
	}
	return item
}

func genreIDs(genres []Genre) []int {
	ids := make([]int, len(genres))
	for i, g := range genres {
		ids[i] = g.ID
	}
	return ids
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
