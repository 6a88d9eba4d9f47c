package lists

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/engine"
	"github.com/mediacore/mediacore/internal/filter"
	"github.com/mediacore/mediacore/internal/ratelimit"
	"github.com/mediacore/mediacore/internal/testutil"
)

func setupTestServer(t *testing.T, eval *fakeEvaluator) (*echo.Echo, *testutil.TestDB) {
	t.Helper()
	service, tdb := newTestService(t, eval)
	handlers := NewHandlers(service)

	e := echo.New()
	handlers.RegisterRoutes(e.Group("/api/v1/lists"))
	handlers.RegisterFilterRoutes(e.Group("/api/v1/filters"))
	return e, tdb
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreateAndGet(t *testing.T) {
	e, tdb := setupTestServer(t, &fakeEvaluator{})
	defer tdb.Close()

	rec := doRequest(e, http.MethodPost, "/api/v1/lists", `{
		"name": "Top rated 2020",
		"updateIntervalHours": 12,
		"filter": {
			"mediaType": "movie",
			"conditions": [
				{"field": "year", "operator": "eq", "value": 2020},
				{"field": "imdb_rating", "operator": "gte", "value": 8}
			],
			"sortKey": "imdb_rating",
			"sortDirection": "desc",
			"limit": 5
		}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Top rated 2020", created.Name)
	assert.Equal(t, 12, created.UpdateIntervalHours)
	assert.Len(t, created.Filter.Conditions, 2)
	assert.Len(t, created.Items, 3)

	rec = doRequest(e, http.MethodGet, fmt.Sprintf("/api/v1/lists/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, StateIdle, got.State)

	rec = doRequest(e, http.MethodGet, "/api/v1/lists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestHandlers_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		evalErr  error
		method   string
		path     string
		body     string
		wantCode int
	}{
		{
			name:     "invalid filter",
			method:   http.MethodPost,
			path:     "/api/v1/lists",
			body:     `{"name": "x", "filter": {"mediaType": "tv", "sortKey": "revenue"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing name",
			method:   http.MethodPost,
			path:     "/api/v1/lists",
			body:     `{"filter": {"mediaType": "movie"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "interval out of range",
			method:   http.MethodPost,
			path:     "/api/v1/lists",
			body:     `{"name": "x", "updateIntervalHours": 500, "filter": {"mediaType": "movie"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			method:   http.MethodPost,
			path:     "/api/v1/lists/preview",
			body:     `{"mediaType": `,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown list",
			method:   http.MethodGet,
			path:     "/api/v1/lists/12",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "bad id",
			method:   http.MethodDelete,
			path:     "/api/v1/lists/abc",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "rate limit timeout",
			evalErr:  fmt.Errorf("%w: page 1: %w", catalog.ErrUnavailable, ratelimit.ErrTimeout),
			method:   http.MethodPost,
			path:     "/api/v1/lists/preview",
			body:     `{"mediaType": "movie"}`,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "catalog unavailable",
			evalErr:  fmt.Errorf("%w: page 3: %w", catalog.ErrUnavailable, &catalog.HTTPError{Status: 500}),
			method:   http.MethodPost,
			path:     "/api/v1/lists/preview",
			body:     `{"mediaType": "movie"}`,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "unknown media type",
			method:   http.MethodGet,
			path:     "/api/v1/filters/book",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{}
			if tt.evalErr != nil {
				eval.set(func(context.Context, filter.Set) (*engine.Result, error) {
					return nil, tt.evalErr
				})
			}
			e, tdb := setupTestServer(t, eval)
			defer tdb.Close()

			rec := doRequest(e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlers_Preview(t *testing.T) {
	e, tdb := setupTestServer(t, &fakeEvaluator{})
	defer tdb.Close()

	rec := doRequest(e, http.MethodPost, "/api/v1/lists/preview", `{"mediaType": "movie", "limit": 3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PreviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{1, 2, 3}, itemIDs(resp.Items))
	assert.Equal(t, engine.ModeRemote, resp.Mode)
}

func TestHandlers_UpdateDeleteRefresh(t *testing.T) {
	e, tdb := setupTestServer(t, &fakeEvaluator{})
	defer tdb.Close()

	rec := doRequest(e, http.MethodPost, "/api/v1/lists", `{"name": "list", "filter": {"mediaType": "tv"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := fmt.Sprintf("/api/v1/lists/%d", created.ID)

	rec = doRequest(e, http.MethodPatch, path, `{"name": "renamed", "autoUpdate": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.AutoUpdate)

	rec = doRequest(e, http.MethodPost, path+"/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(e, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodPost, path+"/refresh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Fields(t *testing.T) {
	e, tdb := setupTestServer(t, &fakeEvaluator{})
	defer tdb.Close()

	rec := doRequest(e, http.MethodGet, "/api/v1/filters/movie", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var fields []FieldResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))

	byName := make(map[filter.Field]FieldResponse)
	for _, f := range fields {
		byName[f.Field] = f
	}

	imdb, ok := byName[filter.FieldImdbRating]
	require.True(t, ok)
	assert.True(t, imdb.RequiresLocalJoin)
	assert.True(t, imdb.Sortable)
	require.NotNil(t, imdb.Max)
	assert.Equal(t, 10.0, *imdb.Max)

	_, ok = byName[filter.FieldNetworks]
	assert.False(t, ok, "networks is a tv-only field")
}
