package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestSetupRegistryAndBookRoutes ensures all expected registry and book endpoints are implemented.
//
//nolint:funlen
func TestSetupRegistryAndBookRoutes(t *testing.T) {
	testCases := []struct {
		name        string
		request     *http.Request
		implemented bool
	}{
		{
			"index endpoint",
			httptest.NewRequest(http.MethodGet, "/", nil),
			true,
		},
		{
			"status endpoint",
			httptest.NewRequest(http.MethodGet, "/status", nil),
			true,
		},
		{
			"registry info endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/registry", nil),
			true,
		},
		{
			"registry save endpoint",
			httptest.NewRequest(http.MethodPost, "/v1/registry/save", nil),
			true,
		},
		{
			"registry load endpoint",
			httptest.NewRequest(http.MethodPost, "/v1/registry/load", nil),
			true,
		},
		{
			"switch account endpoint",
			httptest.NewRequest(http.MethodPut, "/v1/registry/account", nil),
			true,
		},
		{
			"account books endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/accounts/main/books", nil),
			true,
		},
		{
			"sync delay endpoint",
			httptest.NewRequest(http.MethodPost, "/v1/sync/delay", nil),
			true,
		},
		{
			"sync delay release endpoint",
			httptest.NewRequest(http.MethodDelete, "/v1/sync/delay", nil),
			true,
		},
		{
			"add book endpoint",
			httptest.NewRequest(http.MethodPost, "/v1/books", nil),
			true,
		},
		{
			"fetch all books endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/books", nil),
			true,
		},
		{
			"fetch all books endpoint with slash",
			httptest.NewRequest(http.MethodGet, "/v1/books/", nil),
			true,
		},
		{
			"fetch single book endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/books/urn:isbn:9780000000001", nil),
			true,
		},
		{
			"update book endpoint",
			httptest.NewRequest(http.MethodPut, "/v1/books/urn:isbn:9780000000001", nil),
			true,
		},
		{
			"delete book endpoint",
			httptest.NewRequest(http.MethodDelete, "/v1/books/urn:isbn:9780000000002", nil),
			true,
		},
		{
			"book state endpoint",
			httptest.NewRequest(http.MethodPut, "/v1/books/urn:isbn:9780000000001/state", nil),
			true,
		},
		{
			"book bookmarks endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/books/urn:isbn:9780000000001/bookmarks", nil),
			true,
		},
		{
			"book generic bookmarks endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/books/urn:isbn:9780000000001/generic-bookmarks", nil),
			true,
		},
		{
			"book content endpoint",
			httptest.NewRequest(http.MethodDelete, "/v1/books/urn:isbn:9780000000001/content", nil),
			true,
		},
		{
			"fetch single book by query endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/book?id=urn:isbn:9780000000001", nil),
			true,
		},
		{
			"book bookmarks by query endpoint",
			httptest.NewRequest(http.MethodGet, "/v1/book/bookmarks?id=urn:isbn:9780000000001", nil),
			true,
		},
		{
			"book state by query endpoint",
			httptest.NewRequest(http.MethodPut, "/v1/book/state?id=urn:isbn:9780000000001", nil),
			true,
		},
		{
			"invalid api endpoint",
			httptest.NewRequest(http.MethodGet, "/v1", nil),
			false,
		},
		{
			"invalid books endpoint",
			httptest.NewRequest(http.MethodGet, "/books", nil),
			false,
		},
		{
			"invalid sync method",
			httptest.NewRequest(http.MethodGet, "/v1/sync/history", nil),
			false,
		},
	}

	api, registry := newTestAPI(t, nil)
	require.NoError(t, registry.AddBook(newTestBook("urn:isbn:9780000000001", nil), nil, Used, "", nil, nil))
	router := httprouter.New()
	m := &MiddlewareMap{public: (&Middlewares{}).Chain, ops: (&Middlewares{}).Chain}
	api.SetupRegistryRoutes(router, m)
	api.SetupBookRoutes(router, m)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tc.request)
			if tc.implemented {
				assert.NotEqual(t, 404, w.Code)
			} else {
				assert.Equal(t, 404, w.Code)
			}
		})
	}
}

// TestSetupOpsRoutes ensures all expected operations endpoints are implemented.
func TestSetupOpsRoutes(t *testing.T) {
	testCases := []struct {
		name        string
		request     *http.Request
		implemented bool
	}{
		{
			"fetch configs endpoint",
			httptest.NewRequest(http.MethodGet, "/ops/configs", nil),
			true,
		},
		{
			"fetch stats endpoint",
			httptest.NewRequest(http.MethodGet, "/ops/stats", nil),
			true,
		},
		{
			"maintenance mode endpoint",
			httptest.NewRequest(http.MethodGet, "/ops/maintenance", nil),
			true,
		},
		{
			"invalid ops endpoint",
			httptest.NewRequest(http.MethodGet, "/ops", nil),
			false,
		},
		{
			"unknown ops endpoint",
			httptest.NewRequest(http.MethodGet, "/ops/unknown", nil),
			false,
		},
		{
			"events endpoint without consumer",
			httptest.NewRequest(http.MethodGet, "/ops/events", nil),
			false,
		},
		{
			"disabled profiler endpoint",
			httptest.NewRequest(http.MethodGet, "/ops/debug/pprof/", nil),
			false,
		},
	}

	registry, _, _ := newTestRegistry(t, nil, nil)
	config := &Config{ProfilerEnable: false}
	api := NewAPIHandler(zap.NewNop(), config, &Statistics{started: NewMockClocker().Now()}, NewMockClocker(), nil, registry, nil, nil)
	router := httprouter.New()
	m := &MiddlewareMap{public: (&Middlewares{}).Chain, ops: (&Middlewares{}).Chain}
	api.SetupOpsRoutes(router, m)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tc.request)
			if tc.implemented {
				assert.NotEqual(t, 404, w.Code)
			} else {
				assert.Equal(t, 404, w.Code)
			}
		})
	}
}

// TestSetupRoutes ensures ops endpoints follow the configuration.
func TestSetupRoutes(t *testing.T) {
	testCases := []struct {
		name               string
		OpsEndpointsEnable bool
		request            *http.Request
		implemented        bool
	}{
		{
			"ops disable:fetch configs endpoint",
			false,
			httptest.NewRequest(http.MethodGet, "/ops/configs", nil),
			false,
		},
		{
			"ops enable:fetch configs endpoint",
			true,
			httptest.NewRequest(http.MethodGet, "/ops/configs", nil),
			true,
		},
		{
			"ops disable:registry endpoint",
			false,
			httptest.NewRequest(http.MethodGet, "/v1/registry", nil),
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api, _ := newTestAPI(t, nil)
			api.config.OpsEndpointsEnable = tc.OpsEndpointsEnable
			m := &MiddlewareMap{public: (&Middlewares{}).Chain, ops: (&Middlewares{}).Chain}
			router := api.SetupRoutes(httprouter.New(), m)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tc.request)
			if tc.implemented {
				assert.NotEqual(t, 404, w.Code)
			} else {
				assert.Equal(t, 404, w.Code)
			}
		})
	}
}
