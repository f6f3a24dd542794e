package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// SetupRegistryRoutes injects the registry, account and sync endpoints.
func (api *APIHandler) SetupRegistryRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.GET("/", m.public(api.Index))
	router.GET("/status", m.public(api.Status))

	router.GET("/v1/registry", m.public(api.GetRegistry))
	router.DELETE("/v1/registry", m.public(api.ResetRegistry))
	router.POST("/v1/registry/save", m.public(api.SaveRegistry))
	router.POST("/v1/registry/load", m.public(api.LoadRegistry))
	router.PUT("/v1/registry/account", m.public(api.SwitchAccount))

	router.GET("/v1/accounts/:account/books", m.public(api.GetAccountBooks))
	router.DELETE("/v1/accounts/:account", m.public(api.ResetAccount))

	router.POST("/v1/sync", m.public(api.Sync))
	router.POST("/v1/sync/delay", m.public(api.DelaySyncCommit))
	router.DELETE("/v1/sync/delay", m.public(api.StopDelaySyncCommit))
	return router
}

// SetupBookRoutes injects book related the api endpoints. Every single book
// endpoint exists twice: /v1/books/:id/... for plain ids and /v1/book/...?id=
// for ids holding slashes.
func (api *APIHandler) SetupBookRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.POST("/v1/books", m.public(api.AddBook))
	router.GET("/v1/books", m.public(api.GetBooks))

	routes := []struct {
		method string
		suffix string
		handle httprouter.Handle
	}{
		{http.MethodGet, "", api.GetBook},
		{http.MethodPut, "", api.UpdateBook},
		{http.MethodDelete, "", api.DeleteBook},

		{http.MethodPut, "/state", api.SetBookState},
		{http.MethodPut, "/location", api.SetBookLocation},
		{http.MethodPut, "/fulfillment", api.SetBookFulfillment},
		{http.MethodPut, "/processing", api.SetBookProcessing},

		{http.MethodGet, "/bookmarks", api.GetReadiumBookmarks},
		{http.MethodPost, "/bookmarks", api.AddReadiumBookmark},
		{http.MethodPut, "/bookmarks", api.ReplaceReadiumBookmark},
		{http.MethodDelete, "/bookmarks", api.DeleteReadiumBookmark},

		{http.MethodGet, "/generic-bookmarks", api.GetGenericBookmarks},
		{http.MethodPost, "/generic-bookmarks", api.AddGenericBookmark},
		{http.MethodPut, "/generic-bookmarks", api.ReplaceGenericBookmark},
		{http.MethodDelete, "/generic-bookmarks", api.DeleteGenericBookmark},

		{http.MethodGet, "/content", api.GetBookContent},
		{http.MethodPut, "/content", api.PutBookContent},
		{http.MethodDelete, "/content", api.DeleteBookContent},
	}
	for _, route := range routes {
		handle := m.public(route.handle)
		router.Handle(route.method, "/v1/books/:id"+route.suffix, handle)
		router.Handle(route.method, "/v1/book"+route.suffix, handle)
	}
	return router
}
