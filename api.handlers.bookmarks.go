package main

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

type readiumReplaceRequest struct {
	Old ReadiumBookmark `json:"old"`
	New ReadiumBookmark `json:"new"`
}

type genericReplaceRequest struct {
	Old BookLocation `json:"old"`
	New BookLocation `json:"new"`
}

func (api *APIHandler) GetReadiumBookmarks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	if _, ok := api.registry.Record(id); !ok {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
		return
	}
	bookmarks := api.registry.ReadiumBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmarks fetched successfully.", &total, bookmarks)
}

func (api *APIHandler) AddReadiumBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var bookmark ReadiumBookmark
	if err := DecodeRequestBody(r, &bookmark); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to add the bookmark", err.Error(), err)
		return
	}
	if err := api.registry.AddReadiumBookmark(id, bookmark); err != nil {
		api.sendFailure(w, r, "failed to add the bookmark", id, err)
		return
	}
	bookmarks := api.registry.ReadiumBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusCreated, "Bookmark added successfully.", &total, bookmarks)
}

func (api *APIHandler) DeleteReadiumBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var bookmark ReadiumBookmark
	if err := DecodeRequestBody(r, &bookmark); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to delete the bookmark", err.Error(), err)
		return
	}
	if err := api.registry.DeleteReadiumBookmark(id, bookmark); err != nil {
		api.sendFailure(w, r, "failed to delete the bookmark", id, err)
		return
	}
	bookmarks := api.registry.ReadiumBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmark deleted successfully.", &total, bookmarks)
}

func (api *APIHandler) ReplaceReadiumBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req readiumReplaceRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to replace the bookmark", err.Error(), err)
		return
	}
	if err := api.registry.ReplaceReadiumBookmark(id, req.Old, req.New); err != nil {
		api.sendFailure(w, r, "failed to replace the bookmark", id, err)
		return
	}
	bookmarks := api.registry.ReadiumBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmark replaced successfully.", &total, bookmarks)
}

func (api *APIHandler) GetGenericBookmarks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	if _, ok := api.registry.Record(id); !ok {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
		return
	}
	bookmarks := api.registry.GenericBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmarks fetched successfully.", &total, bookmarks)
}

// AddGenericBookmark appends a bookmark. With replace=true a matching
// bookmark is swapped for the new one.
func (api *APIHandler) AddGenericBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var location BookLocation
	if err := DecodeRequestBody(r, &location); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to add the bookmark", err.Error(), err)
		return
	}
	var err error
	if replace, _ := strconv.ParseBool(r.URL.Query().Get("replace")); replace {
		err = api.registry.AddOrReplaceGenericBookmark(id, location)
	} else {
		err = api.registry.AddGenericBookmark(id, location)
	}
	if err != nil {
		api.sendFailure(w, r, "failed to add the bookmark", id, err)
		return
	}
	bookmarks := api.registry.GenericBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusCreated, "Bookmark added successfully.", &total, bookmarks)
}

func (api *APIHandler) DeleteGenericBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var location BookLocation
	if err := DecodeRequestBody(r, &location); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to delete the bookmark", err.Error(), err)
		return
	}
	if err := api.registry.DeleteGenericBookmark(id, location); err != nil {
		api.sendFailure(w, r, "failed to delete the bookmark", id, err)
		return
	}
	bookmarks := api.registry.GenericBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmark deleted successfully.", &total, bookmarks)
}

func (api *APIHandler) ReplaceGenericBookmark(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req genericReplaceRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to replace the bookmark", err.Error(), err)
		return
	}
	if err := api.registry.ReplaceGenericBookmark(id, req.Old, req.New); err != nil {
		api.sendFailure(w, r, "failed to replace the bookmark", id, err)
		return
	}
	bookmarks := api.registry.GenericBookmarks(id)
	total := len(bookmarks)
	api.sendResponse(w, r, http.StatusOK, "Bookmark replaced successfully.", &total, bookmarks)
}
