package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// BookView is the record of a book together with its processing flag.
type BookView struct {
	Record     Record `json:"record"`
	Processing bool   `json:"processing"`
}

type stateRequest struct {
	State BookState `json:"state"`
}

type locationRequest struct {
	Location *BookLocation `json:"location"`
}

type fulfillmentRequest struct {
	FulfillmentID string `json:"fulfillmentId"`
}

type processingRequest struct {
	Processing bool `json:"processing"`
}

// GetBooks lists the registered books. The view query parameter picks
// all (default), held or mine.
func (api *APIHandler) GetBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var books []Book
	view := r.URL.Query().Get("view")
	switch view {
	case "", "all":
		books = api.registry.AllBooks()
	case "held":
		books = api.registry.HeldBooks()
	case "mine":
		books = api.registry.MyBooks()
	default:
		api.sendError(w, r, http.StatusBadRequest, "unknown books view", view, fmt.Errorf("view %q", view))
		return
	}
	total := len(books)
	api.sendResponse(w, r, http.StatusOK, "Books fetched successfully.", &total, books)
}

// AddBook registers a book from a record document.
func (api *APIHandler) AddBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var record Record
	if err := DecodeRequestBody(r, &record); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to add the book", err.Error(), err)
		return
	}
	_, existed := api.registry.Record(record.ID())
	err := api.registry.AddBook(record.Book(), record.Location(), record.State(), record.FulfillmentID(), record.ReadiumBookmarks(), record.GenericBookmarks())
	if err != nil {
		api.sendFailure(w, r, "failed to add the book", err.Error(), err)
		return
	}
	status, message := http.StatusCreated, "Book added successfully."
	if existed {
		status, message = http.StatusOK, "Book replaced successfully."
	}
	stored, _ := api.registry.Record(record.ID())
	api.sendResponse(w, r, status, message, nil, stored)
}

// GetBook provides the record of a book.
func (api *APIHandler) GetBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	record, ok := api.registry.Record(id)
	if !ok {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book fetched successfully.", nil, BookView{Record: record, Processing: api.registry.Processing(id)})
}

// UpdateBook replaces the metadata of a book. With merge=true only the
// descriptive fields are taken from the payload.
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var book Book
	if err := DecodeRequestBody(r, &book); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", err.Error(), err)
		return
	}
	if book.ID == "" {
		book.ID = id
	}
	if book.ID != id {
		api.sendError(w, r, http.StatusBadRequest, "book id does not match the path", book.ID, ErrInvalidBook)
		return
	}
	if merge, _ := strconv.ParseBool(r.URL.Query().Get("merge")); merge {
		merged, ok := api.registry.UpdatedBookMetadata(book)
		if !ok {
			api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
			return
		}
		book = merged
	}
	if err := book.Validate(); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", err.Error(), err)
		return
	}
	if err := api.registry.UpdateBook(book); err != nil {
		api.sendFailure(w, r, "failed to update the book", id, err)
		return
	}
	record, _ := api.registry.Record(id)
	api.sendResponse(w, r, http.StatusOK, "Book updated successfully.", nil, record)
}

// DeleteBook removes a book. With unregister=true observers see the book
// move to the unregistered state before it goes away.
func (api *APIHandler) DeleteBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	if unregister, _ := strconv.ParseBool(r.URL.Query().Get("unregister")); unregister {
		book, ok := api.registry.Book(id)
		if !ok {
			api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
			return
		}
		if err := api.registry.UpdateAndRemoveBook(book); err != nil {
			api.sendFailure(w, r, "failed to remove the book", id, err)
			return
		}
		api.sendResponse(w, r, http.StatusOK, "Book unregistered successfully.", nil, id)
		return
	}
	api.registry.RemoveBook(id)
	api.sendResponse(w, r, http.StatusOK, "Book removed successfully.", nil, id)
}

// SetBookState changes the state of a book.
func (api *APIHandler) SetBookState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req stateRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to set the book state", err.Error(), err)
		return
	}
	if err := api.registry.SetState(id, req.State); err != nil {
		api.sendFailure(w, r, "failed to set the book state", id, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book state set successfully.", nil, api.registry.BookState(id))
}

// SetBookLocation changes or clears the reading position of a book.
func (api *APIHandler) SetBookLocation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req locationRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to set the book location", err.Error(), err)
		return
	}
	if err := api.registry.SetLocation(id, req.Location); err != nil {
		api.sendFailure(w, r, "failed to set the book location", id, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book location set successfully.", nil, api.registry.Location(id))
}

// SetBookFulfillment changes the fulfillment id of a book.
func (api *APIHandler) SetBookFulfillment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req fulfillmentRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to set the book fulfillment id", err.Error(), err)
		return
	}
	if err := api.registry.SetFulfillmentID(id, req.FulfillmentID); err != nil {
		api.sendFailure(w, r, "failed to set the book fulfillment id", id, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book fulfillment id set successfully.", nil, api.registry.FulfillmentID(id))
}

// SetBookProcessing flags or clears a book as being processed.
func (api *APIHandler) SetBookProcessing(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	var req processingRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to set the book processing flag", err.Error(), err)
		return
	}
	if err := api.registry.SetProcessing(id, req.Processing); err != nil {
		api.sendFailure(w, r, "failed to set the book processing flag", id, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book processing flag set successfully.", nil, api.registry.Processing(id))
}

// GetBookContent streams the downloaded content of a book.
//
//nolint:bodyclose
func (api *APIHandler) GetBookContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	id := BookIDFromRequest(r, ps)
	account := api.registry.Account()
	content, err := api.content.OpenContent(r.Context(), account, id)
	if err != nil {
		api.sendFailure(w, r, "failed to open the book content", id, err)
		return
	}
	defer content.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(api.config.Server.LongRequestWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		api.logger.Error("http: failed to update the write deadline", zap.String("request.id", requestID), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = io.Copy(w, content); err != nil {
		api.logger.Error("failed to send book content", zap.String("request.id", requestID), zap.String("book.id", id), zap.Error(err))
	}
}

// PutBookContent stores the content of a registered book and marks it downloaded.
func (api *APIHandler) PutBookContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	if _, ok := api.registry.Record(id); !ok {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", id, ErrBookNotFound)
		return
	}
	if r.Body == nil {
		api.sendError(w, r, http.StatusBadRequest, "missing book content", id, errors.New("empty body"))
		return
	}
	_ = api.registry.SetState(id, Downloading)
	size, err := api.content.PutContent(r.Context(), api.registry.Account(), id, r.Body)
	if err != nil {
		_ = api.registry.SetState(id, DownloadFailed)
		api.sendError(w, r, http.StatusInternalServerError, "failed to store the book content", id, err)
		return
	}
	if err = api.registry.SetState(id, Downloaded); err != nil {
		api.sendFailure(w, r, "failed to mark the book downloaded", id, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book content stored successfully.", nil, map[string]interface{}{
		"id":    id,
		"bytes": size,
		"state": Downloaded,
	})
}

// DeleteBookContent removes the content of a book and resets it to download-needed.
func (api *APIHandler) DeleteBookContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := BookIDFromRequest(r, ps)
	if err := api.content.DeleteContent(r.Context(), api.registry.Account(), id); err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to delete the book content", id, err)
		return
	}
	if api.registry.BookState(id).HasLocalContent() {
		_ = api.registry.SetState(id, DownloadNeeded)
	}
	api.sendResponse(w, r, http.StatusOK, "Book content deleted successfully.", nil, id)
}
