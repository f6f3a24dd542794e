package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatusClientClosedRequest is the nginx status used in stats when the
// client went away before the registry answered.
const StatusClientClosedRequest = 499

// statusRecorder wraps http.ResponseWriter to keep the status code sent for
// the stats. It holds the connection so long running handlers like content
// transfers can push the write deadline through http.ResponseController.
type statusRecorder struct {
	http.ResponseWriter
	conn  net.Conn
	code  int
	wrote bool
}

func newStatusRecorder(w http.ResponseWriter, c net.Conn) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, conn: c, code: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wrote {
		return
	}
	sr.code = code
	sr.wrote = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wrote {
		sr.WriteHeader(sr.code)
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Status() int {
	return sr.code
}

// Unwrap is used by http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// SetWriteDeadline is called by http.ResponseController.SetWriteDeadline.
func (sr *statusRecorder) SetWriteDeadline(t time.Time) error {
	if sr.conn == nil {
		return http.ErrNotSupported
	}
	return sr.conn.SetWriteDeadline(t)
}

// APIError is the data model sent when an error occurred during request processing.
type APIError struct {
	RequestID string      `json:"requestid"`
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

// APIResponse is the data model sent when a request succeed. Total is only
// set by the listing endpoints.
type APIResponse struct {
	RequestID string      `json:"requestid"`
	Status    int         `json:"status"`
	Message   string      `json:"message"`
	Total     *int        `json:"total,omitempty"`
	Data      interface{} `json:"data"`
}

func NewAPIError(requestid string, status int, message string, data interface{}) *APIError {
	return &APIError{RequestID: requestid, Status: status, Message: message, Data: data}
}

func GenericResponse(requestid string, status int, message string, total *int, data interface{}) *APIResponse {
	return &APIResponse{RequestID: requestid, Status: status, Message: message, Total: total, Data: data}
}

// StatusResponse is the data model sent when status endpoint is called.
type StatusResponse struct {
	RequestID string `json:"requestid"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Account   string `json:"account"`
}

// statusFromError maps registry, feed and content errors to http status codes.
func statusFromError(err error) int {
	var problem *ProblemDocument
	switch {
	case errors.Is(err, ErrBookNotFound), errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnregisteredState), errors.Is(err, ErrInvalidBook), errors.Is(err, ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrNoAccount), errors.Is(err, ErrSyncCancelled):
		return http.StatusConflict
	case errors.As(err, &problem):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON sends v with status unless the request context is already done.
// Then it only records 504 on timeout or 499 on client cancellation for the stats.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.WriteHeader(http.StatusGatewayTimeout)
		} else {
			w.WriteHeader(StatusClientClosedRequest)
		}
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func WriteErrorResponse(ctx context.Context, w http.ResponseWriter, errResp *APIError) error {
	return writeJSON(ctx, w, errResp.Status, errResp)
}

func WriteResponse(ctx context.Context, w http.ResponseWriter, resp *APIResponse) error {
	return writeJSON(ctx, w, resp.Status, resp)
}

// sendError logs the failure with the request logger then answers the client.
func (api *APIHandler) sendError(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}, err error) {
	logger := api.GetLoggerFromContext(r.Context())
	logger.Error(message, zap.Int("status", status), zap.Error(err))
	errResp := NewAPIError(GetValueFromContext(r.Context(), ContextRequestID), status, message, data)
	if err = WriteErrorResponse(r.Context(), w, errResp); err != nil {
		logger.Error("failed to send error response", zap.Error(err))
	}
}

// sendFailure answers with the status matching err.
func (api *APIHandler) sendFailure(w http.ResponseWriter, r *http.Request, message string, data interface{}, err error) {
	api.sendError(w, r, statusFromError(err), message, data, err)
}

// sendResponse sends a success response to client.
func (api *APIHandler) sendResponse(w http.ResponseWriter, r *http.Request, status int, message string, total *int, data interface{}) {
	resp := GenericResponse(GetValueFromContext(r.Context(), ContextRequestID), status, message, total, data)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send response", zap.Error(err))
	}
}
