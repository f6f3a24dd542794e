package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// RegistryInfo describes the live registry.
type RegistryInfo struct {
	Account string `json:"account"`
	State   string `json:"state"`
	Books   int    `json:"books"`
	Syncing bool   `json:"syncing"`
}

// AccountBooks is a read-only listing of the registry of an account.
type AccountBooks struct {
	Account     string   `json:"account"`
	Identifiers []string `json:"identifiers"`
	Held        []Book   `json:"held"`
	Mine        []Book   `json:"mine"`
}

type accountRequest struct {
	Account string `json:"account"`
}

func (api *APIHandler) registryInfo() RegistryInfo {
	return RegistryInfo{
		Account: api.registry.Account(),
		State:   api.registry.State().String(),
		Books:   api.registry.Count(),
		Syncing: api.registry.Syncing(),
	}
}

func (api *APIHandler) GetRegistry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.sendResponse(w, r, http.StatusOK, "Registry fetched successfully.", nil, api.registryInfo())
}

func (api *APIHandler) SaveRegistry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := api.registry.Save(r.Context()); err != nil {
		api.sendFailure(w, r, "failed to save the registry", api.registryInfo(), err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Registry saved successfully.", nil, api.registryInfo())
}

// LoadRegistry reloads the registry from storage, dropping unsaved changes.
func (api *APIHandler) LoadRegistry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := api.registry.JustLoad(r.Context()); err != nil {
		api.sendFailure(w, r, "failed to load the registry", api.registryInfo(), err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Registry loaded successfully.", nil, api.registryInfo())
}

func (api *APIHandler) ResetRegistry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := api.registry.Reset(r.Context()); err != nil {
		api.sendFailure(w, r, "failed to reset the registry", api.registryInfo(), err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Registry reset successfully.", nil, api.registryInfo())
}

func (api *APIHandler) SwitchAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req accountRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to switch account", err.Error(), err)
		return
	}
	if req.Account == "" {
		api.sendError(w, r, http.StatusBadRequest, "failed to switch account", missingFieldError("account").Error(), ErrNoAccount)
		return
	}
	if err := api.registry.SwitchAccount(r.Context(), req.Account); err != nil {
		api.sendFailure(w, r, "failed to switch account", api.registryInfo(), err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Account switched successfully.", nil, api.registryInfo())
}

// Sync merges the loans feed into the registry. With wait=true the call
// blocks until the merge is committed, otherwise it answers 202 as soon
// as the sync started. Both answer 409 when a sync is already running.
//
//nolint:bodyclose
func (api *APIHandler) Sync(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	q := r.URL.Query()
	reset, _ := strconv.ParseBool(q.Get("reset"))
	wait, _ := strconv.ParseBool(q.Get("wait"))

	if !wait {
		logger := api.logger.With(zap.String("request.id", requestID))
		started := api.registry.SyncResettingCache(context.WithoutCancel(r.Context()), reset, func(result SyncResult, err error) {
			if err != nil {
				logger.Error("background sync failed", zap.String("sync.id", result.ID), zap.Error(err))
				return
			}
			logger.Info("background sync done", zap.String("sync.id", result.ID), zap.Int("added", len(result.Added)), zap.Int("removed", len(result.Removed)))
		}, nil)
		if !started {
			api.sendError(w, r, http.StatusConflict, "sync not started", api.registryInfo(), ErrSyncInProgress)
			return
		}
		api.sendResponse(w, r, http.StatusAccepted, "Sync started.", nil, api.registryInfo())
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(api.config.Server.LongRequestWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		api.logger.Error("http: failed to update the write deadline", zap.String("request.id", requestID), zap.Error(err))
	}
	result, err := api.registry.Sync(r.Context(), reset)
	if err != nil {
		api.sendFailure(w, r, "sync failed", err.Error(), err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Sync committed successfully.", nil, result)
}

func (api *APIHandler) DelaySyncCommit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.registry.DelaySyncCommit()
	api.sendResponse(w, r, http.StatusOK, "Sync commits delayed.", nil, api.registryInfo())
}

func (api *APIHandler) StopDelaySyncCommit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.registry.StopDelaySyncCommit(context.WithoutCancel(r.Context()))
	api.sendResponse(w, r, http.StatusOK, "Sync commits resumed.", nil, api.registryInfo())
}

// GetAccountBooks lists the registry of any account without switching to it.
func (api *APIHandler) GetAccountBooks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	account := ps.ByName("account")
	var listing AccountBooks
	err := api.registry.PerformUsingAccount(r.Context(), account, func(v RegistryView) {
		listing = AccountBooks{
			Account:     v.Account(),
			Identifiers: v.Identifiers(),
			Held:        v.HeldBooks(),
			Mine:        v.MyBooks(),
		}
	})
	if err != nil {
		api.sendFailure(w, r, "failed to read the account registry", account, err)
		return
	}
	total := len(listing.Identifiers)
	api.sendResponse(w, r, http.StatusOK, "Account books fetched successfully.", &total, listing)
}

func (api *APIHandler) ResetAccount(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	account := ps.ByName("account")
	if err := api.registry.ResetAccount(r.Context(), account); err != nil {
		api.sendFailure(w, r, "failed to reset the account registry", account, err)
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Account registry reset successfully.", nil, account)
}
