package main

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrSyncCancelled  = errors.New("sync cancelled by account switch or reset")
)

// BackgroundFetchResult tells a background caller whether a sync brought new data.
type BackgroundFetchResult int

const (
	BackgroundFetchNewData BackgroundFetchResult = iota
	BackgroundFetchNoData
	BackgroundFetchFailed
)

func (b BackgroundFetchResult) String() string {
	switch b {
	case BackgroundFetchNewData:
		return "new-data"
	case BackgroundFetchNoData:
		return "no-data"
	default:
		return "failed"
	}
}

func (b BackgroundFetchResult) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// SyncResult summarizes a committed merge.
type SyncResult struct {
	ID       string                `json:"id"`
	Account  string                `json:"account"`
	Added    []string              `json:"added"`
	Updated  []string              `json:"updated"`
	Removed  []string              `json:"removed"`
	Retained []string              `json:"retained"`
	NewBooks bool                  `json:"newBooks"`
	Fetch    BackgroundFetchResult `json:"fetch"`
}

type syncJob struct {
	id         string
	account    string
	generation uint64
	resetCache bool
	completion func(SyncResult, error)
	background func(BackgroundFetchResult)

	// set while the commit is held back.
	books   []Book
	cleaned map[string]bool

	done   chan struct{}
	result SyncResult
	err    error
}

// Sync fetches the loans feed of the current account and merges it into
// the registry. It blocks until the merge is committed, which may wait on
// StopDelaySyncCommit. It returns ErrSyncInProgress when another sync runs.
func (r *BookRegistry) Sync(ctx context.Context, resetCache bool) (SyncResult, error) {
	job, err := r.beginSync(resetCache, nil, nil)
	if err != nil {
		return SyncResult{}, err
	}
	r.runSync(ctx, job)
	select {
	case <-job.done:
		return job.result, job.err
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

// SyncResettingCache starts a sync in the background. It returns false and
// never calls back when a sync is already in flight. completion and
// background are optional and run exactly once otherwise.
func (r *BookRegistry) SyncResettingCache(ctx context.Context, resetCache bool, completion func(SyncResult, error), background func(BackgroundFetchResult)) bool {
	job, err := r.beginSync(resetCache, completion, background)
	if err != nil {
		r.logger.Info("registry: sync dropped", zap.Error(err))
		return false
	}
	go r.runSync(ctx, job)
	return true
}

// DelaySyncCommit holds back the merge of syncs finishing from now on.
func (r *BookRegistry) DelaySyncCommit() {
	r.mu.Lock()
	r.delayCommit = true
	r.mu.Unlock()
}

// StopDelaySyncCommit releases the hold and commits a merge that was
// waiting on it.
func (r *BookRegistry) StopDelaySyncCommit(ctx context.Context) {
	r.mu.Lock()
	r.delayCommit = false
	job := r.pending
	r.pending = nil
	if job == nil || !r.isCurrentLocked(job) {
		r.mu.Unlock()
		return
	}
	result, events, err := r.commitLocked(ctx, job, job.books, job.cleaned)
	r.mu.Unlock()

	r.notify(events...)
	r.finish(job, result, err)
}

func (r *BookRegistry) beginSync(resetCache bool, completion func(SyncResult, error), background func(BackgroundFetchResult)) (*syncJob, error) {
	r.mu.Lock()
	if r.account == "" {
		r.mu.Unlock()
		return nil, ErrNoAccount
	}
	if r.activeSync != nil {
		r.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	job := &syncJob{
		id:         r.ids.Generate("sync"),
		account:    r.account,
		generation: r.generation,
		resetCache: resetCache,
		completion: completion,
		background: background,
		done:       make(chan struct{}),
	}
	r.activeSync = job
	r.state = RegistrySyncing
	e := r.event(EventSyncStarted, job.account, nil)
	e.SyncID = job.id
	r.mu.Unlock()

	r.logger.Info("registry: sync started", zap.String("sync.id", job.id), zap.String("account", job.account), zap.Bool("reset", resetCache))
	r.notify(e)
	return job, nil
}

func (r *BookRegistry) isCurrentLocked(job *syncJob) bool {
	return r.activeSync == job && r.generation == job.generation
}

// runSync fetches and cleans without the lock, then merges under it.
func (r *BookRegistry) runSync(ctx context.Context, job *syncJob) {
	books, err := r.fetcher.FetchLoans(ctx, job.account, job.resetCache)
	if err != nil {
		r.mu.Lock()
		current := r.isCurrentLocked(job)
		if current {
			r.activeSync = nil
			r.state = RegistryLoaded
		}
		r.mu.Unlock()
		if current {
			r.logger.Error("registry: sync fetch failed", zap.String("sync.id", job.id), zap.String("account", job.account), zap.Error(err))
			r.finish(job, SyncResult{ID: job.id, Account: job.account, Fetch: BackgroundFetchFailed}, err)
		}
		return
	}

	r.mu.Lock()
	if !r.isCurrentLocked(job) {
		r.mu.Unlock()
		return
	}
	candidates := cleanupCandidates(r.records, books, r.clock)
	r.mu.Unlock()

	cleaned := r.cleanContent(ctx, job, candidates)

	r.mu.Lock()
	if !r.isCurrentLocked(job) {
		r.mu.Unlock()
		return
	}
	if r.delayCommit {
		job.books = books
		job.cleaned = cleaned
		r.pending = job
		r.mu.Unlock()
		r.logger.Info("registry: sync commit delayed", zap.String("sync.id", job.id))
		return
	}
	result, events, err := r.commitLocked(ctx, job, books, cleaned)
	r.mu.Unlock()

	r.notify(events...)
	r.finish(job, result, err)
}

// cleanupCandidates lists the books with local content that the merge is
// about to drop, either gone from the feed or expired.
func cleanupCandidates(records map[string]Record, books []Book, clock Clocker) []string {
	remote := make(map[string]Book, len(books))
	for _, book := range books {
		remote[book.ID] = book
	}
	now := clock.Now()
	var ids []string
	for id, record := range records {
		if !record.State().HasLocalContent() {
			continue
		}
		book, ok := remote[id]
		if !ok || (record.State().IsBorrowed() && IsExpired(book.Availability(), now)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *BookRegistry) cleanContent(ctx context.Context, job *syncJob, ids []string) map[string]bool {
	cleaned := make(map[string]bool, len(ids))
	if r.cleaner == nil {
		return cleaned
	}
	for _, id := range ids {
		if err := r.cleaner.DeleteContent(ctx, job.account, id); err != nil {
			r.logger.Warn("registry: content cleanup failed, keeping record",
				zap.String("sync.id", job.id),
				zap.String("book.id", id),
				zap.Error(err),
			)
			continue
		}
		cleaned[id] = true
	}
	return cleaned
}

// commitLocked merges books into the live map and saves it once.
func (r *BookRegistry) commitLocked(ctx context.Context, job *syncJob, books []Book, cleaned map[string]bool) (SyncResult, []Event, error) {
	now := r.clock.Now()
	result := SyncResult{ID: job.id, Account: job.account}
	merged := make(map[string]Record, len(books))
	remote := make(map[string]bool, len(books))
	var events []Event

	// Records whose content is still on disk stay until it is gone.
	retain := func(record Record) bool {
		if record.State().HasLocalContent() && !cleaned[record.ID()] {
			if job.resetCache {
				record = resetRecordCache(record)
			}
			merged[record.ID()] = record
			result.Retained = append(result.Retained, record.ID())
			return true
		}
		return false
	}
	remove := func(record Record) {
		result.Removed = append(result.Removed, record.ID())
		delete(r.processing, record.ID())
		events = append(events, r.event(EventBookRemoved, job.account, &record))
	}

	for _, book := range books {
		if book.ID == "" {
			continue
		}
		remote[book.ID] = true
		record, exists := r.records[book.ID]
		state := DeriveInitialState(book)
		if exists {
			state = record.State()
		}
		if state.IsBorrowed() && IsExpired(book.Availability(), now) {
			if exists && !retain(record) {
				remove(record)
			}
			continue
		}
		if exists {
			record = record.WithBook(book)
			// holds only move between hold states here.
			if derived := DeriveInitialState(book); state.IsHolding() && derived.IsHolding() {
				record = record.WithState(derived)
			}
			if job.resetCache {
				record = resetRecordCache(record)
			}
			result.Updated = append(result.Updated, book.ID)
			events = append(events, r.event(EventBookUpdated, job.account, &record))
		} else {
			record = NewRecord(book, nil, DeriveInitialState(book), "", nil, nil)
			result.Added = append(result.Added, book.ID)
			events = append(events, r.event(EventBookAdded, job.account, &record))
		}
		merged[book.ID] = record
	}

	for _, record := range sortedRecords(r.records) {
		if remote[record.ID()] {
			continue
		}
		if !retain(record) {
			remove(record)
		}
	}

	r.records = merged
	r.dirty = true
	r.activeSync = nil
	r.state = RegistryLoaded

	sort.Strings(result.Retained)
	result.NewBooks = len(result.Added) > 0
	result.Fetch = BackgroundFetchNoData
	if len(result.Added) > 0 || len(result.Removed) > 0 {
		result.Fetch = BackgroundFetchNewData
	}

	err := r.saveLocked(ctx)
	r.logger.Info("registry: sync committed",
		zap.String("sync.id", job.id),
		zap.String("account", job.account),
		zap.Int("added", len(result.Added)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("removed", len(result.Removed)),
		zap.Int("retained", len(result.Retained)),
	)
	return result, events, err
}

func resetRecordCache(record Record) Record {
	return record.WithLocation(nil).WithReadiumBookmarks(nil).WithGenericBookmarks(nil)
}

// cancelSyncLocked detaches the running sync and moves to a new generation.
func (r *BookRegistry) cancelSyncLocked() *syncJob {
	r.generation++
	job := r.activeSync
	r.activeSync = nil
	r.pending = nil
	return job
}

func (r *BookRegistry) finishCancelled(job *syncJob) {
	if job == nil {
		return
	}
	r.logger.Info("registry: sync cancelled", zap.String("sync.id", job.id), zap.String("account", job.account))
	r.finish(job, SyncResult{ID: job.id, Account: job.account, Fetch: BackgroundFetchFailed}, ErrSyncCancelled)
}

// finish delivers the outcome of job exactly once.
func (r *BookRegistry) finish(job *syncJob, result SyncResult, err error) {
	job.result = result
	job.err = err
	close(job.done)

	e := r.event(EventSyncFinished, job.account, nil)
	e.SyncID = job.id
	if err != nil {
		e.Error = err.Error()
	}
	r.notify(e)

	if job.background != nil {
		job.background(result.Fetch)
	}
	if job.completion != nil {
		job.completion(result, err)
	}
}
