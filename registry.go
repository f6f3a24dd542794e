package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnregisteredState = errors.New("state unregistered cannot be stored")
	ErrNoAccount         = errors.New("no account selected")
	ErrInvalidBook       = errors.New("invalid book")
)

// RegistryState is the lifecycle state of the live map.
type RegistryState int

const (
	RegistryUnloaded RegistryState = iota
	RegistryLoading
	RegistryLoaded
	RegistrySyncing
)

func (s RegistryState) String() string {
	switch s {
	case RegistryLoading:
		return "loading"
	case RegistryLoaded:
		return "loaded"
	case RegistrySyncing:
		return "syncing"
	default:
		return "unloaded"
	}
}

// BookRegistry maps book ids to records for the current account. A single
// mutex guards the live map. Storage I/O happens under that mutex only for
// Save, JustLoad and account switches. Remote fetches never hold it.
type BookRegistry struct {
	logger  *zap.Logger
	clock   Clocker
	ids     UIDHandler
	storage RegistryStorage
	fetcher LoansFetcher
	cleaner ContentCleaner

	mu         sync.Mutex
	account    string
	records    map[string]Record
	processing map[string]bool
	state      RegistryState
	dirty      bool
	// generation changes whenever the live map is swapped or wiped. A sync
	// started under another generation must not commit.
	generation  uint64
	activeSync  *syncJob
	delayCommit bool
	pending     *syncJob

	obsMu        sync.RWMutex
	observers    map[uint64]Observer
	nextObserver uint64
}

// NewBookRegistry provides an empty registry with no account selected.
// SwitchAccount loads the first account.
func NewBookRegistry(logger *zap.Logger, clock Clocker, ids UIDHandler, storage RegistryStorage, fetcher LoansFetcher, cleaner ContentCleaner) *BookRegistry {
	return &BookRegistry{
		logger:     logger,
		clock:      clock,
		ids:        ids,
		storage:    storage,
		fetcher:    fetcher,
		cleaner:    cleaner,
		records:    map[string]Record{},
		processing: map[string]bool{},
		observers:  map[uint64]Observer{},
	}
}

// Account returns the current account.
func (r *BookRegistry) Account() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// State returns the lifecycle state of the registry.
func (r *BookRegistry) State() RegistryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddBook inserts or overwrites the record of book. The Unregistered state
// is refused.
func (r *BookRegistry) AddBook(book Book, location *BookLocation, state BookState, fulfillmentID string, readium []ReadiumBookmark, generic []BookLocation) error {
	if state == Unregistered {
		r.logger.Error("registry: refusing to add book in unregistered state", zap.String("book.id", book.ID))
		return ErrUnregisteredState
	}
	if err := book.Validate(); err != nil {
		r.logger.Error("registry: refusing to add invalid book", zap.String("book.id", book.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidBook, err)
	}

	r.mu.Lock()
	_, existed := r.records[book.ID]
	record := NewRecord(book, location, state, fulfillmentID, readium, generic)
	r.records[book.ID] = record
	r.dirty = true
	kind := EventBookAdded
	if existed {
		kind = EventBookUpdated
	}
	e := r.event(kind, r.account, &record)
	r.mu.Unlock()

	r.notify(e)
	return nil
}

// UpdateBook replaces the metadata of a registered book and keeps
// everything else. Unknown books are ignored.
func (r *BookRegistry) UpdateBook(book Book) error {
	r.mu.Lock()
	record, ok := r.records[book.ID]
	if !ok {
		r.mu.Unlock()
		return ErrBookNotFound
	}
	record = record.WithBook(book)
	r.records[book.ID] = record
	r.dirty = true
	e := r.event(EventBookUpdated, r.account, &record)
	r.mu.Unlock()

	r.notify(e)
	return nil
}

// UpdatedBookMetadata returns the stored book with its descriptive fields
// taken from book. The registry is left untouched.
func (r *BookRegistry) UpdatedBookMetadata(book Book) (Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[book.ID]
	if !ok {
		return Book{}, false
	}
	return record.Book().MetadataFrom(book), true
}

// UpdateAndRemoveBook stores book with the Unregistered state, lets the
// observers see it, then deletes the record.
func (r *BookRegistry) UpdateAndRemoveBook(book Book) error {
	r.mu.Lock()
	record, ok := r.records[book.ID]
	if !ok {
		r.mu.Unlock()
		return ErrBookNotFound
	}
	record = record.WithBook(book).WithState(Unregistered)
	r.records[book.ID] = record
	generation := r.generation
	account := r.account
	events := []Event{
		r.event(EventBookUpdated, account, &record),
		r.event(EventStateChanged, account, &record),
	}
	r.mu.Unlock()

	r.notify(events...)

	r.mu.Lock()
	var removed []Event
	if current, ok := r.records[book.ID]; ok && r.generation == generation && current.State() == Unregistered {
		delete(r.records, book.ID)
		delete(r.processing, book.ID)
		r.dirty = true
		removed = append(removed, r.event(EventBookRemoved, account, &current))
	}
	r.mu.Unlock()

	r.notify(removed...)
	return nil
}

// RemoveBook deletes the record of id. Removing an unknown id does nothing.
func (r *BookRegistry) RemoveBook(id string) {
	r.mu.Lock()
	record, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.records, id)
	delete(r.processing, id)
	r.dirty = true
	e := r.event(EventBookRemoved, r.account, &record)
	r.mu.Unlock()

	r.notify(e)
}

// Record returns the record of id.
func (r *BookRegistry) Record(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	return record, ok
}

// Book returns the stored metadata of id.
func (r *BookRegistry) Book(id string) (Book, bool) {
	record, ok := r.Record(id)
	if !ok {
		return Book{}, false
	}
	return record.Book(), true
}

// BookState returns the state of id, Unregistered when unknown.
func (r *BookRegistry) BookState(id string) BookState {
	record, ok := r.Record(id)
	if !ok {
		return Unregistered
	}
	return record.State()
}

// Location returns the reading position of id, nil when unknown or unset.
func (r *BookRegistry) Location(id string) *BookLocation {
	record, ok := r.Record(id)
	if !ok {
		return nil
	}
	return record.Location()
}

// FulfillmentID returns the fulfillment id of id, empty when unknown or unset.
func (r *BookRegistry) FulfillmentID(id string) string {
	record, ok := r.Record(id)
	if !ok {
		return ""
	}
	return record.FulfillmentID()
}

// Processing reports whether a long running operation is flagged on id.
func (r *BookRegistry) Processing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processing[id]
}

// mutate swaps the record of id for fn(record) under the lock and notifies
// the observers. Unknown ids are logged and reported as ErrBookNotFound.
func (r *BookRegistry) mutate(op, id string, fn func(Record) Record, kinds ...EventKind) error {
	r.mu.Lock()
	record, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Error("registry: operation on unknown book", zap.String("op", op), zap.String("book.id", id))
		return ErrBookNotFound
	}
	record = fn(record)
	r.records[id] = record
	r.dirty = true
	events := make([]Event, 0, len(kinds))
	for _, kind := range kinds {
		events = append(events, r.event(kind, r.account, &record))
	}
	r.mu.Unlock()

	r.notify(events...)
	return nil
}

// SetState changes the state of id. Unregistered removes the book once
// the observers have seen the change.
func (r *BookRegistry) SetState(id string, state BookState) error {
	if state == Unregistered {
		book, ok := r.Book(id)
		if !ok {
			r.logger.Error("registry: operation on unknown book", zap.String("op", "set_state"), zap.String("book.id", id))
			return ErrBookNotFound
		}
		return r.UpdateAndRemoveBook(book)
	}
	return r.mutate("set_state", id, func(rec Record) Record {
		return rec.WithState(state)
	}, EventStateChanged)
}

func (r *BookRegistry) SetLocation(id string, location *BookLocation) error {
	return r.mutate("set_location", id, func(rec Record) Record {
		return rec.WithLocation(location)
	}, EventBookUpdated)
}

func (r *BookRegistry) SetFulfillmentID(id, fulfillmentID string) error {
	return r.mutate("set_fulfillment_id", id, func(rec Record) Record {
		return rec.WithFulfillmentID(fulfillmentID)
	}, EventBookUpdated)
}

// SetProcessing flags or clears id as being processed. The flag is not persisted.
func (r *BookRegistry) SetProcessing(id string, processing bool) error {
	r.mu.Lock()
	record, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Error("registry: operation on unknown book", zap.String("op", "set_processing"), zap.String("book.id", id))
		return ErrBookNotFound
	}
	if processing {
		r.processing[id] = true
	} else {
		delete(r.processing, id)
	}
	e := r.event(EventProcessingChanged, r.account, &record)
	e.Processing = processing
	r.mu.Unlock()

	r.notify(e)
	return nil
}

// AllBooks returns every registered book ordered by id.
func (r *BookRegistry) AllBooks() []Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newRecordsView(r.account, r.records).AllBooks()
}

// HeldBooks returns the books on hold.
func (r *BookRegistry) HeldBooks() []Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newRecordsView(r.account, r.records).HeldBooks()
}

// MyBooks returns the books that are not on hold.
func (r *BookRegistry) MyBooks() []Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newRecordsView(r.account, r.records).MyBooks()
}

func (r *BookRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Syncing reports whether a sync is running or waiting to commit.
func (r *BookRegistry) Syncing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeSync != nil
}

// Save writes the live map of the current account to storage. A failure
// leaves the in-memory map as it is.
func (r *BookRegistry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx)
}

func (r *BookRegistry) saveLocked(ctx context.Context) error {
	if r.account == "" {
		return ErrNoAccount
	}
	if err := r.storage.Save(ctx, r.account, r.records); err != nil {
		r.logger.Error("registry: failed to save", zap.String("account", r.account), zap.Error(err))
		return fmt.Errorf("save registry of %s: %w", r.account, err)
	}
	r.dirty = false
	return nil
}

// loadLocked reads the registry of account. Missing or corrupt data gives
// an empty map. Interrupted downloads come back as failed ones.
func (r *BookRegistry) loadLocked(ctx context.Context, account string) map[string]Record {
	loaded, err := r.storage.Load(ctx, account)
	switch {
	case errors.Is(err, ErrRegistryNotFound):
		return map[string]Record{}
	case err != nil:
		r.logger.Error("registry: failed to load, starting empty", zap.String("account", account), zap.Error(err))
		return map[string]Record{}
	}
	records := make(map[string]Record, len(loaded))
	for id, record := range loaded {
		switch record.State() {
		case Unregistered:
			continue
		case Downloading, SAMLStarted:
			record = record.WithState(DownloadFailed)
		}
		records[id] = record
	}
	return records
}

// JustLoad replaces the live map with the stored registry of the current
// account. Unsaved changes are dropped.
func (r *BookRegistry) JustLoad(ctx context.Context) error {
	r.mu.Lock()
	if r.account == "" {
		r.mu.Unlock()
		return ErrNoAccount
	}
	r.state = RegistryLoading
	r.records = r.loadLocked(ctx, r.account)
	r.state = RegistryLoaded
	if r.activeSync != nil {
		r.state = RegistrySyncing
	}
	r.dirty = false
	r.mu.Unlock()
	return nil
}

// SwitchAccount saves the live map when it has changes, then loads the
// registry of account. A sync in flight for the previous account is cancelled.
func (r *BookRegistry) SwitchAccount(ctx context.Context, account string) error {
	if account == "" {
		return ErrNoAccount
	}
	r.mu.Lock()
	if r.account == account && r.state != RegistryUnloaded {
		r.mu.Unlock()
		return nil
	}
	var saveErr error
	if r.account != "" && r.dirty {
		saveErr = r.saveLocked(ctx)
	}
	previous := r.account
	r.state = RegistryLoading
	r.account = account
	r.records = r.loadLocked(ctx, account)
	r.processing = map[string]bool{}
	r.dirty = false
	cancelled := r.cancelSyncLocked()
	r.state = RegistryLoaded
	e := r.event(EventAccountChanged, account, nil)
	r.mu.Unlock()

	r.finishCancelled(cancelled)
	r.logger.Info("registry: account switched", zap.String("account.previous", previous), zap.String("account", account))
	r.notify(e)
	return saveErr
}

// Reset wipes the registry of the current account in memory and in storage.
func (r *BookRegistry) Reset(ctx context.Context) error {
	r.mu.Lock()
	if r.account == "" {
		r.mu.Unlock()
		return ErrNoAccount
	}
	account := r.account
	r.records = map[string]Record{}
	r.processing = map[string]bool{}
	r.dirty = false
	cancelled := r.cancelSyncLocked()
	r.state = RegistryUnloaded
	err := r.storage.Delete(ctx, account)
	e := r.event(EventRegistryReset, account, nil)
	r.mu.Unlock()

	r.finishCancelled(cancelled)
	r.notify(e)
	if err != nil {
		r.logger.Error("registry: failed to delete stored registry", zap.String("account", account), zap.Error(err))
		return fmt.Errorf("reset registry of %s: %w", account, err)
	}
	return nil
}

// ResetAccount wipes the registry of account. The current account is
// reset like Reset does, other accounts only lose their stored data.
func (r *BookRegistry) ResetAccount(ctx context.Context, account string) error {
	r.mu.Lock()
	current := r.account
	r.mu.Unlock()
	if account == current {
		return r.Reset(ctx)
	}
	if err := r.storage.Delete(ctx, account); err != nil {
		r.logger.Error("registry: failed to delete stored registry", zap.String("account", account), zap.Error(err))
		return fmt.Errorf("reset registry of %s: %w", account, err)
	}
	r.notify(r.event(EventRegistryReset, account, nil))
	return nil
}

// PerformUsingAccount runs fn against a read-only view of the registry of
// account while holding the registry lock. The live map is untouched. fn
// must not call back into the registry.
func (r *BookRegistry) PerformUsingAccount(ctx context.Context, account string, fn func(RegistryView)) error {
	if account == "" {
		return ErrNoAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.records
	if account != r.account {
		records = r.loadLocked(ctx, account)
	}
	fn(newRecordsView(account, records))
	return nil
}

// BookIdentifiersForAccount lists the book ids registered for account.
func (r *BookRegistry) BookIdentifiersForAccount(ctx context.Context, account string) ([]string, error) {
	var ids []string
	err := r.PerformUsingAccount(ctx, account, func(v RegistryView) {
		ids = v.Identifiers()
	})
	return ids, err
}

// RunAutoSave saves the registry whenever it changed since the last save,
// and one last time when ctx is done.
func (r *BookRegistry) RunAutoSave(ctx context.Context, clock TickerClocker, interval time.Duration) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.saveIfDirty(context.Background())
			r.logger.Info("registry: autosave stopped", zap.String("reason", ctx.Err().Error()))
			return nil
		case <-ticker.C:
			r.saveIfDirty(ctx)
		}
	}
}

func (r *BookRegistry) saveIfDirty(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty || r.account == "" {
		return
	}
	_ = r.saveLocked(ctx)
}

// RegistryView is a read-only view over the records of one account.
type RegistryView interface {
	Account() string
	Record(id string) (Record, bool)
	Book(id string) (Book, bool)
	BookState(id string) BookState
	Identifiers() []string
	AllBooks() []Book
	HeldBooks() []Book
	MyBooks() []Book
	Count() int
}

type recordsView struct {
	account string
	records map[string]Record
}

func newRecordsView(account string, records map[string]Record) *recordsView {
	return &recordsView{account: account, records: records}
}

func (v *recordsView) Account() string { return v.account }

func (v *recordsView) Count() int { return len(v.records) }

func (v *recordsView) Record(id string) (Record, bool) {
	record, ok := v.records[id]
	return record, ok
}

func (v *recordsView) Book(id string) (Book, bool) {
	record, ok := v.records[id]
	if !ok {
		return Book{}, false
	}
	return record.Book(), true
}

func (v *recordsView) BookState(id string) BookState {
	record, ok := v.records[id]
	if !ok {
		return Unregistered
	}
	return record.State()
}

func (v *recordsView) Identifiers() []string {
	ids := make([]string, 0, len(v.records))
	for id := range v.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *recordsView) books(keep func(BookState) bool) []Book {
	books := []Book{}
	for _, record := range sortedRecords(v.records) {
		if keep(record.State()) {
			books = append(books, record.Book())
		}
	}
	return books
}

func (v *recordsView) AllBooks() []Book {
	return v.books(func(BookState) bool { return true })
}

func (v *recordsView) HeldBooks() []Book {
	return v.books(func(s BookState) bool { return s.IsHolding() })
}

func (v *recordsView) MyBooks() []Book {
	return v.books(func(s BookState) bool { return !s.IsHolding() })
}
