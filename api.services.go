package main

import (
	"context"
)

// Ensure *BookRegistry implements RegistryServiceProvider.
var _ RegistryServiceProvider = (*BookRegistry)(nil)

// RegistryServiceProvider is the registry surface exposed over the API.
type RegistryServiceProvider interface {
	Account() string
	State() RegistryState
	Count() int
	Syncing() bool

	AddBook(book Book, location *BookLocation, state BookState, fulfillmentID string, readium []ReadiumBookmark, generic []BookLocation) error
	UpdateBook(book Book) error
	UpdatedBookMetadata(book Book) (Book, bool)
	UpdateAndRemoveBook(book Book) error
	RemoveBook(id string)

	Record(id string) (Record, bool)
	Book(id string) (Book, bool)
	BookState(id string) BookState
	Location(id string) *BookLocation
	FulfillmentID(id string) string
	Processing(id string) bool

	SetState(id string, state BookState) error
	SetLocation(id string, location *BookLocation) error
	SetFulfillmentID(id, fulfillmentID string) error
	SetProcessing(id string, processing bool) error

	ReadiumBookmarks(id string) []ReadiumBookmark
	AddReadiumBookmark(id string, bookmark ReadiumBookmark) error
	DeleteReadiumBookmark(id string, bookmark ReadiumBookmark) error
	ReplaceReadiumBookmark(id string, old, updated ReadiumBookmark) error

	GenericBookmarks(id string) []BookLocation
	AddGenericBookmark(id string, location BookLocation) error
	DeleteGenericBookmark(id string, location BookLocation) error
	ReplaceGenericBookmark(id string, old, updated BookLocation) error
	AddOrReplaceGenericBookmark(id string, location BookLocation) error

	AllBooks() []Book
	HeldBooks() []Book
	MyBooks() []Book

	Save(ctx context.Context) error
	JustLoad(ctx context.Context) error
	Sync(ctx context.Context, resetCache bool) (SyncResult, error)
	SyncResettingCache(ctx context.Context, resetCache bool, completion func(SyncResult, error), background func(BackgroundFetchResult)) bool
	DelaySyncCommit()
	StopDelaySyncCommit(ctx context.Context)
	SwitchAccount(ctx context.Context, account string) error
	Reset(ctx context.Context) error
	ResetAccount(ctx context.Context, account string) error
	PerformUsingAccount(ctx context.Context, account string, fn func(RegistryView)) error
	BookIdentifiersForAccount(ctx context.Context, account string) ([]string, error)
}
