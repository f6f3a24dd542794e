package main

import (
	"context"
	"sync"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

type MockRegistryStorage struct {
	LoadFunc   func(ctx context.Context, account string) (map[string]Record, error)
	SaveFunc   func(ctx context.Context, account string, records map[string]Record) error
	DeleteFunc func(ctx context.Context, account string) error
	CloseFunc  func() error
}

// Load mocks the behavior of reading a registry by the repository.
func (m *MockRegistryStorage) Load(ctx context.Context, account string) (map[string]Record, error) {
	return m.LoadFunc(ctx, account)
}

// Save mocks the behavior of writing a registry by the repository.
func (m *MockRegistryStorage) Save(ctx context.Context, account string, records map[string]Record) error {
	return m.SaveFunc(ctx, account, records)
}

// Delete mocks the behavior of deleting a registry by the repository.
func (m *MockRegistryStorage) Delete(ctx context.Context, account string) error {
	return m.DeleteFunc(ctx, account)
}

func (m *MockRegistryStorage) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// NewMemoryRegistryStorage returns a storage mock keeping registries in memory.
// The returned counter tracks the number of saves.
func NewMemoryRegistryStorage() (*MockRegistryStorage, *int) {
	var mu sync.Mutex
	data := map[string]map[string]Record{}
	saves := new(int)
	return &MockRegistryStorage{
		LoadFunc: func(_ context.Context, account string) (map[string]Record, error) {
			mu.Lock()
			defer mu.Unlock()
			stored, ok := data[account]
			if !ok {
				return nil, ErrRegistryNotFound
			}
			out := make(map[string]Record, len(stored))
			for id, r := range stored {
				out[id] = r
			}
			return out, nil
		},
		SaveFunc: func(_ context.Context, account string, records map[string]Record) error {
			mu.Lock()
			defer mu.Unlock()
			stored := make(map[string]Record, len(records))
			for id, r := range records {
				stored[id] = r
			}
			data[account] = stored
			*saves++
			return nil
		},
		DeleteFunc: func(_ context.Context, account string) error {
			mu.Lock()
			defer mu.Unlock()
			delete(data, account)
			return nil
		},
	}, saves
}

// MockLoansFetcher implements a fake LoansFetcher.
type MockLoansFetcher struct {
	FetchLoansFunc func(ctx context.Context, account string, noCache bool) ([]Book, error)
}

func (m *MockLoansFetcher) FetchLoans(ctx context.Context, account string, noCache bool) ([]Book, error) {
	return m.FetchLoansFunc(ctx, account, noCache)
}

// NewBlockingLoansFetcher returns a fetcher serving books once release is closed.
func NewBlockingLoansFetcher(books []Book, release <-chan struct{}) *MockLoansFetcher {
	return &MockLoansFetcher{
		FetchLoansFunc: func(ctx context.Context, _ string, _ bool) ([]Book, error) {
			select {
			case <-release:
				return books, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// MockContentCleaner implements a fake ContentCleaner.
type MockContentCleaner struct {
	DeleteContentFunc func(ctx context.Context, account, id string) error
}

func (m *MockContentCleaner) DeleteContent(ctx context.Context, account, id string) error {
	return m.DeleteContentFunc(ctx, account, id)
}

// MockQueuer implements a fake Queuer.
type MockQueuer struct {
	PushFunc func(ctx context.Context, qid string, e Event) error
	PopFunc  func(ctx context.Context, qids ...string) (string, Event, error)
}

func (m *MockQueuer) Push(ctx context.Context, qid string, e Event) error {
	return m.PushFunc(ctx, qid, e)
}

func (m *MockQueuer) Pop(ctx context.Context, qids ...string) (string, Event, error) {
	return m.PopFunc(ctx, qids...)
}

// MockClocker implements a fake TickerClocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
// equals to `2023-07-02 00:00:00 +0000 UTC` in String format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

func (mck *MockClocker) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}
