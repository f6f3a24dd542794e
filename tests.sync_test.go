package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFetcher(books []Book, err error) *MockLoansFetcher {
	return &MockLoansFetcher{
		FetchLoansFunc: func(context.Context, string, bool) ([]Book, error) {
			return books, err
		},
	}
}

func TestSync_MergesRemoteBooks(t *testing.T) {
	now := NewMockClocker().Now()
	remote := []Book{
		newTestBook("b:new", Unlimited{}),
		newTestBook("b:held", Ready{From: now.Add(-time.Hour)}),
		newTestBook("b:used", Limited{CopiesAvailable: 1, To: now.Add(24 * time.Hour)}),
		newTestBook("b:expired", Limited{To: now.Add(-time.Hour)}),
	}
	registry, _, saves := newTestRegistry(t, staticFetcher(remote, nil), nil)
	require.NoError(t, registry.AddBook(newTestBook("b:held", Reserved{HoldPosition: 3}), nil, Holding, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:used", nil), nil, Used, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:expired", nil), nil, DownloadNeeded, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:gone", nil), nil, DownloadNeeded, "", nil, nil))

	result, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"b:new"}, result.Added)
	assert.ElementsMatch(t, []string{"b:held", "b:used"}, result.Updated)
	assert.ElementsMatch(t, []string{"b:expired", "b:gone"}, result.Removed)
	assert.True(t, result.NewBooks)
	assert.Equal(t, BackgroundFetchNewData, result.Fetch)

	assert.Equal(t, DownloadNeeded, registry.BookState("b:new"))
	assert.Equal(t, HoldingFrontOfQueue, registry.BookState("b:held"))
	assert.Equal(t, Used, registry.BookState("b:used"))
	assert.Equal(t, Unregistered, registry.BookState("b:expired"))
	assert.Equal(t, Unregistered, registry.BookState("b:gone"))
	assert.Equal(t, RegistryLoaded, registry.State())
	assert.False(t, registry.Syncing())
	assert.Equal(t, 1, *saves)
}

func TestSync_ExpiryOnlyDropsLoans(t *testing.T) {
	now := NewMockClocker().Now()
	unavailable := Unavailable{CopiesHeld: 3, CopiesTotal: 1}
	remote := []Book{
		newTestBook("b:held", unavailable),
		newTestBook("b:unsupported", unavailable),
		newTestBook("b:front", Ready{To: now.Add(-time.Hour)}),
		newTestBook("b:loan", unavailable),
	}
	registry, _, _ := newTestRegistry(t, staticFetcher(remote, nil), nil)
	require.NoError(t, registry.AddBook(newTestBook("b:held", Reserved{HoldPosition: 1}), nil, Holding, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:unsupported", nil), nil, Unsupported, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:front", Ready{}), nil, HoldingFrontOfQueue, "", nil, nil))
	require.NoError(t, registry.AddBook(newTestBook("b:loan", nil), nil, DownloadNeeded, "", nil, nil))

	result, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:loan"}, result.Removed)
	assert.Equal(t, Holding, registry.BookState("b:held"))
	assert.Equal(t, Unsupported, registry.BookState("b:unsupported"))
	assert.Equal(t, HoldingFrontOfQueue, registry.BookState("b:front"))
	assert.Equal(t, Unregistered, registry.BookState("b:loan"))
}

func TestSync_NoChangesReportsNoData(t *testing.T) {
	registry, _, _ := newTestRegistry(t, staticFetcher([]Book{newTestBook("b:0", nil)}, nil), nil)
	require.NoError(t, registry.AddBook(newTestBook("b:0", nil), nil, Used, "", nil, nil))

	result, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.NewBooks)
	assert.Equal(t, BackgroundFetchNoData, result.Fetch)
}

func TestSync_ResetCacheClearsReadingData(t *testing.T) {
	registry, _, _ := newTestRegistry(t, staticFetcher([]Book{newTestBook("b:0", nil)}, nil), nil)
	location := &BookLocation{Renderer: "pdf", LocationString: `{"page":9}`}
	require.NoError(t, registry.AddBook(newTestBook("b:0", nil), location, Used, "urn:f",
		[]ReadiumBookmark{{Href: "/ch1.xhtml"}}, []BookLocation{*location}))

	_, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, location, registry.Location("b:0"))

	_, err = registry.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, registry.Location("b:0"))
	assert.Empty(t, registry.ReadiumBookmarks("b:0"))
	assert.Empty(t, registry.GenericBookmarks("b:0"))
	assert.Equal(t, Used, registry.BookState("b:0"))
	assert.Equal(t, "urn:f", registry.FulfillmentID("b:0"))
}

func TestSync_LocalContentCleanup(t *testing.T) {
	t.Run("cleaner fails", func(t *testing.T) {
		cleaner := &MockContentCleaner{
			DeleteContentFunc: func(context.Context, string, string) error {
				return errors.New("device busy")
			},
		}
		registry, _, _ := newTestRegistry(t, staticFetcher(nil, nil), cleaner)
		require.NoError(t, registry.AddBook(newTestBook("b:0", nil), nil, Downloaded, "", nil, nil))
		require.NoError(t, registry.AddBook(newTestBook("b:1", nil), nil, DownloadNeeded, "", nil, nil))

		result, err := registry.Sync(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"b:0"}, result.Retained)
		assert.Equal(t, []string{"b:1"}, result.Removed)
		assert.Equal(t, Downloaded, registry.BookState("b:0"))
	})

	t.Run("cleaner succeeds", func(t *testing.T) {
		var deleted []string
		cleaner := &MockContentCleaner{
			DeleteContentFunc: func(_ context.Context, account, id string) error {
				assert.Equal(t, "main", account)
				deleted = append(deleted, id)
				return nil
			},
		}
		registry, _, _ := newTestRegistry(t, staticFetcher(nil, nil), cleaner)
		require.NoError(t, registry.AddBook(newTestBook("b:0", nil), nil, Used, "", nil, nil))

		result, err := registry.Sync(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"b:0"}, deleted)
		assert.Equal(t, []string{"b:0"}, result.Removed)
		assert.Equal(t, 0, registry.Count())
	})

	t.Run("no cleaner", func(t *testing.T) {
		registry, _, _ := newTestRegistry(t, staticFetcher(nil, nil), nil)
		require.NoError(t, registry.AddBook(newTestBook("b:0", nil), nil, Used, "", nil, nil))

		result, err := registry.Sync(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"b:0"}, result.Retained)
		assert.Equal(t, Used, registry.BookState("b:0"))
	})
}

func TestSync_FetchFailureKeepsRegistry(t *testing.T) {
	registry, _, saves := newTestRegistry(t, staticFetcher(nil, errors.New("feed down")), nil)
	require.NoError(t, registry.AddBook(newTestBook("b:0", nil), nil, DownloadNeeded, "", nil, nil))

	result, err := registry.Sync(context.Background(), false)
	assert.EqualError(t, err, "feed down")
	assert.Equal(t, BackgroundFetchFailed, result.Fetch)
	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 0, *saves)
	assert.Equal(t, RegistryLoaded, registry.State())
}

func TestSync_AtMostOneInFlight(t *testing.T) {
	release := make(chan struct{})
	registry, _, _ := newTestRegistry(t, NewBlockingLoansFetcher([]Book{newTestBook("b:0", nil)}, release), nil)

	results := make(chan BackgroundFetchResult, 2)
	completions := make(chan error, 2)
	started := registry.SyncResettingCache(context.Background(), false,
		func(_ SyncResult, err error) { completions <- err },
		func(r BackgroundFetchResult) { results <- r },
	)
	require.True(t, started)
	assert.True(t, registry.Syncing())
	assert.Equal(t, RegistrySyncing, registry.State())

	second := registry.SyncResettingCache(context.Background(), false,
		func(_ SyncResult, err error) { completions <- err },
		func(r BackgroundFetchResult) { results <- r },
	)
	assert.False(t, second)
	_, err := registry.Sync(context.Background(), false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	select {
	case err := <-completions:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not complete")
	}
	assert.Equal(t, BackgroundFetchNewData, <-results)
	assert.Len(t, completions, 0)
	assert.Len(t, results, 0)
	assert.Equal(t, DownloadNeeded, registry.BookState("b:0"))
}

func TestSync_DelayedCommit(t *testing.T) {
	registry, _, _ := newTestRegistry(t, staticFetcher([]Book{newTestBook("b:0", nil)}, nil), nil)
	registry.DelaySyncCommit()

	done := make(chan SyncResult, 1)
	require.True(t, registry.SyncResettingCache(context.Background(), false, func(r SyncResult, err error) {
		assert.NoError(t, err)
		done <- r
	}, nil))

	require.Eventually(t, func() bool {
		registry.mu.Lock()
		defer registry.mu.Unlock()
		return registry.pending != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, registry.Count())
	assert.True(t, registry.Syncing())

	registry.StopDelaySyncCommit(context.Background())
	select {
	case r := <-done:
		assert.Equal(t, []string{"b:0"}, r.Added)
	case <-time.After(5 * time.Second):
		t.Fatal("delayed sync did not commit")
	}
	assert.Equal(t, 1, registry.Count())
	assert.False(t, registry.Syncing())

	// without a pending merge the call only lifts the hold.
	registry.StopDelaySyncCommit(context.Background())
	_, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)
}

func TestSync_CancelledByAccountSwitch(t *testing.T) {
	release := make(chan struct{})
	registry, _, _ := newTestRegistry(t, NewBlockingLoansFetcher([]Book{newTestBook("b:0", nil)}, release), nil)

	completions := make(chan error, 1)
	require.True(t, registry.SyncResettingCache(context.Background(), false, func(_ SyncResult, err error) {
		completions <- err
	}, nil))

	require.NoError(t, registry.SwitchAccount(context.Background(), "other"))
	select {
	case err := <-completions:
		assert.ErrorIs(t, err, ErrSyncCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("sync was not cancelled")
	}
	assert.False(t, registry.Syncing())

	close(release)
	// the stale fetch must not land in the new account.
	require.Never(t, func() bool { return registry.Count() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	ids, err := registry.BookIdentifiersForAccount(context.Background(), "main")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_CancelledByReset(t *testing.T) {
	registry, _, _ := newTestRegistry(t, staticFetcher([]Book{newTestBook("b:0", nil)}, nil), nil)
	registry.DelaySyncCommit()

	completions := make(chan error, 1)
	require.True(t, registry.SyncResettingCache(context.Background(), false, func(_ SyncResult, err error) {
		completions <- err
	}, nil))
	require.Eventually(t, func() bool {
		registry.mu.Lock()
		defer registry.mu.Unlock()
		return registry.pending != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, registry.Reset(context.Background()))
	assert.ErrorIs(t, <-completions, ErrSyncCancelled)

	registry.StopDelaySyncCommit(context.Background())
	assert.Equal(t, 0, registry.Count())
}

func TestSync_EventsAreOrdered(t *testing.T) {
	registry, _, _ := newTestRegistry(t, staticFetcher([]Book{newTestBook("b:0", nil)}, nil), nil)
	recorder := &eventsRecorder{}
	registry.Subscribe(recorder.observe)

	_, err := registry.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventSyncStarted, EventBookAdded, EventSyncFinished}, recorder.kinds())
}
