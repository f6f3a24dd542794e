package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestBook builds a borrowable epub book with the given availability.
func newTestBook(id string, availability Availability) Book {
	return Book{
		ID:      id,
		Title:   "Title of " + id,
		Authors: []string{"Jerome Amon"},
		Updated: time.Date(2023, 7, 1, 20, 19, 10, 0, time.UTC),
		Acquisitions: []Acquisition{
			{
				Relation:     RelationBorrow,
				Type:         "application/epub+zip",
				Href:         "https://library.example.org/borrow/" + id,
				Availability: availability,
			},
		},
	}
}

func TestBookState_Names(t *testing.T) {
	for _, state := range AllBookStates() {
		text, err := state.MarshalText()
		require.NoError(t, err)
		var parsed BookState
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, state, parsed)
	}
	assert.Equal(t, "download-successful", Downloaded.String())
	_, err := ParseBookState("lost")
	assert.Error(t, err)
	assert.True(t, HoldingFrontOfQueue.IsHolding())
	assert.False(t, Downloaded.IsHolding())
	assert.True(t, Used.IsBorrowed())
	assert.False(t, Holding.IsBorrowed())
	assert.False(t, Unsupported.IsBorrowed())
	assert.True(t, Used.HasLocalContent())
	assert.False(t, DownloadNeeded.HasLocalContent())
}

func TestAvailabilityFromLinkAttributes(t *testing.T) {
	testCases := []struct {
		name     string
		attrs    LinkAttributes
		expected Availability
	}{
		{
			"no attributes",
			LinkAttributes{},
			Unlimited{},
		},
		{
			"unavailable",
			LinkAttributes{Status: "unavailable", HoldsTotal: "3", CopiesTotal: "2"},
			Unavailable{CopiesHeld: 3, CopiesTotal: 2},
		},
		{
			"available without copies",
			LinkAttributes{Status: "available"},
			Unlimited{},
		},
		{
			"available with copies",
			LinkAttributes{Status: "available", CopiesAvailable: "1", CopiesTotal: "4", Until: "2023-08-01T00:00:00Z"},
			Limited{CopiesAvailable: 1, CopiesTotal: 4, To: time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			"reserved without position",
			LinkAttributes{Status: "reserved", CopiesTotal: "x"},
			Reserved{HoldPosition: 1, CopiesTotal: CopiesUnknown},
		},
		{
			"ready",
			LinkAttributes{Status: "Ready", Since: "2023-07-01"},
			Ready{From: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			"unknown status",
			LinkAttributes{Status: "borrowed"},
			Unlimited{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, AvailabilityFromLinkAttributes(tc.attrs))
		})
	}
}

func TestAvailabilityDictionary(t *testing.T) {
	until := time.Date(2023, 8, 1, 10, 0, 0, 0, time.UTC)
	availabilities := []Availability{
		Unavailable{CopiesHeld: 2, CopiesTotal: 5},
		Limited{CopiesAvailable: 1, CopiesTotal: 5, To: until},
		Unlimited{},
		Reserved{HoldPosition: 3, CopiesTotal: 5, From: until.Add(-time.Hour)},
		Ready{To: until},
	}
	for _, a := range availabilities {
		// go through json as the stored registry does.
		data, err := json.Marshal(AvailabilityDictionary(a))
		require.NoError(t, err)
		dict := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(data, &dict))
		restored, err := AvailabilityFromDictionary(dict)
		require.NoError(t, err)
		assert.Equal(t, a, restored)
	}

	_, err := AvailabilityFromDictionary(map[string]interface{}{"type": "limited"})
	assert.Error(t, err)
	_, err = AvailabilityFromDictionary(map[string]interface{}{"type": "borrowed"})
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	now := NewMockClocker().Now()
	assert.True(t, IsExpired(Unavailable{}, now))
	assert.True(t, IsExpired(Limited{To: now}, now))
	assert.False(t, IsExpired(Limited{To: now.Add(time.Hour)}, now))
	assert.False(t, IsExpired(Limited{}, now))
	assert.True(t, IsExpired(Ready{To: now.Add(-time.Minute)}, now))
	assert.False(t, IsExpired(Reserved{HoldPosition: 1}, now))
	assert.False(t, IsExpired(nil, now))
}

func TestBook_DefaultAcquisition(t *testing.T) {
	book := Book{ID: "b:0", Title: "t", Acquisitions: []Acquisition{
		{Relation: RelationSample, Type: "application/epub+zip"},
		{Relation: RelationBorrow, Type: "application/atom+xml", Indirect: []IndirectAcquisition{
			{Type: "application/vnd.adobe.adept+xml", Indirect: []IndirectAcquisition{{Type: "application/epub+zip"}}},
		}, Availability: Reserved{HoldPosition: 2}},
	}}
	acq, ok := book.DefaultAcquisition()
	require.True(t, ok)
	assert.Equal(t, RelationBorrow, acq.Relation)
	assert.Equal(t, Holding, DeriveInitialState(book))

	unsupported := Book{ID: "b:1", Title: "t", Acquisitions: []Acquisition{{Relation: RelationBorrow, Type: "text/html"}}}
	assert.Equal(t, Unsupported, DeriveInitialState(unsupported))
	assert.Equal(t, DownloadNeeded, DeriveInitialState(newTestBook("b:2", Unlimited{})))
	assert.Equal(t, HoldingFrontOfQueue, DeriveInitialState(newTestBook("b:3", Ready{})))
}

func TestBook_MetadataFrom(t *testing.T) {
	stored := newTestBook("b:0", Unlimited{})
	stored.RevokeURL = "https://library.example.org/revoke"
	incoming := Book{ID: "other", Title: "New title", Summary: "New summary"}
	merged := stored.MetadataFrom(incoming)
	assert.Equal(t, "b:0", merged.ID)
	assert.Equal(t, "New title", merged.Title)
	assert.Equal(t, "New summary", merged.Summary)
	assert.Equal(t, stored.Acquisitions, merged.Acquisitions)
	assert.Equal(t, stored.RevokeURL, merged.RevokeURL)
}

func TestReadiumBookmark_Equal(t *testing.T) {
	a := ReadiumBookmark{Href: "/ch1.xhtml", ProgressWithinBook: 0.25, ProgressWithinChapter: 0.5, Time: "t1"}
	b := a
	b.ProgressWithinBook += progressTolerance / 2
	b.Time = "t2"
	assert.True(t, a.Equal(b))

	c := a
	c.Href = "/ch2.xhtml"
	assert.False(t, a.Equal(c))

	c.AnnotationID = "urn:1"
	d := ReadiumBookmark{AnnotationID: "urn:1", Href: "/ch9.xhtml"}
	assert.True(t, c.Equal(d))
}

func TestBookLocation_Matches(t *testing.T) {
	l1 := BookLocation{Renderer: "pdf", LocationString: `{"page":3,"timeStamp":"2023-07-01"}`}
	l2 := BookLocation{Renderer: "pdf", LocationString: `{"timeStamp":"2023-07-02","page":3}`}
	l3 := BookLocation{Renderer: "pdf", LocationString: `{"page":4}`}
	l4 := BookLocation{Renderer: "epub", LocationString: `{"page":3}`}
	raw := BookLocation{Renderer: "pdf", LocationString: "not json"}

	assert.True(t, l1.Matches(l2))
	assert.False(t, l1.Matches(l3))
	assert.False(t, l1.Matches(l4))
	assert.True(t, raw.Matches(raw))
	assert.False(t, raw.Matches(BookLocation{Renderer: "pdf", LocationString: "other"}))
}

func TestRecord_RoundTrip(t *testing.T) {
	location := &BookLocation{Renderer: "readium", LocationString: `{"href":"/ch1.xhtml"}`}
	record := NewRecord(
		newTestBook("b:0", Limited{CopiesAvailable: 1, CopiesTotal: 2, To: time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)}),
		location,
		Downloaded,
		"urn:fulfillment:1",
		[]ReadiumBookmark{{Href: "/ch1.xhtml", ProgressWithinBook: 0.1, Time: "t"}},
		[]BookLocation{{Renderer: "pdf", LocationString: `{"page":1}`}},
	)

	dict, err := record.Dictionary()
	require.NoError(t, err)
	assert.Equal(t, "download-successful", dict["state"])

	restored, err := RecordFromDictionary(dict)
	require.NoError(t, err)
	assert.Equal(t, record.ID(), restored.ID())
	assert.Equal(t, record.State(), restored.State())
	assert.Equal(t, record.FulfillmentID(), restored.FulfillmentID())
	assert.Equal(t, record.Location(), restored.Location())
	assert.Equal(t, record.ReadiumBookmarks(), restored.ReadiumBookmarks())
	assert.Equal(t, record.GenericBookmarks(), restored.GenericBookmarks())
	assert.Equal(t, record.Book().Availability(), restored.Book().Availability())
}

func TestRecord_Decode(t *testing.T) {
	t.Run("missing bookmarks", func(t *testing.T) {
		var r Record
		err := json.Unmarshal([]byte(`{"metadata":{"id":"b:0","title":"t"},"state":"used","extra":1}`), &r)
		require.NoError(t, err)
		assert.Equal(t, Used, r.State())
		assert.Empty(t, r.ReadiumBookmarks())
		assert.NotNil(t, r.GenericBookmarks())
		assert.Nil(t, r.Location())
	})

	t.Run("missing metadata", func(t *testing.T) {
		var r Record
		err := json.Unmarshal([]byte(`{"state":"used"}`), &r)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("unknown state", func(t *testing.T) {
		var r Record
		err := json.Unmarshal([]byte(`{"metadata":{"id":"b:0"},"state":"lost"}`), &r)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
}

func TestRecord_Immutable(t *testing.T) {
	bookmarks := []ReadiumBookmark{{Href: "/a"}}
	record := NewRecord(newTestBook("b:0", nil), nil, DownloadNeeded, "", bookmarks, nil)
	bookmarks[0].Href = "/changed"
	assert.Equal(t, "/a", record.ReadiumBookmarks()[0].Href)

	got := record.ReadiumBookmarks()
	got[0].Href = "/changed"
	assert.Equal(t, "/a", record.ReadiumBookmarks()[0].Href)

	sibling := record.WithState(Used)
	assert.Equal(t, DownloadNeeded, record.State())
	assert.Equal(t, Used, sibling.State())
}

func TestEncodeDecodeRegistry(t *testing.T) {
	records := map[string]Record{
		"b:1": NewRecord(newTestBook("b:1", nil), nil, Used, "", nil, nil),
		"b:0": NewRecord(newTestBook("b:0", nil), nil, Holding, "", nil, nil),
	}
	data, err := EncodeRegistry(records)
	require.NoError(t, err)

	decoded, err := DecodeRegistry(zap.NewNop(), data)
	require.NoError(t, err)
	assert.Len(t, decoded, 2)
	assert.Equal(t, Holding, decoded["b:0"].State())

	_, err = DecodeRegistry(zap.NewNop(), []byte("{not json"))
	assert.ErrorIs(t, err, ErrCorruptRegistry)

	partial, err := DecodeRegistry(zap.NewNop(), []byte(`{"records":[{"state":"used"},{"metadata":{"id":"b:2"},"state":"used"}]}`))
	require.NoError(t, err)
	assert.Len(t, partial, 1)
}
