package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Record is the registry entry of one book. It is an immutable value:
// every With method returns a sibling and leaves the receiver untouched,
// so a record read from the registry can never change under its reader.
type Record struct {
	book          Book
	location      *BookLocation
	state         BookState
	fulfillmentID string
	readium       []ReadiumBookmark
	generic       []BookLocation
}

// NewRecord builds a record. Nil bookmark lists are stored as empty ones.
func NewRecord(book Book, location *BookLocation, state BookState, fulfillmentID string, readium []ReadiumBookmark, generic []BookLocation) Record {
	return Record{
		book:          book,
		location:      copyLocation(location),
		state:         state,
		fulfillmentID: fulfillmentID,
		readium:       copyReadium(readium),
		generic:       copyGeneric(generic),
	}
}

func copyLocation(l *BookLocation) *BookLocation {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func copyReadium(in []ReadiumBookmark) []ReadiumBookmark {
	out := make([]ReadiumBookmark, len(in))
	copy(out, in)
	return out
}

func copyGeneric(in []BookLocation) []BookLocation {
	out := make([]BookLocation, len(in))
	copy(out, in)
	return out
}

func (r Record) ID() string { return r.book.ID }
func (r Record) Book() Book { return r.book }
func (r Record) State() BookState { return r.state }
func (r Record) FulfillmentID() string { return r.fulfillmentID }
func (r Record) Location() *BookLocation { return copyLocation(r.location) }

func (r Record) ReadiumBookmarks() []ReadiumBookmark { return copyReadium(r.readium) }
func (r Record) GenericBookmarks() []BookLocation { return copyGeneric(r.generic) }

func (r Record) WithBook(book Book) Record {
	r.book = book
	return r
}

func (r Record) WithState(state BookState) Record {
	r.state = state
	return r
}

func (r Record) WithLocation(location *BookLocation) Record {
	r.location = copyLocation(location)
	return r
}

func (r Record) WithFulfillmentID(id string) Record {
	r.fulfillmentID = id
	return r
}

func (r Record) WithReadiumBookmarks(bookmarks []ReadiumBookmark) Record {
	r.readium = copyReadium(bookmarks)
	return r
}

func (r Record) WithGenericBookmarks(bookmarks []BookLocation) Record {
	r.generic = copyGeneric(bookmarks)
	return r
}

// DeriveInitialState picks the state of a book seen for the first time
// from the availability of its default acquisition.
func DeriveInitialState(book Book) BookState {
	acq, ok := book.DefaultAcquisition()
	if !ok {
		return Unsupported
	}
	state := DownloadNeeded
	MatchAvailability(acq.Availability, AvailabilityCases{
		Reserved: func(Reserved) { state = Holding },
		Ready:    func(Ready) { state = HoldingFrontOfQueue },
	})
	return state
}

// recordDocument is the persisted form of a record.
type recordDocument struct {
	Book             *Book             `json:"metadata"`
	State            string            `json:"state"`
	FulfillmentID    string            `json:"fulfillmentId,omitempty"`
	Location         *BookLocation     `json:"location,omitempty"`
	ReadiumBookmarks []ReadiumBookmark `json:"bookmarks"`
	GenericBookmarks []BookLocation    `json:"genericBookmarks"`
}

var ErrInvalidRecord = errors.New("invalid registry record")

func (r Record) MarshalJSON() ([]byte, error) {
	book := r.book
	return json.Marshal(recordDocument{
		Book:             &book,
		State:            r.state.String(),
		FulfillmentID:    r.fulfillmentID,
		Location:         r.location,
		ReadiumBookmarks: r.readium,
		GenericBookmarks: r.generic,
	})
}

// UnmarshalJSON decodes a persisted record. Unknown keys are ignored and
// missing bookmark lists decode as empty.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if doc.Book == nil || doc.Book.ID == "" {
		return fmt.Errorf("%w: missing metadata", ErrInvalidRecord)
	}
	state, err := ParseBookState(doc.State)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	*r = NewRecord(*doc.Book, doc.Location, state, doc.FulfillmentID, doc.ReadiumBookmarks, doc.GenericBookmarks)
	return nil
}

// Dictionary returns the record in its persisted key/value form.
func (r Record) Dictionary() (map[string]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dict := map[string]interface{}{}
	if err := json.Unmarshal(data, &dict); err != nil {
		return nil, err
	}
	return dict, nil
}

// RecordFromDictionary is the inverse of Record.Dictionary.
func RecordFromDictionary(dict map[string]interface{}) (Record, error) {
	var r Record
	data, err := json.Marshal(dict)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	err = json.Unmarshal(data, &r)
	return r, err
}
