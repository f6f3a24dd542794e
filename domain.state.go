package main

import (
	"fmt"
)

// BookState is the download or loan state of a registered book.
type BookState int

const (
	// Unregistered is never stored. Moving a record to it means the record is on its way out.
	Unregistered BookState = iota
	DownloadNeeded
	Downloading
	DownloadFailed
	Downloaded
	Used
	Returning
	Holding
	HoldingFrontOfQueue
	SAMLStarted
	Unsupported
)

var bookStateNames = map[BookState]string{
	Unregistered:        "unregistered",
	DownloadNeeded:      "download-needed",
	Downloading:         "downloading",
	DownloadFailed:      "download-failed",
	Downloaded:          "download-successful",
	Used:                "used",
	Returning:           "returning",
	Holding:             "holding",
	HoldingFrontOfQueue: "holding-front-of-queue",
	SAMLStarted:         "saml-started",
	Unsupported:         "unsupported",
}

// AllBookStates lists every known state in declaration order.
func AllBookStates() []BookState {
	states := make([]BookState, 0, len(bookStateNames))
	for s := Unregistered; s <= Unsupported; s++ {
		states = append(states, s)
	}
	return states
}

func (s BookState) String() string {
	if name, ok := bookStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseBookState maps a persisted state name back to its value.
func ParseBookState(name string) (BookState, error) {
	for s, n := range bookStateNames {
		if n == name {
			return s, nil
		}
	}
	return Unregistered, fmt.Errorf("unknown book state %q", name)
}

// IsHolding reports whether the state describes a hold rather than a loan.
func (s BookState) IsHolding() bool {
	return s == Holding || s == HoldingFrontOfQueue
}

// IsBorrowed reports whether the state belongs to a loan rather than a
// hold or an unsupported entry. Expiry only applies to those.
func (s BookState) IsBorrowed() bool {
	return s != Unregistered && s != Unsupported && !s.IsHolding()
}

// HasLocalContent reports whether the state implies content on disk.
func (s BookState) HasLocalContent() bool {
	return s == Downloaded || s == Used
}

// MarshalText implements encoding.TextMarshaler.
func (s BookState) MarshalText() ([]byte, error) {
	name, ok := bookStateNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal book state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BookState) UnmarshalText(text []byte) error {
	state, err := ParseBookState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}
