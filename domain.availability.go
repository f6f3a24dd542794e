package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Copies counts library copies. CopiesUnknown marks a count the feed did not provide.
type Copies int

const CopiesUnknown Copies = -1

// Availability is the closed set of OPDS acquisition availabilities. The only
// implementations are Unavailable, Limited, Unlimited, Reserved and Ready.
// Consumers go through Accept so that adding a variant breaks every caller
// at compile time.
type Availability interface {
	// Since is when the availability began. Zero when unknown.
	Since() time.Time
	// Until is when the availability ends. Zero when unknown.
	Until() time.Time
	Accept(v AvailabilityVisitor)

	sealed()
}

// AvailabilityVisitor must handle every availability variant.
type AvailabilityVisitor interface {
	VisitUnavailable(Unavailable)
	VisitLimited(Limited)
	VisitUnlimited(Unlimited)
	VisitReserved(Reserved)
	VisitReady(Ready)
}

var (
	_ Availability = Unavailable{}
	_ Availability = Limited{}
	_ Availability = Unlimited{}
	_ Availability = Reserved{}
	_ Availability = Ready{}

	_ AvailabilityVisitor = AvailabilityCases{}
	_ AvailabilityVisitor = (*availabilityEncoder)(nil)
)

type Unavailable struct {
	CopiesHeld  Copies
	CopiesTotal Copies
}

func (Unavailable) Since() time.Time { return time.Time{} }
func (Unavailable) Until() time.Time { return time.Time{} }
func (a Unavailable) Accept(v AvailabilityVisitor) { v.VisitUnavailable(a) }
func (Unavailable) sealed() {}

type Limited struct {
	CopiesAvailable Copies
	CopiesTotal     Copies
	From            time.Time
	To              time.Time
}

func (a Limited) Since() time.Time { return a.From }
func (a Limited) Until() time.Time { return a.To }
func (a Limited) Accept(v AvailabilityVisitor) { v.VisitLimited(a) }
func (Limited) sealed() {}

type Unlimited struct{}

func (Unlimited) Since() time.Time { return time.Time{} }
func (Unlimited) Until() time.Time { return time.Time{} }
func (a Unlimited) Accept(v AvailabilityVisitor) { v.VisitUnlimited(a) }
func (Unlimited) sealed() {}

// Reserved is a hold. HoldPosition 1 means next in line and is never 0.
type Reserved struct {
	HoldPosition int
	CopiesTotal  Copies
	From         time.Time
	To           time.Time
}

func (a Reserved) Since() time.Time { return a.From }
func (a Reserved) Until() time.Time { return a.To }
func (a Reserved) Accept(v AvailabilityVisitor) { v.VisitReserved(a) }
func (Reserved) sealed() {}

// Ready is a hold that can be borrowed now.
type Ready struct {
	From time.Time
	To   time.Time
}

func (a Ready) Since() time.Time { return a.From }
func (a Ready) Until() time.Time { return a.To }
func (a Ready) Accept(v AvailabilityVisitor) { v.VisitReady(a) }
func (Ready) sealed() {}

// AvailabilityCases adapts optional per-variant callbacks into a visitor.
// A nil callback skips that variant.
type AvailabilityCases struct {
	Unavailable func(Unavailable)
	Limited     func(Limited)
	Unlimited   func(Unlimited)
	Reserved    func(Reserved)
	Ready       func(Ready)
}

func (c AvailabilityCases) VisitUnavailable(a Unavailable) {
	if c.Unavailable != nil {
		c.Unavailable(a)
	}
}

func (c AvailabilityCases) VisitLimited(a Limited) {
	if c.Limited != nil {
		c.Limited(a)
	}
}

func (c AvailabilityCases) VisitUnlimited(a Unlimited) {
	if c.Unlimited != nil {
		c.Unlimited(a)
	}
}

func (c AvailabilityCases) VisitReserved(a Reserved) {
	if c.Reserved != nil {
		c.Reserved(a)
	}
}

func (c AvailabilityCases) VisitReady(a Ready) {
	if c.Ready != nil {
		c.Ready(a)
	}
}

// MatchAvailability runs the callback matching the variant of a. A nil
// availability is handled as Unlimited.
func MatchAvailability(a Availability, cases AvailabilityCases) {
	if a == nil {
		a = Unlimited{}
	}
	a.Accept(cases)
}

// LinkAttributes carries the raw availability attributes of an OPDS
// acquisition link: opds:availability, opds:holds and opds:copies.
type LinkAttributes struct {
	Status          string
	Since           string
	Until           string
	HoldsTotal      string
	HoldsPosition   string
	CopiesTotal     string
	CopiesAvailable string
}

func parseCopies(s string) Copies {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return CopiesUnknown
	}
	return Copies(n)
}

func parseFeedTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func holdPosition(n Copies) int {
	if n < 1 {
		return 1
	}
	return int(n)
}

// AvailabilityFromLinkAttributes interprets link attributes. Anything it
// cannot make sense of is Unlimited.
func AvailabilityFromLinkAttributes(attrs LinkAttributes) Availability {
	since := parseFeedTime(attrs.Since)
	until := parseFeedTime(attrs.Until)
	copiesTotal := parseCopies(attrs.CopiesTotal)
	copiesAvailable := parseCopies(attrs.CopiesAvailable)
	holdsTotal := parseCopies(attrs.HoldsTotal)

	switch strings.ToLower(strings.TrimSpace(attrs.Status)) {
	case "unavailable":
		return Unavailable{CopiesHeld: holdsTotal, CopiesTotal: copiesTotal}
	case "available":
		if copiesAvailable == CopiesUnknown && copiesTotal == CopiesUnknown {
			return Unlimited{}
		}
		return Limited{CopiesAvailable: copiesAvailable, CopiesTotal: copiesTotal, From: since, To: until}
	case "reserved":
		return Reserved{
			HoldPosition: holdPosition(parseCopies(attrs.HoldsPosition)),
			CopiesTotal:  copiesTotal,
			From:         since,
			To:           until,
		}
	case "ready":
		return Ready{From: since, To: until}
	default:
		return Unlimited{}
	}
}

// Keys of the persisted availability dictionary.
const (
	availabilityTypeKey            = "type"
	availabilityCopiesHeldKey      = "copiesHeld"
	availabilityCopiesAvailableKey = "copiesAvailable"
	availabilityCopiesTotalKey     = "copiesTotal"
	availabilityHoldPositionKey    = "holdPosition"
	availabilitySinceKey           = "since"
	availabilityUntilKey           = "until"
)

type availabilityEncoder struct {
	out map[string]interface{}
}

func (e *availabilityEncoder) times(since, until time.Time) {
	if !since.IsZero() {
		e.out[availabilitySinceKey] = since.UTC().Format(time.RFC3339Nano)
	}
	if !until.IsZero() {
		e.out[availabilityUntilKey] = until.UTC().Format(time.RFC3339Nano)
	}
}

func (e *availabilityEncoder) VisitUnavailable(a Unavailable) {
	e.out[availabilityTypeKey] = "unavailable"
	e.out[availabilityCopiesHeldKey] = int(a.CopiesHeld)
	e.out[availabilityCopiesTotalKey] = int(a.CopiesTotal)
}

func (e *availabilityEncoder) VisitLimited(a Limited) {
	e.out[availabilityTypeKey] = "limited"
	e.out[availabilityCopiesAvailableKey] = int(a.CopiesAvailable)
	e.out[availabilityCopiesTotalKey] = int(a.CopiesTotal)
	e.times(a.From, a.To)
}

func (e *availabilityEncoder) VisitUnlimited(Unlimited) {
	e.out[availabilityTypeKey] = "unlimited"
}

func (e *availabilityEncoder) VisitReserved(a Reserved) {
	e.out[availabilityTypeKey] = "reserved"
	e.out[availabilityHoldPositionKey] = a.HoldPosition
	e.out[availabilityCopiesTotalKey] = int(a.CopiesTotal)
	e.times(a.From, a.To)
}

func (e *availabilityEncoder) VisitReady(a Ready) {
	e.out[availabilityTypeKey] = "ready"
	e.times(a.From, a.To)
}

// AvailabilityDictionary serializes a into a tagged dictionary.
func AvailabilityDictionary(a Availability) map[string]interface{} {
	if a == nil {
		a = Unlimited{}
	}
	enc := &availabilityEncoder{out: map[string]interface{}{}}
	a.Accept(enc)
	return enc.out
}

func dictCopies(d map[string]interface{}, key string) (Copies, bool) {
	switch v := d[key].(type) {
	case int:
		return Copies(v), true
	case int64:
		return Copies(v), true
	case float64:
		return Copies(int(v)), true
	default:
		return CopiesUnknown, false
	}
}

func dictTime(d map[string]interface{}, key string) (time.Time, error) {
	raw, ok := d[key]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("availability %s is not a string", key)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("availability %s: %w", key, err)
	}
	return t.UTC(), nil
}

// AvailabilityFromDictionary restores an availability written by
// AvailabilityDictionary. It fails when the dictionary is not sensible.
func AvailabilityFromDictionary(d map[string]interface{}) (Availability, error) {
	kind, _ := d[availabilityTypeKey].(string)
	since, err := dictTime(d, availabilitySinceKey)
	if err != nil {
		return nil, err
	}
	until, err := dictTime(d, availabilityUntilKey)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "unavailable":
		held, ok1 := dictCopies(d, availabilityCopiesHeldKey)
		total, ok2 := dictCopies(d, availabilityCopiesTotalKey)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unavailable availability is missing copies")
		}
		return Unavailable{CopiesHeld: held, CopiesTotal: total}, nil
	case "limited":
		available, ok1 := dictCopies(d, availabilityCopiesAvailableKey)
		total, ok2 := dictCopies(d, availabilityCopiesTotalKey)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("limited availability is missing copies")
		}
		return Limited{CopiesAvailable: available, CopiesTotal: total, From: since, To: until}, nil
	case "unlimited":
		return Unlimited{}, nil
	case "reserved":
		position, ok1 := dictCopies(d, availabilityHoldPositionKey)
		total, ok2 := dictCopies(d, availabilityCopiesTotalKey)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("reserved availability is missing hold position or copies")
		}
		return Reserved{HoldPosition: holdPosition(position), CopiesTotal: total, From: since, To: until}, nil
	case "ready":
		return Ready{From: since, To: until}, nil
	default:
		return nil, fmt.Errorf("unknown availability type %q", kind)
	}
}

// IsExpired reports whether a borrowed availability no longer grants access at now.
func IsExpired(a Availability, now time.Time) bool {
	expired := false
	MatchAvailability(a, AvailabilityCases{
		Unavailable: func(Unavailable) { expired = true },
		Limited: func(l Limited) {
			expired = !l.To.IsZero() && !l.To.After(now)
		},
		Ready: func(r Ready) {
			expired = !r.To.IsZero() && !r.To.After(now)
		},
	})
	return expired
}
