package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// AcquisitionRelation is the rel of an OPDS acquisition link.
type AcquisitionRelation string

const (
	RelationGeneric    AcquisitionRelation = "generic"
	RelationOpenAccess AcquisitionRelation = "open-access"
	RelationBorrow     AcquisitionRelation = "borrow"
	RelationBuy        AcquisitionRelation = "buy"
	RelationSample     AcquisitionRelation = "sample"
	RelationPreview    AcquisitionRelation = "preview"
	RelationSubscribe  AcquisitionRelation = "subscribe"
)

// defaultAcquisitionRelations are the relations that lead to owning or
// borrowing the content. Samples and previews never qualify.
var defaultAcquisitionRelations = map[AcquisitionRelation]bool{
	RelationGeneric:    true,
	RelationOpenAccess: true,
	RelationBorrow:     true,
	RelationBuy:        true,
	RelationSubscribe:  true,
}

// supportedContentTypes are the final content types the readers can open.
var supportedContentTypes = map[string]bool{
	"application/epub+zip":                           true,
	"application/pdf":                                true,
	"application/audiobook+json":                     true,
	"application/vnd.readium.lcp.license.v1.0+json":  true,
	"application/vnd.adobe.adept+xml":                true,
	"application/vnd.overdrive.circulation.api+json": true,
	"application/kepub+zip":                          true,
	"application/x-mobipocket-ebook":                 true,
}

// IndirectAcquisition describes content reached through another document.
type IndirectAcquisition struct {
	Type     string                `json:"type"`
	Indirect []IndirectAcquisition `json:"indirectAcquisitions,omitempty"`
}

// Acquisition is an OPDS acquisition link of a book.
type Acquisition struct {
	Relation     AcquisitionRelation
	Type         string
	Href         string
	Indirect     []IndirectAcquisition
	Availability Availability
}

type acquisitionDocument struct {
	Relation     AcquisitionRelation    `json:"relation"`
	Type         string                 `json:"type"`
	Href         string                 `json:"href"`
	Indirect     []IndirectAcquisition  `json:"indirectAcquisitions,omitempty"`
	Availability map[string]interface{} `json:"availability,omitempty"`
}

// MarshalJSON stores the availability as its tagged dictionary.
func (a Acquisition) MarshalJSON() ([]byte, error) {
	return json.Marshal(acquisitionDocument{
		Relation:     a.Relation,
		Type:         a.Type,
		Href:         a.Href,
		Indirect:     a.Indirect,
		Availability: AvailabilityDictionary(a.Availability),
	})
}

// UnmarshalJSON restores an acquisition. A missing or unreadable
// availability falls back to Unlimited.
func (a *Acquisition) UnmarshalJSON(data []byte) error {
	var doc acquisitionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	availability, err := AvailabilityFromDictionary(doc.Availability)
	if err != nil {
		availability = Unlimited{}
	}
	*a = Acquisition{
		Relation:     doc.Relation,
		Type:         doc.Type,
		Href:         doc.Href,
		Indirect:     doc.Indirect,
		Availability: availability,
	}
	return nil
}

// finalTypes returns the innermost content types reachable through the acquisition.
func (a Acquisition) finalTypes() []string {
	if len(a.Indirect) == 0 {
		return []string{a.Type}
	}
	var types []string
	var walk func([]IndirectAcquisition)
	walk = func(list []IndirectAcquisition) {
		for _, ia := range list {
			if len(ia.Indirect) == 0 {
				types = append(types, ia.Type)
				continue
			}
			walk(ia.Indirect)
		}
	}
	walk(a.Indirect)
	return types
}

// Book is a metadata snapshot of a catalog entry. Books are replaced
// wholesale on refresh and never modified in place.
type Book struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Subtitle          string        `json:"subtitle,omitempty"`
	Summary           string        `json:"summary,omitempty"`
	Authors           []string      `json:"authors,omitempty"`
	AuthorLinks       []string      `json:"author-links,omitempty"`
	Categories        []string      `json:"categories,omitempty"`
	Distributor       string        `json:"distributor,omitempty"`
	Publisher         string        `json:"publisher,omitempty"`
	Published         *time.Time    `json:"published,omitempty"`
	Updated           time.Time     `json:"updated"`
	ImageURL          string        `json:"image,omitempty"`
	ImageThumbnailURL string        `json:"image-thumbnail,omitempty"`
	AnnotationsURL    string        `json:"annotations,omitempty"`
	AnalyticsURL      string        `json:"analytics,omitempty"`
	AlternateURL      string        `json:"alternate,omitempty"`
	RelatedWorksURL   string        `json:"related-works-url,omitempty"`
	PreviewURL        string        `json:"preview-url,omitempty"`
	SeriesURL         string        `json:"series-link,omitempty"`
	RevokeURL         string        `json:"revoke-url,omitempty"`
	ReportURL         string        `json:"report-url,omitempty"`
	Acquisitions      []Acquisition `json:"acquisitions,omitempty"`
}

// Validate checks the fields every stored book must carry.
func (b Book) Validate() error {
	if b.ID == "" {
		return missingFieldError("id")
	}
	if b.Title == "" {
		return missingFieldError("title")
	}
	return nil
}

// DefaultAcquisition returns the first acquisition that leads to supported
// content through a borrowing or owning relation.
func (b Book) DefaultAcquisition() (Acquisition, bool) {
	for _, acq := range b.Acquisitions {
		if !defaultAcquisitionRelations[acq.Relation] {
			continue
		}
		for _, t := range acq.finalTypes() {
			if supportedContentTypes[t] {
				return acq, true
			}
		}
	}
	return Acquisition{}, false
}

// Availability returns the availability of the default acquisition, or nil
// when the book has none.
func (b Book) Availability() Availability {
	acq, ok := b.DefaultAcquisition()
	if !ok {
		return nil
	}
	return acq.Availability
}

// MetadataFrom returns a copy of b whose descriptive fields come from
// other. Acquisitions and the revoke and report links stay those of b.
func (b Book) MetadataFrom(other Book) Book {
	merged := other
	merged.ID = b.ID
	merged.Acquisitions = b.Acquisitions
	merged.RevokeURL = b.RevokeURL
	merged.ReportURL = b.ReportURL
	return merged
}

func (b Book) String() string {
	return fmt.Sprintf("%s (%s)", b.ID, b.Title)
}
