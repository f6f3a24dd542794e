package main

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrUnknownAccount = errors.New("unknown account")

// LoansFetcher provides the current loans and holds of an account.
type LoansFetcher interface {
	FetchLoans(ctx context.Context, account string, noCache bool) ([]Book, error)
}

// ProblemDocument is an RFC 7807 error body returned by the circulation server.
type ProblemDocument struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDocument) Error() string {
	switch {
	case p.Title != "" && p.Detail != "":
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	case p.Title != "":
		return p.Title
	case p.Detail != "":
		return p.Detail
	default:
		return fmt.Sprintf("problem document with status %d", p.Status)
	}
}

const (
	opdsRelPrefix  = "http://opds-spec.org/acquisition"
	relImage       = "http://opds-spec.org/image"
	relThumbnail   = "http://opds-spec.org/image/thumbnail"
	relRevoke      = "http://librarysimplified.org/terms/rel/revoke"
	relAnnotations = "http://www.w3.org/ns/oa#annotationService"
	relAnalytics   = "http://librarysimplified.org/terms/rel/analytics/open-book"
	relReport      = "issues"
	relAlternate   = "alternate"
	relRelated     = "related"
	relSeries      = "series"
	relContributor = "contributor"
	problemJSON    = "application/problem+json"
)

var acquisitionRelations = map[string]AcquisitionRelation{
	opdsRelPrefix:                    RelationGeneric,
	opdsRelPrefix + "/open-access":   RelationOpenAccess,
	opdsRelPrefix + "/borrow":        RelationBorrow,
	opdsRelPrefix + "/buy":           RelationBuy,
	opdsRelPrefix + "/sample":        RelationSample,
	opdsRelPrefix + "/preview":       RelationPreview,
	opdsRelPrefix + "/subscribe":     RelationSubscribe,
	"preview":                        RelationPreview,
	"http://opds-spec.org/preview":   RelationPreview,
	"http://opds-spec.org/sample":    RelationSample,
	"http://opds-spec.org/subscribe": RelationSubscribe,
}

// Atom documents. Elements and attributes match on local names so the
// opds, dcterms and bibframe prefixes need no declaration.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID           string           `xml:"id"`
	Title        string           `xml:"title"`
	Subtitle     string           `xml:"alternativeHeadline"`
	Summary      string           `xml:"summary"`
	Content      string           `xml:"content"`
	Authors      []atomAuthor     `xml:"author"`
	Categories   []atomCategory   `xml:"category"`
	Publisher    string           `xml:"publisher"`
	Issued       string           `xml:"issued"`
	Published    string           `xml:"published"`
	Updated      string           `xml:"updated"`
	Distribution atomDistribution `xml:"distribution"`
	Links        []atomLink       `xml:"link"`
}

type atomAuthor struct {
	Name  string     `xml:"name"`
	Links []atomLink `xml:"link"`
}

type atomCategory struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr"`
}

type atomDistribution struct {
	ProviderName string `xml:"ProviderName,attr"`
}

type atomLink struct {
	Rel          string            `xml:"rel,attr"`
	Href         string            `xml:"href,attr"`
	Type         string            `xml:"type,attr"`
	Indirect     []atomIndirect    `xml:"indirectAcquisition"`
	Availability *atomAvailability `xml:"availability"`
	Holds        *atomHolds        `xml:"holds"`
	Copies       *atomCopies       `xml:"copies"`
}

type atomIndirect struct {
	Type     string         `xml:"type,attr"`
	Indirect []atomIndirect `xml:"indirectAcquisition"`
}

type atomAvailability struct {
	Status string `xml:"status,attr"`
	Since  string `xml:"since,attr"`
	Until  string `xml:"until,attr"`
}

type atomHolds struct {
	Total    string `xml:"total,attr"`
	Position string `xml:"position,attr"`
}

type atomCopies struct {
	Total     string `xml:"total,attr"`
	Available string `xml:"available,attr"`
}

type opdsLoansFetcher struct {
	logger   *zap.Logger
	client   *http.Client
	accounts map[string]AccountConfig
}

// NewOPDSLoansFetcher provides a fetcher reading the loans feed of the
// configured accounts.
func NewOPDSLoansFetcher(logger *zap.Logger, client *http.Client, accounts []AccountConfig) LoansFetcher {
	byID := make(map[string]AccountConfig, len(accounts))
	for _, account := range accounts {
		byID[account.ID] = account
	}
	return &opdsLoansFetcher{logger: logger, client: client, accounts: byID}
}

// FetchLoans downloads and parses the loans feed of account.
func (of *opdsLoansFetcher) FetchLoans(ctx context.Context, account string, noCache bool) ([]Book, error) {
	cfg, ok := of.accounts[account]
	if !ok || cfg.LoansURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.LoansURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build loans request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml, "+problemJSON+";q=0.9")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := of.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch loans of %s: %w", account, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, of.responseError(resp)
	}

	books, err := ParseLoansFeed(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse loans of %s: %w", account, err)
	}
	of.logger.Info("feed: loans fetched",
		zap.String("account", account),
		zap.Int("books", len(books)),
		zap.Duration("duration", time.Since(start)),
	)
	return books, nil
}

func (of *opdsLoansFetcher) responseError(resp *http.Response) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == problemJSON {
		problem := &ProblemDocument{}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(problem); err == nil {
			if problem.Status == 0 {
				problem.Status = resp.StatusCode
			}
			return problem
		}
	}
	return fmt.Errorf("loans feed answered %s", resp.Status)
}

// ParseLoansFeed decodes an OPDS acquisition feed into books. Entries
// without an id are skipped.
func ParseLoansFeed(r io.Reader) ([]Book, error) {
	var feed atomFeed
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	if err := decoder.Decode(&feed); err != nil {
		return nil, err
	}
	books := make([]Book, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if strings.TrimSpace(entry.ID) == "" {
			continue
		}
		books = append(books, entry.book())
	}
	return books, nil
}

func (e atomEntry) book() Book {
	book := Book{
		ID:          strings.TrimSpace(e.ID),
		Title:       strings.TrimSpace(e.Title),
		Subtitle:    strings.TrimSpace(e.Subtitle),
		Summary:     strings.TrimSpace(e.Summary),
		Publisher:   strings.TrimSpace(e.Publisher),
		Distributor: e.Distribution.ProviderName,
		Updated:     parseFeedTime(e.Updated),
	}
	if book.Summary == "" {
		book.Summary = strings.TrimSpace(e.Content)
	}
	published := e.Issued
	if published == "" {
		published = e.Published
	}
	if t := parseFeedTime(published); !t.IsZero() {
		book.Published = &t
	}
	for _, author := range e.Authors {
		if name := strings.TrimSpace(author.Name); name != "" {
			book.Authors = append(book.Authors, name)
		}
		for _, link := range author.Links {
			if link.Rel == relContributor && link.Href != "" {
				book.AuthorLinks = append(book.AuthorLinks, link.Href)
			}
		}
	}
	for _, category := range e.Categories {
		label := category.Label
		if label == "" {
			label = category.Term
		}
		if label != "" {
			book.Categories = append(book.Categories, label)
		}
	}
	for _, link := range e.Links {
		if relation, ok := acquisitionRelations[link.Rel]; ok {
			acq := link.acquisition(relation)
			if relation == RelationPreview || relation == RelationSample {
				if book.PreviewURL == "" {
					book.PreviewURL = link.Href
				}
			}
			book.Acquisitions = append(book.Acquisitions, acq)
			continue
		}
		switch link.Rel {
		case relImage:
			book.ImageURL = link.Href
		case relThumbnail:
			book.ImageThumbnailURL = link.Href
		case relRevoke:
			book.RevokeURL = link.Href
		case relReport:
			book.ReportURL = link.Href
		case relAnnotations:
			book.AnnotationsURL = link.Href
		case relAnalytics:
			book.AnalyticsURL = link.Href
		case relAlternate:
			book.AlternateURL = link.Href
		case relRelated:
			book.RelatedWorksURL = link.Href
		case relSeries:
			book.SeriesURL = link.Href
		}
	}
	if book.Title == "" {
		book.Title = book.ID
	}
	return book
}

func (l atomLink) acquisition(relation AcquisitionRelation) Acquisition {
	attrs := LinkAttributes{}
	if l.Availability != nil {
		attrs.Status = l.Availability.Status
		attrs.Since = l.Availability.Since
		attrs.Until = l.Availability.Until
	}
	if l.Holds != nil {
		attrs.HoldsTotal = l.Holds.Total
		attrs.HoldsPosition = l.Holds.Position
	}
	if l.Copies != nil {
		attrs.CopiesTotal = l.Copies.Total
		attrs.CopiesAvailable = l.Copies.Available
	}
	return Acquisition{
		Relation:     relation,
		Type:         l.Type,
		Href:         l.Href,
		Indirect:     indirectAcquisitions(l.Indirect),
		Availability: AvailabilityFromLinkAttributes(attrs),
	}
}

func indirectAcquisitions(list []atomIndirect) []IndirectAcquisition {
	if len(list) == 0 {
		return nil
	}
	out := make([]IndirectAcquisition, 0, len(list))
	for _, ia := range list {
		out = append(out, IndirectAcquisition{Type: ia.Type, Indirect: indirectAcquisitions(ia.Indirect)})
	}
	return out
}
