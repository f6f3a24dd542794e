package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testLoansFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opds="http://opds-spec.org/2010/catalog" xmlns:dcterms="http://purl.org/dc/terms/" xmlns:simplified="http://librarysimplified.org/terms/">
  <id>https://library.example.org/loans</id>
  <title>Active loans and holds</title>
  <entry>
    <id>urn:isbn:9780000000001</id>
    <title>The Borrowed Book</title>
    <author><name>Jerome Amon</name><link rel="contributor" href="https://library.example.org/authors/1"/></author>
    <category term="fiction" label="Fiction"/>
    <summary>A book on loan.</summary>
    <dcterms:issued>2021-03-04</dcterms:issued>
    <updated>2023-07-01T20:19:10Z</updated>
    <link rel="http://opds-spec.org/image" href="https://library.example.org/covers/1.jpg"/>
    <link rel="http://librarysimplified.org/terms/rel/revoke" href="https://library.example.org/revoke/1"/>
    <link rel="http://opds-spec.org/acquisition/borrow" href="https://library.example.org/fulfill/1" type="application/atom+xml">
      <opds:indirectAcquisition type="application/vnd.adobe.adept+xml">
        <opds:indirectAcquisition type="application/epub+zip"/>
      </opds:indirectAcquisition>
      <opds:availability status="available" since="2023-07-01T00:00:00Z" until="2023-07-22T00:00:00Z"/>
      <opds:copies total="4" available="1"/>
    </link>
  </entry>
  <entry>
    <id>urn:isbn:9780000000002</id>
    <title>The Held Book</title>
    <link rel="http://opds-spec.org/acquisition/borrow" href="https://library.example.org/borrow/2" type="application/epub+zip">
      <opds:availability status="reserved"/>
      <opds:holds total="7" position="3"/>
      <opds:copies total="2" available="0"/>
    </link>
  </entry>
  <entry>
    <title>No identifier</title>
  </entry>
</feed>`

func TestParseLoansFeed(t *testing.T) {
	books, err := ParseLoansFeed(strings.NewReader(testLoansFeed))
	require.NoError(t, err)
	require.Len(t, books, 2)

	loaned := books[0]
	assert.Equal(t, "urn:isbn:9780000000001", loaned.ID)
	assert.Equal(t, "The Borrowed Book", loaned.Title)
	assert.Equal(t, []string{"Jerome Amon"}, loaned.Authors)
	assert.Equal(t, []string{"https://library.example.org/authors/1"}, loaned.AuthorLinks)
	assert.Equal(t, []string{"Fiction"}, loaned.Categories)
	assert.Equal(t, "A book on loan.", loaned.Summary)
	assert.Equal(t, "https://library.example.org/revoke/1", loaned.RevokeURL)
	assert.Equal(t, "https://library.example.org/covers/1.jpg", loaned.ImageURL)
	require.NotNil(t, loaned.Published)
	assert.Equal(t, 2021, loaned.Published.Year())
	assert.Equal(t, Limited{
		CopiesAvailable: 1,
		CopiesTotal:     4,
		From:            time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		To:              time.Date(2023, 7, 22, 0, 0, 0, 0, time.UTC),
	}, loaned.Availability())
	assert.Equal(t, DownloadNeeded, DeriveInitialState(loaned))

	held := books[1]
	assert.Equal(t, Reserved{HoldPosition: 3, CopiesTotal: 2}, held.Availability())
	assert.Equal(t, Holding, DeriveInitialState(held))

	_, err = ParseLoansFeed(strings.NewReader("<feed><entry>"))
	assert.Error(t, err)
}

func TestOPDSLoansFetcher(t *testing.T) {
	var lastRequest *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRequest = r
		switch r.URL.Path {
		case "/loans":
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = w.Write([]byte(testLoansFeed))
		case "/expired":
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"type":"http://librarysimplified.org/terms/problem/credentials-invalid","title":"Invalid credentials","detail":"token expired"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	fetcher := NewOPDSLoansFetcher(zap.NewNop(), srv.Client(), []AccountConfig{
		{ID: "main", LoansURL: srv.URL + "/loans", Token: "secret"},
		{ID: "expired", LoansURL: srv.URL + "/expired"},
		{ID: "broken", LoansURL: srv.URL + "/broken"},
	})

	t.Run("should pass: loans feed", func(t *testing.T) {
		books, err := fetcher.FetchLoans(context.Background(), "main", true)
		require.NoError(t, err)
		assert.Len(t, books, 2)
		assert.Equal(t, "Bearer secret", lastRequest.Header.Get("Authorization"))
		assert.Equal(t, "no-cache", lastRequest.Header.Get("Cache-Control"))

		_, err = fetcher.FetchLoans(context.Background(), "main", false)
		require.NoError(t, err)
		assert.Empty(t, lastRequest.Header.Get("Cache-Control"))
	})

	t.Run("should fail: problem document", func(t *testing.T) {
		_, err := fetcher.FetchLoans(context.Background(), "expired", false)
		var problem *ProblemDocument
		require.True(t, errors.As(err, &problem))
		assert.Equal(t, http.StatusUnauthorized, problem.Status)
		assert.Equal(t, "Invalid credentials: token expired", problem.Error())
		assert.Equal(t, http.StatusBadGateway, statusFromError(err))
	})

	t.Run("should fail: server error", func(t *testing.T) {
		_, err := fetcher.FetchLoans(context.Background(), "broken", false)
		assert.Error(t, err)
	})

	t.Run("should fail: unknown account", func(t *testing.T) {
		_, err := fetcher.FetchLoans(context.Background(), "nobody", false)
		assert.ErrorIs(t, err, ErrUnknownAccount)
		assert.Equal(t, http.StatusNotFound, statusFromError(err))
	})
}
