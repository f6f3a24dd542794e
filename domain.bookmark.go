package main

import (
	"math"
)

const progressTolerance = 1e-4

// ReadiumBookmark is a bookmark produced by the EPUB reader. It also records
// the last read position of a book.
type ReadiumBookmark struct {
	AnnotationID             string  `json:"annotationId,omitempty"`
	Href                     string  `json:"href"`
	Chapter                  string  `json:"chapter,omitempty"`
	Page                     string  `json:"page,omitempty"`
	Location                 string  `json:"location"`
	ProgressWithinChapter    float64 `json:"progressWithinChapter"`
	ProgressWithinBook       float64 `json:"progressWithinBook"`
	ReadingOrderItem         string  `json:"readingOrderItem,omitempty"`
	ReadingOrderItemOffsetMs float64 `json:"readingOrderItemOffsetMilliseconds"`
	Time                     string  `json:"time"`
	Device                   string  `json:"device,omitempty"`
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < progressTolerance
}

// Equal reports whether two bookmarks denote the same mark. Bookmarks
// sharing an annotation id are equal whatever their position.
func (bm ReadiumBookmark) Equal(other ReadiumBookmark) bool {
	if bm.AnnotationID != "" && bm.AnnotationID == other.AnnotationID {
		return true
	}
	return bm.Href == other.Href &&
		nearlyEqual(bm.ProgressWithinBook, other.ProgressWithinBook) &&
		nearlyEqual(bm.ProgressWithinChapter, other.ProgressWithinChapter) &&
		bm.Chapter == other.Chapter &&
		bm.ReadingOrderItem == other.ReadingOrderItem &&
		nearlyEqual(bm.ReadingOrderItemOffsetMs, other.ReadingOrderItemOffsetMs)
}
