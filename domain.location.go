package main

import (
	"encoding/json"
	"reflect"
)

// BookLocation is a renderer specific reading position. It is also used
// as a generic bookmark.
type BookLocation struct {
	LocationString string `json:"locationString"`
	Renderer       string `json:"renderer"`
}

// locationKeysIgnoredForSimilarity change every time a position is saved
// without moving the reader.
var locationKeysIgnoredForSimilarity = []string{"timeStamp", "annotationId"}

// LocationDictionary decodes the location string as a JSON object. It returns
// nil when the location is not an object.
func (l BookLocation) LocationDictionary() map[string]interface{} {
	var dict map[string]interface{}
	if err := json.Unmarshal([]byte(l.LocationString), &dict); err != nil {
		return nil
	}
	return dict
}

// IsSimilarTo reports whether both locations point at the same place for the
// same renderer, ignoring their timestamps and annotation ids.
func (l BookLocation) IsSimilarTo(other BookLocation) bool {
	if l.Renderer != other.Renderer {
		return false
	}
	a, b := l.LocationDictionary(), other.LocationDictionary()
	if a == nil || b == nil {
		return false
	}
	for _, key := range locationKeysIgnoredForSimilarity {
		delete(a, key)
		delete(b, key)
	}
	return reflect.DeepEqual(a, b)
}

// Matches is the equality used by generic bookmark edits: identical
// locations or similar ones.
func (l BookLocation) Matches(other BookLocation) bool {
	return l == other || l.IsSimilarTo(other)
}
