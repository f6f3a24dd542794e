package main

// Bookmark lists keep insertion order. Equality for Readium bookmarks is
// ReadiumBookmark.Equal and for generic ones BookLocation.Matches.

// ReadiumBookmarks returns the Readium bookmarks of id, empty when unknown.
func (r *BookRegistry) ReadiumBookmarks(id string) []ReadiumBookmark {
	record, ok := r.Record(id)
	if !ok {
		return []ReadiumBookmark{}
	}
	return record.ReadiumBookmarks()
}

// AddReadiumBookmark appends bookmark unless an equal one is already stored.
func (r *BookRegistry) AddReadiumBookmark(id string, bookmark ReadiumBookmark) error {
	return r.mutate("add_readium_bookmark", id, func(rec Record) Record {
		bookmarks := rec.ReadiumBookmarks()
		for _, bm := range bookmarks {
			if bm.Equal(bookmark) {
				return rec
			}
		}
		return rec.WithReadiumBookmarks(append(bookmarks, bookmark))
	}, EventBookUpdated)
}

// DeleteReadiumBookmark removes every stored bookmark equal to bookmark.
func (r *BookRegistry) DeleteReadiumBookmark(id string, bookmark ReadiumBookmark) error {
	return r.mutate("delete_readium_bookmark", id, func(rec Record) Record {
		return rec.WithReadiumBookmarks(withoutReadium(rec.ReadiumBookmarks(), bookmark))
	}, EventBookUpdated)
}

// ReplaceReadiumBookmark puts updated where old was and drops other copies
// of it. When old is absent updated is appended unless already stored.
func (r *BookRegistry) ReplaceReadiumBookmark(id string, old, updated ReadiumBookmark) error {
	return r.mutate("replace_readium_bookmark", id, func(rec Record) Record {
		bookmarks := rec.ReadiumBookmarks()
		index := -1
		for i, bm := range bookmarks {
			if bm.Equal(old) {
				index = i
				break
			}
		}
		if index < 0 {
			for _, bm := range bookmarks {
				if bm.Equal(updated) {
					return rec
				}
			}
			return rec.WithReadiumBookmarks(append(bookmarks, updated))
		}
		out := make([]ReadiumBookmark, 0, len(bookmarks))
		for i, bm := range bookmarks {
			switch {
			case i == index:
				out = append(out, updated)
			case bm.Equal(old), bm.Equal(updated):
			default:
				out = append(out, bm)
			}
		}
		return rec.WithReadiumBookmarks(out)
	}, EventBookUpdated)
}

func withoutReadium(bookmarks []ReadiumBookmark, bookmark ReadiumBookmark) []ReadiumBookmark {
	out := make([]ReadiumBookmark, 0, len(bookmarks))
	for _, bm := range bookmarks {
		if !bm.Equal(bookmark) {
			out = append(out, bm)
		}
	}
	return out
}

// GenericBookmarks returns the generic bookmarks of id, empty when unknown.
func (r *BookRegistry) GenericBookmarks(id string) []BookLocation {
	record, ok := r.Record(id)
	if !ok {
		return []BookLocation{}
	}
	return record.GenericBookmarks()
}

// AddGenericBookmark appends location unless a matching one is stored.
func (r *BookRegistry) AddGenericBookmark(id string, location BookLocation) error {
	return r.mutate("add_generic_bookmark", id, func(rec Record) Record {
		bookmarks := rec.GenericBookmarks()
		for _, bm := range bookmarks {
			if bm.Matches(location) {
				return rec
			}
		}
		return rec.WithGenericBookmarks(append(bookmarks, location))
	}, EventBookUpdated)
}

// DeleteGenericBookmark removes every stored bookmark matching location.
func (r *BookRegistry) DeleteGenericBookmark(id string, location BookLocation) error {
	return r.mutate("delete_generic_bookmark", id, func(rec Record) Record {
		return rec.WithGenericBookmarks(withoutGeneric(rec.GenericBookmarks(), location))
	}, EventBookUpdated)
}

// ReplaceGenericBookmark puts updated where old was, or appends it. The
// list never ends up with two matching bookmarks.
func (r *BookRegistry) ReplaceGenericBookmark(id string, old, updated BookLocation) error {
	return r.mutate("replace_generic_bookmark", id, func(rec Record) Record {
		bookmarks := rec.GenericBookmarks()
		index := -1
		for i, bm := range bookmarks {
			if bm.Matches(old) {
				index = i
				break
			}
		}
		if index < 0 {
			for _, bm := range bookmarks {
				if bm.Matches(updated) {
					return rec
				}
			}
			return rec.WithGenericBookmarks(append(bookmarks, updated))
		}
		out := make([]BookLocation, 0, len(bookmarks))
		for i, bm := range bookmarks {
			switch {
			case i == index:
				out = append(out, updated)
			case bm.Matches(old), bm.Matches(updated):
			default:
				out = append(out, bm)
			}
		}
		return rec.WithGenericBookmarks(out)
	}, EventBookUpdated)
}

// AddOrReplaceGenericBookmark drops the bookmarks matching location and
// appends location, so the stored copy always carries its latest fields.
func (r *BookRegistry) AddOrReplaceGenericBookmark(id string, location BookLocation) error {
	return r.mutate("add_or_replace_generic_bookmark", id, func(rec Record) Record {
		bookmarks := withoutGeneric(rec.GenericBookmarks(), location)
		return rec.WithGenericBookmarks(append(bookmarks, location))
	}, EventBookUpdated)
}

func withoutGeneric(bookmarks []BookLocation, location BookLocation) []BookLocation {
	out := make([]BookLocation, 0, len(bookmarks))
	for _, bm := range bookmarks {
		if !bm.Matches(location) {
			out = append(out, bm)
		}
	}
	return out
}
