// Package queue turns a playback context into an ordered playback queue.
package queue

import (
	"fmt"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// ContextKind enumerates the playback context variants.
type ContextKind string

const (
	SingleBookmark ContextKind = "bookmark"
	Collection     ContextKind = "collection"
	PageReading    ContextKind = "page"
	Unscoped       ContextKind = "unscoped"
)

// Context says what is being read. Exactly one of Bookmark, Bookmarks or
// Page is meaningful, selected by Kind; use the constructors below.
type Context struct {
	Kind      ContextKind        `json:"kind"`
	Bookmark  *content.Bookmark  `json:"bookmark,omitempty"`
	Bookmarks []content.Bookmark `json:"bookmarks,omitempty"`
	Page      int                `json:"page,omitempty"`
	// Reciter overrides the session reciter, typically from a collection.
	Reciter string `json:"reciter,omitempty"`
}

// ForBookmark builds a SingleBookmark context.
func ForBookmark(b content.Bookmark) Context {
	return Context{Kind: SingleBookmark, Bookmark: &b}
}

// ForCollection builds a Collection context over bookmarks in the given order.
func ForCollection(bookmarks []content.Bookmark) Context {
	return Context{Kind: Collection, Bookmarks: bookmarks}
}

// ForPage builds a PageReading context.
func ForPage(page int) Context {
	return Context{Kind: PageReading, Page: page}
}

// ForUnscoped builds the Unscoped context.
func ForUnscoped() Context {
	return Context{Kind: Unscoped}
}

// Validate rejects contexts whose payload does not match their kind.
func (c Context) Validate() error {
	switch c.Kind {
	case SingleBookmark:
		if c.Bookmark == nil {
			return errors.NewValidation("bookmark", "bookmark context without a bookmark")
		}
		return c.Bookmark.Validate()
	case Collection:
		for i, b := range c.Bookmarks {
			if err := b.Validate(); err != nil {
				return errors.Wrapf(err, "bookmark %d", i)
			}
		}
		return nil
	case PageReading:
		return verse.ValidatePage(c.Page)
	case Unscoped:
		return nil
	default:
		return errors.NewValidation("kind", fmt.Sprintf("unknown playback context %q", c.Kind))
	}
}

// Entry is one verse in a queue.
type Entry struct {
	Verse        content.Verse `json:"verse"`
	BookmarkID   string        `json:"bookmark_id"`
	CollectionID string        `json:"collection_id,omitempty"`
	Position     int           `json:"position"`
}

// ReadID is the read-tracking identifier for the entry's verse.
func (e Entry) ReadID() string {
	owner := e.CollectionID
	if owner == "" {
		owner = content.NoBookmark
	}
	return content.VerseID(owner, e.Verse.Address)
}

// Failure records one bookmark that could not be fetched.
type Failure struct {
	BookmarkID string `json:"bookmark_id"`
	Err        error  `json:"-"`
	Message    string `json:"message"`
}

// Queue is an immutable, position-ordered list of entries.
type Queue struct {
	entries []Entry
	context Context
}

// NewQueue renumbers entries 0..n-1 and wraps them.
func NewQueue(ctx Context, entries []Entry) *Queue {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Position = i
	}
	return &Queue{entries: out, context: ctx}
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.entries)
}

// At returns the entry at pos.
func (q *Queue) At(pos int) (Entry, bool) {
	if q == nil || pos < 0 || pos >= len(q.entries) {
		return Entry{}, false
	}
	return q.entries[pos], true
}

// Next returns the entry after pos, if any.
func (q *Queue) Next(pos int) (Entry, bool) {
	return q.At(pos + 1)
}

// IndexOf returns the first position holding a.
func (q *Queue) IndexOf(a verse.Address) int {
	if q == nil {
		return -1
	}
	for i, e := range q.entries {
		if e.Verse.Address == a {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the entries.
func (q *Queue) Entries() []Entry {
	if q == nil {
		return nil
	}
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Context returns the context the queue was built from.
func (q *Queue) Context() Context {
	if q == nil {
		return Context{}
	}
	return q.context
}

// Result is the outcome of Build.
type Result struct {
	Queue    *Queue    `json:"-"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`
	Unscoped bool      `json:"unscoped,omitempty"`
}

// Partial reports whether some bookmarks were skipped.
func (r Result) Partial() bool {
	return r.Skipped > 0
}
