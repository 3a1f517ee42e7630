package content

import (
	"fmt"
	"time"

	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// Kind is the shape of a bookmark.
type Kind string

const (
	KindVerse   Kind = "verse"
	KindRange   Kind = "range"
	KindChapter Kind = "chapter"
	KindPage    Kind = "page"
)

// Bookmark marks a passage. Verse, range and chapter bookmarks use Start and
// End; page bookmarks use Page only and leave the addresses zero.
type Bookmark struct {
	ID           string        `json:"id"`
	CollectionID string        `json:"collection_id"`
	Kind         Kind          `json:"kind"`
	Start        verse.Address `json:"start,omitempty"`
	End          verse.Address `json:"end,omitempty"`
	Page         int           `json:"page,omitempty"`
	Note         string        `json:"note,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewVerseBookmark creates a single-verse bookmark.
func NewVerseBookmark(id, collectionID string, a verse.Address) (Bookmark, error) {
	b := Bookmark{ID: id, CollectionID: collectionID, Kind: KindVerse, Start: a, End: a}
	return b, b.Validate()
}

// NewRangeBookmark creates a bookmark over from..to within one chapter.
func NewRangeBookmark(id, collectionID string, from, to verse.Address) (Bookmark, error) {
	b := Bookmark{ID: id, CollectionID: collectionID, Kind: KindRange, Start: from, End: to}
	return b, b.Validate()
}

// NewChapterBookmark creates a whole-chapter bookmark.
func NewChapterBookmark(id, collectionID string, chapter int) (Bookmark, error) {
	n, err := verse.ChapterLength(chapter)
	if err != nil {
		return Bookmark{}, err
	}
	b := Bookmark{
		ID:           id,
		CollectionID: collectionID,
		Kind:         KindChapter,
		Start:        verse.Address{Chapter: chapter, Verse: 1},
		End:          verse.Address{Chapter: chapter, Verse: n},
	}
	return b, nil
}

// NewPageBookmark creates a whole-page bookmark.
func NewPageBookmark(id, collectionID string, page int) (Bookmark, error) {
	b := Bookmark{ID: id, CollectionID: collectionID, Kind: KindPage, Page: page}
	return b, b.Validate()
}

// FromRef creates the bookmark described by a parsed reference.
func FromRef(id, collectionID string, ref verse.Ref) (Bookmark, error) {
	switch ref.Kind {
	case verse.RefVerse:
		return NewVerseBookmark(id, collectionID, verse.Address{Chapter: ref.Chapter, Verse: ref.Verse})
	case verse.RefRange:
		return NewRangeBookmark(id, collectionID,
			verse.Address{Chapter: ref.Chapter, Verse: ref.Verse},
			verse.Address{Chapter: ref.Chapter, Verse: ref.VerseEnd})
	case verse.RefChapter:
		return NewChapterBookmark(id, collectionID, ref.Chapter)
	case verse.RefPage:
		return NewPageBookmark(id, collectionID, ref.Page)
	default:
		return Bookmark{}, errors.NewValidation("kind", "unknown reference kind")
	}
}

// Validate checks that the bookmark's fields agree with its kind.
func (b Bookmark) Validate() error {
	switch b.Kind {
	case KindPage:
		if b.Start != (verse.Address{}) || b.End != (verse.Address{}) {
			return errors.NewValidation("page", "page bookmarks carry no verse addresses")
		}
		return verse.ValidatePage(b.Page)
	case KindVerse, KindRange, KindChapter:
		if b.Page != 0 {
			return errors.NewValidation("page", "only page bookmarks carry a page number")
		}
		if err := b.Start.Validate(); err != nil {
			return err
		}
		if err := b.End.Validate(); err != nil {
			return err
		}
		if b.Start.Chapter != b.End.Chapter {
			return errors.NewValidation("range", "bookmark must stay within one chapter")
		}
		if b.End.Less(b.Start) {
			return errors.NewValidation("range", "end verse precedes start verse")
		}
		if b.Kind == KindVerse && b.Start != b.End {
			return errors.NewValidation("range", "verse bookmark spans more than one verse")
		}
		return nil
	default:
		return errors.NewValidation("kind", fmt.Sprintf("unknown bookmark kind %q", b.Kind))
	}
}

// Addresses lists the bookmark's verses in reading order. Page bookmarks
// return an error because their contents depend on the provider.
func (b Bookmark) Addresses() ([]verse.Address, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Kind == KindPage {
		return nil, errors.NewValidation("kind", "page bookmarks have no fixed address list")
	}
	out := make([]verse.Address, 0, b.End.Verse-b.Start.Verse+1)
	for v := b.Start.Verse; v <= b.End.Verse; v++ {
		out = append(out, verse.Address{Chapter: b.Start.Chapter, Verse: v})
	}
	return out, nil
}

// Ref returns the reference that FromRef would turn back into b.
func (b Bookmark) Ref() verse.Ref {
	switch b.Kind {
	case KindPage:
		return verse.Ref{Kind: verse.RefPage, Page: b.Page}
	case KindChapter:
		return verse.Ref{Kind: verse.RefChapter, Chapter: b.Start.Chapter}
	case KindRange:
		return verse.Ref{Kind: verse.RefRange, Chapter: b.Start.Chapter, Verse: b.Start.Verse, VerseEnd: b.End.Verse}
	default:
		return verse.Ref{Kind: verse.RefVerse, Chapter: b.Start.Chapter, Verse: b.Start.Verse}
	}
}

// DisplayText is the short label shown next to a bookmark.
func (b Bookmark) DisplayText() string {
	switch b.Kind {
	case KindPage:
		return fmt.Sprintf("Page %d", b.Page)
	case KindChapter:
		return fmt.Sprintf("Surah %d", b.Start.Chapter)
	case KindRange:
		return fmt.Sprintf("Surah %d:%d-%d", b.Start.Chapter, b.Start.Verse, b.End.Verse)
	default:
		return fmt.Sprintf("Surah %d:%d", b.Start.Chapter, b.Start.Verse)
	}
}
