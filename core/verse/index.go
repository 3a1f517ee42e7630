// Package verse converts between chapter-relative verse addresses and the
// linear global index, and answers pagination questions about the corpus.
//
// Every function is pure. Invalid input is rejected with an error wrapping
// errors.ErrOutOfRange; nothing here panics on bad arguments.
package verse

import (
	"fmt"
	"sort"

	"github.com/FocuswithJustin/tilawa/core/errors"
)

// Corpus dimensions.
const (
	ChapterCount   = 114
	VerseCount     = 6236
	PageCount      = 604
	PartCount      = 30
	HizbQuarters   = 240
	quartersInPart = 8
)

// Address identifies a verse by chapter and verse-in-chapter, both 1-based.
type Address struct {
	Chapter int `json:"chapter"`
	Verse   int `json:"verse"`
}

// GlobalIndex is the 1..6236 reading-order position of a verse.
type GlobalIndex int

// String renders the address as "chapter:verse".
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Chapter, a.Verse)
}

// Less reports whether a precedes b in reading order.
func (a Address) Less(b Address) bool {
	if a.Chapter != b.Chapter {
		return a.Chapter < b.Chapter
	}
	return a.Verse < b.Verse
}

// Validate checks the chapter and verse against the length table.
func (a Address) Validate() error {
	n, err := ChapterLength(a.Chapter)
	if err != nil {
		return err
	}
	if a.Verse < 1 || a.Verse > n {
		return errors.NewOutOfRange(fmt.Sprintf("verse of chapter %d", a.Chapter), a.Verse, 1, n)
	}
	return nil
}

// ChapterLength returns the number of verses in chapter ch.
func ChapterLength(ch int) (int, error) {
	if err := ValidateChapter(ch); err != nil {
		return 0, err
	}
	return chapterLengths[ch-1], nil
}

// ValidateChapter rejects chapter numbers outside 1..114.
func ValidateChapter(ch int) error {
	if ch < 1 || ch > ChapterCount {
		return errors.NewOutOfRange("chapter", ch, 1, ChapterCount)
	}
	return nil
}

// ValidatePage rejects page numbers outside 1..604.
func ValidatePage(page int) error {
	if page < 1 || page > PageCount {
		return errors.NewOutOfRange("page", page, 1, PageCount)
	}
	return nil
}

// ValidatePart rejects part numbers outside 1..30.
func ValidatePart(part int) error {
	if part < 1 || part > PartCount {
		return errors.NewOutOfRange("part", part, 1, PartCount)
	}
	return nil
}

// ToGlobalIndex returns the sum of all chapter lengths before a.Chapter plus a.Verse.
func ToGlobalIndex(a Address) (GlobalIndex, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	return GlobalIndex(chapterOffsets[a.Chapter-1] + a.Verse), nil
}

// ToAddress is the inverse of ToGlobalIndex.
func ToAddress(g GlobalIndex) (Address, error) {
	if g < 1 || int(g) > VerseCount {
		return Address{}, errors.NewOutOfRange("global index", int(g), 1, VerseCount)
	}
	// First chapter whose cumulative offset reaches g.
	ch := sort.Search(ChapterCount, func(i int) bool {
		return chapterOffsets[i+1] >= int(g)
	}) + 1
	return Address{Chapter: ch, Verse: int(g) - chapterOffsets[ch-1]}, nil
}

// MustGlobalIndex is ToGlobalIndex for addresses already known to be valid.
func MustGlobalIndex(a Address) GlobalIndex {
	g, err := ToGlobalIndex(a)
	if err != nil {
		panic(err)
	}
	return g
}

// RequiresPreamble reports whether the preamble clip plays before a.
// It is true for the first verse of chapters 2..114 other than chapter 9.
func RequiresPreamble(a Address) bool {
	return a.Verse == 1 && a.Chapter >= 2 && a.Chapter <= ChapterCount && a.Chapter != 9
}

// PreambleAddress is the verse whose recitation is used as the preamble clip.
var PreambleAddress = Address{Chapter: 1, Verse: 1}

// PartNumber derives the 1..30 part from a hizb quarter counter. The
// result is clamped because some sources report quarters past 240.
func PartNumber(hizbQuarter int) int {
	part := ((hizbQuarter - 1) / quartersInPart) + 1
	if part < 1 {
		return 1
	}
	if part > PartCount {
		return PartCount
	}
	return part
}

// StartingPageOfChapter returns the page on which chapter ch begins.
func StartingPageOfChapter(ch int) (int, error) {
	if err := ValidateChapter(ch); err != nil {
		return 0, err
	}
	return chapterStartPages[ch-1], nil
}

// StartingPageOfPart returns the page on which part begins.
func StartingPageOfPart(part int) (int, error) {
	if err := ValidatePart(part); err != nil {
		return 0, err
	}
	return partStartPages[part-1], nil
}

// PartOfPage returns the part containing page.
func PartOfPage(page int) (int, error) {
	if err := ValidatePage(page); err != nil {
		return 0, err
	}
	i := sort.Search(PartCount, func(i int) bool { return partStartPages[i] > page })
	return i, nil
}

// ChapterAtPage returns the last chapter that begins on or before page.
// Several short chapters can share a page; the highest numbered wins.
func ChapterAtPage(page int) (int, error) {
	if err := ValidatePage(page); err != nil {
		return 0, err
	}
	i := sort.Search(ChapterCount, func(i int) bool { return chapterStartPages[i] > page })
	return i, nil
}

// ChapterName returns the transliterated name of chapter ch, or "" if invalid.
func ChapterName(ch int) string {
	if ValidateChapter(ch) != nil {
		return ""
	}
	return chapterNames[ch-1]
}

// IsProstration reports whether a is one of the prostration verses.
func IsProstration(a Address) bool {
	_, ok := prostrationVerses[a]
	return ok
}
