package verse

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/tilawa/core/errors"
)

// RefKind distinguishes the shapes a textual reference can take.
type RefKind int

const (
	RefVerse RefKind = iota
	RefRange
	RefChapter
	RefPage
)

func (k RefKind) String() string {
	switch k {
	case RefVerse:
		return "verse"
	case RefRange:
		return "range"
	case RefChapter:
		return "chapter"
	case RefPage:
		return "page"
	default:
		return "unknown"
	}
}

// Ref is a parsed, validated reference.
type Ref struct {
	Kind     RefKind `json:"kind"`
	Chapter  int     `json:"chapter,omitempty"`
	Verse    int     `json:"verse,omitempty"`
	VerseEnd int     `json:"verse_end,omitempty"`
	Page     int     `json:"page,omitempty"`
}

// refGrammar accepts "2:255", "2:255-257", "36", "p604" and "page 604".
//
//nolint:govet // participle grammar tags are not standard struct tags
type refGrammar struct {
	Page    *int        `  Page @Int`
	Chapter *chapterRef `| @@`
}

//nolint:govet // participle grammar tags are not standard struct tags
type chapterRef struct {
	Chapter int         `@Int`
	Verses  *verseRange `( ":" @@ )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type verseRange struct {
	Start int  `@Int`
	End   *int `( "-" @Int )?`
}

var refLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Page", Pattern: `(?i)p(age)?`},
	{Name: "Punct", Pattern: `[:\-]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var refParser = participle.MustBuild[refGrammar](
	participle.Lexer(refLexer),
	participle.Elide("Whitespace"),
)

// ParseRef parses and validates a reference string.
// Supported formats:
//   - "2:255" (single verse)
//   - "2:255-257" (verse range within one chapter)
//   - "36" (whole chapter)
//   - "p604", "page 604" (whole page)
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, errors.NewParse("reference", s, "empty reference")
	}

	parsed, err := refParser.ParseString("", s)
	if err != nil {
		pe := errors.NewParse("reference", s, "invalid reference format")
		pe.Err = err
		return Ref{}, pe
	}

	var ref Ref
	switch {
	case parsed.Page != nil:
		ref = Ref{Kind: RefPage, Page: *parsed.Page}
	case parsed.Chapter.Verses == nil:
		ref = Ref{Kind: RefChapter, Chapter: parsed.Chapter.Chapter}
	case parsed.Chapter.Verses.End == nil:
		ref = Ref{Kind: RefVerse, Chapter: parsed.Chapter.Chapter, Verse: parsed.Chapter.Verses.Start}
	default:
		ref = Ref{
			Kind:     RefRange,
			Chapter:  parsed.Chapter.Chapter,
			Verse:    parsed.Chapter.Verses.Start,
			VerseEnd: *parsed.Chapter.Verses.End,
		}
	}

	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Validate checks the reference against the corpus tables.
func (r Ref) Validate() error {
	switch r.Kind {
	case RefPage:
		return ValidatePage(r.Page)
	case RefChapter:
		return ValidateChapter(r.Chapter)
	case RefVerse:
		return Address{r.Chapter, r.Verse}.Validate()
	case RefRange:
		if err := (Address{r.Chapter, r.Verse}).Validate(); err != nil {
			return err
		}
		if err := (Address{r.Chapter, r.VerseEnd}).Validate(); err != nil {
			return err
		}
		if r.VerseEnd < r.Verse {
			return errors.NewValidation("range", "end verse precedes start verse")
		}
		return nil
	default:
		return errors.NewValidation("kind", "unknown reference kind")
	}
}

// Addresses expands a verse, range or chapter reference in reading order.
// Page references cannot be expanded without a content provider.
func (r Ref) Addresses() ([]Address, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	first, last := r.Verse, r.Verse
	switch r.Kind {
	case RefPage:
		return nil, errors.NewValidation("kind", "page references have no fixed address list")
	case RefRange:
		last = r.VerseEnd
	case RefChapter:
		first = 1
		last = chapterLengths[r.Chapter-1]
	}
	out := make([]Address, 0, last-first+1)
	for v := first; v <= last; v++ {
		out = append(out, Address{Chapter: r.Chapter, Verse: v})
	}
	return out, nil
}

// String returns the canonical text form accepted by ParseRef.
func (r Ref) String() string {
	var sb strings.Builder
	switch r.Kind {
	case RefPage:
		sb.WriteString("p")
		sb.WriteString(strconv.Itoa(r.Page))
	case RefChapter:
		sb.WriteString(strconv.Itoa(r.Chapter))
	default:
		sb.WriteString(strconv.Itoa(r.Chapter))
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(r.Verse))
		if r.Kind == RefRange {
			sb.WriteString("-")
			sb.WriteString(strconv.Itoa(r.VerseEnd))
		}
	}
	return sb.String()
}
