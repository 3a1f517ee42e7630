// Package corpus reads the Tanzil XML distribution of the text (and,
// optionally, its quran-data.xml layout metadata) into an in-memory
// content.Provider. Files ending in .xz are decompressed on the fly.
package corpus

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

var (
	suraExpr    = xpath.MustCompile(`/quran/sura`)
	ayaExpr     = xpath.MustCompile(`aya`)
	pageExpr    = xpath.MustCompile(`/quran/pages/page`)
	quarterExpr = xpath.MustCompile(`/quran/hizbs/quarter`)
	sajdaExpr   = xpath.MustCompile(`/quran/sajdas/sajda`)
)

// Corpus holds verses indexed by global index.
type Corpus struct {
	verses    []content.Verse
	present   []bool
	hasLayout bool
}

// Open reads a text file and, when metaPath is not empty, its layout.
func Open(textPath, metaPath string) (*Corpus, error) {
	r, closeFn, err := openFile(textPath)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	c, err := Read(r)
	if err != nil {
		return nil, err
	}
	if metaPath == "" {
		return c, nil
	}
	m, closeMeta, err := openFile(metaPath)
	if err != nil {
		return nil, err
	}
	defer closeMeta()
	if err := c.ApplyLayout(m); err != nil {
		return nil, err
	}
	return c, nil
}

func openFile(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewIO("open", path, err)
	}
	if !strings.HasSuffix(path, ".xz") {
		return f, f.Close, nil
	}
	zr, err := xz.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.NewIO("xz", path, err)
	}
	return zr, f.Close, nil
}

// Read parses a Tanzil text document:
//
//	<quran><sura index="1"><aya index="1" text="..."/></sura></quran>
func Read(r io.Reader) (*Corpus, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		pe := errors.NewParse("tanzil", "", "malformed XML")
		pe.Err = err
		return nil, pe
	}
	c := &Corpus{
		verses:  make([]content.Verse, verse.VerseCount),
		present: make([]bool, verse.VerseCount),
	}
	for _, sura := range xmlquery.QuerySelectorAll(doc, suraExpr) {
		ch, err := intAttr(sura, "index")
		if err != nil {
			return nil, err
		}
		if err := verse.ValidateChapter(ch); err != nil {
			return nil, err
		}
		for _, aya := range xmlquery.QuerySelectorAll(sura, ayaExpr) {
			v, err := intAttr(aya, "index")
			if err != nil {
				return nil, err
			}
			a := verse.Address{Chapter: ch, Verse: v}
			g, err := verse.ToGlobalIndex(a)
			if err != nil {
				return nil, err
			}
			c.verses[g-1] = content.Verse{
				Address:               a,
				Global:                g,
				Text:                  aya.SelectAttr("text"),
				Prostration:           verse.IsProstration(a),
				RemoteAudioResolvable: true,
			}
			c.present[g-1] = true
		}
	}
	if c.Len() == 0 {
		return nil, errors.NewParse("tanzil", "", "no verses found")
	}
	return c, nil
}

// ApplyLayout reads quran-data.xml and assigns each verse its page and
// hizb quarter. Prostration marks from the file are added to the built-in
// ones.
func (c *Corpus) ApplyLayout(r io.Reader) error {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		pe := errors.NewParse("tanzil metadata", "", "malformed XML")
		pe.Err = err
		return pe
	}
	pages, err := markers(doc, pageExpr)
	if err != nil {
		return err
	}
	quarters, err := markers(doc, quarterExpr)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.NewParse("tanzil metadata", "", "no page markers")
	}
	for i := range c.verses {
		g := verse.GlobalIndex(i + 1)
		c.verses[i].Page = markerFor(pages, g)
		c.verses[i].HizbQuarter = markerFor(quarters, g)
	}
	sajdas, err := markers(doc, sajdaExpr)
	if err != nil {
		return err
	}
	for _, g := range sajdas {
		c.verses[g-1].Prostration = true
	}
	c.hasLayout = true
	return nil
}

// markers returns the starting global index of each numbered marker in
// document order, e.g. <page index="2" sura="2" aya="1"/>.
func markers(doc *xmlquery.Node, expr *xpath.Expr) ([]verse.GlobalIndex, error) {
	var out []verse.GlobalIndex
	for _, n := range xmlquery.QuerySelectorAll(doc, expr) {
		ch, err := intAttr(n, "sura")
		if err != nil {
			return nil, err
		}
		v, err := intAttr(n, "aya")
		if err != nil {
			return nil, err
		}
		g, err := verse.ToGlobalIndex(verse.Address{Chapter: ch, Verse: v})
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// markerFor returns the 1-based number of the last marker at or before g.
func markerFor(starts []verse.GlobalIndex, g verse.GlobalIndex) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > g })
}

func intAttr(n *xmlquery.Node, name string) (int, error) {
	s := n.SelectAttr(name)
	v, err := strconv.Atoi(s)
	if err != nil {
		pe := errors.NewParse("tanzil", s, fmt.Sprintf("<%s %s> is not a number", n.Data, name))
		pe.Err = err
		return 0, pe
	}
	return v, nil
}

// Len counts the verses present.
func (c *Corpus) Len() int {
	n := 0
	for _, ok := range c.present {
		if ok {
			n++
		}
	}
	return n
}

// HasLayout reports whether page and hizb data were applied.
func (c *Corpus) HasLayout() bool { return c.hasLayout }

// Complete returns an error naming the first chapter with missing verses.
func (c *Corpus) Complete() error {
	for ch := 1; ch <= verse.ChapterCount; ch++ {
		n, _ := verse.ChapterLength(ch)
		for v := 1; v <= n; v++ {
			g := verse.MustGlobalIndex(verse.Address{Chapter: ch, Verse: v})
			if !c.present[g-1] {
				return errors.NewNotFound("verse", verse.Address{Chapter: ch, Verse: v}.String())
			}
		}
	}
	return nil
}

// Verse returns one verse.
func (c *Corpus) Verse(a verse.Address) (content.Verse, bool) {
	g, err := verse.ToGlobalIndex(a)
	if err != nil || !c.present[g-1] {
		return content.Verse{}, false
	}
	return c.verses[g-1], true
}

// All returns the present verses in global order.
func (c *Corpus) All() []content.Verse {
	out := make([]content.Verse, 0, c.Len())
	for i, v := range c.verses {
		if c.present[i] {
			out = append(out, v)
		}
	}
	return out
}

// VersesForBookmark implements content.Provider.
func (c *Corpus) VersesForBookmark(ctx context.Context, b content.Bookmark) ([]content.Verse, error) {
	if b.Kind == content.KindPage {
		return c.VersesOnPage(ctx, b.Page)
	}
	addrs, err := b.Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]content.Verse, 0, len(addrs))
	for _, a := range addrs {
		v, ok := c.Verse(a)
		if !ok {
			return nil, errors.NewNotFound("verse", a.String())
		}
		out = append(out, v)
	}
	return out, nil
}

// VersesOnPage implements content.Provider. It needs layout metadata.
func (c *Corpus) VersesOnPage(_ context.Context, page int) ([]content.Verse, error) {
	if err := verse.ValidatePage(page); err != nil {
		return nil, err
	}
	if !c.hasLayout {
		return nil, errors.NewNotFound("page layout", strconv.Itoa(page))
	}
	var out []content.Verse
	for i, v := range c.verses {
		if c.present[i] && v.Page == page {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, errors.NewNotFound("page", strconv.Itoa(page))
	}
	return out, nil
}

var _ content.Provider = (*Corpus)(nil)
