package alquran

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/FocuswithJustin/tilawa/core/cache"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// Ayah fetches one verse.
func (c *Client) Ayah(ctx context.Context, a verse.Address) (content.Verse, error) {
	g, err := verse.ToGlobalIndex(a)
	if err != nil {
		return content.Verse{}, err
	}
	if v, ok := c.verses.Get(g); ok {
		return v, nil
	}
	path := fmt.Sprintf("v1/ayah/%d:%d/%s", a.Chapter, a.Verse, c.edition)
	dto, err := get[ayahDTO](ctx, c, path, nil)
	if err != nil {
		return content.Verse{}, err
	}
	v, err := dto.toVerse(a.Chapter)
	if err != nil {
		return content.Verse{}, errors.NewContentFetch(path, err)
	}
	c.verses.Put(v.Global, v)
	return v, nil
}

// VersesForBookmark implements content.Provider. Ranges and chapters are
// fetched with one offset/limit chapter request.
func (c *Client) VersesForBookmark(ctx context.Context, b content.Bookmark) ([]content.Verse, error) {
	if b.Kind == content.KindPage {
		return c.VersesOnPage(ctx, b.Page)
	}
	addrs, err := b.Addresses()
	if err != nil {
		return nil, err
	}
	if vs, ok := c.cached(addrs); ok {
		return vs, nil
	}
	if len(addrs) == 1 {
		v, err := c.Ayah(ctx, addrs[0])
		if err != nil {
			return nil, err
		}
		return []content.Verse{v}, nil
	}

	ch := b.Start.Chapter
	path := fmt.Sprintf("v1/surah/%d/%s", ch, c.edition)
	q := url.Values{}
	q.Set("offset", strconv.Itoa(b.Start.Verse-1))
	q.Set("limit", strconv.Itoa(len(addrs)))
	dto, err := get[surahDTO](ctx, c, path, q)
	if err != nil {
		return nil, err
	}
	out, err := c.convert(path, dto.Ayahs, ch)
	if err != nil {
		return nil, err
	}
	if len(out) != len(addrs) || out[0].Address != addrs[0] {
		return nil, errors.NewContentFetch(path,
			fmt.Errorf("got %d verses for %s, want %d", len(out), b.DisplayText(), len(addrs)))
	}
	return out, nil
}

// VersesOnPage implements content.Provider.
func (c *Client) VersesOnPage(ctx context.Context, page int) ([]content.Verse, error) {
	if err := verse.ValidatePage(page); err != nil {
		return nil, err
	}
	if vs, ok := c.pages.Get(page); ok {
		return vs, nil
	}
	path := fmt.Sprintf("v1/page/%d/%s", page, c.edition)
	dto, err := get[pageDTO](ctx, c, path, nil)
	if err != nil {
		return nil, err
	}
	out, err := c.convert(path, dto.Ayahs, 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.NewContentFetch(path, errors.NewNotFound("page", strconv.Itoa(page)))
	}
	c.pages.Put(page, out)
	return out, nil
}

func (c *Client) convert(path string, ayahs []ayahDTO, chapter int) ([]content.Verse, error) {
	out := make([]content.Verse, 0, len(ayahs))
	for _, a := range ayahs {
		v, err := a.toVerse(chapter)
		if err != nil {
			return nil, errors.NewContentFetch(path, err)
		}
		c.verses.Put(v.Global, v)
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) cached(addrs []verse.Address) ([]content.Verse, bool) {
	out := make([]content.Verse, 0, len(addrs))
	for _, a := range addrs {
		v, ok := c.verses.Get(verse.MustGlobalIndex(a))
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// Reciters lists the audio editions, sorted by identifier. The list is
// cached for the reciter TTL.
func (c *Client) Reciters(ctx context.Context) ([]Reciter, error) {
	all, err := c.reciters.Load(ctx, func(ctx context.Context) (map[string]Reciter, error) {
		list, err := get[[]Reciter](ctx, c, "v1/edition/format/audio", nil)
		if err != nil {
			return nil, err
		}
		m := make(map[string]Reciter, len(list))
		for _, r := range list {
			m[r.Identifier] = r
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Reciter, 0, len(all))
	for _, r := range all {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// Reciter looks up one audio edition.
func (c *Client) Reciter(ctx context.Context, id string) (Reciter, error) {
	all, err := c.Reciters(ctx)
	if err != nil {
		return Reciter{}, err
	}
	i := sort.Search(len(all), func(i int) bool { return all[i].Identifier >= id })
	if i == len(all) || all[i].Identifier != id {
		return Reciter{}, errors.NewNotFound("reciter", id)
	}
	return all[i], nil
}

// CacheStats reports verse and page memoization traffic.
func (c *Client) CacheStats() (verses, pages cache.Stats) {
	return c.verses.Stats(), c.pages.Stats()
}

var _ content.Provider = (*Client)(nil)
