package audiocache

import (
	"context"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// Prefetcher warms the cache for one reciter and bitrate.
type Prefetcher struct {
	cache    *Cache
	provider content.Provider
	reciter  string
	bitrate  string
}

// Prefetcher returns a playback.Prefetcher for reciter and bitrate. The
// provider is used to find the first verse of an upcoming page; it may be
// nil, in which case page prefetches are skipped.
func (c *Cache) Prefetcher(reciter, bitrate string, provider content.Provider) *Prefetcher {
	return &Prefetcher{cache: c, provider: provider, reciter: reciter, bitrate: bitrate}
}

// PrefetchVerse implements playback.Prefetcher.
func (p *Prefetcher) PrefetchVerse(ctx context.Context, v content.Verse) {
	if v.CachedAudioLocation != "" || !v.RemoteAudioResolvable {
		return
	}
	p.fetch(ctx, v.Address)
}

// PrefetchPreamble implements playback.Prefetcher.
func (p *Prefetcher) PrefetchPreamble(ctx context.Context) {
	p.fetch(ctx, verse.PreambleAddress)
}

// PrefetchPage implements playback.Prefetcher.
func (p *Prefetcher) PrefetchPage(ctx context.Context, page int) {
	if p.provider == nil {
		return
	}
	vs, err := p.provider.VersesOnPage(ctx, page)
	if err != nil || len(vs) == 0 {
		logging.LoggerFromContext(ctx).Debug("page prefetch skipped", "page", page, "error", err)
		return
	}
	if verse.RequiresPreamble(vs[0].Address) {
		p.PrefetchPreamble(ctx)
	}
	p.PrefetchVerse(ctx, vs[0])
}

func (p *Prefetcher) fetch(ctx context.Context, a verse.Address) {
	key := store.AudioKey{Reciter: p.reciter, Bitrate: p.bitrate, Address: a}
	if _, err := p.cache.Fetch(ctx, key); err != nil && ctx.Err() == nil {
		logging.LoggerFromContext(ctx).Warn("audio prefetch failed", "key", key.String(), "error", err)
	}
}

var _ playback.Prefetcher = (*Prefetcher)(nil)
