package playback

import (
	"context"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// Resolver prefers a cached local copy and falls back to the remote URL of
// the configured reciter and bitrate.
type Resolver struct {
	Source  content.AudioSource
	Reciter string
	Bitrate string
}

// NewResolver returns a Resolver with default reciter and bitrate filled in.
func NewResolver(src content.AudioSource, reciter, bitrate string) *Resolver {
	if reciter == "" {
		reciter = content.DefaultReciter
	}
	if bitrate == "" {
		bitrate = content.DefaultBitrate
	}
	return &Resolver{Source: src, Reciter: reciter, Bitrate: bitrate}
}

// Resolve implements AudioResolver.
func (r *Resolver) Resolve(ctx context.Context, v content.Verse) (string, error) {
	if v.CachedAudioLocation != "" {
		return v.CachedAudioLocation, nil
	}
	if loc, ok := r.Source.CachedAudioLocation(ctx, r.Reciter, r.Bitrate, v.Address); ok {
		return loc, nil
	}
	if !v.RemoteAudioResolvable {
		return "", errors.NewAudioResolution(v.Address.Chapter, v.Address.Verse, nil)
	}
	g := v.Global
	if g == 0 {
		var err error
		if g, err = verse.ToGlobalIndex(v.Address); err != nil {
			return "", errors.NewAudioResolution(v.Address.Chapter, v.Address.Verse, err)
		}
	}
	return r.remote(ctx, v.Address, g)
}

// ResolvePreamble implements AudioResolver using chapter 1 verse 1 of the
// same reciter and bitrate.
func (r *Resolver) ResolvePreamble(ctx context.Context) (string, error) {
	a := verse.PreambleAddress
	if loc, ok := r.Source.CachedAudioLocation(ctx, r.Reciter, r.Bitrate, a); ok {
		return loc, nil
	}
	return r.remote(ctx, a, verse.MustGlobalIndex(a))
}

func (r *Resolver) remote(ctx context.Context, a verse.Address, g verse.GlobalIndex) (string, error) {
	loc, err := r.Source.ResolveAudioLocation(ctx, r.Reciter, g, r.Bitrate)
	if err != nil {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, err)
	}
	if loc == "" {
		return "", errors.NewAudioResolution(a.Chapter, a.Verse, nil)
	}
	return loc, nil
}
