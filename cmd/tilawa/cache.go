package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/corpus"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/api"
	"github.com/FocuswithJustin/tilawa/internal/player"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// CacheGroup contains audio cache operations.
type CacheGroup struct {
	Prefetch CachePrefetchCmd `cmd:"" help:"Download the clips of a selection for offline playback"`
	Stats    CacheStatsCmd    `cmd:"" help:"Show cache usage"`
	Verify   CacheVerifyCmd   `cmd:"" help:"Rehash cached clips and evict corrupt ones"`
}

type CachePrefetchCmd struct {
	Selection
	Reciter string `help:"Reciter edition (default: saved preference)"`
	Workers int    `help:"Concurrent downloads (default: TILAWA_FETCH_WORKERS)"`
}

func (c *CachePrefetchCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pc, res, _, err := c.build(ctx, a)
	if err != nil {
		return err
	}
	prefs, err := a.preferences(ctx)
	if err != nil {
		return err
	}
	reciter := c.Reciter
	if reciter == "" {
		reciter = pc.Reciter
	}
	if reciter == "" {
		reciter = prefs.Reciter
	}
	workers := c.Workers
	if workers < 1 {
		workers = a.cfg.FetchWorkers
	}

	var keys []store.AudioKey
	preamble := false
	for _, e := range res.Queue.Entries() {
		keys = append(keys, store.AudioKey{Reciter: reciter, Bitrate: prefs.Bitrate, Address: e.Verse.Address})
		preamble = preamble || verse.RequiresPreamble(e.Verse.Address)
	}
	if preamble {
		keys = append(keys, store.AudioKey{Reciter: reciter, Bitrate: prefs.Bitrate, Address: verse.PreambleAddress})
	}

	audio, err := a.audio()
	if err != nil {
		return err
	}
	rep, err := audio.FetchAll(ctx, keys, workers)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "cached %d of %d clips for %s/%s\n", rep.Fetched, rep.Requested, reciter, prefs.Bitrate)
	failed := make([]string, 0, len(rep.Failed))
	for k, err := range rep.Failed {
		failed = append(failed, fmt.Sprintf("failed %s: %v", k, err))
	}
	sort.Strings(failed)
	for _, line := range failed {
		fmt.Fprintln(stdout, line)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d clips could not be downloaded", len(failed))
	}
	return nil
}

type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	audio, err := a.audio()
	if err != nil {
		return err
	}
	st, err := audio.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "clips:    %s (%d reciters)\n", humanize.Comma(int64(st.Clips)), st.Reciters)
	fmt.Fprintf(stdout, "indexed:  %s\n", humanize.Bytes(uint64(st.Bytes)))
	fmt.Fprintf(stdout, "on disk:  %s in %s blobs\n", humanize.Bytes(uint64(st.DiskBytes)), humanize.Comma(int64(st.Blobs)))
	fmt.Fprintf(stdout, "location: %s\n", a.cfg.AudioCacheDir)
	return nil
}

type CacheVerifyCmd struct {
	Reciter string `help:"Reciter edition (default: saved preference)"`
	Bitrate string `help:"Bitrate (default: saved preference)"`
}

func (c *CacheVerifyCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prefs, err := a.preferences(ctx)
	if err != nil {
		return err
	}
	reciter, bitrate := c.Reciter, c.Bitrate
	if reciter == "" {
		reciter = prefs.Reciter
	}
	if bitrate == "" {
		bitrate = prefs.Bitrate
	}
	audio, err := a.audio()
	if err != nil {
		return err
	}
	bad, err := audio.Verify(ctx, reciter, bitrate)
	if err != nil {
		return err
	}
	for _, k := range bad {
		fmt.Fprintf(stdout, "evicted %s\n", k)
	}
	fmt.Fprintf(stdout, "%d corrupt clips evicted\n", len(bad))
	return nil
}

// ImportCmd loads a Tanzil corpus into the database.
type ImportCmd struct {
	Text    string `arg:"" help:"Tanzil text file (.xml or .xml.xz)" type:"existingfile"`
	Meta    string `help:"Tanzil quran-data.xml with page and hizb layout" type:"existingfile"`
	Partial bool   `help:"Accept a corpus with missing verses"`
}

func (c *ImportCmd) Run(ctx context.Context, g *Globals) error {
	corp, err := corpus.Open(c.Text, c.Meta)
	if err != nil {
		return err
	}
	if !c.Partial {
		if err := corp.Complete(); err != nil {
			return fmt.Errorf("incomplete corpus (use --partial to import anyway): %w", err)
		}
	}

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.ImportVerses(ctx, corp.All())
	if err != nil {
		return err
	}
	layout := "without page layout"
	if corp.HasLayout() {
		layout = "with page layout"
	}
	fmt.Fprintf(stdout, "imported %s verses %s\n", humanize.Comma(int64(n)), layout)
	return nil
}

// ServeCmd starts the session server.
type ServeCmd struct {
	Listen string `help:"Listen address (default: TILAWA_LISTEN)"`
	Local  bool   `help:"Allow sessions to play through the player on this host"`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	provider, err := a.provider(ctx)
	if err != nil {
		return err
	}
	audio, err := a.audio()
	if err != nil {
		return err
	}

	cfg := api.ConfigFrom(a.cfg)
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	deps := api.Deps{
		Provider: provider,
		Audio:    audio,
		Library:  a.store,
		Tracker:  activity.NewTracker(a.store),
		Prefetch: func(reciter, bitrate string) playback.Prefetcher {
			return audio.Prefetcher(reciter, bitrate, provider)
		},
	}
	if c.Local {
		command := a.cfg.PlayerCommand
		deps.LocalTransport = func() (playback.Transport, error) {
			p, err := player.New(command)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}

	srv, err := api.New(cfg, deps, version)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
