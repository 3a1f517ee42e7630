package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/queue"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/player"
)

// Selection chooses what to read: references, a page or a collection.
type Selection struct {
	Refs       []string `arg:"" optional:"" help:"References such as 2:255, 2:255-257, 36 or p604"`
	Page       int      `help:"Read one page (1-604)"`
	Collection string   `help:"Read a collection by ID or name"`
}

// context turns the selection into a playback context. Several references
// are read in order, like an unsaved collection.
func (s Selection) context(ctx context.Context, a *app) (queue.Context, error) {
	chosen := 0
	for _, set := range []bool{len(s.Refs) > 0, s.Page != 0, s.Collection != ""} {
		if set {
			chosen++
		}
	}
	if chosen != 1 {
		return queue.Context{}, errors.New("give exactly one of: references, --page or --collection")
	}

	switch {
	case s.Page != 0:
		if err := verse.ValidatePage(s.Page); err != nil {
			return queue.Context{}, err
		}
		return queue.ForPage(s.Page), nil
	case s.Collection != "":
		c, err := a.store.Collection(ctx, s.Collection)
		if err != nil {
			return queue.Context{}, err
		}
		pc := queue.ForCollection(c.Bookmarks)
		pc.Reciter = c.Reciter
		return pc, nil
	}

	bookmarks := make([]content.Bookmark, 0, len(s.Refs))
	for i, r := range s.Refs {
		ref, err := verse.ParseRef(r)
		if err != nil {
			return queue.Context{}, err
		}
		b, err := content.FromRef(fmt.Sprintf("ref%d", i+1), "", ref)
		if err != nil {
			return queue.Context{}, err
		}
		bookmarks = append(bookmarks, b)
	}
	if len(bookmarks) == 1 {
		return queue.ForBookmark(bookmarks[0]), nil
	}
	return queue.ForCollection(bookmarks), nil
}

// build resolves the selection and builds its queue, reporting skipped
// bookmarks on stdout.
func (s Selection) build(ctx context.Context, a *app) (queue.Context, queue.Result, content.Provider, error) {
	pc, err := s.context(ctx, a)
	if err != nil {
		return queue.Context{}, queue.Result{}, nil, err
	}
	provider, err := a.provider(ctx)
	if err != nil {
		return queue.Context{}, queue.Result{}, nil, err
	}
	res, err := queue.NewBuilder(provider).Build(ctx, pc)
	if err != nil {
		return queue.Context{}, queue.Result{}, nil, err
	}
	for _, f := range res.Failures {
		fmt.Fprintf(stdout, "skipped %s: %s\n", f.BookmarkID, f.Message)
	}
	if res.Queue.Len() == 0 {
		return pc, res, provider, errors.New("nothing to read")
	}
	return pc, res, provider, nil
}

// IndexCmd prints addressing details for a reference.
type IndexCmd struct {
	Ref    string `arg:"" optional:"" help:"Reference such as 2:255, 2:255-257, 36 or p604"`
	Global int    `help:"Print the address of a global index (1-6236) instead"`
}

func (c *IndexCmd) Run(ctx context.Context, g *Globals) error {
	if c.Global != 0 {
		a, err := verse.ToAddress(verse.GlobalIndex(c.Global))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s\n", c.Global, a, verse.ChapterName(a.Chapter))
		return nil
	}
	if c.Ref == "" {
		return errors.New("a reference or --global is required")
	}
	ref, err := verse.ParseRef(c.Ref)
	if err != nil {
		return err
	}
	if ref.Kind == verse.RefPage {
		part, err := verse.PartOfPage(ref.Page)
		if err != nil {
			return err
		}
		ch, err := verse.ChapterAtPage(ref.Page)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "page %d\tpart %d\tchapter %d %s\n", ref.Page, part, ch, verse.ChapterName(ch))
		return nil
	}

	addrs, err := ref.Addresses()
	if err != nil {
		return err
	}
	layout := offlineLayout(ctx, g, ref)

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tGLOBAL\tPAGE\tPART\tPREAMBLE\tCHAPTER")
	for _, a := range addrs {
		page, part := "-", "-"
		if v, ok := layout[a]; ok && v.Page > 0 {
			page = fmt.Sprint(v.Page)
			part = fmt.Sprint(v.Part())
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", a, verse.MustGlobalIndex(a), page, part,
			yesNo(verse.RequiresPreamble(a)), verse.ChapterName(a.Chapter))
	}
	return w.Flush()
}

// offlineLayout looks up page and hizb data in the imported corpus. It
// never reaches the network and returns nil when nothing is imported.
func offlineLayout(ctx context.Context, g *Globals, ref verse.Ref) map[verse.Address]content.Verse {
	offline := *g
	offline.Offline = true
	a, err := offline.open(ctx)
	if err != nil {
		return nil
	}
	defer a.Close()
	provider, err := a.provider(ctx)
	if err != nil {
		return nil
	}
	b, err := content.FromRef("", "", ref)
	if err != nil {
		return nil
	}
	vs, err := provider.VersesForBookmark(ctx, b)
	if err != nil {
		return nil
	}
	out := make(map[verse.Address]content.Verse, len(vs))
	for _, v := range vs {
		out[v.Address] = v
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// QueueCmd prints the queue a selection would play.
type QueueCmd struct {
	Selection
	Text bool `help:"Include verse text"`
}

func (c *QueueCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pc, res, _, err := c.build(ctx, a)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	header := "POS\tADDRESS\tGLOBAL\tPAGE\tPREAMBLE\tREAD ID"
	if c.Text {
		header += "\tTEXT"
	}
	fmt.Fprintln(w, header)
	for _, e := range res.Queue.Entries() {
		line := fmt.Sprintf("%d\t%s\t%d\t%d\t%s\t%s", e.Position, e.Verse.Address, e.Verse.Global,
			e.Verse.Page, yesNo(verse.RequiresPreamble(e.Verse.Address)), e.ReadID())
		if c.Text {
			line += "\t" + e.Verse.Text
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s queue: %d verses, %d skipped\n", pc.Kind, res.Queue.Len(), res.Skipped)
	return nil
}

// PlayCmd plays a selection until the queue ends or the command is
// interrupted.
type PlayCmd struct {
	Selection
	From    int    `help:"Queue position to start from" default:"0"`
	Reciter string `help:"Reciter edition (default: collection reciter or saved preference)"`
	Speed   string `help:"Playback speed, e.g. 1.25x (default: saved preference)"`
}

func (c *PlayCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pc, res, provider, err := c.build(ctx, a)
	if err != nil {
		return err
	}
	prefs, err := a.preferences(ctx)
	if err != nil {
		return err
	}
	speed := prefs.Speed
	if c.Speed != "" {
		if speed, err = playback.ParseSpeed(c.Speed); err != nil {
			return err
		}
		if err := a.store.SaveSpeed(ctx, speed); err != nil {
			return err
		}
	}
	reciter := c.Reciter
	if reciter == "" {
		reciter = pc.Reciter
	}
	if reciter == "" {
		reciter = prefs.Reciter
	}

	audio, err := a.audio()
	if err != nil {
		return err
	}
	transport, err := player.New(a.cfg.PlayerCommand)
	if err != nil {
		return err
	}

	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}
	started := false
	seq := playback.New(res.Queue, transport, playback.Options{
		Resolver:    playback.NewResolver(audio, reciter, prefs.Bitrate),
		Marker:      activity.NewTracker(a.store),
		Prefetcher:  audio.Prefetcher(reciter, prefs.Bitrate, provider),
		SettleDelay: a.cfg.SettleDelay,
		OnEvent: func(ev playback.Event) {
			switch ev.Kind {
			case playback.EventStateChanged:
				if ev.State.Playing() {
					started = true
				} else if ev.State.Kind == playback.Idle && started {
					finish(nil)
				}
			case playback.EventVerseRead:
				mark := ""
				if ev.Added {
					mark = " (new today)"
				}
				fmt.Fprintf(stdout, "read %s%s\n", ev.Entry.Verse.Address, mark)
			case playback.EventError:
				finish(ev.Err)
			}
		},
	})
	defer seq.Close(context.WithoutCancel(ctx))

	if speed != playback.DefaultSpeed {
		if err := seq.SetSpeed(ctx, speed); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "playing %d verses with %s at %s\n", res.Queue.Len(), reciter, speed)
	if err := seq.RequestPlay(ctx, c.From); err != nil {
		return err
	}

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		fmt.Fprintln(stdout, "stopped")
		return nil
	}
}
