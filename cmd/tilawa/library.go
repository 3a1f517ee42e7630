package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// BookmarkGroup contains bookmark operations.
type BookmarkGroup struct {
	Add  BookmarkAddCmd  `cmd:"" help:"Add a bookmark to a collection"`
	List BookmarkListCmd `cmd:"" help:"List the bookmarks of a collection"`
	Rm   BookmarkRmCmd   `cmd:"" help:"Remove a bookmark"`
}

// CollectionGroup contains collection operations.
type CollectionGroup struct {
	Add  CollectionAddCmd  `cmd:"" help:"Create a collection"`
	List CollectionListCmd `cmd:"" help:"List collections"`
	Show CollectionShowCmd `cmd:"" help:"Show a collection and its bookmarks"`
	Rm   CollectionRmCmd   `cmd:"" help:"Delete a collection and its bookmarks"`
}

// ActivityGroup contains read tracking operations.
type ActivityGroup struct {
	Today   ActivityTodayCmd   `cmd:"" help:"Show today's reading"`
	Toggle  ActivityToggleCmd  `cmd:"" help:"Mark or unmark a verse as read today"`
	Streaks ActivityStreaksCmd `cmd:"" help:"Show reading streaks"`
	History ActivityHistoryCmd `cmd:"" help:"Show daily counts"`
}

type BookmarkAddCmd struct {
	Collection string `arg:"" help:"Collection ID or name"`
	Ref        string `arg:"" help:"Reference such as 2:255, 2:255-257, 36 or p604"`
	Note       string `help:"Free-text note"`
}

func (c *BookmarkAddCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.store.Collection(ctx, c.Collection)
	if err != nil {
		return err
	}
	ref, err := verse.ParseRef(c.Ref)
	if err != nil {
		return err
	}
	b, err := content.FromRef("", coll.ID, ref)
	if err != nil {
		return err
	}
	b.Note = c.Note
	b, err = a.store.AddBookmark(ctx, b)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "added %s to %s (%s)\n", b.DisplayText(), coll.Name, b.ID)
	return nil
}

type BookmarkListCmd struct {
	Collection string `arg:"" help:"Collection ID or name"`
}

func (c *BookmarkListCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.store.Collection(ctx, c.Collection)
	if err != nil {
		return err
	}
	return printBookmarks(coll.Bookmarks)
}

func printBookmarks(bookmarks []content.Bookmark) error {
	if len(bookmarks) == 0 {
		fmt.Fprintln(stdout, "no bookmarks")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBOOKMARK\tADDED\tNOTE")
	for _, b := range bookmarks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.DisplayText(), humanize.Time(b.CreatedAt), b.Note)
	}
	return w.Flush()
}

type BookmarkRmCmd struct {
	ID string `arg:"" help:"Bookmark ID"`
}

func (c *BookmarkRmCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteBookmark(ctx, c.ID); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "removed bookmark %s\n", c.ID)
	return nil
}

type CollectionAddCmd struct {
	Name        string `arg:"" help:"Collection name"`
	Reciter     string `help:"Reciter edition used when playing this collection"`
	Description string `help:"Description"`
}

func (c *CollectionAddCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.store.CreateCollection(ctx, content.Collection{
		Name:        c.Name,
		Reciter:     c.Reciter,
		Description: c.Description,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "created collection %s (%s)\n", coll.Name, coll.ID)
	return nil
}

type CollectionListCmd struct{}

func (c *CollectionListCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	colls, err := a.store.Collections(ctx)
	if err != nil {
		return err
	}
	if len(colls) == 0 {
		fmt.Fprintln(stdout, "no collections")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRECITER\tCREATED")
	for _, coll := range colls {
		reciter := coll.Reciter
		if reciter == "" {
			reciter = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", coll.ID, coll.Name, reciter, humanize.Time(coll.CreatedAt))
	}
	return w.Flush()
}

type CollectionShowCmd struct {
	Key string `arg:"" help:"Collection ID or name"`
}

func (c *CollectionShowCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.store.Collection(ctx, c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (%s)\n", coll.Name, coll.ID)
	if coll.Description != "" {
		fmt.Fprintln(stdout, coll.Description)
	}
	if coll.Reciter != "" {
		fmt.Fprintf(stdout, "reciter: %s\n", coll.Reciter)
	}
	return printBookmarks(coll.Bookmarks)
}

type CollectionRmCmd struct {
	Key string `arg:"" help:"Collection ID or name"`
}

func (c *CollectionRmCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	coll, err := a.store.Collection(ctx, c.Key)
	if err != nil {
		return err
	}
	if err := a.store.DeleteCollection(ctx, coll.ID); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted collection %s\n", coll.Name)
	return nil
}

type ActivityTodayCmd struct{}

func (c *ActivityTodayCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := activity.NewTracker(a.store).Today(ctx)
	if err != nil {
		return err
	}
	n := rec.Count()
	fmt.Fprintf(stdout, "%s: %s verses read, %s\n", rec.Date, humanize.Comma(int64(n)), activity.TierFor(n).Title)
	if next, ok := activity.NextTier(n); ok {
		fmt.Fprintf(stdout, "%d more for %s\n", activity.VersesToNextTier(n), next.Title)
	}
	if page, err := a.store.KhatmPage(ctx); err == nil && page > 0 {
		fmt.Fprintf(stdout, "khatm: page %d of %d\n", page, verse.PageCount)
	}
	return nil
}

type ActivityToggleCmd struct {
	VerseID string `arg:"" help:"Verse ID as owner:chapter:verse, e.g. -1:2:255"`
}

func (c *ActivityToggleCmd) Run(ctx context.Context, g *Globals) error {
	if _, _, err := content.ParseVerseID(c.VerseID); err != nil {
		return err
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, read, err := activity.NewTracker(a.store).Toggle(ctx, c.VerseID)
	if err != nil {
		return err
	}
	state := "unread"
	if read {
		state = "read"
	}
	fmt.Fprintf(stdout, "%s marked %s (%d today)\n", c.VerseID, state, rec.Count())
	return nil
}

type ActivityStreaksCmd struct {
	End string `help:"Last day counted, YYYY-MM-DD (default: today)"`
	Top int    `help:"Number of tier streaks to show" default:"3"`
}

func (c *ActivityStreaksCmd) Run(ctx context.Context, g *Globals) error {
	end := time.Now()
	if c.End != "" {
		t, err := time.ParseInLocation(activity.DateLayout, c.End, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		end = t
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	streaks, err := activity.NewTracker(a.store).Streaks(ctx, end)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "overall: %s through %s\n", days(streaks.Overall), streaks.EndDate)
	for _, ts := range streaks.Top(c.Top) {
		fmt.Fprintf(stdout, "%s: %s\n", ts.Tier.Title, days(ts.Days))
	}
	return nil
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return humanize.Comma(int64(n)) + " days"
}

type ActivityHistoryCmd struct {
	Days int `help:"Number of days to show" default:"7"`
}

func (c *ActivityHistoryCmd) Run(ctx context.Context, g *Globals) error {
	if c.Days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	to := time.Now()
	recs, err := activity.NewTracker(a.store).History(ctx, to.AddDate(0, 0, 1-c.Days), to)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(stdout, "no reading recorded")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tVERSES\tBADGE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.Date, r.Count(), activity.TierFor(r.Count()).Title)
	}
	return w.Flush()
}
