package queue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// DefaultConcurrency bounds parallel bookmark fetches.
const DefaultConcurrency = 4

// Builder expands playback contexts into queues.
type Builder struct {
	provider    content.Provider
	concurrency int
}

// NewBuilder returns a Builder that fetches through provider.
func NewBuilder(provider content.Provider) *Builder {
	return &Builder{provider: provider, concurrency: DefaultConcurrency}
}

// WithConcurrency sets the number of bookmarks fetched at once.
func (b *Builder) WithConcurrency(n int) *Builder {
	if n < 1 {
		n = 1
	}
	b.concurrency = n
	return b
}

type fetched struct {
	entries []Entry
	err     error
}

// Build expands pc into a queue. A failed fetch skips that bookmark and is
// reported in Result; the only errors returned are an invalid context or a
// cancelled ctx.
func (b *Builder) Build(ctx context.Context, pc Context) (Result, error) {
	if err := pc.Validate(); err != nil {
		return Result{}, err
	}

	var bookmarks []content.Bookmark
	switch pc.Kind {
	case Unscoped:
		return Result{Queue: NewQueue(pc, nil), Unscoped: true}, nil
	case PageReading:
		res := b.buildPage(ctx, pc)
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		logging.QueueBuilt(ctx, string(pc.Kind), res.Queue.Len(), res.Skipped, "page", pc.Page)
		return res, nil
	case SingleBookmark:
		bookmarks = []content.Bookmark{*pc.Bookmark}
	case Collection:
		bookmarks = pc.Bookmarks
	}

	results := make([]fetched, len(bookmarks))
	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for i, bm := range bookmarks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = fetched{err: err}
				return nil
			}
			verses, err := b.provider.VersesForBookmark(ctx, bm)
			if err != nil {
				results[i] = fetched{err: errors.NewContentFetch("bookmark "+bm.ID, err)}
				return nil
			}
			entries := make([]Entry, len(verses))
			for j, v := range verses {
				entries[j] = Entry{Verse: v, BookmarkID: bm.ID, CollectionID: bm.CollectionID}
			}
			results[i] = fetched{entries: entries}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	var all []Entry
	for i, r := range results {
		if r.err != nil {
			res.Skipped++
			res.Failures = append(res.Failures, Failure{
				BookmarkID: bookmarks[i].ID,
				Err:        r.err,
				Message:    r.err.Error(),
			})
			logging.WarnContext(ctx, "bookmark skipped", "bookmark_id", bookmarks[i].ID, "error", r.err)
			continue
		}
		all = append(all, r.entries...)
	}
	res.Queue = NewQueue(pc, all)
	logging.QueueBuilt(ctx, string(pc.Kind), res.Queue.Len(), res.Skipped)
	return res, nil
}

func (b *Builder) buildPage(ctx context.Context, pc Context) Result {
	verses, err := b.provider.VersesOnPage(ctx, pc.Page)
	if err != nil {
		fe := errors.NewContentFetch("page", err)
		return Result{
			Queue:    NewQueue(pc, nil),
			Skipped:  1,
			Failures: []Failure{{BookmarkID: content.NoBookmark, Err: fe, Message: fe.Error()}},
		}
	}
	entries := make([]Entry, len(verses))
	for i, v := range verses {
		entries[i] = Entry{Verse: v, BookmarkID: content.NoBookmark}
	}
	return Result{Queue: NewQueue(pc, entries)}
}
