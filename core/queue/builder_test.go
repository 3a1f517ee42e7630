package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FocuswithJustin/tilawa/core/content"
	tilerrors "github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
)

// fakeProvider serves verses from the static tables; bookmarks listed in
// fail return an error, and delay slows every fetch.
type fakeProvider struct {
	fail     map[string]bool
	delay    map[string]time.Duration
	pageFail bool
	calls    atomic.Int32
}

func makeVerse(a verse.Address, page int) content.Verse {
	return content.Verse{Address: a, Global: verse.MustGlobalIndex(a), Page: page, RemoteAudioResolvable: true}
}

func (f *fakeProvider) VersesForBookmark(ctx context.Context, b content.Bookmark) ([]content.Verse, error) {
	f.calls.Add(1)
	if d := f.delay[b.ID]; d > 0 {
		time.Sleep(d)
	}
	if f.fail[b.ID] {
		return nil, fmt.Errorf("upstream 503")
	}
	addrs, err := b.Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]content.Verse, len(addrs))
	for i, a := range addrs {
		out[i] = makeVerse(a, 0)
	}
	return out, nil
}

func (f *fakeProvider) VersesOnPage(ctx context.Context, page int) ([]content.Verse, error) {
	if f.pageFail {
		return nil, fmt.Errorf("offline")
	}
	return []content.Verse{
		makeVerse(verse.Address{Chapter: 112, Verse: 1}, page),
		makeVerse(verse.Address{Chapter: 112, Verse: 2}, page),
	}, nil
}

func mustRange(t *testing.T, id string, ch, from, to int) content.Bookmark {
	t.Helper()
	b, err := content.NewRangeBookmark(id, "c1", verse.Address{Chapter: ch, Verse: from}, verse.Address{Chapter: ch, Verse: to})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBuildSingleBookmark(t *testing.T) {
	b := NewBuilder(&fakeProvider{})
	res, err := b.Build(context.Background(), ForBookmark(mustRange(t, "b1", 2, 255, 257)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue.Len() != 3 || res.Partial() {
		t.Fatalf("len = %d, partial = %v", res.Queue.Len(), res.Partial())
	}
	for i, e := range res.Queue.Entries() {
		if e.Position != i || e.BookmarkID != "b1" {
			t.Errorf("entry %d = %+v", i, e)
		}
		if e.Verse.Address != (verse.Address{Chapter: 2, Verse: 255 + i}) {
			t.Errorf("entry %d address = %v", i, e.Verse.Address)
		}
	}
	first, _ := res.Queue.At(0)
	if first.ReadID() != "c1:2:255" {
		t.Errorf("ReadID() = %q", first.ReadID())
	}
}

func TestBuildCollectionContinuesPositions(t *testing.T) {
	b1 := mustRange(t, "B1", 2, 1, 3)
	b2 := mustRange(t, "B2", 3, 1, 2)
	// B1 is slower so completion order differs from caller order.
	p := &fakeProvider{delay: map[string]time.Duration{"B1": 20 * time.Millisecond}}

	res, err := NewBuilder(p).Build(context.Background(), ForCollection([]content.Bookmark{b1, b2}))
	if err != nil {
		t.Fatal(err)
	}
	entries := res.Queue.Entries()
	if len(entries) != 5 {
		t.Fatalf("len = %d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Position != i {
			t.Errorf("entries[%d].Position = %d", i, e.Position)
		}
		want := "B1"
		if i >= 3 {
			want = "B2"
		}
		if e.BookmarkID != want {
			t.Errorf("entries[%d].BookmarkID = %q, want %q", i, e.BookmarkID, want)
		}
	}
}

func TestBuildCollectionPartialFailure(t *testing.T) {
	bms := []content.Bookmark{
		mustRange(t, "B1", 2, 1, 3),
		mustRange(t, "B2", 2, 4, 5),
		mustRange(t, "B3", 2, 6, 6),
	}
	p := &fakeProvider{fail: map[string]bool{"B2": true}}
	res, err := NewBuilder(p).WithConcurrency(1).Build(context.Background(), ForCollection(bms))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Partial() || res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	if res.Failures[0].BookmarkID != "B2" || !errors.Is(res.Failures[0].Err, tilerrors.ErrContentFetch) {
		t.Errorf("failure = %+v", res.Failures[0])
	}
	if res.Queue.Len() != 4 {
		t.Fatalf("len = %d, want 4", res.Queue.Len())
	}
	last, _ := res.Queue.At(3)
	if last.BookmarkID != "B3" || last.Position != 3 {
		t.Errorf("last entry = %+v", last)
	}
	if p.calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls.Load())
	}
}

func TestBuildPageReading(t *testing.T) {
	res, err := NewBuilder(&fakeProvider{}).Build(context.Background(), ForPage(604))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue.Len() != 2 {
		t.Fatalf("len = %d", res.Queue.Len())
	}
	for _, e := range res.Queue.Entries() {
		if e.BookmarkID != content.NoBookmark {
			t.Errorf("BookmarkID = %q, want sentinel", e.BookmarkID)
		}
	}
	e, _ := res.Queue.At(1)
	if e.ReadID() != "-1:112:2" {
		t.Errorf("ReadID() = %q", e.ReadID())
	}

	res, err = NewBuilder(&fakeProvider{pageFail: true}).Build(context.Background(), ForPage(604))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Queue.Len() != 0 {
		t.Errorf("page failure result = %+v", res)
	}
}

func TestBuildUnscopedAndInvalid(t *testing.T) {
	p := &fakeProvider{}
	res, err := NewBuilder(p).Build(context.Background(), ForUnscoped())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unscoped || res.Queue.Len() != 0 || p.calls.Load() != 0 {
		t.Errorf("unscoped result = %+v", res)
	}

	if _, err := NewBuilder(p).Build(context.Background(), ForPage(0)); !errors.Is(err, tilerrors.ErrOutOfRange) {
		t.Errorf("page 0 error = %v", err)
	}
	if _, err := NewBuilder(p).Build(context.Background(), Context{Kind: SingleBookmark}); !errors.Is(err, tilerrors.ErrInvalidInput) {
		t.Errorf("empty bookmark context error = %v", err)
	}
	if _, err := NewBuilder(p).Build(context.Background(), Context{Kind: "shuffle"}); !errors.Is(err, tilerrors.ErrInvalidInput) {
		t.Errorf("unknown kind error = %v", err)
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(&fakeProvider{}).Build(ctx, ForBookmark(mustRange(t, "b1", 1, 1, 7)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestQueueLookups(t *testing.T) {
	q := NewQueue(ForUnscoped(), []Entry{
		{Verse: makeVerse(verse.Address{Chapter: 1, Verse: 1}, 1), Position: 7},
		{Verse: makeVerse(verse.Address{Chapter: 1, Verse: 2}, 1)},
	})
	if e, ok := q.At(0); !ok || e.Position != 0 {
		t.Errorf("At(0) = %+v, %v", e, ok)
	}
	if _, ok := q.Next(1); ok {
		t.Error("Next(1) should be past the end")
	}
	if got := q.IndexOf(verse.Address{Chapter: 1, Verse: 2}); got != 1 {
		t.Errorf("IndexOf() = %d", got)
	}
	var nilQueue *Queue
	if nilQueue.Len() != 0 || nilQueue.IndexOf(verse.Address{}) != -1 {
		t.Error("nil queue should be empty")
	}
}
