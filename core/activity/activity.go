// Package activity keeps the per-day set of read verses and the badge tier
// derived from its size.
package activity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// DateLayout is the format of Record.Date.
const DateLayout = "2006-01-02"

// Record is one day of reading.
type Record struct {
	Date     string   `json:"date"`
	VerseIDs []string `json:"verse_ids"`
	Badge    Badge    `json:"badge"`
}

// Count returns the number of distinct verses read.
func (r Record) Count() int {
	return len(r.VerseIDs)
}

// Has reports whether id was read on this day.
func (r Record) Has(id string) bool {
	_, ok := slices.BinarySearch(r.VerseIDs, id)
	return ok
}

func (r *Record) add(id string) bool {
	i, ok := slices.BinarySearch(r.VerseIDs, id)
	if ok {
		return false
	}
	r.VerseIDs = slices.Insert(r.VerseIDs, i, id)
	return true
}

func (r *Record) remove(id string) bool {
	i, ok := slices.BinarySearch(r.VerseIDs, id)
	if !ok {
		return false
	}
	r.VerseIDs = slices.Delete(r.VerseIDs, i, i+1)
	return true
}

// normalize sorts and dedups ids and recomputes the badge.
func (r *Record) normalize() {
	slices.Sort(r.VerseIDs)
	r.VerseIDs = slices.Compact(r.VerseIDs)
	r.Badge = TierFor(len(r.VerseIDs)).Badge
}

// Store persists day records. GetRecord returns an empty record for a day
// with no reading.
type Store interface {
	GetRecord(ctx context.Context, date string) (Record, error)
	SaveRecord(ctx context.Context, r Record) error
	// Records returns stored days in [from, to], in any order.
	Records(ctx context.Context, from, to string) ([]Record, error)
}

// Tracker applies read events to today's record. It is safe for
// concurrent use.
type Tracker struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// NewTracker returns a Tracker using the local wall clock.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// WithClock replaces the clock, for tests and replays.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) today() string {
	return t.now().Format(DateLayout)
}

// Today returns today's record.
func (t *Tracker) Today(ctx context.Context) (Record, error) {
	return t.load(ctx)
}

// Toggle flips id in today's read set and returns the updated record and
// whether id is now read.
func (t *Tracker) Toggle(ctx context.Context, id string) (Record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.load(ctx)
	if err != nil {
		return Record{}, false, err
	}
	added := !r.remove(id)
	if added {
		r.add(id)
	}
	if err := t.save(ctx, &r); err != nil {
		return Record{}, false, err
	}
	logging.VerseRead(ctx, id, added, r.Count(), "source", "toggle")
	return r, added, nil
}

// MarkReadIfAbsent adds id to today's read set. It never removes, so a
// replayed verse neither double counts nor gets unmarked.
func (t *Tracker) MarkReadIfAbsent(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.load(ctx)
	if err != nil {
		return false, err
	}
	if !r.add(id) {
		return false, nil
	}
	if err := t.save(ctx, &r); err != nil {
		return false, err
	}
	logging.VerseRead(ctx, id, true, r.Count(), "source", "playback")
	return true, nil
}

func (t *Tracker) load(ctx context.Context) (Record, error) {
	date := t.today()
	r, err := t.store.GetRecord(ctx, date)
	if err != nil {
		return Record{}, err
	}
	r.Date = date
	r.normalize()
	return r, nil
}

func (t *Tracker) save(ctx context.Context, r *Record) error {
	r.Badge = TierFor(r.Count()).Badge
	return t.store.SaveRecord(ctx, *r)
}

// History returns records between from and to inclusive, oldest first,
// with empty days omitted.
func (t *Tracker) History(ctx context.Context, from, to time.Time) ([]Record, error) {
	recs, err := t.store.Records(ctx, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		r.normalize()
		if r.Count() > 0 {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Date, b.Date) })
	return out, nil
}
