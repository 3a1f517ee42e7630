package activity

import (
	"context"
	"slices"
	"time"
)

// StreakThreshold is the daily count that keeps the overall streak alive.
const StreakThreshold = 10

// streakLookbackYears bounds how far back streaks are counted.
const streakLookbackYears = 5

// TierStreak is the streak held at one badge tier.
type TierStreak struct {
	Tier Tier `json:"tier"`
	Days int  `json:"days"`
}

// Streaks summarises consecutive reading days ending on a date.
type Streaks struct {
	EndDate string        `json:"end_date"`
	Overall int           `json:"overall"`
	ByBadge map[Badge]int `json:"by_badge"`
}

// Top returns up to n tier streaks with at least one day, highest tier
// first. With none, it returns the first earnable tier at zero days.
func (s Streaks) Top(n int) []TierStreak {
	var out []TierStreak
	for i := len(Tiers) - 1; i >= 1 && len(out) < n; i-- {
		if d := s.ByBadge[Tiers[i].Badge]; d > 0 {
			out = append(out, TierStreak{Tier: Tiers[i], Days: d})
		}
	}
	if len(out) == 0 {
		return []TierStreak{{Tier: Tiers[1], Days: 0}}
	}
	return out
}

// Streaks counts back from end while each day's count meets a threshold.
func (t *Tracker) Streaks(ctx context.Context, end time.Time) (Streaks, error) {
	from := end.AddDate(-streakLookbackYears, 0, 0)
	recs, err := t.store.Records(ctx, from.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return Streaks{}, err
	}
	counts := make(map[string]int, len(recs))
	for _, r := range recs {
		r.normalize()
		counts[r.Date] = r.Count()
	}
	return computeStreaks(counts, end), nil
}

func computeStreaks(counts map[string]int, end time.Time) Streaks {
	s := Streaks{
		EndDate: end.Format(DateLayout),
		ByBadge: make(map[Badge]int, len(Tiers)),
	}
	s.Overall = streakFor(counts, end, StreakThreshold)
	for _, tier := range Tiers {
		s.ByBadge[tier.Badge] = streakFor(counts, end, tier.Threshold)
	}
	return s
}

func streakFor(counts map[string]int, end time.Time, threshold int) int {
	limit := end.AddDate(-streakLookbackYears, 0, 0)
	days := 0
	for d := end; !d.Before(limit); d = d.AddDate(0, 0, -1) {
		n, ok := counts[d.Format(DateLayout)]
		if !ok || n < threshold {
			break
		}
		days++
	}
	return days
}

// LongestStreak returns the longest run of consecutive days meeting
// threshold among recs.
func LongestStreak(recs []Record, threshold int) int {
	var dates []time.Time
	for _, r := range recs {
		if len(r.VerseIDs) < threshold {
			continue
		}
		d, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	dates = slices.Compact(dates)

	best, run := 0, 0
	for i, d := range dates {
		if i > 0 && dates[i-1].AddDate(0, 0, 1).Equal(d) {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	return best
}
