package activity

// Badge is a daily achievement tier derived from the number of verses read.
type Badge string

const (
	BadgeNone        Badge = "none"
	BadgeGhairGhafil Badge = "ghair_ghafil"
	BadgeDhakir      Badge = "dhakir"
	BadgeQanit       Badge = "qanit"
	BadgeKhashie     Badge = "khashie"
	BadgeFaez        Badge = "faez"
	BadgeMujtahid    Badge = "mujtahid"
	BadgeSahibQantar Badge = "sahib_qantar"
)

// Tier pairs a badge with the minimum daily count that earns it.
type Tier struct {
	Badge     Badge  `json:"badge"`
	Threshold int    `json:"threshold"`
	Title     string `json:"title"`
}

// Tiers is ascending by threshold; the first entry is the default.
var Tiers = []Tier{
	{BadgeNone, 0, "No badge"},
	{BadgeGhairGhafil, 10, "Ghair Ghafil"},
	{BadgeDhakir, 50, "Dhakir"},
	{BadgeQanit, 100, "Qanit"},
	{BadgeKhashie, 200, "Khashie"},
	{BadgeFaez, 300, "Faez"},
	{BadgeMujtahid, 500, "Mujtahid"},
	{BadgeSahibQantar, 1000, "Sahib al-Qintar"},
}

// TierFor returns the highest tier whose threshold does not exceed count.
func TierFor(count int) Tier {
	best := Tiers[0]
	for _, t := range Tiers[1:] {
		if t.Threshold > count {
			break
		}
		best = t
	}
	return best
}

// NextTier returns the tier after the one count earns, if any.
func NextTier(count int) (Tier, bool) {
	for _, t := range Tiers {
		if t.Threshold > count {
			return t, true
		}
	}
	return Tier{}, false
}

// VersesToNextTier is the number of additional verses needed for the next
// tier, or 0 at the top tier.
func VersesToNextTier(count int) int {
	next, ok := NextTier(count)
	if !ok {
		return 0
	}
	return next.Threshold - count
}

// TierOf looks up the tier for a badge.
func TierOf(b Badge) (Tier, bool) {
	for _, t := range Tiers {
		if t.Badge == b {
			return t, true
		}
	}
	return Tier{}, false
}
