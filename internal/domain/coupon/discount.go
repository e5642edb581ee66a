package coupon

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// ApplyPercentage returns amount reduced by pct percent. The result is not
// rounded so that stacked discounts round once at the end.
func ApplyPercentage(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(hundred.Sub(pct)).Div(hundred)
}

// BestOffer picks the offer to apply among those live at now: highest
// percentage first, then earliest start, then lowest id. It returns nil when
// none is live.
func BestOffer(offers []Offer, now time.Time) *Offer {
	live := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.LiveAt(now) {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return nil
	}

	best := slices.MinFunc(live, func(a, b Offer) int {
		if c := b.Percentage.Cmp(a.Percentage); c != 0 {
			return c
		}
		if c := a.Window.Start.Compare(b.Window.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return &best
}

// finalize clamps negative amounts to zero and rounds to cents.
func finalize(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return zero
	}
	return amount.Round(2)
}
