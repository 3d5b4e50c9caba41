package models

import "time"

// ChangeType is the direction of a price mutation.
type ChangeType string

const (
	ChangeIncrease ChangeType = "increase"
	ChangeDecrease ChangeType = "decrease"
)

// PriceChangeEvent is an immutable record of one detected price mutation.
// ListingID is a weak reference; the sweeper removes events whose listing is gone.
// Seq is the listing version the change produced, so events recorded within
// the same second still sort in order.
type PriceChangeEvent struct {
	ID                  string     `json:"id"`
	ListingID           string     `json:"listing_id"`
	OldPrice            int64      `json:"old_price"`
	NewPrice            int64      `json:"new_price"`
	ChangeAmount        int64      `json:"change_amount"`
	ChangePercentage    float64    `json:"change_percentage"`
	OldPriceStartedAt   time.Time  `json:"old_price_started_at"`
	ChangedAt           time.Time  `json:"changed_at"`
	ChangeType          ChangeType `json:"change_type"`
	DaysSinceLastChange int        `json:"days_since_last_change"`
	Seq                 int64      `json:"seq"`
}

// PriceHistoryInterval is a contiguous window during which a listing held one price.
// The open interval (EndAt == nil) is the listing's current price. Seq is the
// listing version that opened the interval.
type PriceHistoryInterval struct {
	ID         string     `json:"id"`
	ListingID  string     `json:"listing_id"`
	Price      int64      `json:"price"`
	StartAt    time.Time  `json:"start_at"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	DaysActive int        `json:"days_active"`
	IsCurrent  bool       `json:"is_current"`
	Seq        int64      `json:"seq"`
}

// DaySpan counts calendar days (UTC) between two instants. Consecutive spans
// telescope, so summing them over adjacent intervals equals the span of the whole.
func DaySpan(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f) / (24 * time.Hour))
}
