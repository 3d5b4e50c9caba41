package models

import "time"

// Label is the market-value classification of a listing's price.
type Label string

const (
	LabelOverpriced  Label = "overpriced"
	LabelFair        Label = "fair"
	LabelUnderpriced Label = "underpriced"
)

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelOverpriced, LabelFair, LabelUnderpriced:
		return true
	}
	return false
}

// Classification is the reasoning service's verdict on a listing's price.
type Classification struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// MarketAggregates holds statistics computed over a comparable pool.
type MarketAggregates struct {
	Count              int     `json:"count"`
	MeanPrice          float64 `json:"mean_price"`
	MedianPrice        float64 `json:"median_price"`
	MinPrice           int64   `json:"min_price"`
	MaxPrice           int64   `json:"max_price"`
	StdDevPrice        float64 `json:"stddev_price"`
	SqftCount          int     `json:"sqft_count"`
	MeanPricePerSqft   float64 `json:"mean_price_per_sqft"`
	MedianPricePerSqft float64 `json:"median_price_per_sqft"`
	MinPricePerSqft    float64 `json:"min_price_per_sqft"`
	MaxPricePerSqft    float64 `json:"max_price_per_sqft"`
}

// MarketEvaluation is the persisted opinion on one listing. It is replaced
// wholesale on every re-evaluation.
type MarketEvaluation struct {
	ListingID       string           `json:"listing_id"`
	Classification  Classification   `json:"classification"`
	Aggregates      MarketAggregates `json:"aggregates"`
	ComparableCount int              `json:"comparable_count"`
	Model           string           `json:"model"`
	EvaluatedAt     time.Time        `json:"evaluated_at"`

	// Snapshot of the listing at evaluation time, for display without a join.
	ModelName   string `json:"model_name"`
	Price       int64  `json:"price"`
	Address     string `json:"address,omitempty"`
	BuilderName string `json:"builder_name"`
	Community   string `json:"community"`
}
