package services

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"newhome-tracker/models"
)

// Aggregate computes market statistics over a comparable set. Price-per-sqft
// figures only consider comparables with a known footprint.
func Aggregate(comparables []*models.CanonicalListing) (models.MarketAggregates, error) {
	var aggs models.MarketAggregates

	prices := make([]float64, 0, len(comparables))
	perSqft := make([]float64, 0, len(comparables))
	for _, c := range comparables {
		if c.Price <= 0 {
			continue
		}
		prices = append(prices, float64(c.Price))
		if c.SquareFeet > 0 {
			perSqft = append(perSqft, c.PricePerSqft())
		}
	}

	if len(prices) == 0 {
		return aggs, fmt.Errorf("aggregate over %d comparables: %w", len(comparables), models.ErrInsufficientData)
	}

	aggs.Count = len(prices)
	aggs.MeanPrice = round2(stat.Mean(prices, nil))
	aggs.MedianPrice = round2(median(prices))
	aggs.MinPrice = int64(floats.Min(prices))
	aggs.MaxPrice = int64(floats.Max(prices))
	if len(prices) > 1 {
		aggs.StdDevPrice = round2(stat.StdDev(prices, nil))
	}

	if len(perSqft) > 0 {
		aggs.SqftCount = len(perSqft)
		aggs.MeanPricePerSqft = round2(stat.Mean(perSqft, nil))
		aggs.MedianPricePerSqft = round2(median(perSqft))
		aggs.MinPricePerSqft = round2(floats.Min(perSqft))
		aggs.MaxPricePerSqft = round2(floats.Max(perSqft))
	}

	return aggs, nil
}

// median averages the two middle values of an even-sized set.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
