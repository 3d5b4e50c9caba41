package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newhome-tracker/models"
)

func TestAggregatePrices(t *testing.T) {
	comps := []*models.CanonicalListing{
		{ID: "a", Price: 400000, SquareFeet: 2000},
		{ID: "b", Price: 500000, SquareFeet: 2500},
		{ID: "c", Price: 300000, SquareFeet: 0},
		{ID: "d", Price: 600000, SquareFeet: 2000},
	}

	aggs, err := Aggregate(comps)
	require.NoError(t, err)

	assert.Equal(t, 4, aggs.Count)
	assert.Equal(t, 450000.0, aggs.MeanPrice)
	assert.Equal(t, 450000.0, aggs.MedianPrice)
	assert.Equal(t, int64(300000), aggs.MinPrice)
	assert.Equal(t, int64(600000), aggs.MaxPrice)
	assert.InDelta(t, 129099.44, aggs.StdDevPrice, 0.01)

	assert.Equal(t, 3, aggs.SqftCount)
	assert.Equal(t, 233.33, aggs.MeanPricePerSqft)
	assert.Equal(t, 200.0, aggs.MedianPricePerSqft)
	assert.Equal(t, 200.0, aggs.MinPricePerSqft)
	assert.Equal(t, 300.0, aggs.MaxPricePerSqft)
}

func TestAggregateSingleComparable(t *testing.T) {
	aggs, err := Aggregate([]*models.CanonicalListing{{ID: "a", Price: 400000}})
	require.NoError(t, err)
	assert.Equal(t, 1, aggs.Count)
	assert.Equal(t, 400000.0, aggs.MedianPrice)
	assert.Zero(t, aggs.StdDevPrice)
	assert.Zero(t, aggs.SqftCount)
}

func TestAggregateEmptyIsInsufficientData(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
	}
	for _, tt := range tests {
		if got := median(tt.in); got != tt.want {
			t.Errorf("median(%v) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
