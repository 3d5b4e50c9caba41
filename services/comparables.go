package services

import (
	"math"
	"sort"

	"newhome-tracker/models"
)

// ComparableCriteria bounds which listings count as comparables.
type ComparableCriteria struct {
	MinCount      int
	MaxCount      int
	BedroomDelta  int
	SqftTolerance float64 // relative, 0.2 = ±20%
}

// DefaultComparableCriteria returns the stock tolerances.
func DefaultComparableCriteria() ComparableCriteria {
	return ComparableCriteria{MinCount: 2, MaxCount: 10, BedroomDelta: 1, SqftTolerance: 0.20}
}

// ComparableSelector picks comparables for a subject listing from a pool.
type ComparableSelector struct {
	criteria ComparableCriteria
}

// NewComparableSelector creates a selector.
func NewComparableSelector(c ComparableCriteria) *ComparableSelector {
	return &ComparableSelector{criteria: c}
}

type scoredComparable struct {
	listing  *models.CanonicalListing
	sqftDist float64
	bedDist  int
}

// FindComparables returns the closest listings sharing the subject's locality
// within the bedroom and square-footage tolerances, closest first. It returns
// nil when fewer than MinCount qualify.
func (s *ComparableSelector) FindComparables(subject *models.CanonicalListing, pool []*models.CanonicalListing) []*models.CanonicalListing {
	var scored []scoredComparable

	for _, c := range pool {
		if c.ID == subject.ID || c.Price <= 0 {
			continue
		}
		if !sameLocality(subject, c) {
			continue
		}

		bedDist := 0
		if subject.Bedrooms > 0 {
			if c.Bedrooms <= 0 {
				continue
			}
			bedDist = absInt(c.Bedrooms - subject.Bedrooms)
			if bedDist > s.criteria.BedroomDelta {
				continue
			}
		}

		sqftDist := 0.0
		if subject.SquareFeet > 0 {
			if c.SquareFeet <= 0 {
				continue
			}
			sqftDist = math.Abs(float64(c.SquareFeet-subject.SquareFeet)) / float64(subject.SquareFeet)
			if sqftDist > s.criteria.SqftTolerance {
				continue
			}
		}

		scored = append(scored, scoredComparable{listing: c, sqftDist: sqftDist, bedDist: bedDist})
	}

	if len(scored) < s.criteria.MinCount || len(scored) == 0 {
		return nil
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.sqftDist != b.sqftDist {
			return a.sqftDist < b.sqftDist
		}
		if a.bedDist != b.bedDist {
			return a.bedDist < b.bedDist
		}
		return a.listing.ID < b.listing.ID
	})

	if s.criteria.MaxCount > 0 && len(scored) > s.criteria.MaxCount {
		scored = scored[:s.criteria.MaxCount]
	}

	out := make([]*models.CanonicalListing, len(scored))
	for i, sc := range scored {
		out[i] = sc.listing
	}
	return out
}

// sameLocality compares ZIP codes when both sides have one, then cities,
// then communities.
func sameLocality(a, b *models.CanonicalListing) bool {
	switch {
	case a.ZipCode != "" && b.ZipCode != "":
		return a.ZipCode == b.ZipCode
	case a.City != "" && b.City != "":
		if a.State != "" && b.State != "" && a.State != b.State {
			return false
		}
		return fold(a.City) == fold(b.City)
	default:
		return a.CommunityID != "" && a.CommunityID == b.CommunityID
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
