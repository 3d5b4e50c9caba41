package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newhome-tracker/models"
)

func home(id, zip string, beds, sqft int, price int64) *models.CanonicalListing {
	return &models.CanonicalListing{
		ID:          id,
		CommunityID: "sheffield",
		City:        "Austin",
		State:       "TX",
		ZipCode:     zip,
		Bedrooms:    beds,
		SquareFeet:  sqft,
		Price:       price,
	}
}

func TestFindComparablesFiltersAndOrders(t *testing.T) {
	subject := home("s", "78744", 4, 2000, 400000)
	pool := []*models.CanonicalListing{
		subject,
		home("a", "78744", 4, 2100, 410000), // 5%
		home("b", "78744", 3, 2000, 380000), // 0%, one bedroom off
		home("c", "78744", 4, 2000, 395000), // exact
		home("d", "78744", 6, 2000, 500000), // too many bedrooms
		home("e", "78744", 4, 2500, 480000), // 25% larger
		home("f", "78701", 4, 2000, 420000), // other zip
		home("g", "78744", 4, 1900, 0),      // no price
	}

	got := NewComparableSelector(DefaultComparableCriteria()).FindComparables(subject, pool)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestFindComparablesBelowMinimumIsEmpty(t *testing.T) {
	subject := home("s", "78744", 4, 2000, 400000)
	pool := []*models.CanonicalListing{
		subject,
		home("a", "78744", 4, 2100, 410000),
		home("f", "78701", 4, 2000, 420000),
	}

	got := NewComparableSelector(DefaultComparableCriteria()).FindComparables(subject, pool)
	assert.Empty(t, got)
}

func TestFindComparablesCapsAtMax(t *testing.T) {
	subject := home("s", "78744", 4, 2000, 400000)
	pool := []*models.CanonicalListing{subject}
	for i := 0; i < 15; i++ {
		pool = append(pool, home(string(rune('a'+i)), "78744", 4, 2000+i*10, 400000))
	}

	got := NewComparableSelector(DefaultComparableCriteria()).FindComparables(subject, pool)
	require.Len(t, got, 10)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "j", got[9].ID)
}

func TestSameLocalityFallsBackToCityThenCommunity(t *testing.T) {
	a := &models.CanonicalListing{City: "Austin", State: "TX", CommunityID: "x"}
	b := &models.CanonicalListing{City: "AUSTIN", State: "TX", CommunityID: "y"}
	assert.True(t, sameLocality(a, b))

	b.State = "MN"
	assert.False(t, sameLocality(a, b))

	c := &models.CanonicalListing{CommunityID: "x"}
	assert.True(t, sameLocality(a, c))
	c.CommunityID = "y"
	assert.False(t, sameLocality(a, c))
}
