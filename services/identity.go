package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"newhome-tracker/models"
)

// Strategy names the rule that produced an identity key.
type Strategy string

const (
	StrategyAddress  Strategy = "address"
	StrategyHomesite Strategy = "homesite"
	StrategyPlan     Strategy = "plan"
)

// Resolution is the outcome of identity resolution for one observation.
// Keys embed builder and community, so they are unique across the whole store.
type Resolution struct {
	Strategy    Strategy
	BuilderID   string
	CommunityID string
	Key         string
	// AliasKey is a weaker key the same home is also known by, set when an
	// observation carries both an address and a homesite number.
	AliasKey string
}

// Keys returns the identity key followed by the alias key, if any.
func (r Resolution) Keys() []string {
	if r.AliasKey == "" {
		return []string{r.Key}
	}
	return []string{r.Key, r.AliasKey}
}

// Resolved pairs an observation with its resolution or the reason it has none.
type Resolved struct {
	Observation models.Observation
	Resolution  Resolution
	Err         error
}

// Resolver derives stable identity keys from observations.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve computes the identity of a single observation. A plan-based key
// resolved outside of a batch always takes sequence 1.
func (r *Resolver) Resolve(obs models.Observation) (Resolution, error) {
	res, err := r.resolveDirect(obs)
	if err != nil {
		return Resolution{}, err
	}
	if res.Strategy == StrategyPlan {
		res.Key = planKey(obs, 1)
	}
	return res, nil
}

// PlanLookup returns the stored listings of one builder community.
type PlanLookup func(builderID, communityID string) ([]*models.CanonicalListing, error)

// ResolveBatch resolves every observation of a batch. Observations that fall
// back to the plan strategy are grouped by builder, community, model and
// structural fingerprint, and each one takes over the sequence of the stored
// listing it matches; unmatched homes get sequences past the highest stored
// one. A nil lookup behaves as an empty store.
func (r *Resolver) ResolveBatch(obs []models.Observation, lookup PlanLookup) ([]Resolved, error) {
	out := make([]Resolved, len(obs))
	groups := make(map[string][]int)

	for i, o := range obs {
		res, err := r.resolveDirect(o)
		out[i] = Resolved{Observation: o, Resolution: res, Err: err}
		if err == nil && res.Strategy == StrategyPlan {
			g := planKey(o, 0)
			groups[g] = append(groups[g], i)
		}
	}

	stored := make(map[string][]*models.CanonicalListing)
	for g, idx := range groups {
		o := obs[idx[0]]
		scope := o.BuilderID + "/" + o.CommunityID
		rows, ok := stored[scope]
		if !ok && lookup != nil {
			var err error
			if rows, err = lookup(o.BuilderID, o.CommunityID); err != nil {
				return nil, fmt.Errorf("load plan listings of %s: %w", scope, err)
			}
			stored[scope] = rows
		}
		assignPlanSeqs(g, obs, idx, out, rows)
	}

	return out, nil
}

type planRow struct {
	seq     int
	listing *models.CanonicalListing
}

// assignPlanSeqs matches the observations of one plan group against the
// stored rows of that group. Matching runs in passes of decreasing
// certainty: a URL unique on both sides, equal features and price, equal
// features at the nearest price. A home whose features changed on the site
// therefore starts a new row.
func assignPlanSeqs(group string, obs []models.Observation, idx []int, out []Resolved, stored []*models.CanonicalListing) {
	prefix := group + "#"
	var rows []planRow
	maxSeq := 0
	for _, l := range stored {
		if !strings.HasPrefix(l.IdentityKey, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(l.IdentityKey, prefix))
		if err != nil || seq < 1 {
			continue
		}
		rows = append(rows, planRow{seq: seq, listing: l})
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].seq < rows[b].seq })

	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := obs[idx[a]], obs[idx[b]]
		fa, fb := featureKey(oa.Features), featureKey(ob.Features)
		if fa != fb {
			return fa < fb
		}
		return oa.Position < ob.Position
	})

	urls := make(map[string]int)
	for _, i := range idx {
		if obs[i].URL != "" {
			urls[obs[i].URL]++
		}
	}
	for _, row := range rows {
		if row.listing.URL != "" {
			urls[row.listing.URL]++
		}
	}

	claimed := make([]bool, len(rows))
	assigned := make(map[int]int, len(idx))
	match := func(pred func(o models.Observation, l *models.CanonicalListing) bool) {
		for _, i := range idx {
			if _, ok := assigned[i]; ok {
				continue
			}
			best := -1
			for k, row := range rows {
				if claimed[k] || !pred(obs[i], row.listing) {
					continue
				}
				if best < 0 || priceGap(obs[i], row.listing) < priceGap(obs[i], rows[best].listing) {
					best = k
				}
			}
			if best >= 0 {
				claimed[best] = true
				assigned[i] = rows[best].seq
			}
		}
	}

	match(func(o models.Observation, l *models.CanonicalListing) bool {
		return o.URL != "" && o.URL == l.URL && urls[o.URL] == 2
	})
	match(func(o models.Observation, l *models.CanonicalListing) bool {
		return o.Price == l.Price && sameFeatures(o, l)
	})
	match(sameFeatures)

	next := maxSeq
	for _, i := range idx {
		seq, ok := assigned[i]
		if !ok {
			next++
			seq = next
		}
		out[i].Resolution.Key = planKey(obs[i], seq)
	}
}

func featureKey(features []string) string {
	return strings.Join(features, "|")
}

// sameFeatures treats an observation without features as unknown, since
// the stored features are kept when a scrape omits them.
func sameFeatures(o models.Observation, l *models.CanonicalListing) bool {
	return len(o.Features) == 0 || featureKey(o.Features) == featureKey(l.Features)
}

func priceGap(o models.Observation, l *models.CanonicalListing) int64 {
	if d := o.Price - l.Price; d > 0 {
		return d
	}
	return l.Price - o.Price
}

// resolveDirect applies the strategies in priority order. Plan keys are left
// without their sequence.
func (r *Resolver) resolveDirect(obs models.Observation) (Resolution, error) {
	builder := obs.BuilderID
	if builder == "" {
		return Resolution{}, fmt.Errorf("no builder: %w", models.ErrUnresolvableIdentity)
	}

	res := Resolution{BuilderID: builder, CommunityID: obs.CommunityID}

	model := normalizeModel(obs.ModelName)
	homesite := normalizeHomesite(obs.Homesite)
	hsKey := ""
	if obs.CommunityID != "" && model != "" && homesite != "" {
		hsKey = scopedKey(StrategyHomesite, obs, model+"/"+homesite)
	}

	if addr := normalizeAddress(obs.Address); addr != "" {
		res.Strategy = StrategyAddress
		res.Key = scopedKey(StrategyAddress, obs, addr)
		res.AliasKey = hsKey
		return res, nil
	}

	if obs.CommunityID == "" || model == "" {
		return Resolution{}, fmt.Errorf("no address and no community/model: %w", models.ErrUnresolvableIdentity)
	}

	if hsKey != "" {
		res.Strategy = StrategyHomesite
		res.Key = hsKey
		return res, nil
	}

	res.Strategy = StrategyPlan
	return res, nil
}

func scopedKey(s Strategy, obs models.Observation, value string) string {
	return string(s) + ":" + obs.BuilderID + "/" + obs.CommunityID + "/" + value
}

// planKey builds the plan-strategy key; seq 0 yields the group prefix.
func planKey(obs models.Observation, seq int) string {
	base := scopedKey(StrategyPlan, obs, normalizeModel(obs.ModelName)+"/"+fingerprint(obs))
	if seq == 0 {
		return base
	}
	return base + "#" + strconv.Itoa(seq)
}

// fingerprint summarises the structure of a home: beds, baths, sqft, garage, lot.
func fingerprint(obs models.Observation) string {
	return strconv.Itoa(obs.Bedrooms) + "bd-" +
		strconv.FormatFloat(obs.Bathrooms, 'f', -1, 64) + "ba-" +
		strconv.Itoa(obs.SquareFeet) + "sf-" +
		strconv.Itoa(obs.GarageSpaces) + "g-" +
		strconv.FormatFloat(obs.LotSize, 'f', -1, 64) + "lot"
}
