package services

import (
	"fmt"
	"slices"

	"newhome-tracker/models"
)

// ChangeKind classifies what an observation means for its canonical listing.
type ChangeKind string

const (
	ChangeCreated          ChangeKind = "created"
	ChangePriceChanged     ChangeKind = "price_changed"
	ChangeAttributeChanged ChangeKind = "attribute_changed"
	ChangeUnchanged        ChangeKind = "unchanged"
	ChangeDelisted         ChangeKind = "delisted"
)

// AttributeDelta is one non-price field that differs from stored state.
type AttributeDelta struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ChangeSet is the typed difference between stored state and an observation.
// Current is the row the diff was computed against (nil for ChangeCreated);
// Next is the state the ledger writer should persist.
type ChangeSet struct {
	Kind       ChangeKind
	Resolution Resolution
	BatchID    string
	Current    *models.CanonicalListing
	Next       *models.CanonicalListing
	OldPrice   int64
	NewPrice   int64
	Attributes []AttributeDelta
}

// Diff compares an observation with the canonical listing it resolved to.
// Price comparison is exact. A price change alone never changes status, and
// fields the observation lacks keep their stored value.
func Diff(current *models.CanonicalListing, obs models.Observation, res Resolution) ChangeSet {
	if current == nil {
		return ChangeSet{
			Kind:       ChangeCreated,
			Resolution: res,
			Next:       newListingFrom(obs, res),
			NewPrice:   obs.Price,
		}
	}

	next := *current
	next.Features = slices.Clone(current.Features)
	mergeObservation(&next, obs)

	if next.AliasKey == "" {
		for _, k := range res.Keys() {
			if k != next.IdentityKey {
				next.AliasKey = k
				break
			}
		}
	}

	// Seen again after being counted missing: restore it.
	if current.MissedBatches > 0 || current.AbsentSince != nil {
		if current.Status == models.StatusSold && obs.Status == models.StatusUnknown {
			next.Status = models.StatusAvailable
		}
		next.MissedBatches = 0
		next.LastMissedBatch = ""
		next.AbsentSince = nil
	}

	cs := ChangeSet{
		Resolution: res,
		Current:    current,
		Next:       &next,
		OldPrice:   current.Price,
		NewPrice:   next.Price,
		Attributes: attributeDeltas(current, &next),
	}

	switch {
	case cs.OldPrice != cs.NewPrice:
		cs.Kind = ChangePriceChanged
	case len(cs.Attributes) > 0:
		cs.Kind = ChangeAttributeChanged
	default:
		cs.Kind = ChangeUnchanged
		cs.Next = current
	}
	return cs
}

// DiffMissing builds the change-set for a listing absent from a full batch.
// A miss is counted once per batch, so replaying the batch is Unchanged.
func DiffMissing(current *models.CanonicalListing, batchID string) ChangeSet {
	cs := ChangeSet{
		BatchID:  batchID,
		Current:  current,
		Next:     current,
		OldPrice: current.Price,
		NewPrice: current.Price,
		Kind:     ChangeUnchanged,
	}
	if current.LastMissedBatch == batchID {
		return cs
	}

	next := *current
	next.Status = models.StatusSold
	next.MissedBatches++
	next.LastMissedBatch = batchID

	cs.Kind = ChangeDelisted
	cs.Next = &next
	cs.Attributes = attributeDeltas(current, &next)
	return cs
}

func newListingFrom(obs models.Observation, res Resolution) *models.CanonicalListing {
	l := &models.CanonicalListing{
		BuilderID:   res.BuilderID,
		CommunityID: res.CommunityID,
		IdentityKey: res.Key,
		AliasKey:    res.AliasKey,
		Status:      models.StatusAvailable,
	}
	mergeObservation(l, obs)
	return l
}

// mergeObservation copies every field the observation actually carries.
func mergeObservation(l *models.CanonicalListing, obs models.Observation) {
	l.Price = obs.Price
	setString(&l.BuilderName, obs.BuilderName)
	setString(&l.CommunityName, obs.CommunityName)
	setString(&l.ModelName, obs.ModelName)
	setString(&l.Address, obs.Address)
	setString(&l.City, obs.City)
	setString(&l.State, obs.State)
	setString(&l.ZipCode, obs.ZipCode)
	setString(&l.Homesite, obs.Homesite)
	setString(&l.URL, obs.URL)

	if obs.Bedrooms > 0 {
		l.Bedrooms = obs.Bedrooms
	}
	if obs.Bathrooms > 0 {
		l.Bathrooms = obs.Bathrooms
	}
	if obs.SquareFeet > 0 {
		l.SquareFeet = obs.SquareFeet
	}
	if obs.GarageSpaces > 0 {
		l.GarageSpaces = obs.GarageSpaces
	}
	if obs.LotSize > 0 {
		l.LotSize = obs.LotSize
	}
	if obs.Status != models.StatusUnknown {
		l.Status = obs.Status
	}
	if len(obs.Features) > 0 {
		l.Features = slices.Clone(obs.Features)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func attributeDeltas(old, next *models.CanonicalListing) []AttributeDelta {
	var out []AttributeDelta
	add := func(field string, a, b any) {
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		if as != bs {
			out = append(out, AttributeDelta{Field: field, Old: as, New: bs})
		}
	}

	add("builder_name", old.BuilderName, next.BuilderName)
	add("community_name", old.CommunityName, next.CommunityName)
	add("alias_key", old.AliasKey, next.AliasKey)
	add("model_name", old.ModelName, next.ModelName)
	add("address", old.Address, next.Address)
	add("city", old.City, next.City)
	add("state", old.State, next.State)
	add("zip_code", old.ZipCode, next.ZipCode)
	add("homesite", old.Homesite, next.Homesite)
	add("bedrooms", old.Bedrooms, next.Bedrooms)
	add("bathrooms", old.Bathrooms, next.Bathrooms)
	add("square_feet", old.SquareFeet, next.SquareFeet)
	add("garage_spaces", old.GarageSpaces, next.GarageSpaces)
	add("lot_size", old.LotSize, next.LotSize)
	add("status", old.Status, next.Status)
	add("features", old.Features, next.Features)
	add("url", old.URL, next.URL)
	add("missed_batches", old.MissedBatches, next.MissedBatches)
	add("last_missed_batch", old.LastMissedBatch, next.LastMissedBatch)
	if (old.AbsentSince == nil) != (next.AbsentSince == nil) {
		add("absent_since", old.AbsentSince != nil, next.AbsentSince != nil)
	}
	return out
}
