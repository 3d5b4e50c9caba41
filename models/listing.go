package models

import (
	"strings"
	"time"
)

// RawListing holds one unprocessed record handed over by a builder-site scraper.
// Every field except RawPrice and ModelName may be empty or malformed.
type RawListing struct {
	BuilderName  string   `json:"builder_name"`
	Community    string   `json:"community"`
	ModelName    string   `json:"model_name"`
	Address      string   `json:"address,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	ZipCode      string   `json:"zip_code,omitempty"`
	Homesite     string   `json:"homesite,omitempty"`
	RawPrice     string   `json:"price"`
	Bedrooms     string   `json:"bedrooms,omitempty"`
	Bathrooms    string   `json:"bathrooms,omitempty"`
	SquareFeet   string   `json:"square_feet,omitempty"`
	GarageSpaces string   `json:"garage_spaces,omitempty"`
	LotSize      string   `json:"lot_size,omitempty"`
	Status       string   `json:"status,omitempty"`
	Features     []string `json:"features,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// Batch is one scrape run as delivered by the scraping collaborator.
// Full batches cover every listing of the builders they contain, so a listing
// of those builders missing from a full batch counts as delisted.
type Batch struct {
	ID        string       `json:"id"`
	Source    string       `json:"source"`
	Full      bool         `json:"full"`
	ScrapedAt time.Time    `json:"scraped_at"`
	Listings  []RawListing `json:"listings"`
}

// Status is the sales status of a home.
type Status string

const (
	StatusUnknown     Status = ""
	StatusAvailable   Status = "available"
	StatusQuickMoveIn Status = "quick-move-in"
	StatusPending     Status = "pending"
	StatusSold        Status = "sold"
)

// ParseStatus maps a stored status value back onto the enum.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusAvailable:
		return StatusAvailable
	case StatusQuickMoveIn:
		return StatusQuickMoveIn
	case StatusPending:
		return StatusPending
	case StatusSold:
		return StatusSold
	}
	return StatusUnknown
}

// Observation is a cleaned, typed RawListing ready for identity resolution.
type Observation struct {
	BuilderID     string
	BuilderName   string
	CommunityID   string
	CommunityName string
	ModelName     string
	Address       string // empty when absent or a placeholder
	City          string
	State         string
	ZipCode       string
	Homesite      string
	Price         int64
	Bedrooms      int
	Bathrooms     float64
	SquareFeet    int
	GarageSpaces  int
	LotSize       float64
	Status        Status // StatusUnknown when the scraper gave nothing usable
	Features      []string
	URL           string
	Position      int // index of the record inside its batch
}

// CanonicalListing is the single authoritative record for one physical home.
type CanonicalListing struct {
	ID              string     `json:"id"`
	BuilderID       string     `json:"builder_id"`
	BuilderName     string     `json:"builder_name"`
	CommunityID     string     `json:"community_id"`
	CommunityName   string     `json:"community_name"`
	IdentityKey     string     `json:"identity_key"`
	AliasKey        string     `json:"alias_key,omitempty"`
	ModelName       string     `json:"model_name"`
	Address         string     `json:"address,omitempty"`
	City            string     `json:"city,omitempty"`
	State           string     `json:"state,omitempty"`
	ZipCode         string     `json:"zip_code,omitempty"`
	Homesite        string     `json:"homesite,omitempty"`
	Price           int64      `json:"price"`
	Bedrooms        int        `json:"bedrooms"`
	Bathrooms       float64    `json:"bathrooms"`
	SquareFeet      int        `json:"square_feet"`
	GarageSpaces    int        `json:"garage_spaces"`
	LotSize         float64    `json:"lot_size"`
	Status          Status     `json:"status"`
	Features        []string   `json:"features"`
	URL             string     `json:"url,omitempty"`
	MissedBatches   int        `json:"missed_batches"`
	LastMissedBatch string     `json:"last_missed_batch,omitempty"`
	AbsentSince     *time.Time `json:"absent_since,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PricePerSqft returns price divided by square footage, or 0 without a footprint.
func (l *CanonicalListing) PricePerSqft() float64 {
	if l.SquareFeet <= 0 {
		return 0
	}
	return float64(l.Price) / float64(l.SquareFeet)
}

// ListingFilter narrows a listing query. Empty fields match everything.
type ListingFilter struct {
	BuilderIDs []string
	Statuses   []Status
}
