// Package reasoning talks to the external model that classifies a listing's
// price against its market.
package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"newhome-tracker/models"
)

// ErrMalformedResponse means the model answered with something that is not a
// classification document.
var ErrMalformedResponse = errors.New("malformed reasoning response")

// Listing is the normalised view of a home sent to the model.
type Listing struct {
	ID           string   `json:"id"`
	Builder      string   `json:"builder"`
	Community    string   `json:"community"`
	Model        string   `json:"model"`
	Address      string   `json:"address,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	ZipCode      string   `json:"zip_code,omitempty"`
	Price        int64    `json:"price"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	Bathrooms    float64  `json:"bathrooms,omitempty"`
	SquareFeet   int      `json:"square_feet,omitempty"`
	PricePerSqft float64  `json:"price_per_sqft,omitempty"`
	GarageSpaces int      `json:"garage_spaces,omitempty"`
	LotSize      float64  `json:"lot_size,omitempty"`
	Status       string   `json:"status"`
	Features     []string `json:"features,omitempty"`
}

// Request is everything the model is given to judge one subject.
type Request struct {
	Subject     Listing                 `json:"subject"`
	Comparables []Listing               `json:"comparables"`
	Aggregates  models.MarketAggregates `json:"aggregates"`
}

// Response is the model's structured verdict.
type Response struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// NewRequest builds a request from canonical listings.
func NewRequest(subject *models.CanonicalListing, comparables []*models.CanonicalListing, aggs models.MarketAggregates) Request {
	req := Request{
		Subject:     toListing(subject),
		Comparables: make([]Listing, len(comparables)),
		Aggregates:  aggs,
	}
	for i, c := range comparables {
		req.Comparables[i] = toListing(c)
	}
	return req
}

func toListing(l *models.CanonicalListing) Listing {
	return Listing{
		ID:           l.ID,
		Builder:      l.BuilderName,
		Community:    l.CommunityName,
		Model:        l.ModelName,
		Address:      l.Address,
		City:         l.City,
		State:        l.State,
		ZipCode:      l.ZipCode,
		Price:        l.Price,
		Bedrooms:     l.Bedrooms,
		Bathrooms:    l.Bathrooms,
		SquareFeet:   l.SquareFeet,
		PricePerSqft: float64(int64(l.PricePerSqft()*100)) / 100,
		GarageSpaces: l.GarageSpaces,
		LotSize:      l.LotSize,
		Status:       string(l.Status),
		Features:     l.Features,
	}
}

const instructions = `You are a residential real-estate pricing analyst for new-construction homes.
You receive a subject home, a set of comparable homes from the same locality and
aggregate statistics over those comparables, as JSON.
Classify the subject's list price as "overpriced", "fair" or "underpriced" relative
to the comparables, considering price per square foot, structure and features.
Answer with a JSON object only: {"label": string, "confidence": number between 0 and 1,
"rationale": short explanation citing the figures you used}.`

// BuildPrompt renders the request as the user prompt.
func BuildPrompt(req Request) (string, error) {
	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode reasoning request: %w", err)
	}
	return "Evaluate this listing:\n" + string(body), nil
}

// ParseResponse decodes the model's answer, tolerating a Markdown code fence
// around the JSON document.
func ParseResponse(text string) (Response, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return Response{}, fmt.Errorf("empty answer: %w", ErrMalformedResponse)
	}

	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.Label = strings.ToLower(strings.TrimSpace(resp.Label))
	return resp, nil
}
