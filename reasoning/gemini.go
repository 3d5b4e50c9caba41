package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"newhome-tracker/models"
)

// GeminiClient classifies listings with a Gemini model through the GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiClient creates a client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

// Model returns the model identifier used for classification.
func (g *GeminiClient) Model() string {
	return g.model
}

// Classify asks the model for a verdict on req. Timeouts, throttling and
// server errors come back as models.TransientError.
func (g *GeminiClient) Classify(ctx context.Context, req Request) (Response, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return Response{}, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), generateConfig())
	if err != nil {
		return Response{}, classifyError(err)
	}

	text := resp.Text()
	g.log.Debug().
		Str("listing_id", req.Subject.ID).
		Int("comparables", len(req.Comparables)).
		Int("response_len", len(text)).
		Msg("Gemini answered")

	return ParseResponse(text)
}

func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"label": {
					Type: genai.TypeString,
					Enum: []string{
						string(models.LabelOverpriced),
						string(models.LabelFair),
						string(models.LabelUnderpriced),
					},
				},
				"confidence": {Type: genai.TypeNumber},
				"rationale":  {Type: genai.TypeString},
			},
			Required: []string{"label", "confidence", "rationale"},
		},
	}
}

// classifyError marks retryable API failures as transient.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Transient("gemini", err)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return models.Transient("gemini", err)
	}
	return fmt.Errorf("gemini: %w", err)
}
