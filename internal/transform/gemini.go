package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/avku/reports-bot/internal/assets"
)

// GeminiGenerator writes reports with the Gemini API using a response schema.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator for the Gemini Developer API.
// baseURL overrides the API endpoint and is normally empty.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Name implements Generator.
func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, in Input) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.ReportSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   GeminiSchema(len(in.Images)),
	}

	parts := []*genai.Part{{Text: userPrompt(in)}}
	for _, img := range in.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		})
	}

	log.Debug().Str("model", g.model).Int("images", len(in.Images)).Msg("Starting Gemini API call for report text")
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini: empty response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: response has no text")
	}
	return text, nil
}
