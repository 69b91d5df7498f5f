package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/assets"
)

// OpenAIGenerator writes reports with chat completions and a strict
// json_schema response format.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. SDK retries are disabled; the
// transformer falls back instead of waiting.
func NewOpenAIGenerator(apiKey, model, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), model: model}, nil
}

// Name implements Generator.
func (g *OpenAIGenerator) Name() string { return "openai:" + g.model }

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, in Input) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(userPrompt(in))}
	for _, img := range in.Images {
		url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(assets.ReportSystemPrompt),
			openai.UserMessage(parts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: JSONSchema(len(in.Images)),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	log.Debug().Str("model", g.model).Int("images", len(in.Images)).Msg("Starting OpenAI API call for report text")
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
		return "", fmt.Errorf("openai: refused: %s", refusal)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai: empty content")
	}
	return text, nil
}
