package transform

import (
	"google.golang.org/genai"

	"github.com/avku/reports-bot/internal/assets"
	"github.com/avku/reports-bot/internal/reports"
)

const schemaName = "avku_report_entry"

const datePattern = `^\d{4}-\d{2}-\d{2}$`

// JSONSchema returns the strict JSON schema for a Draft with exactly photos
// media entries.
func JSONSchema(photos int) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"dateISO", "category", "title", "summary", "media"},
		"properties": map[string]any{
			"dateISO":  map[string]any{"type": "string", "pattern": datePattern},
			"category": map[string]any{"type": "string", "enum": reports.CategoryStrings()},
			"title":    map[string]any{"type": "string", "minLength": 3, "maxLength": MaxTitle},
			"summary":  map[string]any{"type": "string", "minLength": 10, "maxLength": MaxSummary},
			"media": map[string]any{
				"type":     "array",
				"minItems": photos,
				"maxItems": photos,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"alt", "caption"},
					"properties": map[string]any{
						"alt":     map[string]any{"type": "string", "minLength": 2, "maxLength": MaxAlt},
						"caption": map[string]any{"type": "string", "minLength": 0, "maxLength": MaxCaption},
					},
				},
			},
		},
	}
}

// GeminiSchema is JSONSchema expressed as a Gemini response schema.
func GeminiSchema(photos int) *genai.Schema {
	str := func(minLen, maxLen int64) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, MinLength: genai.Ptr(minLen), MaxLength: genai.Ptr(maxLen)}
	}
	return &genai.Schema{
		Type:             genai.TypeObject,
		Required:         []string{"dateISO", "category", "title", "summary", "media"},
		PropertyOrdering: []string{"dateISO", "category", "title", "summary", "media"},
		Properties: map[string]*genai.Schema{
			"dateISO":  {Type: genai.TypeString, Pattern: datePattern},
			"category": {Type: genai.TypeString, Format: "enum", Enum: reports.CategoryStrings()},
			"title":    str(3, MaxTitle),
			"summary":  str(10, MaxSummary),
			"media": {
				Type:     genai.TypeArray,
				MinItems: genai.Ptr(int64(photos)),
				MaxItems: genai.Ptr(int64(photos)),
				Items: &genai.Schema{
					Type:             genai.TypeObject,
					Required:         []string{"alt", "caption"},
					PropertyOrdering: []string{"alt", "caption"},
					Properties: map[string]*genai.Schema{
						"alt":     str(2, MaxAlt),
						"caption": str(0, MaxCaption),
					},
				},
			},
		},
	}
}

// userPrompt renders the per-submission prompt.
func userPrompt(in Input) string {
	return assets.RenderReportUserPrompt(assets.ReportPromptData{
		Text:         in.Text,
		Partners:     in.Partners,
		DefaultDate:  in.DefaultDate,
		Photos:       len(in.Images),
		CategoryHint: in.CategoryHint,
		Hints:        in.Hints,
	})
}
