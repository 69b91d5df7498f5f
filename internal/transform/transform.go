// Package transform turns a raw submission (caption text plus photos) into
// the title, summary, category and per-photo captions of a gallery report.
//
// A Generator does the writing through a generative-AI service with a
// strict JSON schema. Its output is never trusted: Sanitize clamps lengths,
// folds the category onto the closed set and forces the media list to the
// photo count. When there is no generator, or it fails, or it returns
// something unparseable, Fallback derives the same shape locally, so a
// publish never blocks on AI availability.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/reports"
)

// Field limits, in runes.
const (
	MaxTitle         = 140
	MaxSummary       = 900
	MaxAlt           = 160
	MaxCaption       = 200
	maxFallbackTitle = 96
)

// Default texts.
const (
	DefaultAlt             = "Фото звіт"
	defaultTitle           = "Фото звіт"
	defaultPartnersTitle   = "Звіт від партнерів"
	defaultSummary         = "Короткий опис події."
	defaultPartnersSummary = "Наші партнери передали допомогу. Дякуємо за підтримку."
)

// Result sources.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Image is one photo sent to the model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Input is one submission to transform.
type Input struct {
	Text         string // caption with meta markers already removed
	Images       []Image
	Partners     bool
	DefaultDate  string // YYYY-MM-DD used when the model cannot tell
	CategoryHint string // from a "#category" marker, may be empty
	Hints        []string
}

// MediaText is the generated text for one photo.
type MediaText struct {
	Alt     string `json:"alt"`
	Caption string `json:"caption"`
}

// Result is the structured report content.
type Result struct {
	DateISO  string
	Category reports.Category
	Title    string
	Summary  string
	Media    []MediaText
	Source   string
}

// Draft is the raw JSON shape generators are asked to produce.
type Draft struct {
	DateISO  string      `json:"dateISO"`
	Category string      `json:"category"`
	Title    string      `json:"title"`
	Summary  string      `json:"summary"`
	Media    []MediaText `json:"media"`
}

// Generator produces the raw JSON text of a Draft for the given input.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (string, error)
}

// ErrNoGenerator is logged when the transformer runs without AI.
var ErrNoGenerator = errors.New("transform: no generator configured")

// Transformer runs a Generator with a deadline and falls back locally.
type Transformer struct {
	gen     Generator
	timeout time.Duration
}

// DefaultTimeout bounds one generator call.
const DefaultTimeout = 45 * time.Second

// New creates a Transformer. A nil gen always uses the fallback.
func New(gen Generator) *Transformer {
	return &Transformer{gen: gen, timeout: DefaultTimeout}
}

// Transform never fails: any generator problem yields Fallback(in).
func (t *Transformer) Transform(ctx context.Context, in Input) Result {
	if t == nil || t.gen == nil {
		log.Info().Err(ErrNoGenerator).Msg("Using fallback transform")
		return Fallback(in)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.gen.Generate(callCtx, in)
	if err != nil {
		log.Warn().Err(err).Str("generator", t.gen.Name()).Dur("duration", time.Since(start)).
			Msg("Generator failed, using fallback transform")
		return Fallback(in)
	}
	draft, err := ParseDraft(raw)
	if err != nil {
		log.Warn().Err(err).Str("generator", t.gen.Name()).Int("response_length", len(raw)).
			Msg("Generator returned invalid JSON, using fallback transform")
		return Fallback(in)
	}

	res := Sanitize(draft, in)
	log.Info().Str("generator", t.gen.Name()).Str("category", string(res.Category)).
		Str("date", res.DateISO).Dur("duration", time.Since(start)).Msg("Report text generated")
	return res
}

// ParseDraft extracts a Draft from model output that may be wrapped in
// markdown fences or prose.
func ParseDraft(raw string) (*Draft, error) {
	text := stripFences(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, errors.New("no JSON object in response")
	}
	var d Draft
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &d, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// Sanitize coerces a model draft into a valid Result for in.
func Sanitize(d *Draft, in Input) Result {
	n := len(in.Images)

	title := clamp(d.Title, MaxTitle)
	if title == "" {
		title = defaultTitleFor(in.Partners)
	}
	summary := clamp(d.Summary, MaxSummary)
	if summary == "" {
		summary = defaultSummary
	}
	date := strings.TrimSpace(d.DateISO)
	if !reports.ValidDate(date) {
		date = in.DefaultDate
	}

	media := make([]MediaText, n)
	for i := range media {
		var m MediaText
		if i < len(d.Media) {
			m = d.Media[i]
		}
		media[i] = MediaText{Alt: clamp(m.Alt, MaxAlt), Caption: clamp(m.Caption, MaxCaption)}
		if media[i].Alt == "" {
			media[i].Alt = DefaultAlt
		}
	}

	return Result{
		DateISO:  date,
		Category: ResolveCategory(reports.NormalizeCategory(d.Category), in),
		Title:    title,
		Summary:  summary,
		Media:    media,
		Source:   SourceAI,
	}
}

// ResolveCategory applies the submitter's choices on top of the model's
// category. The partner answer is authoritative in both directions, and a
// recognised "#category" marker beats the model.
func ResolveCategory(model reports.Category, in Input) reports.Category {
	if in.Partners {
		return reports.CategoryPartners
	}
	if hint, ok := reports.LookupCategory(in.CategoryHint); ok && hint != reports.CategoryPartners {
		return hint
	}
	if model == reports.CategoryPartners || !model.Valid() {
		return reports.CategoryOther
	}
	return model
}

var whitespace = regexp.MustCompile(`\s+`)

// Fallback builds a Result without AI: the title is the first sentence of
// the text and the summary is the text itself.
func Fallback(in Input) Result {
	clean := strings.TrimSpace(whitespace.ReplaceAllString(in.Text, " "))

	first, _, _ := strings.Cut(clean, ".")
	title := clamp(first, maxFallbackTitle)
	if title == "" {
		title = defaultTitleFor(in.Partners)
	}

	summary := truncateRunes(clean, MaxSummary)
	if summary == "" {
		summary = defaultSummary
		if in.Partners {
			summary = defaultPartnersSummary
		}
	}

	media := make([]MediaText, len(in.Images))
	for i := range media {
		media[i] = MediaText{Alt: DefaultAlt}
	}

	category := reports.CategoryZSU
	if in.Partners {
		category = reports.CategoryPartners
	} else if hint, ok := reports.LookupCategory(in.CategoryHint); ok && hint != reports.CategoryPartners {
		category = hint
	}

	return Result{
		DateISO:  in.DefaultDate,
		Category: category,
		Title:    title,
		Summary:  summary,
		Media:    media,
		Source:   SourceFallback,
	}
}

func defaultTitleFor(partners bool) string {
	if partners {
		return defaultPartnersTitle
	}
	return defaultTitle
}

func clamp(s string, n int) string {
	return strings.TrimSpace(truncateRunes(strings.TrimSpace(s), n))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
