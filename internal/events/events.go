// Package events announces published reports on an EventBridge bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/reports"
)

const (
	Source                    = "avku-reports-bot"
	DetailTypeReportPublished = "ReportPublished"
)

// ReportPublished is the event detail.
type ReportPublished struct {
	ReportID  string   `json:"reportId"`
	DateISO   string   `json:"dateISO"`
	Category  string   `json:"category"`
	Title     string   `json:"title"`
	Media     []string `json:"media"`
	CommitSHA string   `json:"commitSha"`
	At        string   `json:"at"`
}

// PutEventsAPI is the part of the EventBridge client the publisher uses.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends events to one bus. An empty bus name means the default bus.
type Publisher struct {
	client PutEventsAPI
	bus    string
	now    func() time.Time
}

func NewPublisher(client PutEventsAPI, bus string) *Publisher {
	return &Publisher{client: client, bus: bus, now: time.Now}
}

// ReportPublished emits one ReportPublished event.
func (p *Publisher) ReportPublished(ctx context.Context, r reports.Report, commitSHA string) error {
	ev := ReportPublished{
		ReportID:  r.ID,
		DateISO:   r.DateISO,
		Category:  string(r.Category),
		Title:     r.TitleFallback,
		CommitSHA: commitSHA,
		At:        p.now().UTC().Format(time.RFC3339),
	}
	for _, m := range r.Media {
		ev.Media = append(ev.Media, m.Src)
	}
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ReportPublished: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeReportPublished),
		Detail:     aws.String(string(detail)),
	}
	if p.bus != "" {
		entry.EventBusName = aws.String(p.bus)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("reportId", r.ID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("reportId", r.ID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("reportId", r.ID).Msg("ReportPublished emitted to EventBridge")
	return nil
}
