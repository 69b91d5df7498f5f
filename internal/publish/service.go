// Package publish runs the report-publishing state machine for Telegram
// updates.
//
// A photo with a caption becomes a draft in the coordination store and the
// bot asks whether the report comes from partners. The answer (a callback)
// takes a per-draft lock, then a global publish lock, downloads the photos,
// generates the report text, and commits the photos and the updated reports
// file to the content repository in one commit. Every update id is recorded
// first, so repeated webhook deliveries have no effect.
//
// Each update is handled independently and possibly concurrently with
// others; all shared state lives in the store and the repository.
package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/github"
	"github.com/avku/reports-bot/internal/metrics"
	"github.com/avku/reports-bot/internal/reports"
	"github.com/avku/reports-bot/internal/store"
	"github.com/avku/reports-bot/internal/telegram"
	"github.com/avku/reports-bot/internal/transform"
)

// Outcome is how one update was handled.
type Outcome string

const (
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeHelp         Outcome = "help"
	OutcomeRejected     Outcome = "rejected"
	OutcomeDraftCreated Outcome = "draft_created"
	OutcomeDraftUpdated Outcome = "draft_updated"
	OutcomePrompted     Outcome = "prompted"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeNoDraft      Outcome = "no_draft"
	OutcomeDraftMissing Outcome = "draft_missing"
	OutcomeBusy         Outcome = "busy"
	OutcomeGlobalBusy   Outcome = "global_busy"
	OutcomePublished    Outcome = "published"
	OutcomeFailed       Outcome = "failed"
)

// Messenger is the chat side of the pipeline.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb *telegram.InlineKeyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Download(ctx context.Context, fileID string) (*telegram.File, error)
}

// Repository is the content repository holding the reports file and media.
type Repository interface {
	ReadFile(ctx context.Context, path, ref string) (*github.File, error)
	Commit(ctx context.Context, branch string, build github.BuildFunc) (string, error)
}

// Transformer writes report text from a submission. It must not fail.
type Transformer interface {
	Transform(ctx context.Context, in transform.Input) transform.Result
}

// Archiver keeps an off-repository copy of published files.
type Archiver interface {
	Archive(ctx context.Context, reportID string, files []github.FileChange) error
}

// Notifier announces published reports to other systems.
type Notifier interface {
	ReportPublished(ctx context.Context, r reports.Report, commitSHA string) error
}

// Config locates the reports file and media in the repository.
type Config struct {
	Branch    string
	JSONPath  string
	Gallery   reports.Gallery
	Location  *time.Location
	Allowlist telegram.Allowlist
}

// Service handles Telegram updates.
type Service struct {
	cfg      Config
	kv       store.Store
	drafts   drafts
	tg       Messenger
	repo     Repository
	ai       Transformer
	archiver Archiver
	notifier Notifier
	now      func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, kv store.Store, tg Messenger, repo Repository, ai Transformer) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &Service{
		cfg:    cfg,
		kv:     kv,
		drafts: drafts{kv: kv},
		tg:     tg,
		repo:   repo,
		ai:     ai,
		now:    time.Now,
	}
}

// WithArchiver enables the media archive.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

// WithNotifier enables publish announcements.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// HandleUpdate processes one update. The returned error is for logging;
// whatever the user needs to know has already been sent to the chat.
func (s *Service) HandleUpdate(ctx context.Context, u *telegram.Update) (Outcome, error) {
	logger := log.With().Int64("update_id", u.UpdateID).Str("kind", string(u.Kind())).Logger()
	ctx = logger.WithContext(ctx)
	start := time.Now()

	outcome, err := s.handle(ctx, u)

	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str("outcome", string(outcome)).Dur("duration", time.Since(start)).Msg("Update handled")
	metrics.New(metrics.Namespace).
		Dimension("Outcome", string(outcome)).
		Count("UpdateOutcome").
		Flush()
	return outcome, err
}

func (s *Service) handle(ctx context.Context, u *telegram.Update) (Outcome, error) {
	if u.UpdateID != 0 {
		first, err := s.drafts.markSeen(ctx, u.UpdateID)
		if err != nil {
			return OutcomeFailed, err
		}
		if !first {
			zerolog.Ctx(ctx).Info().Msg("Duplicate update skipped")
			return OutcomeDuplicate, nil
		}
	}

	if u.Kind() == telegram.KindCallback {
		return s.handleCallback(ctx, u.CallbackQuery)
	}
	msg := u.Msg()
	if msg == nil {
		return OutcomeIgnored, nil
	}
	return s.handleMessage(ctx, msg, u.Edited())
}

// notify sends text and logs failures; chat replies never fail the pipeline.
func (s *Service) notify(ctx context.Context, chatID int64, text string) {
	if err := s.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send Telegram message")
	}
}

// fail reports err to the chat; the update is already marked as seen, so
// this reply is the user's only signal.
func (s *Service) fail(ctx context.Context, chatID int64, err error) (Outcome, error) {
	s.notify(ctx, chatID, failureText(err))
	return OutcomeFailed, err
}

func (s *Service) prompt(ctx context.Context, chatID, originID int64) error {
	return s.tg.SendMessage(ctx, chatID, telegram.ClassificationPrompt, telegram.ClassificationKeyboard(originID))
}

func (s *Service) handleMessage(ctx context.Context, msg *telegram.Message, edited bool) (Outcome, error) {
	chatID, fromID := msg.Chat.ID, msg.SenderID()
	if chatID == 0 || fromID == 0 {
		return OutcomeIgnored, nil
	}
	logger := zerolog.Ctx(ctx).With().Int64("chat_id", chatID).Int64("from_id", fromID).
		Int64("message_id", msg.MessageID).Logger()
	ctx = logger.WithContext(ctx)

	if !s.cfg.Allowlist.Allowed(fromID) {
		s.notify(ctx, chatID, msgForbidden)
		return OutcomeForbidden, nil
	}

	text := strings.TrimSpace(msg.Body())
	cmds := telegram.Commands(msg)

	switch {
	case cmds.Has("/start", "/help"):
		s.notify(ctx, chatID, msgHelp)
		return OutcomeHelp, nil

	case cmds.Has("/cancel"):
		last, err := s.drafts.last(ctx, chatID)
		if err != nil {
			return s.fail(ctx, chatID, err)
		}
		if last == nil {
			s.notify(ctx, chatID, msgNoActiveDraft)
			return OutcomeNoDraft, nil
		}
		if err := s.drafts.clear(ctx, chatID, last.OriginMessageID); err != nil {
			return s.fail(ctx, chatID, err)
		}
		s.notify(ctx, chatID, msgCancelled)
		return OutcomeCancelled, nil

	case cmds.Has("/publish"):
		last, err := s.drafts.last(ctx, chatID)
		if err != nil {
			return s.fail(ctx, chatID, err)
		}
		if last == nil {
			s.notify(ctx, chatID, msgNoDraftToPublish)
			return OutcomeNoDraft, nil
		}
		if err := s.prompt(ctx, chatID, last.OriginMessageID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomePrompted, nil
	}

	photos := telegram.MediaRefs(msg)
	if len(photos) > 0 {
		if text == "" {
			s.notify(ctx, chatID, msgPhotoWithoutText)
			return OutcomeRejected, nil
		}
		return s.saveDraft(ctx, msg, fromID, text, photos, edited)
	}

	if text != "" {
		s.notify(ctx, chatID, msgTextWithoutPhoto)
		return OutcomeRejected, nil
	}
	return OutcomeIgnored, nil
}

func (s *Service) saveDraft(ctx context.Context, msg *telegram.Message, fromID int64, text string, photos []string, edited bool) (Outcome, error) {
	chatID := msg.Chat.ID
	outcome := OutcomeDraftCreated

	if edited {
		existing, err := s.drafts.load(ctx, chatID, msg.MessageID)
		if err != nil {
			return s.fail(ctx, chatID, err)
		}
		if existing != nil {
			_, held, err := s.kv.Get(ctx, draftLockKey(chatID, msg.MessageID))
			if err != nil {
				return s.fail(ctx, chatID, err)
			}
			if held {
				s.notify(ctx, chatID, msgBusy)
				return OutcomeBusy, nil
			}
			outcome = OutcomeDraftUpdated
		}
	}

	now := s.now()
	ts := now.UnixMilli()
	if msg.Date > 0 {
		ts = msg.Date * 1000
	}
	dr := &Draft{
		ChatID:          chatID,
		FromID:          fromID,
		OriginMessageID: msg.MessageID,
		Text:            text,
		Photos:          photos,
		Timestamp:       ts,
		CreatedAt:       now.UnixMilli(),
	}
	if err := s.drafts.save(ctx, dr); err != nil {
		return s.fail(ctx, chatID, err)
	}
	zerolog.Ctx(ctx).Info().Int("photos", len(photos)).Bool("edited", edited).Msg("Draft saved")

	if err := s.prompt(ctx, chatID, msg.MessageID); err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (s *Service) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) (Outcome, error) {
	if cq.ID != "" {
		if err := s.tg.AnswerCallback(ctx, cq.ID, ""); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to answer callback")
		}
	}
	if cq.Message == nil || cq.Message.Chat.ID == 0 || cq.From.ID == 0 {
		return OutcomeIgnored, nil
	}
	chatID, fromID := cq.Message.Chat.ID, cq.From.ID

	logger := zerolog.Ctx(ctx).With().Int64("chat_id", chatID).Int64("from_id", fromID).Str("data", cq.Data).Logger()
	ctx = logger.WithContext(ctx)

	if !s.cfg.Allowlist.Allowed(fromID) {
		s.notify(ctx, chatID, msgForbidden)
		return OutcomeForbidden, nil
	}

	originID, partners, ok := telegram.ParseClassification(cq.Data)
	if !ok {
		return OutcomeIgnored, nil
	}

	dr, err := s.drafts.load(ctx, chatID, originID)
	if err != nil {
		return s.fail(ctx, chatID, err)
	}
	if dr == nil {
		s.notify(ctx, chatID, msgDraftMissing)
		return OutcomeDraftMissing, nil
	}

	return s.publishLocked(ctx, dr, partners)
}

// publishLocked runs the publish transaction under the per-draft and global
// locks. Locks are released on a context that outlives cancellation, global
// first, each independently of the other.
func (s *Service) publishLocked(ctx context.Context, dr *Draft, partners bool) (Outcome, error) {
	chatID := dr.ChatID
	logger := zerolog.Ctx(ctx)
	cleanup := context.WithoutCancel(ctx)

	draftLock, err := tryLock(ctx, s.kv, draftLockKey(chatID, dr.OriginMessageID), store.DraftLockTTL)
	if err != nil {
		return s.fail(ctx, chatID, err)
	}
	if draftLock == nil {
		logger.Info().Msg("Draft already being published")
		s.notify(ctx, chatID, msgBusy)
		return OutcomeBusy, nil
	}
	defer draftLock.release(cleanup)

	if partners {
		s.notify(ctx, chatID, msgPublishingPartners)
	} else {
		s.notify(ctx, chatID, msgPublishingRegular)
	}

	globalLock, err := tryLock(ctx, s.kv, globalLockKey, store.GlobalLockTTL)
	if err != nil {
		return s.fail(ctx, chatID, err)
	}
	if globalLock == nil {
		logger.Info().Msg("Another publish holds the global lock")
		s.notify(ctx, chatID, msgGlobalBusy)
		return OutcomeGlobalBusy, nil
	}
	defer globalLock.release(cleanup)

	start := time.Now()
	res, err := s.publish(ctx, dr, partners)
	rec := metrics.New(metrics.Namespace).Since("PublishLatencyMs", start)
	if err != nil {
		rec.Dimension("Outcome", "failed").Count("PublishResult").Flush()
		logger.Error().Err(err).Msg("Publish failed; draft kept for retry")
		return s.fail(ctx, chatID, err)
	}
	rec.Dimension("Outcome", "published").Count("PublishResult").Flush()

	if err := s.drafts.clear(cleanup, chatID, dr.OriginMessageID); err != nil {
		logger.Warn().Err(err).Msg("Published, but the draft could not be cleared")
	}
	s.notify(ctx, chatID, successText(res.Record.ID, res.CommitSHA))
	return OutcomePublished, nil
}

// errNoPhotos is returned for drafts whose photo list is empty.
var errNoPhotos = errors.New("у чернетці немає фото")
