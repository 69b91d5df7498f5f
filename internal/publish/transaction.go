package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avku/reports-bot/internal/github"
	"github.com/avku/reports-bot/internal/imageinfo"
	"github.com/avku/reports-bot/internal/reports"
	"github.com/avku/reports-bot/internal/transform"
)

// Published is the result of a successful publish.
type Published struct {
	Record    reports.Report
	CommitSHA string
	Files     []string
	Source    string
}

type photo struct {
	data []byte
	ext  string
	mime string
}

// publish turns a draft into a committed report. It must run under the
// global lock: the reports file is read, extended and written back in one
// commit together with the photos.
func (s *Service) publish(ctx context.Context, dr *Draft, partners bool) (*Published, error) {
	logger := zerolog.Ctx(ctx)
	if len(dr.Photos) == 0 {
		return nil, errNoPhotos
	}

	text, hint := reports.ExtractMeta(dr.Text)
	defaultDate := reports.CivilDate(time.UnixMilli(dr.Timestamp), s.cfg.Location)

	photos := make([]photo, 0, len(dr.Photos))
	images := make([]transform.Image, 0, len(dr.Photos))
	var hints []string
	for i, fileID := range dr.Photos {
		f, err := s.tg.Download(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("photo %d: %w", i+1, err)
		}
		p := photo{data: f.Data, ext: f.Ext, mime: imageinfo.MIMEFor(f.Ext)}
		if info, err := imageinfo.Inspect(f.Data); err == nil {
			p.ext, p.mime = info.Ext, info.MIMEType
			if info.HasDate() {
				hints = append(hints, fmt.Sprintf("Фото %d знято %s.", i+1, reports.CivilDate(info.TakenAt, s.cfg.Location)))
			}
		} else {
			logger.Debug().Err(err).Int("photo", i+1).Msg("Image format not recognised; using file path extension")
		}
		photos = append(photos, p)
		images = append(images, transform.Image{Data: p.data, MIMEType: p.mime})
	}

	res := s.ai.Transform(ctx, transform.Input{
		Text:         text,
		Images:       images,
		Partners:     partners,
		DefaultDate:  defaultDate,
		CategoryHint: hint,
		Hints:        hints,
	})
	logger.Info().Str("source", res.Source).Str("category", string(res.Category)).
		Str("date", res.DateISO).Msg("Report content ready")

	year := reports.Year(res.DateISO)
	folder := s.cfg.Gallery.Folder(year)
	slug := reports.SlugFor(res.Title, res.DateISO)

	// The reports file, the photo numbers and the id all depend on the
	// branch head, so they are rebuilt whenever the commit has to start
	// over from a newer head.
	var (
		record reports.Report
		files  []github.FileChange
	)
	build := func(ctx context.Context, head string) (string, []github.FileChange, error) {
		coll, err := s.loadCollection(ctx, head)
		if err != nil {
			return "", nil, err
		}

		start := reports.NextIndex(coll.Records(), folder)
		changes := make([]github.FileChange, 0, len(photos)+1)
		media := make([]reports.Media, 0, len(photos))
		for i, p := range photos {
			n := start + i
			changes = append(changes, github.FileChange{
				Path:    s.cfg.Gallery.RepoPath(folder, n, p.ext),
				Content: p.data,
			})
			m := reports.Media{Src: s.cfg.Gallery.Src(folder, n, p.ext), Alt: transform.DefaultAlt}
			if i < len(res.Media) {
				m.Alt, m.Caption = res.Media[i].Alt, res.Media[i].Caption
			}
			media = append(media, m)
		}

		id := reports.NewID(year, slug, coll.HasID, s.now())
		rec := reports.Report{
			ID:              id,
			DateISO:         res.DateISO,
			Category:        res.Category,
			TitleKey:        reports.TitleKey(year, slug),
			TitleFallback:   res.Title,
			SummaryKey:      reports.SummaryKey(year, slug),
			SummaryFallback: res.Summary,
			Media:           media,
		}
		if err := coll.Prepend(rec); err != nil {
			return "", nil, err
		}
		data, err := coll.Marshal()
		if err != nil {
			return "", nil, err
		}
		changes = append(changes, github.FileChange{Path: s.cfg.JSONPath, Content: data})

		record, files = rec, changes
		zerolog.Ctx(ctx).Debug().Str("head", head).Str("report_id", id).Int("first_index", start).
			Msg("Commit contents built")
		return commitMessage(id), changes, nil
	}

	sha, err := s.repo.Commit(ctx, s.cfg.Branch, build)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("report_id", record.ID).Str("commit", sha).Int("files", len(files)).Msg("Report committed")

	out := &Published{Record: record, CommitSHA: sha, Source: res.Source}
	for _, f := range files {
		out.Files = append(out.Files, f.Path)
	}
	s.afterPublish(ctx, out, files)
	return out, nil
}

// loadCollection reads the reports file at ref.
func (s *Service) loadCollection(ctx context.Context, ref string) (*reports.Collection, error) {
	f, err := s.repo.ReadFile(ctx, s.cfg.JSONPath, ref)
	if errors.Is(err, github.ErrNotFound) {
		zerolog.Ctx(ctx).Info().Str("path", s.cfg.JSONPath).Msg("Reports file missing; starting a new one")
		return reports.NewCollection(), nil
	}
	if err != nil {
		return nil, err
	}
	coll, err := reports.ParseCollection(f.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.JSONPath, err)
	}
	return coll, nil
}

// afterPublish runs the optional archive and announcement. Both are best
// effort: the commit is the source of truth.
func (s *Service) afterPublish(ctx context.Context, p *Published, files []github.FileChange) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, p.Record.ID, files); err != nil {
			logger.Warn().Err(err).Str("report_id", p.Record.ID).Msg("Failed to archive report files")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.ReportPublished(ctx, p.Record, p.CommitSHA); err != nil {
			logger.Warn().Err(err).Str("report_id", p.Record.ID).Msg("Failed to announce published report")
		}
	}
}
