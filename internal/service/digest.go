package service

import (
	"context"
	"fmt"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
)

// DigestItem is one content entry inside a digest message.
type DigestItem struct {
	ContentType string    `json:"content_type"`
	ContentID   int64     `json:"content_id"`
	Title       string    `json:"title"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DigestPayload is the rendered message handed to the notifier.
type DigestPayload struct {
	DigestType  domain.DigestType `json:"digest_type"`
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	Items       []DigestItem      `json:"items"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Notifier delivers a digest payload to one user.
type Notifier interface {
	Send(ctx context.Context, userID int64, payload *DigestPayload) error
}

// DigestContentLister reads the content activity a digest summarizes.
type DigestContentLister interface {
	ListRecentByAuthor(ctx context.Context, authorID int64, since time.Time, limit int) ([]domain.ContentItem, error)
}

// Scheduler run states, logged as the status field on each transition.
const (
	runStateTriggered   = "triggered"
	runStateResolving   = "resolving_recipients"
	runStateDispatching = "dispatching"
	runStateCompleted   = "completed"
)

// DigestOptions tunes a scheduler run.
type DigestOptions struct {
	DispatchLimit int // max recipients per run, 0 = unlimited
	ItemsPerUser  int // max content items per digest; default 10
}

// DigestService runs scheduled notification digests. Each invocation is
// one run: resolve the opted-in recipients, build and dispatch one
// payload per user, and aggregate per-user outcomes. One user's failure
// never touches another user's dispatch.
type DigestService struct {
	prefs    *repository.PreferenceRepository
	content  DigestContentLister
	notifier Notifier
	opts     DigestOptions
}

// NewDigestService creates a DigestService.
func NewDigestService(prefs *repository.PreferenceRepository, content DigestContentLister, notifier Notifier, opts DigestOptions) *DigestService {
	if opts.ItemsPerUser <= 0 {
		opts.ItemsPerUser = 10
	}
	return &DigestService{prefs: prefs, content: content, notifier: notifier, opts: opts}
}

// Run executes one digest run for the given type. The returned result
// always covers every resolved recipient, succeeded or failed; only a
// recipient-resolution failure aborts the run as a whole.
func (s *DigestService) Run(ctx context.Context, digestType domain.DigestType) (*domain.DigestRunResult, error) {
	ctx = logger.WithField(ctx, logger.FieldDigestType, digestType)
	startedAt := time.Now()

	logger.With(logger.Fields{logger.FieldStatus: runStateTriggered}).Info(ctx, "Digest run triggered")

	logger.With(logger.Fields{logger.FieldStatus: runStateResolving}).Debug(ctx, "Resolving recipients")
	recipients, err := s.prefs.ListEnabled(ctx, digestType, s.opts.DispatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	logger.With(logger.Fields{logger.FieldStatus: runStateDispatching}).
		WithCount(len(recipients)).Info(ctx, "Dispatching digests")

	result := &domain.DigestRunResult{
		DigestType: digestType,
		StartedAt:  startedAt,
		Results:    make([]domain.UserDigestResult, 0, len(recipients)),
	}

	for i := range recipients {
		pref := &recipients[i]
		uctx := logger.WithField(ctx, logger.FieldUserID, pref.UserID)

		if err := s.dispatchUser(uctx, digestType, pref); err != nil {
			result.FailedCount++
			result.Results = append(result.Results, domain.UserDigestResult{
				UserID: pref.UserID,
				Error:  err.Error(),
			})
			logger.CtxWarn(uctx, "Digest dispatch failed: error=%v", err)
			continue
		}

		result.SuccessCount++
		result.Results = append(result.Results, domain.UserDigestResult{
			UserID:  pref.UserID,
			Success: true,
		})
	}

	result.FinishedAt = time.Now()
	logger.With(logger.Fields{
		logger.FieldStatus: runStateCompleted,
		"success":          result.SuccessCount,
		"failed":           result.FailedCount,
	}).WithDuration(result.FinishedAt.Sub(startedAt).Milliseconds()).
		Info(ctx, "Digest run completed")

	return result, nil
}

// dispatchUser builds and sends one user's digest. The toggle is
// re-checked here so a preference change after recipient resolution
// still suppresses the send.
func (s *DigestService) dispatchUser(ctx context.Context, digestType domain.DigestType, pref *domain.NotificationPreference) error {
	if !pref.Enabled(digestType) {
		return fmt.Errorf("digest %s disabled for user", digestType)
	}

	payload, err := s.buildPayload(ctx, digestType, pref.UserID)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	if err := s.notifier.Send(ctx, pref.UserID, payload); err != nil {
		return fmt.Errorf("failed to deliver: %w", err)
	}
	return nil
}

func (s *DigestService) buildPayload(ctx context.Context, digestType domain.DigestType, userID int64) (*DigestPayload, error) {
	now := time.Now()

	var window time.Duration
	var title string
	switch digestType {
	case domain.DigestDailyPlan:
		window = 24 * time.Hour
		title = "Your plan for today"
	case domain.DigestEveningRetro:
		window = 24 * time.Hour
		title = "Today in review"
	case domain.DigestWeekly:
		window = 7 * 24 * time.Hour
		title = "Your week on Studify"
	default:
		return nil, fmt.Errorf("unknown digest type %q", digestType)
	}

	recent, err := s.content.ListRecentByAuthor(ctx, userID, now.Add(-window), s.opts.ItemsPerUser)
	if err != nil {
		return nil, err
	}

	items := make([]DigestItem, 0, len(recent))
	for _, c := range recent {
		items = append(items, DigestItem{
			ContentType: string(c.ContentType),
			ContentID:   c.ContentID,
			Title:       c.Title,
			UpdatedAt:   c.UpdatedAt,
		})
	}

	return &DigestPayload{
		DigestType:  digestType,
		Title:       title,
		Summary:     digestSummary(digestType, len(items)),
		Items:       items,
		GeneratedAt: now,
	}, nil
}

func digestSummary(digestType domain.DigestType, count int) string {
	switch digestType {
	case domain.DigestDailyPlan:
		if count == 0 {
			return "Nothing scheduled yet. Pick something to study today."
		}
		return fmt.Sprintf("%d items on your plate today.", count)
	case domain.DigestEveningRetro:
		if count == 0 {
			return "No activity recorded today."
		}
		return fmt.Sprintf("You worked on %d items today.", count)
	case domain.DigestWeekly:
		if count == 0 {
			return "A quiet week. Next week is a fresh start."
		}
		return fmt.Sprintf("%d items touched this week.", count)
	}
	return ""
}
