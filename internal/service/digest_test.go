package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"gorm.io/gorm"
)

// fakeNotifier records dispatches and fails for configured users.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []int64
	failFor map[int64]bool
}

func (n *fakeNotifier) Send(ctx context.Context, userID int64, payload *DigestPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[userID] {
		return fmt.Errorf("gateway unreachable")
	}
	n.sent = append(n.sent, userID)
	return nil
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(ctx context.Context, userID int64, payload *DigestPayload) error

func (f notifierFunc) Send(ctx context.Context, userID int64, payload *DigestPayload) error {
	return f(ctx, userID, payload)
}

func newDigestEnv(t *testing.T, notifier Notifier) (*DigestService, *repository.PreferenceRepository, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	prefs := repository.NewPreferenceRepository(db)
	content := repository.NewContentRepository(db)
	svc := NewDigestService(prefs, content, notifier, DigestOptions{})
	return svc, prefs, db
}

func TestDigestRunIsolatesUserFailures(t *testing.T) {
	notifier := &fakeNotifier{failFor: map[int64]bool{2: true}}
	svc, prefs, _ := newDigestEnv(t, notifier)
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3} {
		prefs.Upsert(ctx, &domain.NotificationPreference{UserID: uid, EnableDailyPlan: true})
	}
	prefs.Upsert(ctx, &domain.NotificationPreference{UserID: 4, EnableDailyPlan: false})

	result, err := svc.Run(ctx, domain.DigestDailyPlan)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.SuccessCount != 2 || result.FailedCount != 1 {
		t.Errorf("expected 2 success / 1 failed, got %d/%d", result.SuccessCount, result.FailedCount)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected a result per resolved recipient, got %d", len(result.Results))
	}
	for _, r := range result.Results {
		if r.UserID == 2 {
			if r.Success || r.Error == "" {
				t.Errorf("user 2 should carry the failure: %+v", r)
			}
		} else if !r.Success {
			t.Errorf("user %d should have succeeded: %+v", r.UserID, r)
		}
	}

	for _, uid := range notifier.sent {
		if uid == 4 {
			t.Error("opted-out user 4 must never be dispatched")
		}
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Error("finished_at must not precede started_at")
	}
}

func TestDigestRunNoRecipients(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, _, _ := newDigestEnv(t, notifier)

	result, err := svc.Run(context.Background(), domain.DigestWeekly)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.SuccessCount != 0 || result.FailedCount != 0 || len(result.Results) != 0 {
		t.Errorf("expected empty run, got %+v", result)
	}
}

func TestDigestPayloadIncludesRecentContent(t *testing.T) {
	var captured *DigestPayload
	notifier := notifierFunc(func(ctx context.Context, userID int64, payload *DigestPayload) error {
		captured = payload
		return nil
	})
	svc, prefs, db := newDigestEnv(t, notifier)
	ctx := context.Background()

	prefs.Upsert(ctx, &domain.NotificationPreference{UserID: 1, EnableEveningRetro: true})

	// One recent item by the recipient, one stale, one by someone else.
	seedContent(t, db,
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 10, Title: "Today's note", Body: "x", AuthorID: 1, UpdatedAt: time.Now().Add(-time.Hour)},
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 11, Title: "Old note", Body: "x", AuthorID: 1, UpdatedAt: time.Now().Add(-72 * time.Hour)},
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 12, Title: "Other user", Body: "x", AuthorID: 9, UpdatedAt: time.Now().Add(-time.Hour)},
	)

	result, err := svc.Run(ctx, domain.DigestEveningRetro)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.SuccessCount != 1 {
		t.Fatalf("expected 1 success, got %d", result.SuccessCount)
	}
	if captured == nil {
		t.Fatal("payload was not delivered")
	}
	if captured.DigestType != domain.DigestEveningRetro {
		t.Errorf("payload carries wrong digest type: %s", captured.DigestType)
	}
	if captured.Title == "" || captured.Summary == "" {
		t.Error("payload should carry a rendered title and summary")
	}
	if len(captured.Items) != 1 || captured.Items[0].ContentID != 10 {
		t.Errorf("payload should contain only the recipient's recent content: %+v", captured.Items)
	}
	if time.Since(captured.GeneratedAt) > time.Minute {
		t.Error("generated_at should be the run time")
	}
}

func TestDigestRespectsDispatchLimit(t *testing.T) {
	notifier := &fakeNotifier{}
	db := newTestDB(t)
	prefs := repository.NewPreferenceRepository(db)
	content := repository.NewContentRepository(db)
	svc := NewDigestService(prefs, content, notifier, DigestOptions{DispatchLimit: 2})
	ctx := context.Background()

	for _, uid := range []int64{1, 2, 3, 4} {
		prefs.Upsert(ctx, &domain.NotificationPreference{UserID: uid, EnableWeeklyDigest: true})
	}

	result, err := svc.Run(ctx, domain.DigestWeekly)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Results) != 2 {
		t.Errorf("expected dispatch limit to cap the run at 2, got %d", len(result.Results))
	}
}
