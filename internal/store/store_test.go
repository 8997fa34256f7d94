package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

func setupTestDB(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAdvanceRecipientGuard(t *testing.T) {
	st, mock := setupTestDB(t)
	ctx := context.Background()
	campaignID, leadID := uuid.New(), uuid.New()
	next := sql.NullTime{Time: time.Now().Add(72 * time.Hour), Valid: true}

	// Guard passes: one row moved forward.
	mock.ExpectExec(`UPDATE campaign_recipients`).
		WithArgs(campaignID, leadID, 1, next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	advanced, err := st.AdvanceRecipient(ctx, campaignID, leadID, 1, next)
	if err != nil {
		t.Fatalf("AdvanceRecipient: %v", err)
	}
	if !advanced {
		t.Error("expected advance to succeed")
	}

	// Guard rejects: row already past this step.
	mock.ExpectExec(`UPDATE campaign_recipients`).
		WithArgs(campaignID, leadID, 1, next).
		WillReturnResult(sqlmock.NewResult(0, 0))

	advanced, err = st.AdvanceRecipient(ctx, campaignID, leadID, 1, next)
	if err != nil {
		t.Fatalf("AdvanceRecipient: %v", err)
	}
	if advanced {
		t.Error("expected guard to reject the duplicate advance")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdvanceRecipientSQLShape(t *testing.T) {
	st, mock := setupTestDB(t)
	ctx := context.Background()
	campaignID, leadID := uuid.New(), uuid.New()

	// The guard must compare against the step being sent and only move
	// active rows.
	mock.ExpectExec(`(?s)SET current_step = \$3 \+ 1.*status = 'active' AND current_step <= \$3`).
		WithArgs(campaignID, leadID, 0, sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := st.AdvanceRecipient(ctx, campaignID, leadID, 0, sql.NullTime{}); err != nil {
		t.Fatalf("AdvanceRecipient: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestProjectEngagementOpenNeverRegresses(t *testing.T) {
	st, mock := setupTestDB(t)
	ctx := context.Background()
	ev := &model.EmailEvent{CampaignID: uuid.New(), LeadID: uuid.New(), Type: model.EventOpen}

	mock.ExpectExec(`(?s)SET engagement = 'opened'.*engagement IN \('sent', 'delivered'\)`).
		WithArgs(ev.CampaignID, ev.LeadID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.ProjectEngagement(ctx, ev); err != nil {
		t.Fatalf("ProjectEngagement: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestProjectEngagementUnknownTypeIsNoop(t *testing.T) {
	st, mock := setupTestDB(t)
	ev := &model.EmailEvent{CampaignID: uuid.New(), LeadID: uuid.New(), Type: "mystery"}

	if err := st.ProjectEngagement(context.Background(), ev); err != nil {
		t.Fatalf("ProjectEngagement: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkRecipientRepliedOnlyFromActive(t *testing.T) {
	st, mock := setupTestDB(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(`(?s)SET status = 'replied'.*status = 'active'`).
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.MarkRecipientReplied(context.Background(), id, at); err != nil {
		t.Fatalf("MarkRecipientReplied: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIncrementCampaignCounterWhitelist(t *testing.T) {
	st, mock := setupTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	if err := st.IncrementCampaignCounter(ctx, id, "status"); err == nil {
		t.Fatal("non-counter column accepted")
	}

	mock.ExpectExec(`SET sent_count = sent_count \+ 1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.IncrementCampaignCounter(ctx, id, "sent_count"); err != nil {
		t.Fatalf("IncrementCampaignCounter: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIncrementWarmupStatWhitelist(t *testing.T) {
	st, mock := setupTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	if err := st.IncrementWarmupStat(ctx, id, "date"); err == nil {
		t.Fatal("non-counter column accepted")
	}

	mock.ExpectExec(`SET spam_count = spam_count \+ 1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.IncrementWarmupStat(ctx, id, "spam_count"); err != nil {
		t.Fatalf("IncrementWarmupStat: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTransitionRecipients(t *testing.T) {
	st, mock := setupTestDB(t)
	id := uuid.New()

	mock.ExpectExec(`(?s)SET status = \$3.*status = \$2`).
		WithArgs(id, "active", "paused").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := st.TransitionRecipients(context.Background(), id, "active", "paused")
	if err != nil {
		t.Fatalf("TransitionRecipients: %v", err)
	}
	if n != 7 {
		t.Errorf("moved %d rows, want 7", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRefreshCampaignTotalLeadsCountsEnrollment(t *testing.T) {
	st, mock := setupTestDB(t)
	id := uuid.New()

	// The total comes from the enrollment table, not from whatever batch
	// triggered the refresh, so a partial relaunch cannot shrink it.
	mock.ExpectExec(`(?s)SET total_leads = \(SELECT COUNT\(\*\) FROM campaign_recipients WHERE campaign_id = \$1\)`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.RefreshCampaignTotalLeads(context.Background(), id); err != nil {
		t.Fatalf("RefreshCampaignTotalLeads: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWarmupStatMissingRowReadsZero(t *testing.T) {
	st, mock := setupTestDB(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM warmup_stats`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	stat, err := st.TodayWarmupStat(context.Background(), id)
	if err != nil {
		t.Fatalf("TodayWarmupStat: %v", err)
	}
	if stat.SentCount != 0 || stat.SpamCount != 0 {
		t.Errorf("missing row should read as zeroes, got %+v", stat)
	}
}
