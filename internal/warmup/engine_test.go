package warmup

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/store"
	"github.com/leadflow/outreach/internal/transport"
)

type fakeSender struct {
	sent []*transport.Message
}

func (f *fakeSender) Send(_ context.Context, msg *transport.Message) (*transport.Result, error) {
	f.sent = append(f.sent, msg)
	return &transport.Result{MessageID: "msg-1", Provider: "test"}, nil
}

type fakeResolver struct {
	sender transport.Sender
}

func (f *fakeResolver) ForAccount(*model.EmailAccount) (transport.Sender, error) {
	return f.sender, nil
}

func setupTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *fakeSender, *redis.Client) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sender := &fakeSender{}
	e := NewEngine(store.New(db), queue.New(rdb), &fakeResolver{sender: sender})
	e.jitter = func(int) int { return 0 }
	return e, mock, sender, rdb
}

func warmupAccountRow(id, orgID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "email", "from_name", "provider", "config",
		"status", "warmup_enabled", "warmup_status", "warmup_daily_limit", "warmup_started_at"}).
		AddRow(id, orgID, "warm@acme.test", "Acme", "custom_smtp", []byte(`{}`),
			"active", true, "warming_up", 20, nil)
}

func TestHandleMessageReceivedCreditsFreshDay(t *testing.T) {
	e, mock, _, rdb := setupTestEngine(t)
	ctx := context.Background()
	accountID, orgID := uuid.New(), uuid.New()

	// The stat row is created before the credit, so an inbox landing
	// ahead of the day's first hourly tick is never dropped.
	mock.ExpectQuery(`FROM email_accounts`).WillReturnRows(warmupAccountRow(accountID, orgID))
	mock.ExpectExec(`INSERT INTO warmup_stats`).
		WithArgs(accountID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET inbox_count = inbox_count \+ 1`).
		WithArgs(accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := makeJob(t, queue.TypeWarmupMessage, queue.WarmupMessagePayload{
		AccountID:   accountID,
		SenderEmail: "peer@other.test",
		Subject:     "Checking in [LFW-0042]",
	})
	if err := e.HandleMessageReceived(ctx, job); err != nil {
		t.Fatalf("HandleMessageReceived: %v", err)
	}

	// The humanized reply is queued at the minimum delay (jitter pinned to 0).
	members, err := rdb.ZRangeWithScores(ctx, "outreach:jobs:scheduled", 0, -1).Result()
	if err != nil {
		t.Fatalf("read scheduled set: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("scheduled %d jobs, want 1 reply", len(members))
	}
	runAt := time.UnixMilli(int64(members[0].Score))
	lo, hi := time.Now().Add(9*time.Minute), time.Now().Add(11*time.Minute)
	if runAt.Before(lo) || runAt.After(hi) {
		t.Errorf("reply scheduled at %v, want ~10 minutes out", runAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleReplyCreditsFreshDay(t *testing.T) {
	e, mock, sender, _ := setupTestEngine(t)
	accountID, orgID := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM email_accounts`).WillReturnRows(warmupAccountRow(accountID, orgID))
	mock.ExpectExec(`INSERT INTO warmup_stats`).
		WithArgs(accountID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET replies_count = replies_count \+ 1`).
		WithArgs(accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := makeJob(t, queue.TypeWarmupReply, queue.WarmupReplyPayload{
		AccountID: accountID,
		ToEmail:   "peer@other.test",
		Subject:   "Re: Checking in [LFW-0042]",
	})
	if err := e.HandleReply(context.Background(), job); err != nil {
		t.Fatalf("HandleReply: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(sender.sent))
	}
	if sender.sent[0].To != "peer@other.test" {
		t.Errorf("reply To = %q", sender.sent[0].To)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func makeJob(t *testing.T, jobType string, payload queue.Payload) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", jobType, err)
	}
	return queue.Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestHourlyAllowance(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		hour  int
		want  int
	}{
		{"first hour gets a sliver", 24, 0, 1},
		{"midday is half", 24, 11, 12},
		{"last hour releases the full budget", 24, 23, 24},
		{"small limit still sends in hour zero", 5, 0, 1},
		{"small limit full by end of day", 5, 23, 5},
		{"zero limit sends nothing", 0, 12, 0},
		{"negative limit sends nothing", -3, 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hourlyAllowance(tt.limit, tt.hour); got != tt.want {
				t.Errorf("hourlyAllowance(%d, %d) = %d, want %d", tt.limit, tt.hour, got, tt.want)
			}
		})
	}
}

func TestHourlyAllowanceMonotonic(t *testing.T) {
	for _, limit := range []int{1, 5, 40, 100} {
		prev := 0
		for hour := 0; hour < 24; hour++ {
			got := hourlyAllowance(limit, hour)
			if got < prev {
				t.Fatalf("limit %d: allowance shrank from %d to %d at hour %d", limit, prev, got, hour)
			}
			prev = got
		}
		if prev != limit {
			t.Errorf("limit %d: final allowance %d never reaches the full budget", limit, prev)
		}
	}
}

func TestSeedSubjectCarriesMarker(t *testing.T) {
	for i := 0; i < 20; i++ {
		subject := SeedSubject()
		if !IsSeed(subject) {
			t.Fatalf("seed subject %q not detected as seed", subject)
		}
	}
}

func TestIsSeedRejectsRealMail(t *testing.T) {
	for _, subject := range []string{
		"Quick question about Acme",
		"Re: your pricing email",
		"LFW without brackets",
		"",
	} {
		if IsSeed(subject) {
			t.Errorf("real subject %q misdetected as seed", subject)
		}
	}
}

func TestSeedContentNonEmpty(t *testing.T) {
	if SeedBody() == "" || SeedReply() == "" {
		t.Fatal("seed content must not be empty")
	}
	if !strings.Contains(seedHTML("a\nb"), "<br />") {
		t.Error("seed html lost line breaks")
	}
}
