package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := New(rdb)
	q.pollEvery = 10 * time.Millisecond
	q.backoffBase = 20 * time.Millisecond
	return q, rdb
}

func runFor(q *Queue, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	q.Run(ctx)
}

func TestEnqueueValidatesPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	err := q.Enqueue(ctx, TypeEmailProcess, EmailProcessPayload{}, 0)
	if err == nil {
		t.Fatal("nil-id payload accepted")
	}

	err = q.Enqueue(ctx, "no.such.type", EmailProcessPayload{
		CampaignID: uuid.New(), LeadID: uuid.New(), OrgID: uuid.New(),
	}, 0)
	if err == nil {
		t.Fatal("unknown job type accepted")
	}
}

func TestDispatchDueJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var got atomic.Value
	q.Register(TypeUniboxSync, 1, func(_ context.Context, job Job) error {
		p, err := Decode[UniboxSyncPayload](job)
		if err != nil {
			return err
		}
		got.Store(p.AccountID)
		return nil
	})

	accountID := uuid.New()
	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: accountID}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runFor(q, 300*time.Millisecond)

	if got.Load() != accountID {
		t.Fatalf("handler got %v, want %v", got.Load(), accountID)
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("depth = %d after dispatch, want 0", depth)
	}
}

func TestDelayedJobStaysScheduled(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register(TypeUniboxSync, 1, func(context.Context, Job) error {
		calls.Add(1)
		return nil
	})

	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: uuid.New()}, time.Hour); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runFor(q, 150*time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("delayed job ran %d times before due", n)
	}
	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register(TypeUniboxSync, 1, func(context.Context, Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient blip")
		}
		return nil
	})

	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: uuid.New()}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runFor(q, 500*time.Millisecond)

	if n := calls.Load(); n != 2 {
		t.Fatalf("handler ran %d times, want 2 (fail then retry)", n)
	}
}

func TestPermanentErrorDeadLetters(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register(TypeUniboxSync, 1, func(context.Context, Job) error {
		calls.Add(1)
		return Permanent(fmt.Errorf("account deleted"))
	})

	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: uuid.New()}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runFor(q, 300*time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("permanent failure ran %d times, want exactly 1", n)
	}
	dead, err := rdb.LRange(ctx, deadKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("read dead letter list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letter entries = %d, want 1", len(dead))
	}
	var entry struct {
		Job   Job    `json:"job"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(dead[0]), &entry); err != nil {
		t.Fatalf("parse dead letter entry: %v", err)
	}
	if entry.Job.Type != TypeUniboxSync || entry.Error != "account deleted" {
		t.Errorf("unexpected dead letter entry: %+v", entry)
	}
}

func TestMaxAttemptsDeadLetters(t *testing.T) {
	q, rdb := newTestQueue(t)
	q.maxAttempts = 3
	ctx := context.Background()

	var calls atomic.Int32
	q.Register(TypeUniboxSync, 1, func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("always failing")
	})

	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: uuid.New()}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runFor(q, time.Second)

	if n := calls.Load(); n != 3 {
		t.Errorf("handler ran %d times, want 3", n)
	}
	dead, _ := rdb.LLen(ctx, deadKey).Result()
	if dead != 1 {
		t.Errorf("dead letter entries = %d, want 1", dead)
	}
}

func TestSaturatedTypeDoesNotStallOthers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	var blocked atomic.Int32
	q.Register(TypeWarmupReply, 1, func(context.Context, Job) error {
		blocked.Add(1)
		<-block
		return nil
	})
	var synced atomic.Int32
	q.Register(TypeUniboxSync, 1, func(context.Context, Job) error {
		synced.Add(1)
		return nil
	})

	// Two blockers against a concurrency bound of one: the second sits
	// waiting on the semaphore while the first holds it.
	for i := 0; i < 2; i++ {
		err := q.Enqueue(ctx, TypeWarmupReply, WarmupReplyPayload{
			AccountID: uuid.New(), ToEmail: "peer@other.test", Subject: "Re: hi",
		}, 0)
		if err != nil {
			t.Fatalf("Enqueue blocker: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for blocked.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if blocked.Load() == 0 {
		t.Fatal("blocker never started")
	}

	if err := q.Enqueue(ctx, TypeUniboxSync, UniboxSyncPayload{AccountID: uuid.New()}, 0); err != nil {
		t.Fatalf("Enqueue sync job: %v", err)
	}
	for synced.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if synced.Load() == 0 {
		t.Fatal("sync job starved behind a saturated job type")
	}

	close(block)
	cancel()
	<-done
}

func TestIsPermanentUnwraps(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", Permanent(base))

	if !IsPermanent(wrapped) {
		t.Error("wrapped permanent error not detected")
	}
	if !errors.Is(wrapped, base) {
		t.Error("base error lost through Permanent")
	}
	if IsPermanent(base) {
		t.Error("plain error misdetected as permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	job := Job{
		Type:    TypeUniboxSync,
		Payload: []byte(`{"accountId":"` + uuid.NewString() + `","extra":true}`),
	}
	if _, err := Decode[UniboxSyncPayload](job); err == nil {
		t.Fatal("unknown field accepted")
	}
}
