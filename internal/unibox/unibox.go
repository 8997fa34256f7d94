// Package unibox watches connected mailboxes for inbound mail and turns
// it into engine actions: real replies stop sequences, warmup seed
// traffic feeds the warmup loop.
package unibox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/notify"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/store"
	"github.com/leadflow/outreach/internal/warmup"
)

const (
	syncEvery    = 15 * time.Minute
	seenKeyTTL   = 7 * 24 * time.Hour
	seenKeySpace = "outreach:unibox:seen:"
)

// MailboxSyncer fetches recent inbound messages for one account. Mailbox
// protocol mechanics live behind this boundary.
type MailboxSyncer interface {
	Fetch(ctx context.Context, account *model.EmailAccount) ([]model.InboundMessage, error)
}

// SyncerFunc adapts a function to the MailboxSyncer interface.
type SyncerFunc func(ctx context.Context, account *model.EmailAccount) ([]model.InboundMessage, error)

func (f SyncerFunc) Fetch(ctx context.Context, account *model.EmailAccount) ([]model.InboundMessage, error) {
	return f(ctx, account)
}

// Watcher handles unibox.account.sync jobs.
type Watcher struct {
	store    *store.Postgres
	queue    *queue.Queue
	syncer   MailboxSyncer
	notifier *notify.Notifier
	rdb      *redis.Client
	log      *logger.Logger
}

func NewWatcher(st *store.Postgres, q *queue.Queue, syncer MailboxSyncer,
	n *notify.Notifier, rdb *redis.Client) *Watcher {
	return &Watcher{
		store:    st,
		queue:    q,
		syncer:   syncer,
		notifier: n,
		rdb:      rdb,
		log:      logger.With("unibox"),
	}
}

// HandleSync processes one mailbox sync job.
func (w *Watcher) HandleSync(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.UniboxSyncPayload](job)
	if err != nil {
		return queue.Permanent(err)
	}

	account, err := w.store.GetAccount(ctx, p.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Permanent(fmt.Errorf("account %s not found", p.AccountID))
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	messages, err := w.syncer.Fetch(ctx, account)
	if err != nil {
		return fmt.Errorf("fetch mailbox %s: %w", account.ID, err)
	}

	for _, msg := range messages {
		fresh, err := w.markSeen(ctx, msg.MessageID)
		if err != nil {
			w.log.Warn("dedupe inbound message", "account_id", account.ID, "error", err)
		}
		if !fresh {
			continue
		}
		if warmup.IsSeed(msg.Subject) {
			w.handleSeed(ctx, account, msg)
			continue
		}
		w.handleReply(ctx, account, msg)
	}
	return nil
}

// markSeen records the message id in Redis; returns false when it was
// already processed by an earlier sync.
func (w *Watcher) markSeen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	return w.rdb.SetNX(ctx, seenKeySpace+messageID, 1, seenKeyTTL).Result()
}

func (w *Watcher) handleSeed(ctx context.Context, account *model.EmailAccount, msg model.InboundMessage) {
	err := w.queue.Enqueue(ctx, queue.TypeWarmupMessage, queue.WarmupMessagePayload{
		AccountID:   account.ID,
		SenderEmail: msg.FromEmail,
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		MessageID:   msg.MessageID,
	}, 0)
	if err != nil {
		w.log.Error("enqueue warmup seed", "account_id", account.ID, "error", err)
	}
}

// handleReply stops every active sequence targeting the sender's address.
func (w *Watcher) handleReply(ctx context.Context, account *model.EmailAccount, msg model.InboundMessage) {
	recipients, err := w.store.ActiveRecipientsByLeadEmail(ctx, msg.FromEmail)
	if err != nil {
		w.log.Error("find recipients for reply", "from", msg.FromEmail, "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	for _, r := range recipients {
		if err := w.store.MarkRecipientReplied(ctx, r.ID, msg.Received); err != nil {
			w.log.Error("mark recipient replied", "recipient_id", r.ID, "error", err)
			continue
		}
		if err := w.store.IncrementCampaignCounter(ctx, r.CampaignID, "reply_count"); err != nil {
			w.log.Warn("increment reply count", "campaign_id", r.CampaignID, "error", err)
		}
		if err := w.store.MarkLeadReplied(ctx, r.LeadID, msg.Received); err != nil {
			w.log.Warn("mark lead replied", "lead_id", r.LeadID, "error", err)
		}
		if err := w.store.InsertActivity(ctx, &model.Activity{
			OrgID:       r.OrgID,
			LeadID:      uuid.NullUUID{UUID: r.LeadID, Valid: true},
			ActionType:  "email_reply",
			Description: fmt.Sprintf("Reply received on %q", msg.Subject),
			Metadata:    map[string]any{"campaign_id": r.CampaignID.String(), "account_id": account.ID.String()},
		}); err != nil {
			w.log.Warn("insert reply activity", "lead_id", r.LeadID, "error", err)
		}
		w.notifier.OrgAdmins(ctx, r.OrgID, model.Notification{
			Title:       "New reply",
			Description: fmt.Sprintf("A lead replied: %q", msg.Subject),
			Type:        "success",
			Category:    "email_events",
		})
	}
	w.log.Info("reply processed", "from", msg.FromEmail, "sequences_stopped", len(recipients))
}

// Scheduler fans mailbox syncs out every 15 minutes.
type Scheduler struct {
	store *store.Postgres
	queue *queue.Queue
	log   *logger.Logger
}

func NewScheduler(st *store.Postgres, q *queue.Queue) *Scheduler {
	return &Scheduler{store: st, queue: q, log: logger.With("unibox-scheduler")}
}

// Run ticks once immediately, then every 15 minutes until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	accounts, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("list accounts for sync", "error", err)
		return
	}
	for _, account := range accounts {
		err := s.queue.Enqueue(ctx, queue.TypeUniboxSync,
			queue.UniboxSyncPayload{AccountID: account.ID}, 0)
		if err != nil {
			s.log.Error("enqueue mailbox sync", "account_id", account.ID, "error", err)
		}
	}
	s.log.Info("mailbox sync fanned out", "accounts", len(accounts))
}
