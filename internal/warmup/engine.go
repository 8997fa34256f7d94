// Package warmup builds sender reputation for new accounts by trading
// low-volume peer traffic inside the warmup network: paced sends, delayed
// positive replies, and a nightly volume ramp.
package warmup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/store"
	"github.com/leadflow/outreach/internal/transport"
)

const (
	replyDelayMin = 10 * time.Minute
	replyDelayMax = 45 * time.Minute
)

// SenderResolver yields the delivery transport for a sending account.
// *transport.Registry is the production implementation.
type SenderResolver interface {
	ForAccount(account *model.EmailAccount) (transport.Sender, error)
}

// Engine handles the warmup job types. Warmup is fail-soft throughout:
// a tick that cannot send logs and returns clean so the account just
// misses one slot instead of retry-storming.
type Engine struct {
	store    *store.Postgres
	queue    *queue.Queue
	registry SenderResolver
	log      *logger.Logger

	now    func() time.Time
	jitter func(n int) int
}

func NewEngine(st *store.Postgres, q *queue.Queue, reg SenderResolver) *Engine {
	return &Engine{
		store:    st,
		queue:    q,
		registry: reg,
		log:      logger.With("warmup"),
		now:      time.Now,
		jitter:   rand.Intn,
	}
}

// HandleAccountTick processes one warmup.account.process job: check the
// hourly allowance and send one seed message to a peer if there is room.
func (e *Engine) HandleAccountTick(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.WarmupAccountPayload](job)
	if err != nil {
		return queue.Permanent(err)
	}

	account, err := e.store.GetAccount(ctx, p.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Permanent(fmt.Errorf("warmup account %s not found", p.AccountID))
	}
	if err != nil {
		return fmt.Errorf("load warmup account: %w", err)
	}
	if !account.WarmupEnabled {
		return nil
	}

	if err := e.store.EnsureTodayWarmupStat(ctx, account.ID, account.OrgID); err != nil {
		return fmt.Errorf("ensure warmup stat: %w", err)
	}
	stat, err := e.store.TodayWarmupStat(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("load warmup stat: %w", err)
	}

	allowance := hourlyAllowance(account.WarmupDailyLimit, e.now().UTC().Hour())
	if stat.SentCount >= allowance {
		e.log.Debug("warmup allowance reached",
			"account_id", account.ID, "sent", stat.SentCount, "allowance", allowance)
		return nil
	}

	peer, err := e.pickPeer(ctx, account)
	if err != nil {
		e.log.Warn("no warmup peer available", "account_id", account.ID, "error", err)
		return nil
	}

	sender, err := e.registry.ForAccount(account)
	if err != nil {
		e.log.Warn("warmup sender unavailable", "account_id", account.ID, "error", err)
		return nil
	}
	_, err = sender.Send(ctx, &transport.Message{
		To:        peer.Email,
		FromEmail: account.Email,
		FromName:  account.FromName,
		Subject:   SeedSubject(),
		HTML:      seedHTML(SeedBody()),
	})
	if err != nil {
		e.log.Warn("warmup send failed", "account_id", account.ID, "error", err)
		return nil
	}

	if err := e.store.IncrementWarmupStat(ctx, account.ID, "sent_count"); err != nil {
		e.log.Warn("count warmup send", "account_id", account.ID, "error", err)
	}
	e.log.Info("warmup message sent", "account_id", account.ID, "peer", peer.Email)
	return nil
}

// HandleMessageReceived processes one warmup.message.received job: an
// inbound seed message landed, credit the inbox placement and schedule a
// humanized reply.
func (e *Engine) HandleMessageReceived(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.WarmupMessagePayload](job)
	if err != nil {
		return queue.Permanent(err)
	}

	account, err := e.store.GetAccount(ctx, p.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Permanent(fmt.Errorf("warmup account %s not found", p.AccountID))
	}
	if err != nil {
		return fmt.Errorf("load warmup account: %w", err)
	}

	// The seed may land before the account's first hourly tick of the
	// day; the increment matches zero rows unless the row exists.
	if err := e.store.EnsureTodayWarmupStat(ctx, account.ID, account.OrgID); err != nil {
		e.log.Warn("ensure warmup stat", "account_id", account.ID, "error", err)
	}
	if err := e.store.IncrementWarmupStat(ctx, account.ID, "inbox_count"); err != nil {
		e.log.Warn("count inbox placement", "account_id", account.ID, "error", err)
	}

	delay := replyDelayMin + time.Duration(e.jitter(int(replyDelayMax-replyDelayMin)))
	return e.queue.Enqueue(ctx, queue.TypeWarmupReply, queue.WarmupReplyPayload{
		AccountID: p.AccountID,
		ToEmail:   p.SenderEmail,
		Subject:   "Re: " + p.Subject,
	}, delay)
}

// HandleReply processes one warmup.reply.send job.
func (e *Engine) HandleReply(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.WarmupReplyPayload](job)
	if err != nil {
		return queue.Permanent(err)
	}

	account, err := e.store.GetAccount(ctx, p.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Permanent(fmt.Errorf("warmup account %s not found", p.AccountID))
	}
	if err != nil {
		return fmt.Errorf("load warmup account: %w", err)
	}

	sender, err := e.registry.ForAccount(account)
	if err != nil {
		e.log.Warn("warmup reply sender unavailable", "account_id", account.ID, "error", err)
		return nil
	}
	_, err = sender.Send(ctx, &transport.Message{
		To:        p.ToEmail,
		FromEmail: account.Email,
		FromName:  account.FromName,
		Subject:   p.Subject,
		HTML:      seedHTML(SeedReply()),
	})
	if err != nil {
		e.log.Warn("warmup reply failed", "account_id", account.ID, "error", err)
		return nil
	}

	if err := e.store.EnsureTodayWarmupStat(ctx, account.ID, account.OrgID); err != nil {
		e.log.Warn("ensure warmup stat", "account_id", account.ID, "error", err)
	}
	if err := e.store.IncrementWarmupStat(ctx, account.ID, "replies_count"); err != nil {
		e.log.Warn("count warmup reply", "account_id", account.ID, "error", err)
	}
	return nil
}

// pickPeer selects a random other account in the warmup network.
func (e *Engine) pickPeer(ctx context.Context, self *model.EmailAccount) (*model.EmailAccount, error) {
	accounts, err := e.store.ListWarmupAccounts(ctx)
	if err != nil {
		return nil, err
	}
	peers := accounts[:0]
	for _, a := range accounts {
		if a.ID != self.ID {
			peers = append(peers, a)
		}
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("warmup network has no peers")
	}
	peer := peers[e.jitter(len(peers))]
	return &peer, nil
}

// hourlyAllowance spreads the daily limit across the day so the whole
// budget cannot burn in one burst: by hour h (0-23) the account may have
// sent ceil(limit*(h+1)/24) messages.
func hourlyAllowance(dailyLimit, hour int) int {
	if dailyLimit <= 0 {
		return 0
	}
	return (dailyLimit*(hour+1) + 23) / 24
}

func seedHTML(body string) string {
	return "<p>" + strings.ReplaceAll(body, "\n", "<br />") + "</p>"
}
