package model

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Recipient sequence status. Once a pair leaves StatusActive no further
// sends may happen for it; the step processor re-checks this on every
// invocation.
const (
	StatusActive       = "active"
	StatusReplied      = "replied"
	StatusUnsubscribed = "unsubscribed"
	StatusPaused       = "paused"
	StatusCompleted    = "completed"
	StatusCancelled    = "cancelled"
)

// Engagement projection states, derived from the event log. Ordered:
// an open never regresses a click, a click never regresses a bounce.
const (
	EngagementPending    = "pending"
	EngagementSent       = "sent"
	EngagementDelivered  = "delivered"
	EngagementOpened     = "opened"
	EngagementClicked    = "clicked"
	EngagementBounced    = "bounced"
	EngagementComplained = "complained"
	EngagementUnsub      = "unsubscribed"
)

// Email event types, append-only.
const (
	EventSent        = "sent"
	EventDelivery    = "delivery"
	EventOpen        = "open"
	EventClick       = "click"
	EventBounce      = "bounce"
	EventComplaint   = "complaint"
	EventUnsubscribe = "unsubscribe"
)

// Sending account providers.
const (
	ProviderSES      = "aws_ses"
	ProviderGoogle   = "google"
	ProviderSMTP     = "custom_smtp"
	ProviderOutlook  = "outlook"
	ProviderRotation = "rotation" // transient descriptor synthesized from a rotation node
)

// Step is one email in a campaign sequence. WaitDays is how many days to
// wait after the previous step before this one goes out; step 0 ignores
// it.
type Step struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	WaitDays int    `json:"wait"`
}

// Campaign is an ordered email sequence owned by an organization. Steps are
// immutable once launched.
type Campaign struct {
	ID                  uuid.UUID
	OrgID               uuid.UUID
	Name                string
	Steps               []Step
	SenderID            uuid.NullUUID // explicit sending account, optional
	UseRotation         bool          // pooled-reputation sending
	SmartSendingEnabled bool
	Status              string
	TotalLeads          int
	SentCount           int
	ReplyCount          int
	ClickCount          int
	CreatedAt           time.Time
}

// StepAt returns the step at idx, or nil when idx is past the end of the
// sequence.
func (c *Campaign) StepAt(idx int) *Step {
	if idx < 0 || idx >= len(c.Steps) {
		return nil
	}
	return &c.Steps[idx]
}

// DecodeSteps parses the steps JSONB column.
func DecodeSteps(raw []byte) ([]Step, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// Lead is a recipient identity. Timezone is nullable and enriched
// asynchronously.
type Lead struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Company   string
	JobTitle  string
	Timezone  sql.NullString
	Status    string
}

// MergeFields returns every lead field as a substitution candidate for
// template rendering. Keys are matched case-insensitively.
func (l *Lead) MergeFields() map[string]string {
	tz := ""
	if l.Timezone.Valid {
		tz = l.Timezone.String
	}
	return map[string]string{
		"email":      l.Email,
		"first_name": l.FirstName,
		"last_name":  l.LastName,
		"company":    l.Company,
		"job_title":  l.JobTitle,
		"timezone":   tz,
	}
}

// CampaignRecipient is the per-(campaign, lead) progress record driving the
// state machine. One row per pair; never deleted, only status-transitioned.
// CurrentStep only increases.
type CampaignRecipient struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	CampaignID  uuid.UUID
	LeadID      uuid.UUID
	Status      string
	Engagement  string
	CurrentStep int
	NextSendAt  sql.NullTime
	LastSentAt  sql.NullTime
	RepliedAt   sql.NullTime
	Opens       int
	Clicks      int
}

// AccountConfig is the provider-specific credential blob stored on an
// email account row.
type AccountConfig struct {
	// SES
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	// Google / Outlook OAuth
	RefreshToken string `json:"refresh_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	// SMTP
	SMTPHost string `json:"smtpHost,omitempty"`
	SMTPPort int    `json:"smtpPort,omitempty"`
	SMTPUser string `json:"smtpUser,omitempty"`
	SMTPPass string `json:"smtpPass,omitempty"`
}

// EmailAccount is a sending identity with warmup pacing state.
type EmailAccount struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	Email            string
	FromName         string
	Provider         string
	Config           AccountConfig
	Status           string
	WarmupEnabled    bool
	WarmupStatus     string
	WarmupDailyLimit int
	WarmupStartedAt  sql.NullTime
}

// WarmupStat is one row per account per day. Counters are incremented
// atomically and never decremented.
type WarmupStat struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	OrgID        uuid.UUID
	Date         time.Time
	SentCount    int
	InboxCount   int
	SpamCount    int
	RepliesCount int
}

// EmailEvent is an immutable append-only log entry.
type EmailEvent struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	LeadID     uuid.UUID
	StepNumber int
	Type       string
	MessageID  string
	URL        string
	UserAgent  string
	IPAddress  string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Activity is a human-readable trail entry (email_sent, email_failed,
// email.reply and so on).
type Activity struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	LeadID      uuid.NullUUID
	ActionType  string
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Notification is a user-facing dashboard notification row.
type Notification struct {
	UserID      uuid.UUID
	OrgID       uuid.UUID
	Title       string
	Description string
	Type        string // success | warning | info | error
	Category    string // email_events | billing_alerts | campaign_updates | system
	Link        string
}

// Organization carries the billing gate consumed by this engine: a yes/no
// subscription flag and the monthly smart-send usage counter.
type Organization struct {
	ID                 uuid.UUID
	Name               string
	PlanID             string
	SubscriptionStatus string
	SmartSendsUsed     int
}

// RotationNode is one slot in the pooled-reputation sending pool.
type RotationNode struct {
	ID        uuid.UUID
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Active    bool
}

// Account synthesizes a transient sending account descriptor from a
// rotation node. The descriptor is never persisted.
func (n *RotationNode) Account() *EmailAccount {
	return &EmailAccount{
		ID:       n.ID,
		Email:    n.FromEmail,
		FromName: n.FromName,
		Provider: ProviderRotation,
		Status:   "active",
		Config: AccountConfig{
			SMTPHost: n.Host,
			SMTPPort: n.Port,
			SMTPUser: n.Username,
			SMTPPass: n.Password,
		},
	}
}

// InboundMessage is what the mailbox sync boundary yields to the reply
// watcher. IMAP mechanics live behind that boundary.
type InboundMessage struct {
	AccountID uuid.UUID
	FromEmail string
	Subject   string
	BodyText  string
	MessageID string
	Received  time.Time
}
