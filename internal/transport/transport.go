// Package transport delivers rendered emails through the configured
// provider: AWS SES, Gmail API, plain SMTP, or the pooled rotation nodes.
package transport

import (
	"context"
	"fmt"

	"github.com/leadflow/outreach/internal/model"
)

// Message is one rendered, ready-to-send email.
type Message struct {
	To         string
	FromEmail  string
	FromName   string
	Subject    string
	HTML       string
	Text       string
	ReplyTo    string
	CampaignID string
	LeadID     string
}

// Result reports a successful delivery handoff to the provider.
type Result struct {
	MessageID string
	Provider  string
}

// Sender delivers one message. Implementations are safe for concurrent
// use; expensive provider clients are cached behind them.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Registry builds senders from account records, reusing provider clients
// across sends.
type Registry struct {
	ses   *sesCache
	gmail *gmailCache
}

// NewRegistry wires the provider caches. The Google OAuth client pair is
// app-level config; per-account refresh tokens live on the account rows.
func NewRegistry(googleClientID, googleClientSecret string) *Registry {
	return &Registry{
		ses:   newSESCache(),
		gmail: newGmailCache(googleClientID, googleClientSecret),
	}
}

// ForAccount returns the sender matching the account's provider.
func (r *Registry) ForAccount(account *model.EmailAccount) (Sender, error) {
	switch account.Provider {
	case model.ProviderSES:
		return r.ses.sender(account)
	case model.ProviderGoogle:
		return r.gmail.sender(account)
	case model.ProviderSMTP, model.ProviderOutlook, model.ProviderRotation:
		return newSMTPSender(account)
	default:
		return nil, fmt.Errorf("unsupported provider %q on account %s", account.Provider, account.ID)
	}
}
