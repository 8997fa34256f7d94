package unibox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/httpretry"
	"github.com/leadflow/outreach/internal/pkg/logger"
)

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailSyncer fetches recent inbox messages over the Gmail REST API for
// accounts connected with Google OAuth. Accounts on other providers
// yield no messages; their mailboxes need a protocol-specific syncer.
type GmailSyncer struct {
	clientID     string
	clientSecret string
	httpClient   httpretry.HTTPDoer
	log          *logger.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewGmailSyncer(clientID, clientSecret string) *GmailSyncer {
	return &GmailSyncer{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpretry.NewRetryClient(nil, 3),
		log:          logger.With("gmail-sync"),
		sources:      make(map[string]oauth2.TokenSource),
	}
}

func (g *GmailSyncer) Fetch(ctx context.Context, account *model.EmailAccount) ([]model.InboundMessage, error) {
	if account.Provider != model.ProviderGoogle {
		return nil, nil
	}
	if account.Config.RefreshToken == "" {
		return nil, fmt.Errorf("account %s: google refresh token missing", account.ID)
	}

	token, err := g.tokenSource(account).Token()
	if err != nil {
		return nil, fmt.Errorf("gmail token refresh: %w", err)
	}

	ids, err := g.listRecent(ctx, token)
	if err != nil {
		return nil, err
	}

	messages := make([]model.InboundMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := g.fetchMessage(ctx, token, account.ID, id)
		if err != nil {
			g.log.Warn("fetch gmail message", "account_id", account.ID, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func (g *GmailSyncer) tokenSource(account *model.EmailAccount) oauth2.TokenSource {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := account.ID.String()
	ts, ok := g.sources[key]
	if !ok {
		conf := &oauth2.Config{
			ClientID:     g.clientID,
			ClientSecret: g.clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		}
		ts = conf.TokenSource(context.Background(), &oauth2.Token{
			RefreshToken: account.Config.RefreshToken,
			AccessToken:  account.Config.AccessToken,
		})
		g.sources[key] = ts
	}
	return ts
}

func (g *GmailSyncer) listRecent(ctx context.Context, token *oauth2.Token) ([]string, error) {
	q := url.Values{
		"q":          {"in:inbox newer_than:1d"},
		"maxResults": {"50"},
	}
	var listing struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.get(ctx, token, gmailAPIBase+"/messages?"+q.Encode(), &listing); err != nil {
		return nil, fmt.Errorf("list gmail messages: %w", err)
	}
	ids := make([]string, len(listing.Messages))
	for i, m := range listing.Messages {
		ids[i] = m.ID
	}
	return ids, nil
}

func (g *GmailSyncer) fetchMessage(ctx context.Context, token *oauth2.Token,
	accountID uuid.UUID, id string) (*model.InboundMessage, error) {

	var raw struct {
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	endpoint := fmt.Sprintf("%s/messages/%s?format=metadata&metadataHeaders=From&metadataHeaders=Subject&metadataHeaders=Message-ID",
		gmailAPIBase, id)
	if err := g.get(ctx, token, endpoint, &raw); err != nil {
		return nil, err
	}

	msg := &model.InboundMessage{
		AccountID: accountID,
		BodyText:  raw.Snippet,
		MessageID: id,
		Received:  time.Now().UTC(),
	}
	if ms, err := strconv.ParseInt(raw.InternalDate, 10, 64); err == nil {
		msg.Received = time.UnixMilli(ms).UTC()
	}
	for _, h := range raw.Payload.Headers {
		switch h.Name {
		case "From":
			if addr, err := mail.ParseAddress(h.Value); err == nil {
				msg.FromEmail = addr.Address
			} else {
				msg.FromEmail = h.Value
			}
		case "Subject":
			msg.Subject = h.Value
		case "Message-ID":
			msg.MessageID = h.Value
		}
	}
	if msg.FromEmail == "" {
		return nil, fmt.Errorf("gmail message %s has no From header", id)
	}
	return msg, nil
}

func (g *GmailSyncer) get(ctx context.Context, token *oauth2.Token, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail api status %d: %s", resp.StatusCode, payload)
	}
	return json.Unmarshal(payload, out)
}
