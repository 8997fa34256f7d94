package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/quotedprintable"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/leadflow/outreach/internal/model"
)

const gmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

// gmailCache caches one token source per account so the refresh token is
// only exchanged when the access token actually expires.
type gmailCache struct {
	clientID     string
	clientSecret string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newGmailCache(clientID, clientSecret string) *gmailCache {
	return &gmailCache{
		clientID:     clientID,
		clientSecret: clientSecret,
		sources:      make(map[string]oauth2.TokenSource),
	}
}

func (c *gmailCache) sender(account *model.EmailAccount) (Sender, error) {
	if account.Config.RefreshToken == "" {
		return nil, fmt.Errorf("account %s: google refresh token missing", account.ID)
	}
	if c.clientID == "" || c.clientSecret == "" {
		return nil, fmt.Errorf("google oauth client not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := account.ID.String()
	ts, ok := c.sources[key]
	if !ok {
		conf := &oauth2.Config{
			ClientID:     c.clientID,
			ClientSecret: c.clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.send"},
		}
		ts = conf.TokenSource(context.Background(), &oauth2.Token{
			RefreshToken: account.Config.RefreshToken,
			AccessToken:  account.Config.AccessToken,
		})
		c.sources[key] = ts
	}
	return &gmailSender{
		source: ts,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type gmailSender struct {
	source oauth2.TokenSource
	client *http.Client
}

func (g *gmailSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	token, err := g.source.Token()
	if err != nil {
		return nil, fmt.Errorf("gmail token refresh: %w", err)
	}

	raw := base64.RawURLEncoding.EncodeToString(buildMIME(msg))
	body, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gmailSendURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gmail send to %s: status %d: %s", msg.To, resp.StatusCode, payload)
	}

	var sent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &sent); err != nil {
		return nil, fmt.Errorf("gmail send response: %w", err)
	}
	return &Result{MessageID: sent.ID, Provider: model.ProviderGoogle}, nil
}

// buildMIME assembles the RFC 822 message Gmail expects in the raw field.
func buildMIME(msg *Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&b)
	io.Copy(qp, strings.NewReader(msg.HTML))
	qp.Close()
	return b.Bytes()
}
