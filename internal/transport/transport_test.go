package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/model"
)

func TestForAccountProviderDispatch(t *testing.T) {
	r := NewRegistry("client-id", "client-secret")

	tests := []struct {
		name    string
		account model.EmailAccount
		wantErr bool
	}{
		{
			name: "ses with credentials",
			account: model.EmailAccount{
				Provider: model.ProviderSES,
				Config:   model.AccountConfig{AccessKeyID: "AKIA", SecretAccessKey: "secret"},
			},
		},
		{
			name:    "ses missing credentials",
			account: model.EmailAccount{Provider: model.ProviderSES},
			wantErr: true,
		},
		{
			name: "google with refresh token",
			account: model.EmailAccount{
				Provider: model.ProviderGoogle,
				Config:   model.AccountConfig{RefreshToken: "1//refresh"},
			},
		},
		{
			name:    "google missing refresh token",
			account: model.EmailAccount{Provider: model.ProviderGoogle},
			wantErr: true,
		},
		{
			name: "custom smtp",
			account: model.EmailAccount{
				Provider: model.ProviderSMTP,
				Config: model.AccountConfig{
					SMTPHost: "mail.example.com", SMTPPort: 587,
					SMTPUser: "u", SMTPPass: "p",
				},
			},
		},
		{
			name: "outlook defaults host and user",
			account: model.EmailAccount{
				Provider: model.ProviderOutlook,
				Email:    "sender@outlook.com",
				Config:   model.AccountConfig{SMTPPass: "p"},
			},
		},
		{
			name:    "unknown provider",
			account: model.EmailAccount{Provider: "pigeon"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := r.ForAccount(&tt.account)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got sender")
				}
				return
			}
			if err != nil {
				t.Fatalf("ForAccount: %v", err)
			}
			if sender == nil {
				t.Fatal("nil sender without error")
			}
		})
	}
}

func TestOutlookSenderDefaults(t *testing.T) {
	account := model.EmailAccount{
		Provider: model.ProviderOutlook,
		Email:    "sender@outlook.com",
		Config:   model.AccountConfig{SMTPPass: "p"},
	}
	sender, err := newSMTPSender(&account)
	if err != nil {
		t.Fatalf("newSMTPSender: %v", err)
	}
	s := sender.(*smtpSender)
	if s.host != outlookHost || s.port != outlookPort {
		t.Errorf("host:port = %s:%d, want %s:%d", s.host, s.port, outlookHost, outlookPort)
	}
	if s.username != "sender@outlook.com" {
		t.Errorf("username = %q, want account email", s.username)
	}
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME(&Message{
		To:        "lead@example.com",
		FromEmail: "me@example.com",
		FromName:  "Me",
		ReplyTo:   "replies@example.com",
		Subject:   "Quick question",
		HTML:      "<p>Hello</p>",
	}))

	for _, want := range []string{
		"From: Me <me@example.com>\r\n",
		"To: lead@example.com\r\n",
		"Reply-To: replies@example.com\r\n",
		"Subject: Quick question\r\n",
		"Content-Type: text/html; charset=UTF-8\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mime missing %q", want)
		}
	}
}

func TestBuildAlternativeParts(t *testing.T) {
	raw := string(buildAlternative(&Message{
		To:        "lead@example.com",
		FromEmail: "me@example.com",
		FromName:  "Me",
		Subject:   "Hi",
		HTML:      "<p>Hello there</p>",
	}, "<id@host>"))

	if !strings.Contains(raw, "multipart/alternative") {
		t.Error("missing multipart content type")
	}
	if !strings.Contains(raw, "text/plain; charset=UTF-8") {
		t.Error("missing text part")
	}
	if !strings.Contains(raw, "text/html; charset=UTF-8") {
		t.Error("missing html part")
	}
	if !strings.Contains(raw, "Message-ID: <id@host>") {
		t.Error("missing message id header")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Hello</p><p>World</p>", "Hello\n\nWorld"},
		{"line one<br />line two", "line one\nline two"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{`<a href="https://x.test">click</a>`, "click"},
	}
	for _, tt := range tests {
		if got := HTMLToText(tt.in); got != tt.want {
			t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPoolRoundRobin(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	nodes := []model.RotationNode{
		{ID: uuid.New(), Host: "a.test", Port: 587, FromEmail: "a@a.test", Username: "a", Password: "p"},
		{ID: uuid.New(), Host: "b.test", Port: 587, FromEmail: "b@b.test", Username: "b", Password: "p"},
		{ID: uuid.New(), Host: "c.test", Port: 587, FromEmail: "c@c.test", Username: "c", Password: "p"},
	}

	pool := NewPool(rdb)
	ctx := context.Background()
	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		account, err := pool.Next(ctx, nodes)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if account.Provider != model.ProviderRotation {
			t.Fatalf("provider = %q, want rotation", account.Provider)
		}
		seen[account.Email]++
	}
	for _, n := range nodes {
		if seen[n.FromEmail] != 2 {
			t.Errorf("node %s picked %d times, want 2", n.FromEmail, seen[n.FromEmail])
		}
	}
}

func TestPoolEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := NewPool(rdb).Next(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty pool")
	}
}
