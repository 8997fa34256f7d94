package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

const (
	outlookHost = "smtp-mail.outlook.com"
	outlookPort = 587
)

// smtpSender talks plain SMTP with STARTTLS. Outlook accounts reuse it
// with fixed host defaults; rotation nodes carry their own host config.
type smtpSender struct {
	host     string
	port     int
	username string
	password string
	provider string
}

func newSMTPSender(account *model.EmailAccount) (Sender, error) {
	cfg := account.Config
	host, port := cfg.SMTPHost, cfg.SMTPPort
	if account.Provider == model.ProviderOutlook {
		host, port = outlookHost, outlookPort
		if cfg.SMTPUser == "" {
			cfg.SMTPUser = account.Email
		}
	}
	if host == "" {
		return nil, fmt.Errorf("account %s: smtp host missing", account.ID)
	}
	if port == 0 {
		port = 587
	}
	if cfg.SMTPUser == "" || cfg.SMTPPass == "" {
		return nil, fmt.Errorf("account %s: smtp credentials missing", account.ID)
	}
	return &smtpSender{
		host:     host,
		port:     port,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		provider: account.Provider,
	}, nil
}

func (s *smtpSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return nil, fmt.Errorf("smtp starttls %s: %w", addr, err)
		}
	}
	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	if err := client.Auth(auth); err != nil {
		return nil, fmt.Errorf("smtp auth %s: %w", addr, err)
	}

	if err := client.Mail(msg.FromEmail); err != nil {
		return nil, fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return nil, fmt.Errorf("smtp rcpt to %s: %w", msg.To, err)
	}
	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp data: %w", err)
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	if _, err := w.Write(buildAlternative(msg, messageID)); err != nil {
		return nil, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("smtp close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		return nil, fmt.Errorf("smtp quit: %w", err)
	}
	return &Result{MessageID: messageID, Provider: s.provider}, nil
}

// buildAlternative writes a multipart/alternative body with a derived
// text part so strict receivers score the message normally.
func buildAlternative(msg *Message, messageID string) []byte {
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	part, _ := mw.CreatePart(map[string][]string{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	writeQuotedPrintable(part, text)

	part, _ = mw.CreatePart(map[string][]string{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	writeQuotedPrintable(part, msg.HTML)

	mw.Close()
	return b.Bytes()
}

func writeQuotedPrintable(w io.Writer, s string) {
	qp := quotedprintable.NewWriter(w)
	io.Copy(qp, strings.NewReader(s))
	qp.Close()
}

var (
	brTag    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEnd = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li)>`)
	anyTag   = regexp.MustCompile(`<[^>]+>`)
	multiNL  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup into a readable plain-text rendition.
func HTMLToText(html string) string {
	text := brTag.ReplaceAllString(html, "\n")
	text = blockEnd.ReplaceAllString(text, "\n\n")
	text = anyTag.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = multiNL.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
