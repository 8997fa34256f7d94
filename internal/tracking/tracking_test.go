package tracking

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

type recordedEvents struct {
	events []*model.EmailEvent
}

func (r *recordedEvents) Record(_ context.Context, ev *model.EmailEvent) {
	r.events = append(r.events, ev)
}

func TestTokenRoundTrip(t *testing.T) {
	in := Token{CampaignID: uuid.New(), LeadID: uuid.New(), Step: 2}
	out, err := DecodeToken(in.Encode())
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecodeTokenPadded(t *testing.T) {
	in := Token{CampaignID: uuid.New(), LeadID: uuid.New(), Step: 1}
	raw, _ := base64.RawURLEncoding.DecodeString(in.Encode())
	padded := base64.URLEncoding.EncodeToString(raw)

	out, err := DecodeToken(padded)
	if err != nil {
		t.Fatalf("DecodeToken(padded): %v", err)
	}
	if out != in {
		t.Errorf("padded round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not base64", "!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"nil ids", Token{}.Encode()},
		{"negative step", Token{CampaignID: uuid.New(), LeadID: uuid.New(), Step: -1}.Encode()},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeToken(tt.in); err == nil {
				t.Errorf("DecodeToken(%q) accepted garbage", tt.in)
			}
		})
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/pricing", true},
		{"http://example.com", true},
		{"javascript:alert(1)", false},
		{"mailto:x@y.test", false},
		{"//example.com", false},
		{"/relative/path", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := safeRedirect(tt.url); got != tt.want {
			t.Errorf("safeRedirect(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestHandleOpenRecordsEvent(t *testing.T) {
	rec := &recordedEvents{}
	h := NewHandler(rec)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	token := Token{CampaignID: uuid.New(), LeadID: uuid.New(), Step: 1}
	resp, err := http.Get(srv.URL + "/api/track/open/" + token.Encode())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Type != model.EventOpen || ev.CampaignID != token.CampaignID ||
		ev.LeadID != token.LeadID || ev.StepNumber != token.Step {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHandleOpenBadTokenStillServesPixel(t *testing.T) {
	h := NewHandler(nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/track/open/not-a-token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q, want image/gif", ct)
	}
}

func TestHandleClickRejectsBadTarget(t *testing.T) {
	h := NewHandler(nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/track/click/whatever?url=javascript:alert(1)")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleClickBadTokenStillRedirects(t *testing.T) {
	h := NewHandler(nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/api/track/click/not-a-token?url=https%3A%2F%2Fexample.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://example.com" {
		t.Errorf("location = %q, want https://example.com", loc)
	}
}
