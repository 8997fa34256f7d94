package template

import (
	"strings"
	"testing"
)

func TestMergeCaseInsensitive(t *testing.T) {
	fields := map[string]string{
		"first_name": "Ada",
		"company":    "Acme",
	}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Hi {{first_name}}", "Hi Ada"},
		{"uppercase", "Hi {{FIRST_NAME}}", "Hi Ada"},
		{"mixed", "Hi {{First_Name}} from {{Company}}", "Hi Ada from Acme"},
		{"spaces inside braces", "Hi {{ first_name }}", "Hi Ada"},
		{"unknown left intact", "Hi {{nickname}}", "Hi {{nickname}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.in, fields); got != tt.want {
				t.Errorf("Merge(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMergeFallbacks(t *testing.T) {
	fields := map[string]string{
		"first_name": "",
		"company":    "",
		"job_title":  "",
	}
	tests := []struct {
		in   string
		want string
	}{
		{"Hi {{first_name}}", "Hi there"},
		{"I saw {{company}} is hiring", "I saw your company is hiring"},
		{"as a {{job_title}},", "as a ,"},
	}
	for _, tt := range tests {
		if got := Merge(tt.in, fields); got != tt.want {
			t.Errorf("Merge(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToHTMLPlainText(t *testing.T) {
	got := ToHTML("line one\nsee https://example.com/docs\nbye")
	if !strings.Contains(got, "line one<br />") {
		t.Errorf("newlines not converted: %q", got)
	}
	if !strings.Contains(got, `<a href="https://example.com/docs">https://example.com/docs</a>`) {
		t.Errorf("bare url not linked: %q", got)
	}
}

func TestToHTMLConvertsBodiesWithInlineTags(t *testing.T) {
	got := ToHTML("Hello <b>there</b>\nDocs at https://example.com/docs\nBye")
	if !strings.Contains(got, "Hello <b>there</b><br />") {
		t.Errorf("newlines not converted alongside markup: %q", got)
	}
	if !strings.Contains(got, `<a href="https://example.com/docs">https://example.com/docs</a>`) {
		t.Errorf("bare url not linked alongside markup: %q", got)
	}
}

func TestToHTMLLeavesExistingHrefsAlone(t *testing.T) {
	in := `see <a href="https://example.com/docs">docs</a>`
	if got := ToHTML(in); got != in {
		t.Errorf("existing anchor was rewritten: %q", got)
	}
}

func TestInjectTrackingRewritesLinks(t *testing.T) {
	html := `<p><a href="https://example.com/pricing">pricing</a></p>`
	got := InjectTracking(html, "https://app.test", "tok123")

	if !strings.Contains(got, `href="https://app.test/api/track/click/tok123?url=https%3A%2F%2Fexample.com%2Fpricing"`) {
		t.Errorf("link not rewritten: %q", got)
	}
	if !strings.Contains(got, `<img src="https://app.test/api/track/open/tok123"`) {
		t.Errorf("open pixel missing: %q", got)
	}
}

func TestInjectTrackingSkipsExemptLinks(t *testing.T) {
	tests := []struct {
		name string
		href string
	}{
		{"mailto", "mailto:ada@example.com"},
		{"anchor", "#section"},
		{"unsubscribe", "https://app.test/api/track/unsubscribe/tok123"},
		{"already tracked", "https://app.test/api/track/click/tok123?url=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := `<a href="` + tt.href + `">x</a>`
			got := InjectTracking(html, "https://app.test", "tok123")
			if !strings.Contains(got, `href="`+tt.href+`"`) {
				t.Errorf("exempt link was rewritten: %q", got)
			}
		})
	}
}

func TestInjectTrackingRewritesOutsideUnsubscribeLookalikes(t *testing.T) {
	// Only our own links escape rewriting; an outside URL that happens
	// to mention unsubscribe still goes through the click redirect.
	html := `<a href="https://example.com/unsubscribe-tips">tips</a>`
	got := InjectTracking(html, "https://app.test", "tok123")
	if strings.Contains(got, `href="https://example.com/unsubscribe-tips"`) {
		t.Errorf("outside link escaped tracking: %q", got)
	}
	if !strings.Contains(got, `href="https://app.test/api/track/click/tok123?url=https%3A%2F%2Fexample.com%2Funsubscribe-tips"`) {
		t.Errorf("outside link not rewritten: %q", got)
	}
}

func TestInjectTrackingPixelBeforeBodyClose(t *testing.T) {
	html := `<html><body><p>hi</p></body></html>`
	got := InjectTracking(html, "https://app.test", "tok123")
	pixel := strings.Index(got, "<img src=")
	bodyClose := strings.Index(got, "</body>")
	if pixel < 0 || bodyClose < 0 || pixel > bodyClose {
		t.Errorf("pixel not placed inside body: %q", got)
	}
}

func TestUnsubscribeFooter(t *testing.T) {
	got := UnsubscribeFooter("https://app.test", "tok123")
	if !strings.Contains(got, "https://app.test/api/track/unsubscribe/tok123") {
		t.Errorf("footer missing unsubscribe link: %q", got)
	}
}
