// Package template renders campaign step content: merge-field
// substitution, plain-text to HTML conversion, and open/click tracking
// injection.
package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	fieldPattern = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*)\s*\}\}`)
	// Go's regexp has no lookbehind, so bare URLs are anchored on the
	// preceding character instead and the prefix is re-emitted.
	bareURL  = regexp.MustCompile(`(^|[\s>])(https?://[^\s<"']+)`)
	hrefAttr = regexp.MustCompile(`href="([^"]+)"`)
)

// Merge substitutes {{field}} placeholders with lead values. Placeholder
// names match case-insensitively; first_name and company fall back to a
// neutral phrase when the lead record is missing them, every other empty
// field substitutes to the empty string. Unknown placeholders are left
// untouched so broken templates stay visible.
func Merge(text string, fields map[string]string) string {
	lower := make(map[string]string, len(fields))
	for k, v := range fields {
		lower[strings.ToLower(k)] = v
	}
	return fieldPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.ToLower(fieldPattern.FindStringSubmatch(match)[1])
		value, ok := lower[name]
		if !ok {
			return match
		}
		if value == "" {
			switch name {
			case "first_name":
				return "there"
			case "company":
				return "your company"
			}
		}
		return value
	})
}

// ToHTML converts step bodies into sendable HTML: bare URLs become
// anchors and newlines become <br />. Editors store bodies as text with
// occasional inline tags, so the conversion always runs; hrefs are never
// rematched because the URL character class stops at a quote.
func ToHTML(body string) string {
	html := bareURL.ReplaceAllString(body, `$1<a href="$2">$2</a>`)
	return strings.ReplaceAll(html, "\n", "<br />")
}

// InjectTracking rewrites every href through the click redirect and
// appends the open pixel. Mailto and anchor links are left alone; the
// baseURL prefix check covers our own unsubscribe and already-tracked
// links without exempting outside URLs that merely mention unsubscribe.
func InjectTracking(html, baseURL, token string) string {
	tracked := hrefAttr.ReplaceAllStringFunc(html, func(match string) string {
		target := hrefAttr.FindStringSubmatch(match)[1]
		if strings.HasPrefix(target, "mailto:") ||
			strings.HasPrefix(target, "#") ||
			strings.HasPrefix(target, baseURL) {
			return match
		}
		return fmt.Sprintf(`href="%s/api/track/click/%s?url=%s"`, baseURL, token, url.QueryEscape(target))
	})
	pixel := fmt.Sprintf(`<img src="%s/api/track/open/%s" width="1" height="1" style="display:none;" alt="" />`, baseURL, token)
	if idx := strings.LastIndex(tracked, "</body>"); idx >= 0 {
		return tracked[:idx] + pixel + tracked[idx:]
	}
	return tracked + pixel
}

// UnsubscribeFooter returns the compliance footer appended to every
// campaign email.
func UnsubscribeFooter(baseURL, token string) string {
	return fmt.Sprintf(
		`<br /><br /><p style="font-size:12px;color:#888;">If you'd rather not hear from us, <a href="%s/api/track/unsubscribe/%s">unsubscribe here</a>.</p>`,
		baseURL, token)
}
