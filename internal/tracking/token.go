// Package tracking implements the engagement tracking surface: the
// opaque token embedded in every email and the public pixel, click and
// unsubscribe endpoints.
package tracking

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Token identifies one (campaign, lead, step) send. It travels inside
// tracking URLs as unpadded base64url JSON.
type Token struct {
	CampaignID uuid.UUID `json:"campaignId"`
	LeadID     uuid.UUID `json:"leadId"`
	Step       int       `json:"step"`
}

// Encode serializes the token for URL embedding.
func (t Token) Encode() string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses and validates an inbound token. Tracking endpoints
// treat any error as a silently-dropped hit.
func DecodeToken(s string) (Token, error) {
	var t Token
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Tolerate padded tokens from older sends.
		data, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return t, fmt.Errorf("decode tracking token: %w", err)
		}
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tracking token: %w", err)
	}
	if t.CampaignID == uuid.Nil || t.LeadID == uuid.Nil {
		return t, fmt.Errorf("tracking token missing ids")
	}
	if t.Step < 0 {
		return t, fmt.Errorf("tracking token has negative step")
	}
	return t, nil
}
