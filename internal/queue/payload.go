package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Job type names. These are the wire contracts; payload shapes below are
// validated at the queue boundary so a malformed event fails fast instead
// of propagating zero values through the handlers.
const (
	TypeCampaignLaunch = "campaign.launch"
	TypeEmailProcess   = "campaign.email.process"
	TypeWarmupAccount  = "warmup.account.process"
	TypeWarmupMessage  = "warmup.message.received"
	TypeWarmupReply    = "warmup.reply.send"
	TypeUniboxSync     = "unibox.account.sync"
)

// Payload is implemented by every job payload type.
type Payload interface {
	Validate() error
}

// CampaignLaunchPayload fans a campaign out to its recipients.
type CampaignLaunchPayload struct {
	CampaignID uuid.UUID   `json:"campaignId"`
	OrgID      uuid.UUID   `json:"orgId"`
	LeadIDs    []uuid.UUID `json:"leadIds"`
}

func (p CampaignLaunchPayload) Validate() error {
	if p.CampaignID == uuid.Nil {
		return fmt.Errorf("campaignId is required")
	}
	if p.OrgID == uuid.Nil {
		return fmt.Errorf("orgId is required")
	}
	return nil
}

// EmailProcessPayload processes one step for one recipient. The processor
// re-emits this type with a delay to schedule the next step.
type EmailProcessPayload struct {
	CampaignID uuid.UUID `json:"campaignId"`
	LeadID     uuid.UUID `json:"leadId"`
	StepIdx    int       `json:"stepIdx"`
	OrgID      uuid.UUID `json:"orgId"`
}

func (p EmailProcessPayload) Validate() error {
	if p.CampaignID == uuid.Nil || p.LeadID == uuid.Nil || p.OrgID == uuid.Nil {
		return fmt.Errorf("campaignId, leadId and orgId are required")
	}
	if p.StepIdx < 0 {
		return fmt.Errorf("stepIdx must be >= 0")
	}
	return nil
}

// WarmupAccountPayload is the hourly per-account warmup tick.
type WarmupAccountPayload struct {
	AccountID uuid.UUID `json:"accountId"`
}

func (p WarmupAccountPayload) Validate() error {
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("accountId is required")
	}
	return nil
}

// WarmupMessagePayload is emitted by the reply watcher when an inbound
// warmup-seed reply is detected.
type WarmupMessagePayload struct {
	AccountID   uuid.UUID `json:"accountId"`
	SenderEmail string    `json:"senderEmail"`
	Subject     string    `json:"subject"`
	BodyText    string    `json:"bodyText"`
	MessageID   string    `json:"messageId"`
}

func (p WarmupMessagePayload) Validate() error {
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("accountId is required")
	}
	if p.SenderEmail == "" {
		return fmt.Errorf("senderEmail is required")
	}
	return nil
}

// WarmupReplyPayload sends one canned positive-sentiment reply after the
// randomized humanized delay.
type WarmupReplyPayload struct {
	AccountID uuid.UUID `json:"accountId"`
	ToEmail   string    `json:"toEmail"`
	Subject   string    `json:"subject"`
}

func (p WarmupReplyPayload) Validate() error {
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("accountId is required")
	}
	if p.ToEmail == "" {
		return fmt.Errorf("toEmail is required")
	}
	return nil
}

// UniboxSyncPayload syncs one mailbox for inbound replies.
type UniboxSyncPayload struct {
	AccountID uuid.UUID `json:"accountId"`
}

func (p UniboxSyncPayload) Validate() error {
	if p.AccountID == uuid.Nil {
		return fmt.Errorf("accountId is required")
	}
	return nil
}

// Decode strictly unmarshals and validates a job payload. Unknown fields
// are rejected so payload drift is caught at the boundary.
func Decode[T Payload](job Job) (T, error) {
	var p T
	dec := json.NewDecoder(bytes.NewReader(job.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", job.Type, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	return p, nil
}

// validate checks a raw payload against the registered shape for its type.
func validate(jobType string, raw json.RawMessage) error {
	job := Job{Type: jobType, Payload: raw}
	var err error
	switch jobType {
	case TypeCampaignLaunch:
		_, err = Decode[CampaignLaunchPayload](job)
	case TypeEmailProcess:
		_, err = Decode[EmailProcessPayload](job)
	case TypeWarmupAccount:
		_, err = Decode[WarmupAccountPayload](job)
	case TypeWarmupMessage:
		_, err = Decode[WarmupMessagePayload](job)
	case TypeWarmupReply:
		_, err = Decode[WarmupReplyPayload](job)
	case TypeUniboxSync:
		_, err = Decode[UniboxSyncPayload](job)
	default:
		err = fmt.Errorf("unknown job type %q", jobType)
	}
	return err
}
