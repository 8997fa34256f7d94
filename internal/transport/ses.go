package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/leadflow/outreach/internal/model"
)

// sesCache reuses SES clients per credential set. Building an SDK client
// per send would re-resolve config every time.
type sesCache struct {
	mu      sync.Mutex
	clients map[string]*sesv2.Client
}

func newSESCache() *sesCache {
	return &sesCache{clients: make(map[string]*sesv2.Client)}
}

func (c *sesCache) sender(account *model.EmailAccount) (Sender, error) {
	cfg := account.Config
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("account %s: SES credentials missing", account.ID)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	key := cfg.AccessKeyID + "|" + region
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[key]
	if !ok {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = sesv2.NewFromConfig(awsCfg)
		c.clients[key] = client
	}
	return &sesSender{client: client}, nil
}

type sesSender struct {
	client *sesv2.Client
}

func (s *sesSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("lead_id"), Value: aws.String(msg.LeadID)},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send to %s: %w", msg.To, err)
	}
	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return &Result{MessageID: messageID, Provider: model.ProviderSES}, nil
}
