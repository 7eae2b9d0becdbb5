package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
)

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends mail via the AWS SES v2 API as raw MIME, so attachments
// are delivered exactly as over SMTP.
type SES struct {
	client SendEmailAPI
	now    func() time.Time
}

// NewSES creates an SES transport. Static credentials are used when
// configured; otherwise the default AWS credential chain applies.
func NewSES(ctx context.Context, cfg model.SESConfig) (*SES, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewSESWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewSESWithClient creates an SES transport with a custom client, used for testing.
func NewSESWithClient(client SendEmailAPI) *SES {
	return &SES{client: client, now: time.Now}
}

// Name returns the transport name.
func (s *SES) Name() string {
	return "ses"
}

// Send delivers msg through SES.
func (s *SES) Send(ctx context.Context, msg *Message) error {
	raw, err := BuildMessage(msg, s.now())
	if err != nil {
		return retry.Permanent(err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES send to %s: %w", msg.To, err)
	}
	return nil
}
