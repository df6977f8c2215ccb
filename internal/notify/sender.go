package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/sheetguard/internal/config"
)

// Sender delivers one rendered email and returns the transport message id.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client   *sesv2.Client
	from     string
	fromName string
}

// NewSESSender creates an SES sender from email config. Static credentials
// are used when provided, otherwise the default chain applies.
func NewSESSender(cfg config.EmailConfig) (*SESSender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing SES config: %w", err)
	}

	return &SESSender{
		client:   sesv2.NewFromConfig(awsCfg),
		from:     cfg.SenderAddress,
		fromName: cfg.SenderName,
	}, nil
}

func (s *SESSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.from)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if textBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sending via SES: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	return messageID, nil
}

// LogSender writes emails to the process log instead of sending them. Used
// when email delivery is disabled.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, subject, _, _ string) (string, error) {
	log.Printf("[notify] email disabled, would send %q to %s", subject, to)
	return "log-" + to, nil
}
