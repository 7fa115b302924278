package sink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"notifyd/internal/config"
)

// sesClient is the SES surface used by the email sender.
// Params: send-email call only.
// Returns: narrow interface so tests can substitute the client.
type sesClient interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// emailSender delivers notices through Amazon SES.
// Params: constructed client and configured from-address.
// Returns: sender for email-type commands.
type emailSender struct {
	client sesClient
	from   string
}

// newEmailSender builds an SES-backed email sender.
// Params: setup context and command definition (from address).
// Returns: sender or AWS configuration error.
func newEmailSender(ctx context.Context, command config.CommandConfig) (*emailSender, error) {
	if command.From == "" {
		return nil, fmt.Errorf("email command requires a from address")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &emailSender{
		client: sesv2.NewFromConfig(awsCfg),
		from:   command.From,
	}, nil
}

// Send delivers one message to one email address.
// Params: context, destination address, and rendered message.
// Returns: SES error on rejection.
func (s *emailSender) Send(ctx context.Context, address string, msg Message) error {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{address},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.TextMsg)},
				},
			},
		},
	}
	if _, err := s.client.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("ses send to %q: %w", address, err)
	}
	return nil
}
