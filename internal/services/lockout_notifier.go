package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/rosterauth/internal/models"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

// LockoutNotifier tells an account holder their account was locked
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, account *models.Account, expires time.Time) error
}

// SESClient is the subset of the SES client used for sending
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier sends lockout notices through AWS SES
type SESLockoutNotifier struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS configuration for region
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESLockoutNotifierWithClient builds a notifier around an existing client
func NewSESLockoutNotifierWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// NotifyLockout e-mails the account holder. Accounts without an address are skipped.
func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, account *models.Account, expires time.Time) error {
	if account.Email == "" {
		n.logger.Info("lockout notice skipped: no email on account", slog.String("account_id", account.ID))
		return nil
	}

	name := account.DisplayName
	if name == "" {
		name = account.Username
	}
	until := expires.UTC().Format("2006-01-02 15:04 MST")

	textBody := fmt.Sprintf(`Hello %s,

Your account has been temporarily locked after repeated failed sign-in attempts.
You will be able to sign in again after %s.

If these attempts were not made by you, contact an administrator so the
activity can be reviewed.

This is an automated message. Please do not reply to this email.
`, name, until)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{account.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your account has been temporarily locked"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send lockout email via SES",
			slog.String("email", pkglogger.SanitizedEmail(account.Email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("lockout email sent",
		slog.String("account_id", account.ID),
		slog.String("message_id", messageID))

	return nil
}
