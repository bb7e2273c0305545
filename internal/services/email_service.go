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

	"github.com/EllisVaughan/bastion/internal/risk"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

// EmailService is the notification channel for verification codes and
// security alerts. Send failures are logged by callers and never abort the
// flow that triggered them.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, code string, expiresAt time.Time) error
	SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendNewDeviceAlert(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error
	SendSuspiciousActivityAlert(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	replyTo     string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, replyTo, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		replyTo:     replyTo,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// send dispatches one email through SES with both HTML and plain text bodies
func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}
	if s.replyTo != "" {
		input.ReplyToAddresses = []string{s.replyTo}
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", email),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", email),
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

// SendVerificationEmail delivers the signup verification code
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f1f3f5; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Verify Your Email Address</h1>
        </div>
        <p>Welcome! Enter this code to complete your registration:</p>
        <div class="code">%s</div>
        <p>This code expires at %s.</p>
        <p><strong>Didn't create this account?</strong> You can ignore this email. Your email address will not be verified.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, code, expiresAt.Format(time.RFC1123))

	textBody := fmt.Sprintf(`Verify Your Email Address

Welcome! Enter this code to complete your registration:

    %s

This code expires at %s.

Didn't create this account? You can ignore this email. Your email address will not be verified.

This is an automated message. Please do not reply to this email.
`, code, expiresAt.Format(time.RFC1123))

	return s.send(ctx, email, "Verify your email address", htmlBody, textBody)
}

// SendTwoFactorCode delivers the login verification code for an attempt that
// scored in the two-factor band
func (s *AWSSESEmailService) SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f1f3f5; border-radius: 4px; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Your Login Verification Code</h1>
        <p>We noticed something unusual about your sign-in, so we need to confirm it's you. Enter this code to finish logging in:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>This code expires at %s.</strong> Requesting a new login invalidates it.
        </div>
        <p>If you didn't try to log in, change your password now.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, code, expiresAt.Format(time.RFC1123))

	textBody := fmt.Sprintf(`Your Login Verification Code

We noticed something unusual about your sign-in, so we need to confirm it's you. Enter this code to finish logging in:

    %s

This code expires at %s. Requesting a new login invalidates it.

If you didn't try to log in, change your password now.
`, code, expiresAt.Format(time.RFC1123))

	return s.send(ctx, email, "Your login verification code", htmlBody, textBody)
}

// SendPasswordResetEmail delivers the reset link for the forgot-password flow
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Reset Your Password</h1>
        <p>We received a request to reset your password. Click the link below to choose a new one:</p>
        <p><a href="%s" class="button">Reset Password</a></p>
        <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
        <p>This link expires at %s.</p>
        <p>If you didn't request a reset, you can ignore this email. Your password will not change.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, resetLink, resetLink, expiresAt.Format(time.RFC1123))

	textBody := fmt.Sprintf(`Reset Your Password

We received a request to reset your password. Open this link to choose a new one:

%s

This link expires at %s.

If you didn't request a reset, you can ignore this email. Your password will not change.
`, resetLink, expiresAt.Format(time.RFC1123))

	return s.send(ctx, email, "Reset your password", htmlBody, textBody)
}

// SendNewDeviceAlert notifies the account holder that an unrecognized device
// attempted to log in, with a link to re-secure the account
func (s *AWSSESEmailService) SendNewDeviceAlert(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, resetToken)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .details { background-color: #f8f9fa; padding: 12px; border-radius: 4px; }
        .button { display: inline-block; background-color: #cc3300; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>New Device Sign-In Attempt</h1>
        <p>A sign-in to your account was attempted from a device we haven't seen before:</p>
        <div class="details">
            <p><strong>Device:</strong> %s<br>
            <strong>IP address:</strong> %s<br>
            <strong>Time:</strong> %s</p>
        </div>
        <p>If this was you, no action is needed.</p>
        <p>If this wasn't you, reset your password immediately:</p>
        <p><a href="%s" class="button">Secure My Account</a></p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, loginCtx.Device, loginCtx.IP, loginCtx.Timestamp.Format(time.RFC1123), resetLink)

	textBody := fmt.Sprintf(`New Device Sign-In Attempt

A sign-in to your account was attempted from a device we haven't seen before:

Device:     %s
IP address: %s
Time:       %s

If this was you, no action is needed.

If this wasn't you, reset your password immediately:
%s
`, loginCtx.Device, loginCtx.IP, loginCtx.Timestamp.Format(time.RFC1123), resetLink)

	return s.send(ctx, email, "New device sign-in attempt", htmlBody, textBody)
}

// SendSuspiciousActivityAlert notifies the account holder that a login was
// blocked outright
func (s *AWSSESEmailService) SendSuspiciousActivityAlert(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .details { background-color: #f8f9fa; padding: 12px; border-radius: 4px; }
        .warning { background-color: #f8d7da; padding: 10px; border-left: 4px solid #dc3545; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Suspicious Sign-In Blocked</h1>
        <div class="warning">
            <strong>We blocked a sign-in attempt to your account</strong> because it looked very different from your usual activity (risk score %d).
        </div>
        <div class="details">
            <p><strong>Device:</strong> %s<br>
            <strong>IP address:</strong> %s<br>
            <strong>Location:</strong> %s<br>
            <strong>Time:</strong> %s</p>
        </div>
        <p>If this was you, try again from a device or network you normally use.</p>
        <p>If this wasn't you, your password may be compromised. Change it as soon as possible.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, score, loginCtx.Device, loginCtx.IP, locationName, loginCtx.Timestamp.Format(time.RFC1123))

	textBody := fmt.Sprintf(`Suspicious Sign-In Blocked

We blocked a sign-in attempt to your account because it looked very different from your usual activity (risk score %d).

Device:     %s
IP address: %s
Location:   %s
Time:       %s

If this was you, try again from a device or network you normally use.
If this wasn't you, your password may be compromised. Change it as soon as possible.
`, score, loginCtx.Device, loginCtx.IP, locationName, loginCtx.Timestamp.Format(time.RFC1123))

	return s.send(ctx, email, "Suspicious sign-in blocked", htmlBody, textBody)
}

// NoopEmailService logs sends instead of dispatching them. Used whenever
// email delivery is disabled. Codes are logged in the clear only outside
// production so local testing can read them without a mail sink.
type NoopEmailService struct {
	logger *slog.Logger
	env    string
}

func NewNoopEmailService(logger *slog.Logger, env string) *NoopEmailService {
	return &NoopEmailService{logger: logger, env: env}
}

func (s *NoopEmailService) SendVerificationEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.logger.Info("email delivery disabled, skipping verification email",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		pkglogger.RedactedAttr("code", code, s.env))
	return nil
}

func (s *NoopEmailService) SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.logger.Info("email delivery disabled, skipping two-factor code",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		pkglogger.RedactedAttr("code", code, s.env))
	return nil
}

func (s *NoopEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.Info("email delivery disabled, skipping password reset email",
		slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}

func (s *NoopEmailService) SendNewDeviceAlert(ctx context.Context, email string, loginCtx risk.LoginContext, resetToken string) error {
	s.logger.Info("email delivery disabled, skipping new device alert",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("device", loginCtx.Device))
	return nil
}

func (s *NoopEmailService) SendSuspiciousActivityAlert(ctx context.Context, email string, loginCtx risk.LoginContext, locationName string, score int) error {
	s.logger.Info("email delivery disabled, skipping suspicious activity alert",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Int("risk_score", score))
	return nil
}
