package email

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes messages to a zerolog logger instead of delivering them.
// It is meant for local development (EMAIL_TRANSPORT=log).
type LogSender struct {
	Logger zerolog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, recipient, subject, textBody, htmlBody string) error {
	if err := ValidateAddress(recipient); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Logger.Info().
		Str("component", "email").
		Str("to", recipient).
		Str("subject", subject).
		Int("text_bytes", len(textBody)).
		Int("html_bytes", len(htmlBody)).
		Msg("email (log transport)")
	return nil
}
