// Package email provides the email-sending capability used by the delivery
// worker and the subscription flow.
//
// Every transport implements Sender. Failures are classified as permanent
// when they concern the recipient (malformed address, 5xx reply to RCPT or
// DATA, 422 API rejection of the message) and transient otherwise. Sender-wide
// faults such as bad credentials or a missing STARTTLS are transient, so a
// corrected configuration still delivers the queued tasks. Callers branch on
// IsPermanent and never on the concrete transport.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/rs/zerolog"
)

// Sender delivers one message to one recipient. Implementations must be safe
// for concurrent use and honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, recipient, subject, textBody, htmlBody string) error
}

// Verifier is implemented by transports that can check their configuration
// against the remote end before the first send.
type Verifier interface {
	Verify(ctx context.Context) error
}

// ErrInvalidRecipient is reported (as a permanent failure) for addresses that
// cannot be parsed.
var ErrInvalidRecipient = errors.New("invalid recipient address")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-recoverable. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ValidateAddress requires a bare RFC 5322 address ("a@x.com", not
// "A <a@x.com>"). The returned error is permanent and wraps
// ErrInvalidRecipient.
func ValidateAddress(addr string) error {
	a, err := mail.ParseAddress(addr)
	if err != nil || a.Address != addr {
		return Permanent(fmt.Errorf("%w: %q", ErrInvalidRecipient, addr))
	}
	return nil
}

// Transport names accepted by New.
const (
	TransportSMTP = "smtp"
	TransportAPI  = "api"
	TransportLog  = "log"
)

// Options carries the settings of every transport; New reads the ones its
// transport needs.
type Options struct {
	Transport string
	SMTP      SMTPConfig
	API       APIConfig
	Logger    zerolog.Logger
}

// New resolves the configured transport once, at startup.
func New(o Options) (Sender, error) {
	switch o.Transport {
	case TransportSMTP:
		if o.SMTP.Host == "" || o.SMTP.From == "" {
			return nil, errors.New("email: smtp transport needs host and sender")
		}
		return NewSMTPSender(o.SMTP), nil
	case TransportAPI:
		if o.API.BaseURL == "" || o.API.From == "" {
			return nil, errors.New("email: api transport needs base url and sender")
		}
		return NewAPISender(o.API), nil
	case TransportLog, "":
		return LogSender{Logger: o.Logger}, nil
	default:
		return nil, fmt.Errorf("email: unknown transport %q", o.Transport)
	}
}
