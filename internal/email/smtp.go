package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the bare sender address; FromName is optional.
	From     string
	FromName string
	StartTLS bool
	// Timeout bounds dial plus the whole SMTP conversation when ctx carries
	// no deadline of its own.
	Timeout time.Duration
}

// SMTPSender delivers mail through an SMTP relay, one connection per message.
type SMTPSender struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	now  func() time.Time
}

// NewSMTPSender returns a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	d := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTPSender{cfg: cfg, dial: d.DialContext, now: time.Now}
}

func (s *SMTPSender) fromHeader() string {
	if s.cfg.FromName == "" {
		return s.cfg.From
	}
	return (&mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}).String()
}

// ErrStartTLSUnavailable is reported when StartTLS is configured but the
// server does not advertise the extension. The session is never continued in
// plaintext.
var ErrStartTLSUnavailable = errors.New("smtp server does not offer STARTTLS")

// Conversation stages. Only rcpt and data rejections concern the recipient;
// failures in every other stage are sender-wide and stay transient.
const (
	stageDial     = "dial"
	stageGreeting = "greeting"
	stageHello    = "hello"
	stageStartTLS = "starttls"
	stageAuth     = "auth"
	stageMail     = "mail"
	stageRcpt     = "rcpt"
	stageData     = "data"
)

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, textBody, htmlBody string) error {
	if err := ValidateAddress(recipient); err != nil {
		return err
	}
	msg, err := buildMIME(s.fromHeader(), recipient, subject, textBody, htmlBody, s.now())
	if err != nil {
		return Permanent(fmt.Errorf("smtp: build message: %w", err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	c, closeFn, stage, err := s.session(ctx)
	if err != nil {
		return classifySMTP(ctx, stage, err)
	}
	defer closeFn()

	if stage, err := s.deliver(c, recipient, msg); err != nil {
		return classifySMTP(ctx, stage, err)
	}
	return nil
}

// Verify opens a session up to authentication and quits. Startup uses it to
// surface configuration errors such as ErrStartTLSUnavailable.
func (s *SMTPSender) Verify(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	c, closeFn, stage, err := s.session(ctx)
	if err != nil {
		return classifySMTP(ctx, stage, err)
	}
	defer closeFn()
	_ = c.Quit()
	return nil
}

// session dials, greets, upgrades to TLS and authenticates. On failure it
// reports the stage that failed.
func (s *SMTPSender) session(ctx context.Context) (*smtp.Client, func(), string, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, stageDial, fmt.Errorf("%s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock any pending read/write on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, nil, stageGreeting, err
	}
	closeFn := func() {
		stop()
		_ = c.Close()
	}

	fail := func(stage string, err error) (*smtp.Client, func(), string, error) {
		closeFn()
		return nil, nil, stage, err
	}
	if err := c.Hello("localhost"); err != nil {
		return fail(stageHello, err)
	}
	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fail(stageStartTLS, ErrStartTLSUnavailable)
		}
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fail(stageStartTLS, err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fail(stageAuth, err)
		}
	}
	return c, closeFn, "", nil
}

// deliver runs one mail transaction on an open session.
func (s *SMTPSender) deliver(c *smtp.Client, recipient string, msg []byte) (string, error) {
	if err := c.Mail(s.cfg.From); err != nil {
		return stageMail, err
	}
	if err := c.Rcpt(recipient); err != nil {
		return stageRcpt, err
	}
	w, err := c.Data()
	if err != nil {
		return stageData, err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return stageData, err
	}
	if err := w.Close(); err != nil {
		return stageData, err
	}
	// The message is accepted once DATA completes; a failed QUIT must not
	// cause a resend.
	_ = c.Quit()
	return "", nil
}

// classifySMTP marks 5xx replies to RCPT and DATA as permanent. Cancellation
// and deadline errors surface as the context's error so callers see a
// timeout.
func classifySMTP(ctx context.Context, stage string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("smtp %s: %w", stage, cerr)
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 && tp.Code < 600 && (stage == stageRcpt || stage == stageData) {
		return Permanent(fmt.Errorf("smtp %s: %w", stage, err))
	}
	return fmt.Errorf("smtp %s: %w", stage, err)
}
