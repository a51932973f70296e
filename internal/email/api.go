package email

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIConfig configures APISender.
type APIConfig struct {
	BaseURL string
	Token   string
	From    string
	Timeout time.Duration
}

// APISender delivers mail through a Postmark-compatible HTTP API
// (POST {BaseURL}/email with a server token header).
type APISender struct {
	client *resty.Client
	from   string
}

type apiMessage struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type apiError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// NewAPISender returns a sender for cfg.
func NewAPISender(cfg APIConfig) *APISender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Postmark-Server-Token", cfg.Token)
	return &APISender{client: client, from: cfg.From}
}

// Send implements Sender.
func (s *APISender) Send(ctx context.Context, recipient, subject, textBody, htmlBody string) error {
	if err := ValidateAddress(recipient); err != nil {
		return err
	}

	var apiErr apiError
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(apiMessage{
			From:     s.from,
			To:       recipient,
			Subject:  subject,
			HTMLBody: htmlBody,
			TextBody: textBody,
		}).
		SetError(&apiErr).
		Post("/email")
	if err != nil {
		return fmt.Errorf("email api: %w", err)
	}

	code := resp.StatusCode()
	if code < 300 {
		return nil
	}
	err = fmt.Errorf("email api: status %d: %s", code, describe(apiErr, resp))
	if code == http.StatusUnprocessableEntity && !senderFault[apiErr.ErrorCode] {
		return Permanent(err)
	}
	return err
}

// senderFault lists 422 error codes that concern the sending account, not
// the recipient. They stay transient so a fixed configuration delivers the
// queued tasks. 401/403 and every other status are transient as well.
var senderFault = map[int]bool{
	10:  true, // bad or missing server token
	400: true, // sender signature not found
	401: true, // sender signature not confirmed
	405: true, // not allowed to send
	412: true, // account pending approval
}

func describe(e apiError, resp *resty.Response) string {
	if e.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Message, e.ErrorCode)
	}
	return resp.String()
}
