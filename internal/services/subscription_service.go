// Package services – SubscriptionService
//
// Subscribe records a pending subscription and emails a confirmation link;
// Confirm flips it to confirmed. Only confirmed subscribers are picked up
// when an issue is published.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

const maxNameRunes = 256

// forbiddenNameChars are rejected in subscriber names.
const forbiddenNameChars = `/()"<>\{}`

// SubscriptionService manages the subscribe/confirm flow.
type SubscriptionService struct {
	DB     *gorm.DB
	Sender email.Sender

	// BaseURL is the public origin used to build confirmation links.
	BaseURL string
	// ConfirmPath is appended to BaseURL, e.g. "/api/v1/subscriptions/confirm".
	ConfirmPath string

	Now      func() time.Time
	NewToken func() string
}

// NewSubscriptionService returns a service using random UUID-derived tokens.
func NewSubscriptionService(db *gorm.DB, sender email.Sender, baseURL, confirmPath string) *SubscriptionService {
	return &SubscriptionService{
		DB:          db,
		Sender:      sender,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ConfirmPath: confirmPath,
		Now:         time.Now,
		NewToken:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Subscribe validates name and address, stores a pending subscription and
// sends the confirmation email. When the email cannot be sent the pending
// row is removed so the client may retry.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, addr string) (*domain.Subscription, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe")
	defer span.End()

	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	addr = strings.TrimSpace(addr)
	if err := email.ValidateAddress(addr); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, addr)
	}

	token := s.NewToken()
	sub, err := repo.CreateSubscription(ctx, s.DB, addr, name, token, s.Now())
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrAlreadySubscribed
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("subscription.id", sub.ID))

	link := s.confirmationLink(token)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	html := fmt.Sprintf("Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.", link)
	if err := s.Sender.Send(ctx, addr, "Welcome!", text, html); err != nil {
		span.RecordError(err)
		if derr := s.DB.WithContext(ctx).Delete(&domain.Subscription{}, "id = ?", sub.ID).Error; derr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrConfirmationNotSent, err), derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfirmationNotSent, err)
	}
	return sub, nil
}

// Confirm marks the subscription owning token as confirmed.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) (*domain.Subscription, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnknownToken
	}
	sub, err := repo.ConfirmSubscription(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownToken
		}
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) confirmationLink(token string) string {
	return s.BaseURL + s.ConfirmPath + "?subscription_token=" + url.QueryEscape(token)
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	switch {
	case name == "":
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	case utf8.RuneCountInString(name) > maxNameRunes:
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalidName, maxNameRunes)
	case strings.ContainsAny(name, forbiddenNameChars):
		return "", fmt.Errorf("%w: name contains forbidden characters", ErrInvalidName)
	}
	return name, nil
}
