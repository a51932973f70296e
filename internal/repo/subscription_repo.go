// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Subscription model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateSubscription inserts a pending subscription. A second subscription
// for the same email returns ErrDuplicate.
func CreateSubscription(ctx context.Context, db *gorm.DB, email, name, token string, now time.Time) (*domain.Subscription, error) {
	s := &domain.Subscription{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              name,
		Status:            domain.SubscriptionPending,
		ConfirmationToken: token,
		SubscribedAt:      now.UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// GetSubscriptionByEmail returns the subscription for email or ErrNotFound.
func GetSubscriptionByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).Where("email = ?", email).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ConfirmSubscription marks the subscription owning token as confirmed.
// Confirming twice is a no-op; an unknown token yields ErrNotFound.
func ConfirmSubscription(ctx context.Context, db *gorm.DB, token string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("confirmation_token = ?", token).First(&s).Error; err != nil {
			return err
		}
		if s.Status == domain.SubscriptionConfirmed {
			return nil
		}
		s.Status = domain.SubscriptionConfirmed
		return tx.Model(&domain.Subscription{}).
			Where("id = ?", s.ID).
			Update("status", domain.SubscriptionConfirmed).Error
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListConfirmedEmails returns the addresses of confirmed subscribers.
func ListConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status = ?", domain.SubscriptionConfirmed).
		Order("email asc").
		Pluck("email", &out).Error
	return out, err
}
