// Package app builds the long-lived dependencies shared by the server and
// worker binaries from a loaded config.Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/delivery"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// OpenStore opens the configured database and migrates the schema.
func OpenStore(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := cfg.Path
	if cfg.Driver == repo.DriverPostgres {
		dsn = cfg.URL
	}
	db, err := repo.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// NewSender resolves the outbound email transport and verifies it when the
// transport supports that. A server that cannot honour SMTP_STARTTLS fails
// startup; other verification errors (server down, bad credentials) are
// logged and left to the delivery retries.
func NewSender(ctx context.Context, cfg config.EmailConfig, lg zerolog.Logger) (email.Sender, error) {
	sender, err := email.New(email.Options{
		Transport: cfg.Transport,
		SMTP: email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.Sender,
			FromName: cfg.SenderName,
			StartTLS: cfg.SMTPStartTLS,
			Timeout:  cfg.Timeout,
		},
		API: email.APIConfig{
			BaseURL: cfg.APIBaseURL,
			Token:   cfg.APIToken,
			From:    cfg.Sender,
			Timeout: cfg.Timeout,
		},
		Logger: lg.With().Str("component", "email").Logger(),
	})
	if err != nil {
		return nil, err
	}
	if v, ok := sender.(email.Verifier); ok {
		if err := v.Verify(ctx); err != nil {
			if errors.Is(err, email.ErrStartTLSUnavailable) {
				return nil, fmt.Errorf("email: %w", err)
			}
			lg.Warn().Err(err).Str("transport", cfg.Transport).Msg("email transport verification failed")
		}
	}
	return sender, nil
}

// NewWorker returns a delivery worker configured from cfg.
func NewWorker(db *gorm.DB, sender email.Sender, cfg config.WorkerConfig, lg zerolog.Logger) *delivery.Worker {
	return delivery.NewWorker(db, sender,
		delivery.WithConcurrency(cfg.Concurrency),
		delivery.WithPollInterval(cfg.PollInterval),
		delivery.WithMaxAttempts(cfg.MaxAttempts),
		delivery.WithSendTimeout(cfg.SendTimeout),
		delivery.WithRetryBackoff(cfg.RetryBackoff, cfg.MaxRetryBackoff),
		delivery.WithClaimMode(delivery.ClaimMode(cfg.ClaimMode)),
		delivery.WithLogger(lg),
	)
}
