// Package services – Ledger
//
// This file implements the idempotency ledger. A request claims its
// (principal, key) pair by inserting a placeholder row inside a fresh
// transaction; the caller then performs its side effects in that same
// transaction and hands the final response to Complete, which fills the row
// and commits. Side effects and the saved response are therefore committed
// together or not at all.
//
// A duplicate request loses the insert race on the primary key, rolls back,
// and re-reads the row: a filled row is replayed, a placeholder means the
// winner is still inside its transaction and the lookup is retried with
// bounded exponential backoff.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// errInFlight signals a retryable conflict with a concurrent request.
var errInFlight = errors.New("idempotency key in flight")

// NextAction is the outcome of Ledger.TryBegin. Exactly one of Tx and Saved
// is set.
type NextAction struct {
	// Tx is the open transaction holding the placeholder (StartProcessing).
	Tx *gorm.DB
	// Saved is the stored response of an earlier request (ReturnSaved).
	Saved *domain.SavedResponse
}

// StartProcessing reports whether the caller owns the key and must finish
// with Complete or Abort.
func (a NextAction) StartProcessing() bool { return a.Tx != nil }

// Ledger coordinates idempotent request processing on top of the store.
type Ledger struct {
	DB *gorm.DB

	// MaxAttempts bounds how many times a conflicting lookup is tried before
	// ErrIdempotencyInFlight is returned.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Now func() time.Time
}

// NewLedger returns a Ledger with default retry settings.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{
		DB:             db,
		MaxAttempts:    5,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Now:            time.Now,
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.InitialBackoff
	b.MaxInterval = l.MaxBackoff
	b.MaxElapsedTime = 0
	attempts := l.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// TryBegin claims (principalID, key) or returns the response saved for it.
func (l *Ledger) TryBegin(ctx context.Context, principalID string, key domain.IdempotencyKey) (NextAction, error) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "TryBegin",
		trace.WithAttributes(attribute.String("user.id", principalID)),
	)
	defer span.End()

	var (
		action   NextAction
		attempts int
	)
	op := func() error {
		attempts++
		a, err := l.attempt(ctx, principalID, key.String())
		switch {
		case err == nil:
			action = a
			return nil
		case errors.Is(err, errInFlight):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	err := backoff.Retry(op, l.backoff(ctx))
	span.SetAttributes(
		attribute.Int("idempotency.attempts", attempts),
		attribute.Bool("idempotency.replay", action.Saved != nil),
	)
	if errors.Is(err, errInFlight) {
		return NextAction{}, ErrIdempotencyInFlight
	}
	if err != nil {
		span.RecordError(err)
		return NextAction{}, err
	}
	return action, nil
}

func (l *Ledger) attempt(ctx context.Context, principalID, key string) (NextAction, error) {
	tx := l.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return NextAction{}, tx.Error
	}

	err := repo.InsertIdempotencyPlaceholder(ctx, tx, principalID, key, l.now())
	if err == nil {
		return NextAction{Tx: tx}, nil
	}
	tx.Rollback()
	if !errors.Is(err, repo.ErrDuplicate) {
		return NextAction{}, err
	}

	rec, err := repo.GetIdempotency(ctx, l.DB, principalID, key)
	if errors.Is(err, repo.ErrNotFound) {
		// The winner rolled back; the key is free again.
		return NextAction{}, errInFlight
	}
	if err != nil {
		return NextAction{}, err
	}
	if !rec.Filled() {
		return NextAction{}, errInFlight
	}
	saved, err := rec.Saved()
	if err != nil {
		return NextAction{}, err
	}
	return NextAction{Saved: saved}, nil
}

// Complete stores resp on the placeholder inside tx and commits. On any
// failure tx is rolled back and nothing of the request is persisted.
func (l *Ledger) Complete(ctx context.Context, tx *gorm.DB, principalID string, key domain.IdempotencyKey, resp domain.SavedResponse) (*domain.SavedResponse, error) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("user.id", principalID),
			attribute.Int("http.status_code", resp.StatusCode),
		),
	)
	defer span.End()

	if err := repo.SaveIdempotencyResponse(ctx, tx, principalID, key.String(), resp); err != nil {
		tx.Rollback()
		span.RecordError(err)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrIdempotencyRecordMissing
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &resp, nil
}

// Abort rolls back a transaction obtained from TryBegin, releasing the key.
func (l *Ledger) Abort(tx *gorm.DB) {
	if tx != nil {
		tx.Rollback()
	}
}
