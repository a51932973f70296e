// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the issue delivery queue (the outbox the
// delivery worker drains).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// EnqueueDeliveryTasks inserts one task per confirmed subscriber for issueID
// in a single statement. Existing (issue, recipient) rows are left untouched,
// so calling it twice for the same issue never duplicates a task. It returns
// the number of rows inserted.
func EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string, now time.Time) (int64, error) {
	now = now.UTC()
	res := db.WithContext(ctx).Exec(
		`INSERT INTO issue_delivery_queue
			(newsletter_issue_id, subscriber_email, n_retries, execute_after, last_error, created_at)
		SELECT ?, email, 0, ?, '', ?
		FROM subscriptions
		WHERE status = ?
		ON CONFLICT DO NOTHING`,
		issueID, now, now, domain.SubscriptionConfirmed,
	)
	return res.RowsAffected, res.Error
}

// DequeueTask returns the oldest task that is due at now, locking its row for
// the lifetime of tx. Rows held by other transactions are skipped. SQLite has
// no row locks; its single writer serialises cycles instead.
//
// It returns ErrNotFound when nothing is due.
func DequeueTask(ctx context.Context, tx *gorm.DB, now time.Time) (*domain.DeliveryTask, error) {
	var t domain.DeliveryTask
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("execute_after <= ?", now.UTC()).
		Order("execute_after asc").
		Limit(1).
		Take(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ClaimTask leases a task returned by DequeueTask by pushing execute_after to
// leaseUntil, so other cycles skip it while no transaction holds it. It
// reports false when the task was retired, retried or leased by someone else
// since it was read.
func ClaimTask(ctx context.Context, db *gorm.DB, t *domain.DeliveryTask, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ? AND n_retries = ? AND execute_after <= ?",
			t.NewsletterIssueID, t.SubscriberEmail, t.NRetries, now.UTC()).
		Update("execute_after", leaseUntil.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseTask makes a leased task due at now again without counting an
// attempt. A task that moved on since the lease was taken is left alone.
func ReleaseTask(ctx context.Context, db *gorm.DB, t *domain.DeliveryTask, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ? AND n_retries = ?",
			t.NewsletterIssueID, t.SubscriberEmail, t.NRetries).
		Update("execute_after", now.UTC()).Error
}

// DeleteTask removes the (issueID, email) task. Deleting a missing task is
// not an error.
func DeleteTask(ctx context.Context, tx *gorm.DB, issueID, email string) error {
	return tx.WithContext(ctx).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Delete(&domain.DeliveryTask{}).Error
}

// RecordFailedAttempt bumps the attempt counter, pushes execute_after to
// retryAt and stores lastErr. Returns ErrNotFound when the task is gone.
func RecordFailedAttempt(ctx context.Context, tx *gorm.DB, issueID, email string, retryAt time.Time, lastErr string) error {
	res := tx.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ? AND subscriber_email = ?", issueID, email).
		Updates(map[string]any{
			"n_retries":     gorm.Expr("n_retries + 1"),
			"execute_after": retryAt.UTC(),
			"last_error":    lastErr,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingTasks returns the size of the delivery queue.
func CountPendingTasks(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&n).Error
	return n, err
}

// CountTasksForIssue returns the number of deliveries still pending for issueID.
func CountTasksForIssue(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("newsletter_issue_id = ?", issueID).
		Count(&n).Error
	return n, err
}

// ListTasksForIssue returns the pending tasks of issueID ordered by recipient.
func ListTasksForIssue(ctx context.Context, db *gorm.DB, issueID string) ([]domain.DeliveryTask, error) {
	var out []domain.DeliveryTask
	err := db.WithContext(ctx).
		Where("newsletter_issue_id = ?", issueID).
		Order("subscriber_email asc").
		Find(&out).Error
	return out, err
}
