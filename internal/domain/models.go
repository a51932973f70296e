// Package domain defines the persistence models for subscriptions, newsletter
// issues, and the issue delivery queue. These types are mapped with GORM and
// form the core data layer of the newsletter service.
package domain

import "time"

// Subscription statuses.
const (
	SubscriptionPending   = "pending_confirmation"
	SubscriptionConfirmed = "confirmed"
)

// Subscription represents a newsletter subscriber. Only confirmed subscribers
// receive issues; the set is read as a snapshot when an issue is published.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: subscriber address; unique across subscriptions.
//   - Name: display name used in the confirmation email.
//   - Status: pending_confirmation or confirmed (enforced by DB constraint).
//   - ConfirmationToken: opaque token sent in the confirmation link.
//   - SubscribedAt: creation timestamp (UTC).
type Subscription struct {
	ID                string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email             string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name              string    `json:"name"          gorm:"type:varchar(256);not null"`
	Status            string    `json:"status"        gorm:"type:varchar(32);not null;index;check:status IN ('pending_confirmation','confirmed')"`
	ConfirmationToken string    `json:"-"             gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_token"`
	SubscribedAt      time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// NewsletterIssue is a published newsletter. Issues are immutable once
// created and are created exactly once per first processing of an
// idempotency key.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one pending (issue, recipient) email in the outbox. The
// composite primary key makes re-enqueueing an issue idempotent at the store
// level. Rows are deleted once delivery reaches a terminal outcome.
//
// Fields:
//   - NewsletterIssueID / SubscriberEmail: composite primary key.
//   - NRetries: failed transient attempts so far.
//   - ExecuteAfter: earliest time the task may be dequeued again.
//   - LastError: message of the most recent transient failure.
//   - Issue: FK association; tasks are removed with their issue.
type DeliveryTask struct {
	NewsletterIssueID string    `gorm:"type:char(36);primaryKey"`
	SubscriberEmail   string    `gorm:"type:varchar(320);primaryKey"`
	NRetries          int       `gorm:"not null;default:0"`
	ExecuteAfter      time.Time `gorm:"not null;index"`
	LastError         string    `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time `gorm:"not null"`

	Issue NewsletterIssue `gorm:"foreignKey:NewsletterIssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
