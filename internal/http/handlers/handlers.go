package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// NewsletterService is the publish/read surface consumed by the handlers.
// Implementations must be safe for concurrent use and honor ctx.
type NewsletterService interface {
	// Publish runs the idempotent publish flow for (principalID, key).
	Publish(ctx context.Context, principalID string, key domain.IdempotencyKey, in services.PublishInput) (*services.PublishResult, error)
	// Get returns an issue with its outstanding delivery count.
	Get(ctx context.Context, issueID string) (*services.IssueStatus, error)
	// ListPage returns a page of issues (newest first) and the total.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
	// Stats returns the issue count and newest publish time, for ETags.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// SubscriptionService is the subscribe/confirm surface consumed by the handlers.
type SubscriptionService interface {
	Subscribe(ctx context.Context, name, email string) (*domain.Subscription, error)
	Confirm(ctx context.Context, token string) (*domain.Subscription, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	newsletters   NewsletterService
	subscriptions SubscriptionService
}

// New returns Handlers bound to the given services.
func New(newsletters NewsletterService, subscriptions SubscriptionService) *Handlers {
	return &Handlers{newsletters: newsletters, subscriptions: subscriptions}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}
