// Package services – NewsletterService
//
// This file implements the publish orchestrator. Publish validates the issue,
// claims the idempotency key through the Ledger, and then, inside the
// transaction the Ledger opened, records the issue, enqueues one delivery
// task per confirmed subscriber with a single INSERT ... SELECT, and saves
// the "accepted" response. Emails are sent later by the delivery worker.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// AcceptedMessage is the human-readable message of the accepted response.
const AcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly."

// PublishInput is the issue payload of a publish request.
type PublishInput struct {
	Title       string
	TextContent string
	HTMLContent string
}

// PublishResult is the response to hand back to the client.
type PublishResult struct {
	Response *domain.SavedResponse
	// Replayed is true when Response was saved by an earlier request.
	Replayed bool
	// IssueID and Enqueued are only set on first processing.
	IssueID  string
	Enqueued int64
}

// IssueStatus is an issue together with its outstanding deliveries.
type IssueStatus struct {
	Issue             domain.NewsletterIssue
	PendingDeliveries int64
}

// AcceptedBody is the JSON body of the accepted response.
type AcceptedBody struct {
	IssueID string `json:"issue_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewsletterService publishes and reads newsletter issues.
type NewsletterService struct {
	DB     *gorm.DB
	Ledger *Ledger

	// StatusPathPrefix is the path of the issue status page without the
	// trailing id, e.g. "/api/v1/admin/newsletters".
	StatusPathPrefix string
	TitleMaxLen      int

	Now func() time.Time
}

// NewNewsletterService wires a service with default limits.
func NewNewsletterService(db *gorm.DB, ledger *Ledger, statusPathPrefix string) *NewsletterService {
	return &NewsletterService{
		DB:               db,
		Ledger:           ledger,
		StatusPathPrefix: strings.TrimRight(statusPathPrefix, "/"),
		TitleMaxLen:      200,
		Now:              time.Now,
	}
}

func (s *NewsletterService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Publish runs the idempotent publish flow for (principalID, key).
func (s *NewsletterService) Publish(ctx context.Context, principalID string, key domain.IdempotencyKey, in PublishInput) (*PublishResult, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", principalID)),
	)
	defer span.End()

	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	action, err := s.Ledger.TryBegin(ctx, principalID, key)
	if err != nil {
		return nil, err
	}
	if !action.StartProcessing() {
		span.SetAttributes(attribute.Bool("idempotency.replay", true))
		return &PublishResult{Response: action.Saved, Replayed: true}, nil
	}

	tx := action.Tx
	done := false
	defer func() {
		if !done {
			s.Ledger.Abort(tx)
		}
	}()

	now := s.now()
	issue, err := repo.CreateIssue(ctx, tx, in.Title, in.TextContent, in.HTMLContent, now)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	n, err := repo.EnqueueDeliveryTasks(ctx, tx, issue.ID, now)
	if err != nil {
		return nil, fmt.Errorf("enqueue deliveries: %w", err)
	}
	resp, err := s.acceptedResponse(issue.ID)
	if err != nil {
		return nil, err
	}

	// Complete commits or rolls back tx itself.
	done = true
	saved, err := s.Ledger.Complete(ctx, tx, principalID, key, resp)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("issue.id", issue.ID),
		attribute.Int64("delivery.enqueued", n),
	)
	return &PublishResult{Response: saved, IssueID: issue.ID, Enqueued: n}, nil
}

// acceptedResponse builds the deterministic 303 snapshot for issueID.
func (s *NewsletterService) acceptedResponse(issueID string) (domain.SavedResponse, error) {
	body, err := json.Marshal(AcceptedBody{
		IssueID: issueID,
		Status:  "accepted",
		Message: AcceptedMessage,
	})
	if err != nil {
		return domain.SavedResponse{}, err
	}
	return domain.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: s.StatusPathPrefix + "/" + issueID},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: body,
	}, nil
}

// validate normalizes the title (NFC, trimmed, single spaces) and checks that
// no field is blank.
func (s *NewsletterService) validate(in PublishInput) (PublishInput, error) {
	in.Title = normalizeTitle(norm.NFC.String(in.Title))
	if in.Title == "" {
		return in, fmt.Errorf("%w: title is required", ErrInvalidIssue)
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(in.Title) > s.TitleMaxLen {
		return in, fmt.Errorf("%w: title must be at most %d characters", ErrInvalidIssue, s.TitleMaxLen)
	}
	if strings.TrimSpace(in.TextContent) == "" {
		return in, fmt.Errorf("%w: text_content is required", ErrInvalidIssue)
	}
	if strings.TrimSpace(in.HTMLContent) == "" {
		return in, fmt.Errorf("%w: html_content is required", ErrInvalidIssue)
	}
	return in, nil
}

// Get returns an issue and the number of deliveries still queued for it.
func (s *NewsletterService) Get(ctx context.Context, issueID string) (*IssueStatus, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("issue.id", issueID)),
	)
	defer span.End()

	issue, err := repo.GetIssue(ctx, s.DB, issueID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrIssueNotFound
		}
		return nil, err
	}
	pending, err := repo.CountTasksForIssue(ctx, s.DB, issueID)
	if err != nil {
		return nil, err
	}
	return &IssueStatus{Issue: *issue, PendingDeliveries: pending}, nil
}

// ListPage returns a page of issues (newest first) and the total count.
func (s *NewsletterService) ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.NewsletterIssue{}, 0, nil
	}
	items, err := repo.ListIssuesPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// Stats exposes the issue count and newest publish time for ETags.
func (s *NewsletterService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.IssuesStats(ctx, s.DB)
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
