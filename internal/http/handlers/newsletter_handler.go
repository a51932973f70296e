// Newsletter HTTP handlers.
//
// This file exposes the admin endpoints for newsletter issues:
//   - POST /admin/newsletters        (publish, idempotent per principal + key)
//   - GET  /admin/newsletters        (list, paginated, ETag support)
//   - GET  /admin/newsletters/{id}   (issue status; target of the publish redirect)
//
// Publish writes the ledger snapshot back unchanged, so a first request and
// every duplicate of it receive byte-identical responses.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

// PublishNewsletterRequest is the publish payload (JSON or form encoded).
type PublishNewsletterRequest struct {
	Title       string `json:"title"        form:"title"        example:"October issue"`
	TextContent string `json:"text_content" form:"text_content" example:"Plain text body"`
	HTMLContent string `json:"html_content" form:"html_content" example:"<p>HTML body</p>"`
	// IdempotencyKey may instead be sent in the Idempotency-Key header.
	IdempotencyKey string `json:"idempotency_key" form:"idempotency_key" example:"3f1c9a52-publish-oct"`
}

// ListNewslettersResponse wraps a page of issues and pagination information.
type ListNewslettersResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

// IssueStatusResponse describes an issue and its delivery progress.
type IssueStatusResponse struct {
	Issue             domain.NewsletterIssue `json:"issue"`
	PendingDeliveries int64                  `json:"pending_deliveries"`
	// DeliveryStatus is "in_progress" while tasks remain, then "complete".
	DeliveryStatus string `json:"delivery_status" example:"in_progress"`
}

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Records the issue and queues one delivery per confirmed subscriber, then redirects
// @Description to the issue status page. Repeating the request with the same idempotency key
// @Description returns the original response byte-for-byte.
// @Tags        Newsletters
// @Accept      json,x-www-form-urlencoded
// @Produce     json
//
// @Param       X-User-ID        header  string  true   "Authenticated principal"  example(editor-1)
// @Param       Idempotency-Key  header  string  false  "Alternative to the idempotency_key field (max 50 bytes)"
// @Param       body             body    handlers.PublishNewsletterRequest  true  "Issue payload"
//
// @Success     303  {object}  services.AcceptedBody   "Accepted; Location points to the status page"
// @Header      303  {string}  Location                "Issue status URL"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid key or issue"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing principal"
// @Failure     500  {object}  handlers.ErrorResponse  "Transaction failed; retry with the same key"
// @Failure     503  {object}  handlers.ErrorResponse  "Same key still in flight"
// @Router      /admin/newsletters [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	principal, found := middleware.PrincipalFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing principal")
		return
	}

	var req PublishNewsletterRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.RecordPublish(middleware.PublishRejected)
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	raw := req.IdempotencyKey
	if hdr, present := middleware.GetIdempotencyKey(c); present {
		if raw != "" && raw != hdr {
			middleware.RecordPublish(middleware.PublishRejected)
			fail(c, http.StatusBadRequest, ErrCodeBadIdempotencyKey, "idempotency_key and Idempotency-Key header differ")
			return
		}
		raw = hdr
	}
	key, err := domain.NewIdempotencyKey(raw)
	if err != nil {
		middleware.RecordPublish(middleware.PublishRejected)
		fail(c, http.StatusBadRequest, ErrCodeBadIdempotencyKey, err.Error())
		return
	}

	res, err := h.newsletters.Publish(c.Request.Context(), principal, key, services.PublishInput{
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidIssue):
			middleware.RecordPublish(middleware.PublishRejected)
			fail(c, http.StatusBadRequest, ErrCodeInvalidIssue, err.Error())
		case errors.Is(err, services.ErrIdempotencyInFlight):
			middleware.RecordPublish(middleware.PublishFailed)
			c.Header("Retry-After", "1")
			fail(c, http.StatusServiceUnavailable, ErrCodePublishInFlight, err.Error())
		default:
			middleware.RecordPublish(middleware.PublishFailed)
			fail(c, http.StatusInternalServerError, ErrCodePublishFailed, err.Error())
		}
		return
	}

	lg := middleware.LoggerFrom(c)
	if res.Replayed {
		middleware.RecordPublish(middleware.PublishReplayed)
		lg.Info().
			Str("idempotency_key", key.String()).
			Bool("rate_bypassed", middleware.IsReplay(c)).
			Msg("publish replayed")
	} else {
		middleware.RecordPublish(middleware.PublishAccepted)
		lg.Info().
			Str("issue_id", res.IssueID).
			Int64("enqueued", res.Enqueued).
			Msg("newsletter issue published")
	}
	writeSaved(c, res.Response)
}

// ListNewsletters godoc
// @ID          listNewsletters
// @Summary     List newsletter issues (paginated)
// @Description Newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Newsletters
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Authenticated principal"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListNewslettersResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/newsletters [get]
func (h *Handlers) ListNewsletters(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if count, maxTS, err := h.newsletters.Stats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"issues:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.newsletters.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListNewslettersResponse{
		Issues: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetNewsletter godoc
// @ID          getNewsletter
// @Summary     Newsletter issue status
// @Description Returns the issue and how many deliveries are still queued.
// @Tags        Newsletters
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Authenticated principal"
// @Param       id         path    string  true  "Issue ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.IssueStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Issue not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/newsletters/{id} [get]
func (h *Handlers) GetNewsletter(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "issue id must be a UUID")
		return
	}

	st, err := h.newsletters.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrIssueNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "newsletter issue not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	status := "complete"
	if st.PendingDeliveries > 0 {
		status = "in_progress"
	}
	ok(c, http.StatusOK, IssueStatusResponse{
		Issue:             st.Issue,
		PendingDeliveries: st.PendingDeliveries,
		DeliveryStatus:    status,
	})
}
