package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// SubscribeRequest is the subscribe payload (form or JSON).
type SubscribeRequest struct {
	Name  string `json:"name"  form:"name"  example:"Ursula Le Guin"`
	Email string `json:"email" form:"email" example:"ursula@example.com"`
}

// SubscribeResponse reports the new subscription.
type SubscribeResponse struct {
	ID     string `json:"id"     example:"b0c5d3b4-3a35-4a0c-9d9e-0d7d4b6f2f11"`
	Status string `json:"status" example:"pending_confirmation"`
}

// ConfirmResponse reports a confirmed subscription.
type ConfirmResponse struct {
	Status string `json:"status" example:"confirmed"`
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Subscribe to the newsletter
// @Description Stores a pending subscription and emails a confirmation link.
// @Tags        Subscriptions
// @Accept      x-www-form-urlencoded,json
// @Produce     json
// @Param       body  body      handlers.SubscribeRequest  true  "Subscriber"
// @Success     200   {object}  handlers.SubscribeResponse
// @Failure     400   {object}  handlers.ErrorResponse "Invalid name or email"
// @Failure     409   {object}  handlers.ErrorResponse "Already subscribed"
// @Failure     500   {object}  handlers.ErrorResponse "Confirmation email failed"
// @Router      /subscriptions [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	sub, err := h.subscriptions.Subscribe(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidName), errors.Is(err, services.ErrInvalidEmail):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrAlreadySubscribed):
			fail(c, http.StatusConflict, ErrCodeConflict, "email already subscribed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSubscribeFailed, err.Error())
		}
		return
	}

	middleware.LoggerFrom(c).Info().Str("subscription_id", sub.ID).Msg("subscription pending confirmation")
	ok(c, http.StatusOK, SubscribeResponse{ID: sub.ID, Status: sub.Status})
}

// ConfirmSubscription godoc
// @ID          confirmSubscription
// @Summary     Confirm a subscription
// @Tags        Subscriptions
// @Produce     json
// @Param       subscription_token  query     string  true  "Token from the confirmation email"
// @Success     200                 {object}  handlers.ConfirmResponse
// @Failure     400                 {object}  handlers.ErrorResponse "Missing token"
// @Failure     401                 {object}  handlers.ErrorResponse "Unknown token"
// @Failure     500                 {object}  handlers.ErrorResponse "Internal error"
// @Router      /subscriptions/confirm [get]
func (h *Handlers) ConfirmSubscription(c *gin.Context) {
	token := c.Query("subscription_token")
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subscription_token is required")
		return
	}

	if _, err := h.subscriptions.Confirm(c.Request.Context(), token); err != nil {
		if errors.Is(err, services.ErrUnknownToken) {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown subscription token")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeConfirmFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ConfirmResponse{Status: "confirmed"})
}
