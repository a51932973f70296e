// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Every error response carries an HTTP status and one of these stable,
// snake_case codes (see fail()). Clients branch on the code; the message is
// for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "bad_idempotency_key",
//	  "message": "idempotency key cannot be empty"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Publishing:
	ErrCodeBadIdempotencyKey = "bad_idempotency_key"
	ErrCodeInvalidIssue      = "invalid_issue"
	ErrCodePublishInFlight   = "publish_in_flight"
	ErrCodePublishFailed     = "publish_failed"
	ErrCodeListFailed        = "list_failed"

	// Subscriptions:
	ErrCodeSubscribeFailed = "subscribe_failed"
	ErrCodeConfirmFailed   = "confirm_failed"
)
