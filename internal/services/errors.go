// Package services defines the business logic for publishing newsletter
// issues and managing subscriptions. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Newsletter-related errors.
var (
	// ErrInvalidIssue is returned (wrapped with the offending field) when a
	// publish request carries an empty or oversized title or body.
	ErrInvalidIssue = errors.New("invalid newsletter issue")

	// ErrIssueNotFound indicates that the requested issue does not exist.
	ErrIssueNotFound = errors.New("newsletter issue not found")
)

// Idempotency ledger errors.
var (
	// ErrIdempotencyInFlight is returned when a concurrent request holding the
	// same key did not finish within the ledger's retry budget.
	ErrIdempotencyInFlight = errors.New("a request with this idempotency key is still being processed")

	// ErrIdempotencyRecordMissing is returned by Complete when the placeholder
	// row is gone or already filled.
	ErrIdempotencyRecordMissing = errors.New("idempotency placeholder missing")
)

// Subscription-related errors.
var (
	// ErrInvalidName is returned for blank, oversized, or unsafe subscriber names.
	ErrInvalidName = errors.New("invalid subscriber name")

	// ErrInvalidEmail is returned for malformed subscriber addresses.
	ErrInvalidEmail = errors.New("invalid subscriber email")

	// ErrAlreadySubscribed is returned when the email already has a subscription.
	ErrAlreadySubscribed = errors.New("email already subscribed")

	// ErrUnknownToken is returned when a confirmation token matches no subscription.
	ErrUnknownToken = errors.New("unknown confirmation token")

	// ErrConfirmationNotSent is returned when the confirmation email could not be sent.
	ErrConfirmationNotSent = errors.New("confirmation email could not be sent")
)
