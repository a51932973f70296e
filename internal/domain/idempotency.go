// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository, service, and delivery layers.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// MaxIdempotencyKeyLen caps the accepted idempotency key length in bytes.
const MaxIdempotencyKeyLen = 50

var (
	// ErrEmptyIdempotencyKey is returned when an idempotency key is blank.
	ErrEmptyIdempotencyKey = errors.New("idempotency key cannot be empty")
	// ErrIdempotencyKeyTooLong is returned when a key exceeds MaxIdempotencyKeyLen.
	ErrIdempotencyKeyTooLong = errors.New("idempotency key must be at most 50 characters long")
)

// IdempotencyKey is a client-supplied token that scopes "the same logical
// request" across retries. Values are validated at construction time and
// compared byte-for-byte.
type IdempotencyKey string

// NewIdempotencyKey validates s and returns it as an IdempotencyKey.
func NewIdempotencyKey(s string) (IdempotencyKey, error) {
	if s == "" {
		return "", ErrEmptyIdempotencyKey
	}
	if len(s) > MaxIdempotencyKeyLen {
		return "", ErrIdempotencyKeyTooLong
	}
	return IdempotencyKey(s), nil
}

// String returns the raw key.
func (k IdempotencyKey) String() string { return string(k) }

// HeaderPair is a single HTTP header line. Saved responses keep headers as an
// ordered list so a replay writes them back in the original order.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SavedResponse is the snapshot of an HTTP response that is replayed verbatim
// for duplicate submissions of the same idempotency key.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// Idempotency is the ledger row for a (user_id, idempotency_key) pair.
//
// A row whose response columns are NULL is a placeholder: the request that
// inserted it is still inside its transaction. The response columns are
// written once, in the same transaction as the request's side effects, and
// never updated afterwards.
type Idempotency struct {
	UserID             string `gorm:"type:TEXT NOT NULL;primaryKey"`
	IdempotencyKey     string `gorm:"type:TEXT NOT NULL;primaryKey"`
	ResponseStatusCode *int   `gorm:"type:INTEGER"`
	ResponseHeaders    []byte // JSON-encoded []HeaderPair
	ResponseBody       []byte
	CreatedAt          time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Filled reports whether the saved response has been written.
func (i *Idempotency) Filled() bool { return i != nil && i.ResponseStatusCode != nil }

// Saved decodes the stored response snapshot. It returns an error when the
// row is still a placeholder or the header column cannot be decoded.
func (i *Idempotency) Saved() (*SavedResponse, error) {
	if !i.Filled() {
		return nil, errors.New("idempotency record has no saved response")
	}
	var headers []HeaderPair
	if len(i.ResponseHeaders) > 0 {
		if err := json.Unmarshal(i.ResponseHeaders, &headers); err != nil {
			return nil, err
		}
	}
	body := i.ResponseBody
	if body == nil {
		body = []byte{}
	}
	return &SavedResponse{
		StatusCode: *i.ResponseStatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}
