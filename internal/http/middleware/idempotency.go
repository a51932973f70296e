// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key request header for the publish
// endpoint. A valid key is stashed in the Gin context; when the ledger
// already holds a completed response for (principal, key) the request is
// marked as a replay so the rate limiter lets it through. Keys sent in the
// idempotency_key body field take part in the replay lookup too. Serving the
// saved response stays with the service layer, which owns the ledger.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// HeaderIdempotencyKey is the request header clients may use instead of the
// idempotency_key form field.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated header key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a completed response already exists for the key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length in bytes. Values <= 0 or above
	// domain.MaxIdempotencyKeyLen use the domain limit.
	MaxLen int
	// Pattern optionally restricts the key alphabet. Nil accepts any bytes.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a completed response is stored for
// (principalID, key). Errors are ignored by the middleware: the ledger
// decides again inside the request.
type IdempotencyLookup func(ctx context.Context, principalID, key string) (completed bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present.
//
//   - absent header: the idempotency_key field of a JSON or urlencoded body is
//     used for the lookup only; the handler still validates it
//   - invalid header: 400 bad_idempotency_key
//   - completed key for the current principal: replay and rate-bypass flags set
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 || maxLen > domain.MaxIdempotencyKeyLen {
		maxLen = domain.MaxIdempotencyKeyLen
	}
	pat := opts.Pattern

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key != "" {
			if _, err := domain.NewIdempotencyKey(key); err != nil || len(key) > maxLen || (pat != nil && !pat.MatchString(key)) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "bad_idempotency_key",
					"message":    "invalid Idempotency-Key",
				})
				return
			}
			c.Set(ctxKeyIdemKey, key)
		} else if lookup != nil {
			key = bodyIdempotencyKey(c)
			if _, err := domain.NewIdempotencyKey(key); err != nil {
				key = ""
			}
		}

		if key != "" && lookup != nil {
			if uid, ok := PrincipalFrom(c); ok {
				if done, _ := lookup(c.Request.Context(), uid, key); done {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}

// bodyIdempotencyKey peeks at the idempotency_key field of a POSTed JSON or
// urlencoded body. The body is restored so the handler binds it unchanged;
// read errors (e.g. the body limit) surface again on the handler's read.
func bodyIdempotencyKey(c *gin.Context) string {
	req := c.Request
	if req.Method != http.MethodPost || req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	ct := c.ContentType()
	if ct != gin.MIMEJSON && ct != gin.MIMEPOSTForm {
		return ""
	}

	orig := req.Body
	raw, err := io.ReadAll(orig)
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), orig), orig}
	if err != nil {
		return ""
	}

	if ct == gin.MIMEJSON {
		var b struct {
			IdempotencyKey string `json:"idempotency_key"`
		}
		if json.Unmarshal(raw, &b) != nil {
			return ""
		}
		return b.IdempotencyKey
	}
	q, err := url.ParseQuery(string(raw))
	if err != nil {
		return ""
	}
	return q.Get("idempotency_key")
}
