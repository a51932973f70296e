package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

func postSubscribe(r http.Handler, name, email string) *httptest.ResponseRecorder {
	form := url.Values{"name": {name}, "email": {email}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var tokenRE = regexp.MustCompile(`subscription_token=([0-9a-f]+)`)

func TestSubscribeThenConfirm(t *testing.T) {
	db := newHandlerDB(t)
	sender := &recordingSender{}
	r := newTestRouter(t, db, sender)

	w := postSubscribe(r, "Ursula", "ursula@example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp SubscribeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.ID == "" || resp.Status != domain.SubscriptionPending {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(sender.to) != 1 || sender.to[0] != "ursula@example.com" {
		t.Fatalf("confirmation not sent: %v", sender.to)
	}

	m := tokenRE.FindStringSubmatch(sender.html[0])
	if m == nil {
		t.Fatalf("no token in confirmation email: %s", sender.html[0])
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/confirm?subscription_token="+m[1], nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status=%d body=%s", w.Code, w.Body.String())
	}

	var sub domain.Subscription
	if err := db.First(&sub, "id = ?", resp.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if sub.Status != domain.SubscriptionConfirmed {
		t.Fatalf("status=%q", sub.Status)
	}
}

func TestSubscribe_Errors(t *testing.T) {
	db := newHandlerDB(t)
	sender := &recordingSender{}
	r := newTestRouter(t, db, sender)

	if w := postSubscribe(r, "", "x@example.com"); w.Code != http.StatusBadRequest {
		t.Fatalf("empty name status=%d", w.Code)
	}
	if w := postSubscribe(r, "Name", "not-an-email"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad email status=%d", w.Code)
	}
	if w := postSubscribe(r, "Name", "dup@example.com"); w.Code != http.StatusOK {
		t.Fatalf("first subscribe status=%d", w.Code)
	}
	if w := postSubscribe(r, "Name", "dup@example.com"); w.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d", w.Code)
	}

	sender.err = errors.New("smtp down")
	w := postSubscribe(r, "Name", "later@example.com")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("send failure status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeSubscribeFailed {
		t.Fatalf("code=%q", er.Code)
	}
	var n int64
	db.Model(&domain.Subscription{}).Where("email = ?", "later@example.com").Count(&n)
	if n != 0 {
		t.Fatalf("pending row kept after failed send")
	}
}

func TestConfirmSubscription_Errors(t *testing.T) {
	db := newHandlerDB(t)
	r := newTestRouter(t, db, &recordingSender{})

	for _, tc := range []struct {
		query  string
		status int
	}{
		{"", http.StatusBadRequest},
		{"?subscription_token=nope", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/confirm"+tc.query, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%q: status=%d want %d", tc.query, w.Code, tc.status)
		}
	}
}
