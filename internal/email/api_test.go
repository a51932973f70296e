package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPISender_Success(t *testing.T) {
	var got apiMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/email", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	s := NewAPISender(APIConfig{BaseURL: srv.URL, Token: "secret", From: "news@x.com", Timeout: time.Second})
	err := s.Send(context.Background(), "a@x.com", "Hello", "text", "<p>html</p>")
	require.NoError(t, err)
	require.Equal(t, apiMessage{From: "news@x.com", To: "a@x.com", Subject: "Hello", HTMLBody: "<p>html</p>", TextBody: "text"}, got)
}

func TestAPISender_Classification(t *testing.T) {
	cases := []struct {
		status    int
		errorCode int
		permanent bool
	}{
		{http.StatusUnprocessableEntity, 300, true},
		{http.StatusUnprocessableEntity, 406, true},
		{http.StatusUnprocessableEntity, 10, false},
		{http.StatusUnprocessableEntity, 400, false},
		{http.StatusBadRequest, 300, false},
		{http.StatusUnauthorized, 10, false},
		{http.StatusForbidden, 0, false},
		{http.StatusRequestTimeout, 0, false},
		{http.StatusTooManyRequests, 0, false},
		{http.StatusInternalServerError, 0, false},
		{http.StatusServiceUnavailable, 0, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = fmt.Fprintf(w, `{"ErrorCode":%d,"Message":"rejected"}`, tc.errorCode)
		}))
		s := NewAPISender(APIConfig{BaseURL: srv.URL, From: "news@x.com", Timeout: time.Second})
		err := s.Send(context.Background(), "a@x.com", "s", "t", "h")
		srv.Close()

		require.Error(t, err, "status %d code %d", tc.status, tc.errorCode)
		require.Equal(t, tc.permanent, IsPermanent(err), "status %d code %d: %v", tc.status, tc.errorCode, err)
	}
}

func TestAPISender_InvalidRecipient_NoRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	s := NewAPISender(APIConfig{BaseURL: srv.URL, From: "news@x.com"})
	err := s.Send(context.Background(), "not an address", "s", "t", "h")
	require.True(t, IsPermanent(err))
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestAPISender_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewAPISender(APIConfig{BaseURL: srv.URL, From: "news@x.com", Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, "a@x.com", "s", "t", "h")
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}
