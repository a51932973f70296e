package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func sampleResponse() domain.SavedResponse {
	return domain.SavedResponse{
		StatusCode: 303,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: "/admin/newsletters/x"},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: []byte(`{"status":"accepted"}`),
	}
}

func TestLedger_StartThenReplay(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	ctx := context.Background()
	key := mustKey(t, "k1")

	a, err := l.TryBegin(ctx, "u1", key)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if !a.StartProcessing() || a.Saved != nil {
		t.Fatalf("first call must start processing: %+v", a)
	}
	saved, err := l.Complete(ctx, a.Tx, "u1", key, sampleResponse())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if saved.StatusCode != 303 {
		t.Fatalf("unexpected saved response: %+v", saved)
	}

	b, err := l.TryBegin(ctx, "u1", key)
	if err != nil {
		t.Fatalf("TryBegin replay: %v", err)
	}
	if b.StartProcessing() || b.Saved == nil {
		t.Fatalf("second call must replay: %+v", b)
	}
	want := sampleResponse()
	if b.Saved.StatusCode != want.StatusCode || string(b.Saved.Body) != string(want.Body) {
		t.Fatalf("replay mismatch: %+v", b.Saved)
	}
	for i, h := range want.Headers {
		if b.Saved.Headers[i] != h {
			t.Fatalf("header %d = %+v; want %+v", i, b.Saved.Headers[i], h)
		}
	}
}

func TestLedger_KeysScopedPerPrincipal(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	ctx := context.Background()
	key := mustKey(t, "shared")

	a, err := l.TryBegin(ctx, "u1", key)
	if err != nil {
		t.Fatalf("TryBegin u1: %v", err)
	}
	if _, err := l.Complete(ctx, a.Tx, "u1", key, sampleResponse()); err != nil {
		t.Fatalf("Complete u1: %v", err)
	}

	b, err := l.TryBegin(ctx, "u2", key)
	if err != nil {
		t.Fatalf("TryBegin u2: %v", err)
	}
	if !b.StartProcessing() {
		t.Fatalf("u2 must not see u1's response")
	}
	l.Abort(b.Tx)
}

func TestLedger_AbortReleasesKey(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	ctx := context.Background()
	key := mustKey(t, "k1")

	a, err := l.TryBegin(ctx, "u1", key)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	l.Abort(a.Tx)

	if n := count(t, db, &domain.Idempotency{}); n != 0 {
		t.Fatalf("rolled-back placeholder still visible: %d rows", n)
	}

	b, err := l.TryBegin(ctx, "u1", key)
	if err != nil || !b.StartProcessing() {
		t.Fatalf("key should be claimable again: %+v err=%v", b, err)
	}
	l.Abort(b.Tx)
}

func TestLedger_InFlight_ExhaustsRetries(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	l.MaxAttempts = 3
	ctx := context.Background()

	// A committed, never-filled placeholder stands in for a winner that is
	// still inside its transaction.
	if err := repo.InsertIdempotencyPlaceholder(ctx, db, "u1", "k1", time.Now()); err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}

	_, err := l.TryBegin(ctx, "u1", mustKey(t, "k1"))
	if !errors.Is(err, ErrIdempotencyInFlight) {
		t.Fatalf("want ErrIdempotencyInFlight, got %v", err)
	}
}

func TestLedger_InFlight_ThenReplay(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	l.MaxAttempts = 50
	l.InitialBackoff = 5 * time.Millisecond
	l.MaxBackoff = 10 * time.Millisecond
	ctx := context.Background()

	if err := repo.InsertIdempotencyPlaceholder(ctx, db, "u1", "k1", time.Now()); err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}

	filled := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		filled <- repo.SaveIdempotencyResponse(ctx, db, "u1", "k1", sampleResponse())
	}()

	a, err := l.TryBegin(ctx, "u1", mustKey(t, "k1"))
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if ferr := <-filled; ferr != nil {
		t.Fatalf("fill: %v", ferr)
	}
	if a.Saved == nil || a.Saved.StatusCode != 303 {
		t.Fatalf("waiting request should replay the winner's response: %+v", a)
	}
}

func TestLedger_ContextCancelledWhileWaiting(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	l.MaxAttempts = 1000
	l.InitialBackoff = 20 * time.Millisecond
	l.MaxBackoff = 20 * time.Millisecond

	if err := repo.InsertIdempotencyPlaceholder(context.Background(), db, "u1", "k1", time.Now()); err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := l.TryBegin(ctx, "u1", mustKey(t, "k1"))
	if err == nil {
		t.Fatalf("expected an error once the context expires")
	}
}

func TestLedger_Complete_MissingPlaceholder(t *testing.T) {
	db := newSvcDB(t)
	l := fastLedger(db)
	ctx := context.Background()
	key := mustKey(t, "k1")

	a, err := l.TryBegin(ctx, "u1", key)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if err := a.Tx.Where("user_id = ?", "u1").Delete(&domain.Idempotency{}).Error; err != nil {
		t.Fatalf("delete placeholder: %v", err)
	}
	if _, err := l.Complete(ctx, a.Tx, "u1", key, sampleResponse()); !errors.Is(err, ErrIdempotencyRecordMissing) {
		t.Fatalf("want ErrIdempotencyRecordMissing, got %v", err)
	}
}

func TestLedger_StoreError_IsReturned(t *testing.T) {
	db := newSvcDB(t, &domain.NewsletterIssue{}) // no idempotency table
	l := fastLedger(db)

	_, err := l.TryBegin(context.Background(), "u1", mustKey(t, "k1"))
	if err == nil || errors.Is(err, ErrIdempotencyInFlight) {
		t.Fatalf("expected raw store error, got %v", err)
	}
}
