//go:build integration

package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// newPostgresDB starts a disposable PostgreSQL container and returns a
// migrated handle opened through OpenPostgres.
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("newsletter"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(DriverPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestIntegration_Postgres_IdempotencyLedger(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, InsertIdempotencyPlaceholder(ctx, db, "u1", "k1", now))
	require.ErrorIs(t, InsertIdempotencyPlaceholder(ctx, db, "u1", "k1", now), ErrDuplicate)
	require.NoError(t, InsertIdempotencyPlaceholder(ctx, db, "u2", "k1", now), "keys are scoped per principal")

	resp := domain.SavedResponse{
		StatusCode: 303,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: "/api/v1/admin/newsletters/x"},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: []byte(`{"issue_id":"x"}`),
	}
	require.NoError(t, SaveIdempotencyResponse(ctx, db, "u1", "k1", resp))
	require.ErrorIs(t, SaveIdempotencyResponse(ctx, db, "u1", "k1", resp), ErrNotFound, "filled rows are never overwritten")

	rec, err := GetIdempotency(ctx, db, "u1", "k1")
	require.NoError(t, err)
	saved, err := rec.Saved()
	require.NoError(t, err)
	require.Equal(t, resp, *saved)
}

func TestIntegration_Postgres_PlaceholderBlocksConcurrentInsert(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()

	tx := db.WithContext(ctx).Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, InsertIdempotencyPlaceholder(ctx, tx, "u1", "k", time.Now()))

	// A second insert waits on the uncommitted unique entry; once the first
	// transaction commits it fails as a duplicate.
	errc := make(chan error, 1)
	go func() { errc <- InsertIdempotencyPlaceholder(ctx, db, "u1", "k", time.Now()) }()

	select {
	case err := <-errc:
		t.Fatalf("second insert returned before commit: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, tx.Commit().Error)
	require.ErrorIs(t, <-errc, ErrDuplicate)
}

func TestIntegration_Postgres_EnqueueAndSkipLocked(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedSubscriber(t, db, "a@x.com", domain.SubscriptionConfirmed)
	seedSubscriber(t, db, "b@x.com", domain.SubscriptionConfirmed)
	seedSubscriber(t, db, "p@x.com", domain.SubscriptionPending)

	iss, err := CreateIssue(ctx, db, "t", "x", "<p>x</p>", now)
	require.NoError(t, err)
	n, err := EnqueueDeliveryTasks(ctx, db, iss.ID, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	n, err = EnqueueDeliveryTasks(ctx, db, iss.ID, now)
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "re-enqueue must not duplicate tasks")

	// Two concurrent transactions must lock different rows.
	due := now.Add(time.Second)
	tx1 := db.WithContext(ctx).Begin()
	tx2 := db.WithContext(ctx).Begin()
	defer tx1.Rollback()
	defer tx2.Rollback()

	t1, err := DequeueTask(ctx, tx1, due)
	require.NoError(t, err)
	t2, err := DequeueTask(ctx, tx2, due)
	require.NoError(t, err)
	require.NotEqual(t, t1.SubscriberEmail, t2.SubscriberEmail)

	tx3 := db.WithContext(ctx).Begin()
	defer tx3.Rollback()
	_, err = DequeueTask(ctx, tx3, due)
	require.True(t, errors.Is(err, ErrNotFound), "all due rows are locked: %v", err)
}

func TestIntegration_Postgres_ConcurrentDequeueDeliversOnce(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com", "f@x.com"}
	for _, e := range emails {
		seedSubscriber(t, db, e, domain.SubscriptionConfirmed)
	}
	iss, err := CreateIssue(ctx, db, "t", "x", "<p>x</p>", now)
	require.NoError(t, err)
	_, err = EnqueueDeliveryTasks(ctx, db, iss.ID, now)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				done := false
				err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
					task, err := DequeueTask(ctx, tx, now.Add(time.Second))
					if errors.Is(err, ErrNotFound) {
						done = true
						return nil
					}
					if err != nil {
						return err
					}
					mu.Lock()
					seen[task.SubscriberEmail]++
					mu.Unlock()
					return DeleteTask(ctx, tx, task.NewsletterIssueID, task.SubscriberEmail)
				})
				if err != nil {
					t.Errorf("cycle: %v", err)
					return
				}
				if done {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(emails))
	for e, c := range seen {
		require.Equal(t, 1, c, "%s processed %d times", e, c)
	}
	pending, err := CountPendingTasks(ctx, db)
	require.NoError(t, err)
	require.Zero(t, pending)
}
