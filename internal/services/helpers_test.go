package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// newSvcDB opens a private in-memory database. A single connection mirrors
// repo.OpenSQLite and serialises writers the way SQLite does in production.
func newSvcDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) == 0 {
		if err := repo.AutoMigrate(db); err != nil {
			t.Fatalf("AutoMigrate: %v", err)
		}
	} else if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConfirmed(t *testing.T, db *gorm.DB, emails ...string) {
	t.Helper()
	for _, e := range emails {
		s := &domain.Subscription{
			ID:                uuid.NewString(),
			Email:             e,
			Name:              "n",
			Status:            domain.SubscriptionConfirmed,
			ConfirmationToken: uuid.NewString(),
			SubscribedAt:      time.Now().UTC(),
		}
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed %s: %v", e, err)
		}
	}
}

func mustKey(t *testing.T, s string) domain.IdempotencyKey {
	t.Helper()
	k, err := domain.NewIdempotencyKey(s)
	if err != nil {
		t.Fatalf("NewIdempotencyKey(%q): %v", s, err)
	}
	return k
}

func fastLedger(db *gorm.DB) *Ledger {
	l := NewLedger(db)
	l.InitialBackoff = time.Millisecond
	l.MaxBackoff = 5 * time.Millisecond
	return l
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

type sentMail struct {
	To, Subject, Text, HTML string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, text, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	return nil
}
