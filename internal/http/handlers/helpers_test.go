package handlers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

const adminPrefix = "/api/v1/admin/newsletters"

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:h_%s?mode=memory&cache=shared", uuid.NewString())
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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

type recordingSender struct {
	mu   sync.Mutex
	to   []string
	html []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, _, _, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.to = append(s.to, to)
	s.html = append(s.html, html)
	return nil
}

// newTestRouter mounts the handlers behind the same middleware the
// production router applies to each group.
func newTestRouter(t *testing.T, db *gorm.DB, sender *recordingSender) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := services.NewLedger(db)
	ledger.InitialBackoff = time.Millisecond
	ledger.MaxBackoff = 5 * time.Millisecond

	h := New(
		services.NewNewsletterService(db, ledger, adminPrefix),
		services.NewSubscriptionService(db, sender, "http://localhost:8080", "/api/v1/subscriptions/confirm"),
	)

	r := gin.New()
	r.Use(middleware.RequestID())

	admin := r.Group("/api/v1/admin", middleware.RequirePrincipal(), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	admin.POST("/newsletters", h.PublishNewsletter)
	admin.GET("/newsletters", h.ListNewsletters)
	admin.GET("/newsletters/:id", h.GetNewsletter)

	r.POST("/api/v1/subscriptions", h.Subscribe)
	r.GET("/api/v1/subscriptions/confirm", h.ConfirmSubscription)
	return r
}

func seedConfirmed(t *testing.T, db *gorm.DB, emails ...string) {
	t.Helper()
	for _, e := range emails {
		s := &domain.Subscription{
			ID:                uuid.NewString(),
			Email:             e,
			Name:              "reader",
			Status:            domain.SubscriptionConfirmed,
			ConfirmationToken: uuid.NewString(),
			SubscribedAt:      time.Now().UTC(),
		}
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed %s: %v", e, err)
		}
	}
}
