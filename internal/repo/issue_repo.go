// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// NewsletterIssue model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an issue is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateIssue inserts a new NewsletterIssue with a random UUID and
// PublishedAt set to now (UTC).
func CreateIssue(ctx context.Context, db *gorm.DB, title, text, html string, now time.Time) (*domain.NewsletterIssue, error) {
	iss := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		TextContent: text,
		HTMLContent: html,
		PublishedAt: now.UTC(),
	}
	if err := db.WithContext(ctx).Create(iss).Error; err != nil {
		return nil, err
	}
	return iss, nil
}

// GetIssue fetches a single issue by ID, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var iss domain.NewsletterIssue
	if err := db.WithContext(ctx).Where("id = ?", id).First(&iss).Error; err != nil {
		return nil, err
	}
	return &iss, nil
}

// CountIssues returns the total number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&total).Error
	return total, err
}

// ListIssuesPage returns a page of issues, newest first. Use CountIssues to
// obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var out []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at desc").
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
