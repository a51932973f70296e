// internal/domain/idempotency_test.go
package domain

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestNewIdempotencyKey(t *testing.T) {
	if _, err := NewIdempotencyKey(""); !errors.Is(err, ErrEmptyIdempotencyKey) {
		t.Fatalf("empty key: want ErrEmptyIdempotencyKey, got %v", err)
	}
	if _, err := NewIdempotencyKey(strings.Repeat("a", MaxIdempotencyKeyLen+1)); !errors.Is(err, ErrIdempotencyKeyTooLong) {
		t.Fatalf("long key: want ErrIdempotencyKeyTooLong, got %v", err)
	}

	k, err := NewIdempotencyKey(strings.Repeat("a", MaxIdempotencyKeyLen))
	if err != nil {
		t.Fatalf("max-length key rejected: %v", err)
	}
	if len(k.String()) != MaxIdempotencyKeyLen {
		t.Fatalf("unexpected key length %d", len(k.String()))
	}

	// Byte-exact: surrounding whitespace is part of the key.
	a, _ := NewIdempotencyKey("abc123")
	b, _ := NewIdempotencyKey(" abc123")
	if a == b {
		t.Fatalf("keys differing by whitespace must not be equal")
	}
}

func TestIdempotency_PlaceholderThenFill(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	now := time.Now().UTC()
	ph := &Idempotency{UserID: "u1", IdempotencyKey: "k1", CreatedAt: now}
	if err := db.Create(ph).Error; err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "user_id = ? AND idempotency_key = ?", "u1", "k1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Filled() {
		t.Fatalf("placeholder must not report Filled()")
	}
	if _, err := got.Saved(); err == nil {
		t.Fatalf("Saved() on placeholder should error")
	}

	// (user_id, idempotency_key) is the primary key.
	if err := db.Create(&Idempotency{UserID: "u1", IdempotencyKey: "k1", CreatedAt: now}).Error; err == nil {
		t.Fatalf("expected primary key violation on duplicate (user_id, idempotency_key)")
	}
	// Same key for another principal is independent.
	if err := db.Create(&Idempotency{UserID: "u2", IdempotencyKey: "k1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert other principal: %v", err)
	}

	status := 303
	if err := db.Model(&Idempotency{}).
		Where("user_id = ? AND idempotency_key = ?", "u1", "k1").
		Updates(map[string]any{
			"response_status_code": status,
			"response_headers":     []byte(`[{"name":"Location","value":"/admin/newsletters/1"},{"name":"Content-Type","value":"application/json"}]`),
			"response_body":        []byte(`{"ok":true}`),
		}).Error; err != nil {
		t.Fatalf("fill: %v", err)
	}

	got = Idempotency{}
	if err := db.First(&got, "user_id = ? AND idempotency_key = ?", "u1", "k1").Error; err != nil {
		t.Fatalf("readback filled: %v", err)
	}
	saved, err := got.Saved()
	if err != nil {
		t.Fatalf("Saved(): %v", err)
	}
	if saved.StatusCode != 303 || !bytes.Equal(saved.Body, []byte(`{"ok":true}`)) {
		t.Fatalf("unexpected snapshot: %+v", saved)
	}
	if len(saved.Headers) != 2 || saved.Headers[0].Name != "Location" || saved.Headers[1].Name != "Content-Type" {
		t.Fatalf("headers out of order: %+v", saved.Headers)
	}
}

func TestIdempotency_Saved_BadHeaders(t *testing.T) {
	code := 200
	rec := &Idempotency{ResponseStatusCode: &code, ResponseHeaders: []byte("not json")}
	if _, err := rec.Saved(); err == nil {
		t.Fatalf("expected decode error for malformed headers")
	}

	rec = &Idempotency{ResponseStatusCode: &code}
	saved, err := rec.Saved()
	if err != nil {
		t.Fatalf("Saved(): %v", err)
	}
	if saved.Body == nil || len(saved.Body) != 0 || saved.Headers != nil {
		t.Fatalf("expected empty body and no headers, got %+v", saved)
	}
}
