// Package repo implements the data persistence layer for the mapping table,
// backed by GORM. This file provides repository functions for ThreadMapping.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - Lookups return ErrNotFound when no row matches.
//   - InsertMappingIfAbsent never overwrites: an identical existing pair is
//     returned with created=false, a pair that collides with a different
//     counterpart is returned with ErrMappingConflict.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert hit one of the unique indexes.
var ErrDuplicate = errors.New("duplicate")

// ErrMappingConflict indicates that the thread or the discussion is already
// mapped to a different counterpart.
var ErrMappingConflict = errors.New("mapping conflict")

// GetMappingByThreadID returns the mapping for threadID or ErrNotFound.
func GetMappingByThreadID(ctx context.Context, db *gorm.DB, threadID string) (*domain.ThreadMapping, error) {
	var m domain.ThreadMapping
	if err := db.WithContext(ctx).Where("thread_id = ?", threadID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMappingByDiscussionID returns the mapping for discussionID or ErrNotFound.
func GetMappingByDiscussionID(ctx context.Context, db *gorm.DB, discussionID string) (*domain.ThreadMapping, error) {
	var m domain.ThreadMapping
	if err := db.WithContext(ctx).Where("discussion_id = ?", discussionID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMappingIfAbsent approximates a unique insert: it checks both keys,
// inserts when neither is mapped, and resolves a lost insert race by
// re-reading the winner. created reports whether this call wrote the row.
func InsertMappingIfAbsent(ctx context.Context, db *gorm.DB, threadID, discussionID, url string) (m *domain.ThreadMapping, created bool, err error) {
	if existing, err := findExisting(ctx, db, threadID, discussionID); err != nil || existing != nil {
		return existing, false, classify(existing, threadID, discussionID, err)
	}

	row := &domain.ThreadMapping{
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		DiscussionID:  discussionID,
		DiscussionURL: url,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		existing, ferr := findExisting(ctx, db, threadID, discussionID)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing == nil {
			return nil, false, ErrDuplicate
		}
		return existing, false, classify(existing, threadID, discussionID, nil)
	}
	return row, true, nil
}

// ListMappings returns all mappings, newest first.
func ListMappings(ctx context.Context, db *gorm.DB) ([]domain.ThreadMapping, error) {
	var out []domain.ThreadMapping
	err := db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	return out, err
}

// CountMappings returns the total number of mappings.
func CountMappings(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ThreadMapping{}).Count(&n).Error
	return n, err
}

// ListMappingsPage returns a page of mappings, newest first.
func ListMappingsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ThreadMapping, error) {
	var out []domain.ThreadMapping
	err := db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// findExisting returns the row already holding threadID or discussionID,
// preferring the thread key. A nil row with nil error means neither is taken.
func findExisting(ctx context.Context, db *gorm.DB, threadID, discussionID string) (*domain.ThreadMapping, error) {
	m, err := GetMappingByThreadID(ctx, db, threadID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	m, err = GetMappingByDiscussionID(ctx, db, discussionID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func classify(existing *domain.ThreadMapping, threadID, discussionID string, err error) error {
	if err != nil || existing == nil {
		return err
	}
	if existing.ThreadID != threadID || existing.DiscussionID != discussionID {
		return ErrMappingConflict
	}
	return nil
}

// isUniqueViolation matches gorm's translated error as well as the plain-text
// errors glebarez/sqlite and pgx return for unique index hits.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}
