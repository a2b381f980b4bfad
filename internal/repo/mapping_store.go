package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// MappingStore binds the mapping functions to a database handle so the sync
// services can depend on it through an interface.
type MappingStore struct {
	DB *gorm.DB
}

// NewMappingStore returns a MappingStore over db.
func NewMappingStore(db *gorm.DB) *MappingStore { return &MappingStore{DB: db} }

// InsertIfAbsent stores the pair unless either id is already mapped.
func (s *MappingStore) InsertIfAbsent(ctx context.Context, threadID, discussionID, url string) (*domain.ThreadMapping, bool, error) {
	return InsertMappingIfAbsent(ctx, s.DB, threadID, discussionID, url)
}

// FindByThreadID returns (nil, nil) when the thread is not mapped.
func (s *MappingStore) FindByThreadID(ctx context.Context, threadID string) (*domain.ThreadMapping, error) {
	m, err := GetMappingByThreadID(ctx, s.DB, threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// FindByDiscussionID returns (nil, nil) when the discussion is not mapped.
func (s *MappingStore) FindByDiscussionID(ctx context.Context, discussionID string) (*domain.ThreadMapping, error) {
	m, err := GetMappingByDiscussionID(ctx, s.DB, discussionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *MappingStore) ListAll(ctx context.Context) ([]domain.ThreadMapping, error) {
	return ListMappings(ctx, s.DB)
}

func (s *MappingStore) ListPage(ctx context.Context, offset, limit int) ([]domain.ThreadMapping, error) {
	return ListMappingsPage(ctx, s.DB, offset, limit)
}

func (s *MappingStore) Count(ctx context.Context) (int64, error) {
	return CountMappings(ctx, s.DB)
}
