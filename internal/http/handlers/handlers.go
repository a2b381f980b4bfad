package handlers

import (
	"context"
	"math"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/utils"
)

// WebhookSink receives verified board events. Implementations must be safe
// for concurrent use; the reverse sync service is the production sink.
type WebhookSink interface {
	HandleDiscussionCreated(ctx context.Context, ev domain.DiscussionCreated) error
	HandleDiscussionEdited(ctx context.Context, ev domain.DiscussionEdited) error
	HandleCommentCreated(ctx context.Context, ev domain.CommentCreated) error
}

// MappingReader pages through persisted thread mappings, newest first.
type MappingReader interface {
	ListPage(ctx context.Context, offset, limit int) ([]domain.ThreadMapping, error)
	Count(ctx context.Context) (int64, error)
}

// PendingReader lists the in-flight sync operations.
type PendingReader interface {
	Pending() []domain.PendingOperation
}

// WebhookOptions configures signature verification.
type WebhookOptions struct {
	Secret []byte
	// SkipVerify accepts unsigned deliveries. Development only.
	SkipVerify bool
}

// Handlers groups the HTTP endpoints of the bridge.
type Handlers struct {
	sink     WebhookSink
	mappings MappingReader
	pending  PendingReader
	webhook  WebhookOptions

	startedAt time.Time
	now       func() time.Time
}

// New constructs Handlers. The uptime reported by Health starts now.
func New(sink WebhookSink, mappings MappingReader, pending PendingReader, opts WebhookOptions) *Handlers {
	return &Handlers{
		sink:      sink,
		mappings:  mappings,
		pending:   pending,
		webhook:   opts,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses page and page_size, bounded to sane limits.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.ClampInt(utils.AtoiDefault(c.Query("page"), defaultPage), 1, math.MaxInt32)
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.PageCount(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}
