// Read-only operational endpoints.
//
//   - GET /health            liveness with uptime
//   - GET /debug/mappings    persisted thread mappings (paginated)
//   - GET /debug/pending     in-flight sync operations
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"` // seconds
}

// ListMappingsResponse wraps a page of mappings.
type ListMappingsResponse struct {
	Mappings   []domain.ThreadMapping `json:"mappings"`
	Pagination Pagination             `json:"pagination"`
}

// PendingResponse lists in-flight operations, oldest first.
type PendingResponse struct {
	Pending []domain.PendingOperation `json:"pending"`
	Count   int                       `json:"count"`
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	now := h.now()
	ok(c, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	})
}

// ListMappings handles GET /debug/mappings?page=&page_size=.
func (h *Handlers) ListMappings(c *gin.Context) {
	page, pageSize := clampPagination(c)
	ctx := c.Request.Context()

	total, err := h.mappings.Count(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "failed to count mappings")
		return
	}
	items, err := h.mappings.ListPage(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "failed to list mappings")
		return
	}
	if items == nil {
		items = []domain.ThreadMapping{}
	}
	ok(c, http.StatusOK, ListMappingsResponse{
		Mappings:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ListPending handles GET /debug/pending.
func (h *Handlers) ListPending(c *gin.Context) {
	ops := h.pending.Pending()
	if ops == nil {
		ops = []domain.PendingOperation{}
	}
	ok(c, http.StatusOK, PendingResponse{Pending: ops, Count: len(ops)})
}
