package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/services"
	"github.com/tbourn/rolegate/internal/utils"
)

// FlowService manages the flow definitions of a community.
type FlowService interface {
	List(ctx context.Context, community string) ([]domain.Flow, error)
	Get(ctx context.Context, community, name string) (domain.Flow, error)
	Create(ctx context.Context, community string, f domain.Flow) (domain.Flow, error)
	Update(ctx context.Context, community, name string, p services.FlowPatch) (domain.Flow, error)
	Delete(ctx context.Context, community, name string) error
}

// OnboardingService inspects and edits OnboardingState.
type OnboardingService interface {
	Pending(ctx context.Context, community string) ([]services.PendingMember, error)
	Release(ctx context.Context, community, member, flowName string, restore bool) error
}

// Handlers groups the admin endpoints.
type Handlers struct {
	flows      FlowService
	onboarding OnboardingService
}

// New binds the handlers to their services.
func New(flows FlowService, onboarding OnboardingService) *Handlers {
	return &Handlers{flows: flows, onboarding: onboarding}
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// clampPagination reads page and page_size, bounded to [1, 100] per page.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = min(max(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1), maxPageSize)
	return page, pageSize
}

// paginate slices items for page and reports the metadata.
func paginate[T any](items []T, page, pageSize int) ([]T, Pagination) {
	total := len(items)
	totalPages := utils.PageCount(total, pageSize)
	lo, hi := utils.Window(page, pageSize, total)
	return items[lo:hi], Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// communityParam validates the :community path segment.
func communityParam(c *gin.Context) (string, bool) {
	id := c.Param("community")
	if !domain.ValidID(id) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "community id must be a snowflake")
		return "", false
	}
	return id, true
}
