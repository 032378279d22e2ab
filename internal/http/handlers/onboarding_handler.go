package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/services"
	"github.com/tbourn/rolegate/internal/sysutil"
)

// ListPendingResponse is one page of members awaiting confirmation.
type ListPendingResponse struct {
	Members    []services.PendingMember `json:"members"`
	Pagination Pagination               `json:"pagination"`
}

// ListPending godoc
// @ID          listPending
// @Summary     List members awaiting confirmation
// @Description Members in OnboardingState, sorted by id. Flows is empty for entries recorded before the last restart.
// @Tags        Onboarding
// @Produce     json
// @Security    AdminToken
// @Param       community  path   string  true   "Community (guild) id"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListPendingResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/onboarding [get]
func (h *Handlers) ListPending(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)

	members, err := h.onboarding.Pending(c.Request.Context(), community)
	if err != nil {
		failService(c, err)
		return
	}
	items, meta := paginate(members, page, pageSize)
	if items == nil {
		items = []services.PendingMember{}
	}
	ok(c, http.StatusOK, ListPendingResponse{Members: items, Pagination: meta})
}

// ReleaseMember godoc
// @ID          releaseMember
// @Summary     Release a member from onboarding
// @Description Clears one flow (or all) for the member. With restore=true the gated roles are granted back.
// @Tags        Onboarding
// @Security    AdminToken
// @Param       community  path   string  true   "Community (guild) id"
// @Param       member     path   string  true   "Member id"
// @Param       flow       query  string  false  "Only this flow"
// @Param       restore    query  bool    false  "Grant the gated role back"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "Released, but restoring the role failed"
// @Router      /communities/{community}/onboarding/{member}/release [post]
func (h *Handlers) ReleaseMember(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	member := c.Param("member")
	if !domain.ValidID(member) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "member id must be a snowflake")
		return
	}
	restore := sysutil.IsTruthy(c.Query("restore"))
	if err := h.onboarding.Release(c.Request.Context(), community, member, c.Query("flow"), restore); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
