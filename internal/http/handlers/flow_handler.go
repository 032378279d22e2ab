package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/services"
)

// FlowResource is the wire form of a flow.
type FlowResource struct {
	Name      string `json:"name" example:"welcome"`
	RoleID    string `json:"roleId" example:"112233445566778899"`
	ChannelID string `json:"channelId" example:"998877665544332211"`
	Message   string `json:"message" example:"Welcome {user}! Read the rules to unlock {role}."`
}

func toResource(f domain.Flow) FlowResource {
	return FlowResource{Name: f.Name, RoleID: f.RoleID, ChannelID: f.ChannelID, Message: f.Message}
}

// ListFlowsResponse holds a community's flows in configuration order.
type ListFlowsResponse struct {
	Flows []FlowResource `json:"flows"`
}

// ListFlows godoc
// @ID          listFlows
// @Summary     List flows
// @Description Returns the community's onboarding flows in configuration order.
// @Tags        Flows
// @Produce     json
// @Security    AdminToken
// @Param       community  path  string  true  "Community (guild) id"
// @Success     200  {object}  handlers.ListFlowsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/flows [get]
func (h *Handlers) ListFlows(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	flows, err := h.flows.List(c.Request.Context(), community)
	if err != nil {
		failService(c, err)
		return
	}
	resp := ListFlowsResponse{Flows: make([]FlowResource, 0, len(flows))}
	for _, f := range flows {
		resp.Flows = append(resp.Flows, toResource(f))
	}
	ok(c, http.StatusOK, resp)
}

// GetFlow godoc
// @ID          getFlow
// @Summary     Get a flow
// @Tags        Flows
// @Produce     json
// @Security    AdminToken
// @Param       community  path  string  true  "Community (guild) id"
// @Param       name       path  string  true  "Flow name"
// @Success     200  {object}  handlers.FlowResource
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/flows/{name} [get]
func (h *Handlers) GetFlow(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	f, err := h.flows.Get(c.Request.Context(), community, c.Param("name"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, toResource(f))
}

// CreateFlow godoc
// @ID          createFlow
// @Summary     Create a flow
// @Description Adds a flow. Names are unique ignoring case and each role may be gated by one flow.
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       community  path  string                  true  "Community (guild) id"
// @Param       body       body  handlers.FlowResource   true  "Flow definition"
// @Success     201  {object}  handlers.FlowResource
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/flows [post]
func (h *Handlers) CreateFlow(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	var req FlowResource
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.flows.Create(c.Request.Context(), community, domain.Flow{
		Name:      req.Name,
		RoleID:    req.RoleID,
		ChannelID: req.ChannelID,
		Message:   req.Message,
	})
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+url.PathEscape(f.Name))
	ok(c, http.StatusCreated, toResource(f))
}

// UpdateFlow godoc
// @ID          updateFlow
// @Summary     Edit a flow
// @Description Partial update; absent fields are unchanged. Renaming keeps the flow's position.
// @Tags        Flows
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       community  path  string              true  "Community (guild) id"
// @Param       name       path  string              true  "Flow name"
// @Param       body       body  services.FlowPatch  true  "Fields to change"
// @Success     200  {object}  handlers.FlowResource
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/flows/{name} [patch]
func (h *Handlers) UpdateFlow(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	var patch services.FlowPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.flows.Update(c.Request.Context(), community, c.Param("name"), patch)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, toResource(f))
}

// DeleteFlow godoc
// @ID          deleteFlow
// @Summary     Delete a flow
// @Tags        Flows
// @Security    AdminToken
// @Param       community  path  string  true  "Community (guild) id"
// @Param       name       path  string  true  "Flow name"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /communities/{community}/flows/{name} [delete]
func (h *Handlers) DeleteFlow(c *gin.Context) {
	community, valid := communityParam(c)
	if !valid {
		return
	}
	if err := h.flows.Delete(c.Request.Context(), community, c.Param("name")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
