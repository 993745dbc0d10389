package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	appmetering "github.com/bookwell/backend/internal/application/metering"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/interfaces/http/dto"
)

// UsageHandler handles metered usage HTTP requests
type UsageHandler struct {
	BaseHandler
	usageService *appmetering.UsageService
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(usageService *appmetering.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

// RegisterRoutes registers usage routes
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	usage := rg.Group("/usage")
	{
		usage.GET("", h.GetSummary)
		usage.GET("/events", h.ListEvents)
		usage.GET("/:resource", h.GetUsage)
		usage.POST("/:resource/send", h.RecordSend)
	}
}

// RecordSendRequest is the body of a send-recording request
type RecordSendRequest struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient" binding:"required"`
}

// GetSummary returns the current period's usage for every metered
// resource of the calling tenant.
// GET /api/v1/usage
func (h *UsageHandler) GetSummary(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	summary, err := h.usageService.GetUsageSummary(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}

// GetUsage returns the current period's usage for a single resource.
// GET /api/v1/usage/:resource
func (h *UsageHandler) GetUsage(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	resource, err := metering.ParseResourceType(c.Param("resource"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	view, err := h.usageService.GetUsage(c.Request.Context(), tenantID, resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}

// RecordSend counts one send against the tenant's usage counter and
// returns the metered outcome.
// POST /api/v1/usage/:resource/send
func (h *UsageHandler) RecordSend(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	resource, err := metering.ParseResourceType(c.Param("resource"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req RecordSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = string(metering.UsageEventSend)
	}

	result, err := h.usageService.RecordSend(c.Request.Context(), appmetering.RecordSendInput{
		TenantID:  tenantID,
		Resource:  resource,
		Kind:      metering.UsageEventKind(req.Kind),
		Recipient: req.Recipient,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, result)
}

// ListEvents returns a page of the tenant's usage ledger, newest first.
// GET /api/v1/usage/events
func (h *UsageHandler) ListEvents(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	filter, err := parseUsageEventFilter(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	page, err := h.usageService.ListEvents(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// parseUsageEventFilter builds a ledger filter from query parameters
func parseUsageEventFilter(c *gin.Context) (metering.UsageEventFilter, error) {
	var filter metering.UsageEventFilter
	filter.Filter = parseListFilter(c)

	if raw := c.Query("resource"); raw != "" {
		resource, err := metering.ParseResourceType(raw)
		if err != nil {
			return filter, err
		}
		filter.Resource = &resource
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}

	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}

	return filter, nil
}
