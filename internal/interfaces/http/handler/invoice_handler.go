package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appinvoicing "github.com/bookwell/backend/internal/application/invoicing"
	"github.com/bookwell/backend/internal/domain/invoicing"
	"github.com/bookwell/backend/internal/domain/metering"
	"github.com/bookwell/backend/internal/interfaces/http/dto"
)

// InvoiceHandler handles overage invoice HTTP requests
type InvoiceHandler struct {
	BaseHandler
	invoiceService *appinvoicing.InvoiceService
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(invoiceService *appinvoicing.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

// RegisterRoutes registers invoice routes
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	invoices := rg.Group("/invoices")
	{
		invoices.POST("/generate", h.Generate)
		invoices.GET("", h.List)
		invoices.GET("/:id", h.Get)
		invoices.POST("/:id/push", h.RetryPush)
	}
}

// GenerateInvoiceRequest is the body of an invoice generation request.
// Period selects the billing month as "YYYY-MM"; when omitted the
// previous calendar month is invoiced.
type GenerateInvoiceRequest struct {
	Resource string `json:"resource" binding:"required"`
	Period   string `json:"period"`
}

// InvoiceResponse is the wire representation of an overage invoice
type InvoiceResponse struct {
	ID              string     `json:"id"`
	Number          string     `json:"number"`
	TenantID        string     `json:"tenant_id"`
	Resource        string     `json:"resource"`
	PeriodStart     time.Time  `json:"period_start"`
	PeriodEnd       time.Time  `json:"period_end"`
	UnitsOverLimit  int64      `json:"units_over_limit"`
	OverageRate     string     `json:"overage_rate"`
	Subtotal        string     `json:"subtotal"`
	TaxRate         string     `json:"tax_rate"`
	TaxAmount       string     `json:"tax_amount"`
	Total           string     `json:"total"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	DueDate         time.Time  `json:"due_date"`
	RemoteInvoiceID string     `json:"remote_invoice_id,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toInvoiceResponse(invoice *invoicing.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:              invoice.ID.String(),
		Number:          invoice.Number,
		TenantID:        invoice.TenantID.String(),
		Resource:        invoice.Resource.String(),
		PeriodStart:     invoice.PeriodStart,
		PeriodEnd:       invoice.PeriodEnd,
		UnitsOverLimit:  invoice.UnitsOverLimit,
		OverageRate:     invoice.OverageRate.String(),
		Subtotal:        invoice.Subtotal.StringFixed(2),
		TaxRate:         invoice.TaxRate.String(),
		TaxAmount:       invoice.TaxAmount.StringFixed(2),
		Total:           invoice.Total.StringFixed(2),
		Currency:        string(invoice.Currency),
		Status:          invoice.Status.String(),
		DueDate:         invoice.DueDate,
		RemoteInvoiceID: invoice.RemoteInvoiceID,
		PaidAt:          invoice.PaidAt,
		CreatedAt:       invoice.CreatedAt,
	}
}

// Generate creates the overage invoice for one resource and billing
// period. Without overage in the period the call fails with a
// precondition error and creates nothing.
// POST /api/v1/invoices/generate
func (h *InvoiceHandler) Generate(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	var req GenerateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	resource, err := metering.ParseResourceType(req.Resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	period := metering.PreviousBillingPeriod(time.Now())
	if req.Period != "" {
		month, err := time.Parse("2006-01", req.Period)
		if err != nil {
			h.BadRequest(c, "Invalid period, expected YYYY-MM")
			return
		}
		period = metering.BillingPeriodFor(month)
	}

	invoice, err := h.invoiceService.GenerateInvoice(c.Request.Context(), tenantID, resource, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toInvoiceResponse(invoice))
}

// List returns a page of the tenant's invoices, newest first.
// GET /api/v1/invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	page, err := h.invoiceService.ListInvoices(c.Request.Context(), tenantID, parseListFilter(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]InvoiceResponse, 0, len(page.Items))
	for _, invoice := range page.Items {
		items = append(items, toInvoiceResponse(invoice))
	}

	h.SuccessWithMeta(c, items, page.Total, page.Page, page.PageSize)
}

// Get returns a single invoice.
// GET /api/v1/invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID")
		return
	}

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// Invoices are tenant-scoped; another tenant's invoice reads as absent.
	if invoice.TenantID != tenantID {
		h.NotFound(c, "Invoice not found")
		return
	}

	h.Success(c, toInvoiceResponse(invoice))
}

// RetryPush re-attempts mirroring a pending invoice to the payment
// provider after an earlier delivery failure.
// POST /api/v1/invoices/:id/push
func (h *InvoiceHandler) RetryPush(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID")
		return
	}

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if invoice.TenantID != tenantID {
		h.NotFound(c, "Invoice not found")
		return
	}

	pushed, err := h.invoiceService.RetryPush(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toInvoiceResponse(pushed))
}
