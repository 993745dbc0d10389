package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appinvoicing "github.com/bookwell/backend/internal/application/invoicing"
	"github.com/bookwell/backend/internal/domain/shared"
	"github.com/bookwell/backend/internal/interfaces/http/dto"
)

// PaymentEventVerifier authenticates a raw webhook delivery and
// translates it into a payment event. A nil event with a nil error
// means the delivery was genuine but irrelevant to invoicing.
type PaymentEventVerifier interface {
	VerifyAndParse(payload []byte, signature string) (*appinvoicing.PaymentEvent, error)
}

// WebhookHandler receives payment-status notifications from the
// payment provider
type WebhookHandler struct {
	BaseHandler
	verifier       PaymentEventVerifier
	reconciliation *appinvoicing.ReconciliationService
	logger         *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	verifier PaymentEventVerifier,
	reconciliation *appinvoicing.ReconciliationService,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:       verifier,
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/stripe", h.HandleStripe)
}

// HandleStripe processes one Stripe webhook delivery. Deliveries that
// fail signature verification are rejected; verified events that don't
// concern invoice payment are acknowledged untouched so Stripe stops
// redelivering them.
// POST /webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.BadRequest(c, "Failed to read request body")
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, shared.ErrSecurityViolation) {
			h.logger.Warn("rejected webhook with invalid signature",
				zap.String("remote_addr", c.ClientIP()))
			h.Error(c, http.StatusBadRequest, dto.ErrCodeSecurityViolation, "Webhook signature verification failed")
			return
		}
		h.HandleError(c, err)
		return
	}

	if event == nil {
		h.Success(c, gin.H{"received": true})
		return
	}

	result, err := h.reconciliation.HandlePaymentEvent(c.Request.Context(), *event)
	if err != nil {
		h.logger.Error("payment event processing failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
		h.InternalError(c, "Failed to process payment event")
		return
	}

	h.Success(c, result)
}
