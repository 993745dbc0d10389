package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	appinvoicing "github.com/bookwell/backend/internal/application/invoicing"
	"github.com/bookwell/backend/internal/domain/shared"
)

// WebhookVerifier validates Stripe webhook signatures and translates
// invoice settlement events into payment events for reconciliation.
// Verification happens here, out of band from handling: everything the
// reconciliation handler receives is already trusted.
type WebhookVerifier struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewWebhookVerifier creates a new WebhookVerifier
func NewWebhookVerifier(config *StripeConfig, logger *zap.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		config: config,
		logger: logger,
	}
}

// VerifyAndParse checks the webhook signature against the shared secret
// and translates the event. A nil event with nil error means the event
// type carries no payment status and should be acknowledged unprocessed.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, signature string) (*appinvoicing.PaymentEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.config.WebhookSecret)
	if err != nil {
		v.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: webhook signature verification failed", shared.ErrSecurityViolation)
	}

	return v.translate(event)
}

// translate maps a verified Stripe event to a payment event
func (v *WebhookVerifier) translate(event stripe.Event) (*appinvoicing.PaymentEvent, error) {
	var status appinvoicing.PaymentEventStatus
	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		status = appinvoicing.PaymentSucceeded
	case "invoice.payment_failed":
		status = appinvoicing.PaymentFailed
	default:
		v.logger.Debug("Ignoring webhook event type", zap.String("event_type", string(event.Type)))
		return nil, nil
	}

	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: malformed invoice payload in event %s", shared.ErrInvalidInput, event.ID)
	}

	paymentEvent := &appinvoicing.PaymentEvent{
		ID:              event.ID,
		RemoteInvoiceID: inv.ID,
		Status:          status,
	}

	if status == appinvoicing.PaymentSucceeded {
		paidAt := time.Unix(event.Created, 0).UTC()
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		paymentEvent.PaidAt = &paidAt
	}

	return paymentEvent, nil
}
