package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const maxWebhookBody = 64 * 1024

// WebhookHandler verifies and dispatches payment provider events. The
// response contract: 4xx only for unverifiable requests (no side effects),
// 5xx when a storage failure makes redelivery useful, 200 otherwise. A
// fulfillment failure after materialization is retried internally and must
// not trigger provider redelivery.
func WebhookHandler(m *Materializer) gin.HandlerFunc {
	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")

	return func(c *gin.Context) {
		log := m.Logger.WithFields(logrus.Fields{"field": "PaymentWebhook"})

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Warn("failed to read webhook body: " + err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}

		event, err := webhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), secret)
		if err != nil {
			log.Warn("webhook signature verification failed: " + err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}

		ctx := c.Request.Context()
		var handleErr error

		switch string(event.Type) {
		case "checkout.session.completed", "checkout.session.async_payment_succeeded":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
				log.WithFields(logrus.Fields{"event_id": event.ID}).
					Error("dropping undecodable checkout session event: " + err.Error())
				break
			}
			handleErr = m.HandleSessionCompleted(ctx, session)

		case "checkout.session.async_payment_failed":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
				break
			}
			handleErr = m.HandleAsyncPaymentFailed(ctx, session)

		case "payment_intent.succeeded":
			var intent stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
				break
			}
			handleErr = m.SchedulePaymentEventSync(ctx, intent)

		case "payment_intent.payment_failed":
			var intent stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
				break
			}
			handleErr = m.HandlePaymentFailed(ctx, intent)

		case "charge.dispute.created":
			var dispute stripe.Dispute
			if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
				break
			}
			handleErr = m.HandleDisputeCreated(ctx, dispute)

		case "charge.refunded":
			var charge stripe.Charge
			if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
				break
			}
			handleErr = m.HandleChargeRefunded(ctx, charge)

		default:
			log.WithFields(logrus.Fields{"event_type": event.Type}).Debug("unhandled event type")
		}

		if handleErr != nil {
			log.WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Error("webhook handling failed: " + handleErr.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
