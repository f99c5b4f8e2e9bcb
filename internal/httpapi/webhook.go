package httpapi

import (
	"errors"
	"net/http"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/webhook"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ProviderWebhook receives call lifecycle events.
//
// Responses never carry internal detail: 2xx once the event is processed (degraded
// summaries included), 404 for an unknown call id, 5xx so the provider redelivers
// when persistence failed.
func (h Handlers) ProviderWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if h.WebhookSecret != "" {
		if err := telephony.VerifySignature(h.WebhookSecret, body, c.GetHeader(telephony.SignatureHeader)); err != nil {
			log.Warn("webhook signature rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev, err := telephony.ParseWebhookEvent(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}
	if !calls.IsKnownEvent(ev.Event) {
		log.Info("webhook event ignored", "event", ev.Event, "call_id", ev.Call.CallID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	res, err := h.Events.Process(c.Request.Context(), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session_status": res.Status})
	case errors.Is(err, webhook.ErrUnknownCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, webhook.ErrInvalidEvent):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
	default:
		log.Error("webhook processing failed", "event", ev.Event, "call_id", ev.Call.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
