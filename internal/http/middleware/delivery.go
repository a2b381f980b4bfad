// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements webhook delivery dedup. GitHub stamps every delivery
// with X-GitHub-Delivery and reuses the id when it redelivers. The middleware
// validates the id, stashes it in the request context, and answers 200 for a
// delivery that was already handled successfully, without running the handler.
//
// Deliveries are remembered only after a 2xx response, so a delivery that
// failed (signature, decode, internal error) can be retried.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

const (
	ctxKeyDeliveryID = "delivery.id"
	ctxKeyRedelivery = "delivery.replay"
)

// DeliveryTracker remembers handled delivery ids.
type DeliveryTracker interface {
	Seen(deliveryID string) bool
	Remember(deliveryID string)
}

// DeliveryOptions configures DeliveryDedup.
type DeliveryOptions struct {
	// MaxLen caps the accepted id length. Values <= 0 default to 128.
	MaxLen int
	// Pattern restricts allowed characters. Nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// GetDeliveryID returns the validated delivery id stored by DeliveryDedup.
func GetDeliveryID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyDeliveryID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsRedelivery reports whether DeliveryDedup short-circuited this request.
func IsRedelivery(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRedelivery)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// DeliveryDedup returns the dedup middleware. A nil tracker only validates.
//
// Behavior:
//   - header absent: no-op.
//   - header invalid: 400 with the standard error envelope.
//   - id already handled: 200 {"status":"duplicate"}, handler skipped.
//   - otherwise the handler runs and a 2xx outcome is remembered.
func DeliveryDedup(opts DeliveryOptions, tracker DeliveryTracker) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		id := c.GetHeader(HeaderGitHubDelivery)
		if id == "" {
			c.Next()
			return
		}
		if len(id) > maxLen || !pat.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_delivery_id",
				"message":    "invalid X-GitHub-Delivery",
			})
			return
		}
		c.Set(ctxKeyDeliveryID, id)

		if tracker == nil {
			c.Next()
			return
		}
		if tracker.Seen(id) {
			c.Set(ctxKeyRedelivery, true)
			LoggerFrom(c).Debug().Str("delivery_id", id).Msg("duplicate delivery acknowledged")
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}

		c.Next()

		if s := c.Writer.Status(); s >= 200 && s < 300 {
			tracker.Remember(id)
		}
	}
}
