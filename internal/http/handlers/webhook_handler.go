// Webhook receiver.
//
//   - POST /webhooks/github
//
// The raw body is read once, verified against X-Hub-Signature-256, resolved
// into a typed event and dispatched to the sink. Status codes:
// 200 handled or ignored, 400 unreadable or malformed, 401 bad signature,
// 500 sink failure.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/github"
	"github.com/ku-fe/kufe-discussions-bot/internal/http/middleware"
)

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}

// Webhook handles POST /webhooks/github.
func (h *Handlers) Webhook(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	if h.webhook.SkipVerify {
		lg.Warn().Msg("webhook signature verification disabled")
	} else if err := github.VerifySignature(h.webhook.Secret, body, c.GetHeader(middleware.HeaderHubSignature)); err != nil {
		lg.Warn().Err(err).Msg("rejected webhook delivery")
		fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "webhook signature verification failed")
		return
	}

	deliveryID, _ := middleware.GetDeliveryID(c)
	if deliveryID == "" {
		deliveryID = c.GetHeader(middleware.HeaderGitHubDelivery)
	}
	eventName := c.GetHeader(middleware.HeaderGitHubEvent)

	ev, err := github.ParseWebhook(eventName, deliveryID, c.ContentType(), body)
	if err != nil {
		lg.Warn().Err(err).Msg("malformed webhook delivery")
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, err.Error())
		return
	}

	// The sync must not be cut short if GitHub drops the connection.
	ctx := context.WithoutCancel(c.Request.Context())

	status := "ok"
	switch e := ev.(type) {
	case domain.DiscussionCreated:
		err = h.sink.HandleDiscussionCreated(ctx, e)
	case domain.DiscussionEdited:
		err = h.sink.HandleDiscussionEdited(ctx, e)
	case domain.CommentCreated:
		err = h.sink.HandleCommentCreated(ctx, e)
	case domain.Ping:
		lg.Info().Str("zen", e.Zen).Msg("webhook ping")
		status = "pong"
	case domain.UnhandledEvent:
		lg.Debug().Str("action", e.Action).Msg("webhook event ignored")
		status = "ignored"
	default:
		err = errors.New("unknown webhook event type")
	}
	if err != nil {
		lg.Error().Err(err).Msg("webhook dispatch failed")
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, "failed to process delivery")
		return
	}

	ok(c, http.StatusOK, WebhookResponse{Status: status, Event: eventName})
}
