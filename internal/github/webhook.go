package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// Webhook event names handled by the bridge.
const (
	EventPing              = "ping"
	EventDiscussion        = "discussion"
	EventDiscussionComment = "discussion_comment"

	signaturePrefix = "sha256="
)

var (
	// ErrSignatureMissing is returned when a delivery carries no signature.
	ErrSignatureMissing = errors.New("github: missing webhook signature")
	// ErrSignatureMismatch is returned when the signature does not verify.
	ErrSignatureMismatch = errors.New("github: webhook signature mismatch")
	// ErrMalformedPayload is returned for deliveries that cannot be decoded
	// or lack the objects their event type requires.
	ErrMalformedPayload = errors.New("github: malformed webhook payload")
)

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of the raw body in
// constant time.
func VerifySignature(secret, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	hexSig, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return ErrSignatureMismatch
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

type webhookPayload struct {
	Action     string             `json:"action"`
	Zen        string             `json:"zen"`
	Discussion *domain.Discussion `json:"discussion"`
	Comment    *domain.Comment    `json:"comment"`
}

// ParseWebhook resolves a verified delivery into a typed event. JSON bodies
// and form-encoded bodies (payload=<json>) are both accepted. Events and
// actions the bridge does not act on become domain.UnhandledEvent.
func ParseWebhook(event, deliveryID, contentType string, body []byte) (domain.WebhookEvent, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	raw, err := payloadJSON(contentType, body)
	if err != nil {
		return nil, err
	}
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	unhandled := domain.UnhandledEvent{DeliveryID: deliveryID, Event: event, Action: p.Action}

	switch event {
	case EventPing:
		return domain.Ping{DeliveryID: deliveryID, Zen: p.Zen}, nil

	case EventDiscussion:
		if p.Action != "created" && p.Action != "edited" {
			return unhandled, nil
		}
		if p.Discussion == nil || p.Discussion.NodeID == "" {
			return nil, fmt.Errorf("%w: discussion/%s without discussion", ErrMalformedPayload, p.Action)
		}
		if p.Action == "created" {
			return domain.DiscussionCreated{DeliveryID: deliveryID, Discussion: *p.Discussion}, nil
		}
		return domain.DiscussionEdited{DeliveryID: deliveryID, Discussion: *p.Discussion}, nil

	case EventDiscussionComment:
		if p.Action != "created" {
			return unhandled, nil
		}
		if p.Discussion == nil || p.Discussion.NodeID == "" {
			return nil, fmt.Errorf("%w: discussion_comment/created without discussion", ErrMalformedPayload)
		}
		if p.Comment == nil || (p.Comment.NodeID == "" && p.Comment.ID == 0) {
			return nil, fmt.Errorf("%w: discussion_comment/created without comment", ErrMalformedPayload)
		}
		return domain.CommentCreated{DeliveryID: deliveryID, Discussion: *p.Discussion, Comment: *p.Comment}, nil
	}
	return unhandled, nil
}

// payloadJSON extracts the JSON document from a delivery body.
func payloadJSON(contentType string, body []byte) ([]byte, error) {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt != "application/x-www-form-urlencoded" {
		return body, nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	p := form.Get("payload")
	if p == "" {
		return nil, fmt.Errorf("%w: empty form payload", ErrMalformedPayload)
	}
	return []byte(p), nil
}
