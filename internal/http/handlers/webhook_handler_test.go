package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/github"
	"github.com/ku-fe/kufe-discussions-bot/internal/http/middleware"
)

var whSecret = []byte("s3cr3t")

type recordingSink struct {
	mu      sync.Mutex
	created []domain.DiscussionCreated
	edited  []domain.DiscussionEdited
	comment []domain.CommentCreated
	err     error
	ctxErr  error
}

func (s *recordingSink) HandleDiscussionCreated(ctx context.Context, ev domain.DiscussionCreated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, ev)
	s.ctxErr = ctx.Err()
	return s.err
}

func (s *recordingSink) HandleDiscussionEdited(_ context.Context, ev domain.DiscussionEdited) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edited = append(s.edited, ev)
	return s.err
}

func (s *recordingSink) HandleCommentCreated(_ context.Context, ev domain.CommentCreated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comment = append(s.comment, ev)
	return s.err
}

func newWebhookRouter(sink WebhookSink, opts WebhookOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	h := New(sink, nil, nil, opts)
	r.POST("/webhooks/github", h.Webhook)
	return r
}

func deliver(r *gin.Engine, event, delivery string, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderGitHubEvent, event)
	if delivery != "" {
		req.Header.Set(middleware.HeaderGitHubDelivery, delivery)
	}
	if sig != "" {
		req.Header.Set(middleware.HeaderHubSignature, sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const (
	createdBody = `{"action":"created","discussion":{"id":1,"node_id":"D_1","title":"Bug: login fails","html_url":"https://github.com/o/r/discussions/1","user":{"login":"octocat"}}}`
	commentBody = `{"action":"created","discussion":{"node_id":"D_1"},"comment":{"id":5,"node_id":"DC_5","body":"hi","html_url":"https://github.com/o/r/discussions/1#discussioncomment-5","user":{"login":"octocat"}}}`
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("invalid error json: %v (%s)", err, w.Body.String())
	}
	return er
}

func TestWebhook_DispatchesDiscussionCreated(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})

	body := []byte(createdBody)
	w := deliver(r, "discussion", "dlv-1", body, github.Sign(whSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var resp WebhookResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.Event != "discussion" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(sink.created) != 1 {
		t.Fatalf("created events = %d; want 1", len(sink.created))
	}
	ev := sink.created[0]
	if ev.DeliveryID != "dlv-1" || ev.Discussion.NodeID != "D_1" || ev.Discussion.Title != "Bug: login fails" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if sink.ctxErr != nil {
		t.Fatalf("dispatch context should not be cancelled: %v", sink.ctxErr)
	}
}

func TestWebhook_DispatchesCommentAndEdit(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})

	cb := []byte(commentBody)
	if w := deliver(r, "discussion_comment", "dlv-2", cb, github.Sign(whSecret, cb)); w.Code != http.StatusOK {
		t.Fatalf("comment status = %d", w.Code)
	}
	eb := []byte(`{"action":"edited","discussion":{"node_id":"D_1","title":"renamed"}}`)
	if w := deliver(r, "discussion", "dlv-3", eb, github.Sign(whSecret, eb)); w.Code != http.StatusOK {
		t.Fatalf("edit status = %d", w.Code)
	}
	if len(sink.comment) != 1 || sink.comment[0].Comment.NodeID != "DC_5" {
		t.Fatalf("unexpected comment events: %+v", sink.comment)
	}
	if len(sink.edited) != 1 || sink.edited[0].Discussion.Title != "renamed" {
		t.Fatalf("unexpected edit events: %+v", sink.edited)
	}
}

func TestWebhook_SignatureFailures(t *testing.T) {
	body := []byte(createdBody)
	cases := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"wrong secret", github.Sign([]byte("nope"), body)},
		{"garbage", "sha256=xyz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})
			w := deliver(r, "discussion", "dlv", body, tc.sig)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d; want 401", w.Code)
			}
			if er := decodeError(t, w); er.Code != ErrCodeInvalidSignature || er.RequestID == "" {
				t.Fatalf("unexpected envelope: %+v", er)
			}
			if len(sink.created) != 0 {
				t.Fatalf("sink must not run on signature failure")
			}
		})
	}
}

func TestWebhook_SkipVerifyAcceptsUnsigned(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, WebhookOptions{SkipVerify: true})

	w := deliver(r, "discussion", "dlv", []byte(createdBody), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(sink.created) != 1 {
		t.Fatalf("expected dispatch with verification disabled")
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})

	for _, tc := range []struct{ event, body string }{
		{"discussion", `{"action":`},
		{"discussion", `{"action":"created"}`},
		{"", `{}`},
	} {
		b := []byte(tc.body)
		w := deliver(r, tc.event, "dlv", b, github.Sign(whSecret, b))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%q %s: status = %d; want 400", tc.event, tc.body, w.Code)
		}
		if er := decodeError(t, w); er.Code != ErrCodeMalformedPayload {
			t.Fatalf("unexpected code %q", er.Code)
		}
	}
}

func TestWebhook_PingAndUnhandledAreAcknowledged(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})

	pb := []byte(`{"zen":"Design for failure.","hook_id":42}`)
	w := deliver(r, "ping", "dlv-p", pb, github.Sign(whSecret, pb))
	var resp WebhookResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Status != "pong" {
		t.Fatalf("ping: %d %+v", w.Code, resp)
	}

	ib := []byte(`{"action":"opened","issue":{"number":1}}`)
	w = deliver(r, "issues", "dlv-i", ib, github.Sign(whSecret, ib))
	resp = WebhookResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Status != "ignored" {
		t.Fatalf("issues: %d %+v", w.Code, resp)
	}
	if len(sink.created)+len(sink.edited)+len(sink.comment) != 0 {
		t.Fatalf("sink must not run for ping or unhandled events")
	}
}

func TestWebhook_SinkFailureIs500(t *testing.T) {
	sink := &recordingSink{err: errors.New("store down")}
	r := newWebhookRouter(sink, WebhookOptions{Secret: whSecret})

	body := []byte(createdBody)
	w := deliver(r, "discussion", "dlv", body, github.Sign(whSecret, body))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeSyncFailed {
		t.Fatalf("unexpected code %q", er.Code)
	}
}
