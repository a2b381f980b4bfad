// Package services – ForwardService
//
// This file implements ForwardService, the Discord -> GitHub half of the sync
// core. A new forum thread becomes a discussion; later messages in a mapped
// thread become discussion comments.
//
// Every event passes through the dedup registry before any side effect, and
// the mapping store is re-read after the grace period so a discussion that
// arrived first through the webhook is never duplicated. Remote failures are
// reported in Discord and never retried.
//
// Observability: public methods are OpenTelemetry-instrumented and counted in
// bridge_sync_events_total.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/observability"
	"github.com/ku-fe/kufe-discussions-bot/internal/repo"
)

const (
	eventThreadCreated  = "thread_created"
	eventMessageCreated = "message_created"

	reactionSynced = "✅"
	reactionFailed = "❌"

	// GitHub rejects an empty discussion body; attachment-only posts get this.
	emptyBodyPlaceholder = "_(no text content)_"
)

// DefaultGracePeriod is the wait before a new thread is turned into a
// discussion.
const DefaultGracePeriod = 5 * time.Second

// ForwardService relays Discord forum activity to GitHub Discussions.
type ForwardService struct {
	Chat     ForwardChat
	Board    Board
	Store    MappingStore
	Registry Dedup

	// ForumChannelID is the only parent channel whose threads are synced.
	ForumChannelID string

	// GracePeriod is waited before creating a discussion so a webhook-driven
	// creation for the same thread can land first. Zero skips the wait.
	GracePeriod time.Duration

	// Log defaults to the global zerolog logger.
	Log *zerolog.Logger
}

func (s *ForwardService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

// Warm marks every mapped thread as processed so that replayed thread-create
// events after a restart are dropped before the grace period.
func (s *ForwardService) Warm(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/ForwardService")
	ctx, span := tr.Start(ctx, "Warm")
	defer span.End()

	all, err := s.Store.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: list mappings: %w", ErrStore, err)
	}
	for _, m := range all {
		s.Registry.MarkThreadProcessed(m.ThreadID)
	}
	span.SetAttributes(attribute.Int("mappings", len(all)))
	return len(all), nil
}

// HandleThreadCreated turns a new forum thread into a discussion.
//
// It returns an error only when the mapping store fails or ctx ends during the
// grace period. Lock contention and remote failures are handled in place.
func (s *ForwardService) HandleThreadCreated(ctx context.Context, ev domain.ThreadCreated) error {
	tr := otel.Tracer("services/ForwardService")
	ctx, span := tr.Start(ctx, "HandleThreadCreated",
		trace.WithAttributes(
			attribute.String("thread.id", ev.ThreadID),
			attribute.String("thread.parent_id", ev.ParentID),
		),
	)
	defer span.End()

	l := s.logger().With().Str("thread_id", ev.ThreadID).Str("title", ev.Title).Logger()

	if ev.ParentID != s.ForumChannelID {
		return nil
	}
	if s.Registry.IsThreadProcessed(ev.ThreadID) {
		l.Debug().Str("reason", "processed").Msg("skip thread")
		s.suppressed(eventThreadCreated)
		return nil
	}
	if !s.Registry.AcquireThreadLock(ev.Title, ev.ThreadID) {
		// Another delivery owns this title.
		s.Registry.MarkThreadProcessed(ev.ThreadID)
		l.Debug().Str("reason", "title_locked").Msg("skip thread")
		s.suppressed(eventThreadCreated)
		return nil
	}
	defer s.Registry.ReleaseThreadLock(ev.Title)

	if err := sleepCtx(ctx, s.GracePeriod); err != nil {
		return err
	}

	existing, err := s.Store.FindByThreadID(ctx, ev.ThreadID)
	if err != nil {
		return s.storeFailure(span, eventThreadCreated, "find mapping", err)
	}
	s.Registry.MarkThreadProcessed(ev.ThreadID)
	if existing != nil {
		l.Info().Str("discussion_id", existing.DiscussionID).Msg("thread already mapped, created via webhook")
		s.suppressed(eventThreadCreated)
		return nil
	}

	starter, err := s.Chat.StarterMessage(ctx, ev.ThreadID)
	if err != nil {
		s.createFailed(ctx, span, l, ev.ThreadID, fmt.Errorf("%w: read starter message: %w", ErrChat, err))
		return nil
	}
	s.Registry.MarkSeen(ev.ThreadID, starter.ID)

	body := starter.Content
	if strings.TrimSpace(body) == "" {
		body = emptyBodyPlaceholder
	}
	disc, err := s.Board.CreateDiscussion(ctx, ev.Title, body)
	if err != nil {
		s.createFailed(ctx, span, l, ev.ThreadID, remoteFailure("create discussion", err))
		return nil
	}
	span.SetAttributes(attribute.String("discussion.id", disc.ID))

	_, created, err := s.Store.InsertIfAbsent(ctx, ev.ThreadID, disc.ID, disc.URL)
	if err != nil {
		if errors.Is(err, repo.ErrMappingConflict) {
			l.Warn().Str("discussion_id", disc.ID).Msg("mapping conflict after discussion creation")
			s.suppressed(eventThreadCreated)
			return nil
		}
		return s.storeFailure(span, eventThreadCreated, "insert mapping", err)
	}

	// Not created means the webhook paired them first and posted the link.
	if created {
		s.notify(ctx, l, ev.ThreadID, reactionSynced+" GitHub discussion created: "+disc.URL)
	}
	l.Info().Str("discussion_id", disc.ID).Str("url", disc.URL).Msg("thread synced")
	observability.RecordSync(observability.DirectionForward, eventThreadCreated, observability.OutcomeSynced)
	return nil
}

// HandleMessageCreated relays a reply in a mapped forum thread as a
// discussion comment.
func (s *ForwardService) HandleMessageCreated(ctx context.Context, ev domain.MessageCreated) error {
	tr := otel.Tracer("services/ForwardService")
	ctx, span := tr.Start(ctx, "HandleMessageCreated",
		trace.WithAttributes(
			attribute.String("thread.id", ev.ThreadID),
			attribute.String("message.id", ev.MessageID),
		),
	)
	defer span.End()

	l := s.logger().With().Str("thread_id", ev.ThreadID).Str("message_id", ev.MessageID).Logger()

	switch {
	case ev.IsBot:
		return nil
	case ev.ParentID != s.ForumChannelID:
		return nil
	case ev.MessageID == ev.ThreadID:
		// The starter message is handled by HandleThreadCreated.
		return nil
	case HasBoardOriginMarker(ev.Content):
		l.Debug().Str("reason", "board_origin").Msg("skip message")
		s.suppressed(eventMessageCreated)
		return nil
	case s.Registry.IsSeen(ev.ThreadID, ev.MessageID), s.Registry.WasSentDownstream(ev.MessageID):
		l.Debug().Str("reason", "seen").Msg("skip message")
		s.suppressed(eventMessageCreated)
		return nil
	}

	if !s.Registry.AcquireMessageLock(ev.MessageID) {
		l.Debug().Str("reason", "message_locked").Msg("skip message")
		s.suppressed(eventMessageCreated)
		return nil
	}
	defer s.Registry.ReleaseMessageLock(ev.MessageID)

	// Marked before the remote call; a failed attempt stays marked.
	s.Registry.MarkSeen(ev.ThreadID, ev.MessageID)
	s.Registry.MarkSentDownstream(ev.MessageID)

	m, err := s.Store.FindByThreadID(ctx, ev.ThreadID)
	if err != nil {
		return s.storeFailure(span, eventMessageCreated, "find mapping", err)
	}
	if m == nil {
		l.Info().Msg("no discussion mapped for thread, message not synced")
		s.suppressed(eventMessageCreated)
		return nil
	}

	c, err := s.Board.AddComment(ctx, m.DiscussionID, ForwardCommentBody(ev.AuthorName, ev.Content))
	if err != nil {
		err = remoteFailure("add comment", err)
		span.RecordError(err)
		l.Error().Err(err).Str("discussion_id", m.DiscussionID).Msg("add comment failed")
		s.react(ctx, l, ev, reactionFailed)
		observability.RecordSync(observability.DirectionForward, eventMessageCreated, observability.OutcomeFailed)
		return nil
	}

	s.react(ctx, l, ev, reactionSynced)
	l.Info().Str("discussion_id", m.DiscussionID).Str("comment_url", c.URL).Msg("message synced")
	observability.RecordSync(observability.DirectionForward, eventMessageCreated, observability.OutcomeSynced)
	return nil
}

// createFailed reports a thread that could not become a discussion. The
// thread stays processed, so redeliveries do not retry it.
func (s *ForwardService) createFailed(ctx context.Context, span trace.Span, l zerolog.Logger, threadID string, err error) {
	span.RecordError(err)
	l.Error().Err(err).Msg("create discussion failed")
	s.notify(ctx, l, threadID, reactionFailed+" Failed to create the GitHub discussion. Please contact an administrator.")
	observability.RecordSync(observability.DirectionForward, eventThreadCreated, observability.OutcomeFailed)
}

func (s *ForwardService) notify(ctx context.Context, l zerolog.Logger, threadID, content string) {
	if _, err := s.Chat.Send(ctx, threadID, content); err != nil {
		l.Warn().Err(err).Msg("cannot post notice in thread")
	}
}

func (s *ForwardService) react(ctx context.Context, l zerolog.Logger, ev domain.MessageCreated, emoji string) {
	if err := s.Chat.React(ctx, ev.ThreadID, ev.MessageID, emoji); err != nil {
		l.Warn().Err(err).Str("emoji", emoji).Msg("cannot add reaction")
	}
}

func (s *ForwardService) suppressed(event string) {
	observability.RecordSync(observability.DirectionForward, event, observability.OutcomeSuppressed)
}

func (s *ForwardService) storeFailure(span trace.Span, event, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observability.RecordSync(observability.DirectionForward, event, observability.OutcomeFailed)
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
