// Package services – ReverseService
//
// This file implements ReverseService, the GitHub -> Discord half of the sync
// core. It is driven by verified webhook events: a new discussion becomes a
// forum thread (or is paired with a same-titled thread opened moments ago),
// and new discussion comments are relayed into the mapped thread.

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/observability"
	"github.com/ku-fe/kufe-discussions-bot/internal/registry"
	"github.com/ku-fe/kufe-discussions-bot/internal/repo"
)

const (
	eventDiscussionCreated = "discussion_created"
	eventDiscussionEdited  = "discussion_edited"
	eventCommentCreated    = "comment_created"
)

// DefaultSimilarThreadWindow bounds how old a same-titled thread may be to be
// paired with a new discussion instead of creating another thread.
const DefaultSimilarThreadWindow = 5 * time.Minute

// ReverseService relays GitHub Discussions activity to a Discord forum.
type ReverseService struct {
	Chat     ReverseChat
	Store    MappingStore
	Registry Dedup

	// Locator resolves a discussion URL when the webhook omits html_url.
	// Optional.
	Locator DiscussionLocator

	ForumChannelID string

	// SimilarWindow defaults to DefaultSimilarThreadWindow.
	SimilarWindow time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	Log *zerolog.Logger
}

func (s *ReverseService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func (s *ReverseService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ReverseService) similarWindow() time.Duration {
	if s.SimilarWindow > 0 {
		return s.SimilarWindow
	}
	return DefaultSimilarThreadWindow
}

// HandleDiscussionCreated mirrors a new discussion into the forum channel.
func (s *ReverseService) HandleDiscussionCreated(ctx context.Context, ev domain.DiscussionCreated) error {
	d := ev.Discussion
	tr := otel.Tracer("services/ReverseService")
	ctx, span := tr.Start(ctx, "HandleDiscussionCreated",
		trace.WithAttributes(
			attribute.String("discussion.id", d.NodeID),
			attribute.String("github.delivery", ev.DeliveryID),
		),
	)
	defer span.End()

	l := s.logger().With().Str("discussion_id", d.NodeID).Str("title", d.Title).Logger()

	existing, err := s.Store.FindByDiscussionID(ctx, d.NodeID)
	if err != nil {
		return s.fail(span, eventDiscussionCreated, fmt.Errorf("%w: find mapping: %w", ErrStore, err))
	}
	if existing != nil {
		l.Debug().Str("thread_id", existing.ThreadID).Str("reason", "mapped").Msg("skip discussion")
		s.suppressed(eventDiscussionCreated)
		return nil
	}
	if !s.Registry.ClaimDiscussion(d.NodeID) {
		l.Debug().Str("reason", "in_progress").Msg("skip discussion")
		s.suppressed(eventDiscussionCreated)
		return nil
	}

	url := s.discussionURL(ctx, l, d)

	threads, err := s.Chat.ActiveThreads(ctx, s.ForumChannelID)
	if err != nil {
		return s.fail(span, eventDiscussionCreated, fmt.Errorf("%w: list active threads: %w", ErrChat, err))
	}
	t, ok, err := s.pairableThread(ctx, threads, d.Title)
	if err != nil {
		return s.fail(span, eventDiscussionCreated, err)
	}
	if ok {
		// Both sides opened the same conversation; pair them.
		l = l.With().Str("thread_id", t.ID).Logger()
		s.Registry.MarkThreadProcessed(t.ID)
		_, created, err := s.Store.InsertIfAbsent(ctx, t.ID, d.NodeID, url)
		if err != nil {
			return s.insertFailure(span, l, err)
		}
		if created {
			if _, err := s.Chat.Send(ctx, t.ID, reactionSynced+" GitHub discussion: "+url); err != nil {
				l.Warn().Err(err).Msg("cannot post discussion link")
			}
		}
		l.Info().Msg("paired discussion with existing thread")
		observability.RecordSync(observability.DirectionReverse, eventDiscussionCreated, observability.OutcomeSynced)
		return nil
	}

	// The thread body is just the link; the content lives on GitHub.
	starter := url
	if starter == "" {
		starter = "GitHub discussion " + d.NodeID
	}
	thread, err := s.Chat.CreateThread(ctx, s.ForumChannelID, d.Title, starter)
	if err != nil {
		return s.fail(span, eventDiscussionCreated, fmt.Errorf("%w: create thread: %w", ErrChat, err))
	}
	l = l.With().Str("thread_id", thread.ID).Logger()
	s.Registry.MarkThreadProcessed(thread.ID)

	if _, _, err := s.Store.InsertIfAbsent(ctx, thread.ID, d.NodeID, url); err != nil {
		return s.insertFailure(span, l, err)
	}
	l.Info().Msg("created thread for discussion")
	observability.RecordSync(observability.DirectionReverse, eventDiscussionCreated, observability.OutcomeSynced)
	return nil
}

// HandleDiscussionEdited is acknowledged only; edits are not synced.
func (s *ReverseService) HandleDiscussionEdited(ctx context.Context, ev domain.DiscussionEdited) error {
	s.logger().Info().
		Str("discussion_id", ev.Discussion.NodeID).
		Str("title", ev.Discussion.Title).
		Msg("discussion edited")
	s.suppressed(eventDiscussionEdited)
	return nil
}

// HandleCommentCreated relays a discussion comment into the mapped thread.
func (s *ReverseService) HandleCommentCreated(ctx context.Context, ev domain.CommentCreated) error {
	c := ev.Comment
	commentID := commentKey(c)
	tr := otel.Tracer("services/ReverseService")
	ctx, span := tr.Start(ctx, "HandleCommentCreated",
		trace.WithAttributes(
			attribute.String("discussion.id", ev.Discussion.NodeID),
			attribute.String("comment.id", commentID),
			attribute.String("github.delivery", ev.DeliveryID),
		),
	)
	defer span.End()

	l := s.logger().With().Str("discussion_id", ev.Discussion.NodeID).Str("comment_id", commentID).Logger()

	if HasChatOriginMarker(c.Body) {
		l.Debug().Str("reason", "chat_origin").Msg("skip comment")
		s.suppressed(eventCommentCreated)
		return nil
	}
	if s.Registry.WasCommentRelayed(commentID) {
		l.Debug().Str("reason", "relayed").Msg("skip comment")
		s.suppressed(eventCommentCreated)
		return nil
	}
	if !s.Registry.AcquireCommentLock(commentID) {
		l.Debug().Str("reason", "comment_locked").Msg("skip comment")
		s.suppressed(eventCommentCreated)
		return nil
	}
	defer s.Registry.ReleaseCommentLock(commentID)

	m, err := s.Store.FindByDiscussionID(ctx, ev.Discussion.NodeID)
	if err != nil {
		return s.fail(span, eventCommentCreated, fmt.Errorf("%w: find mapping: %w", ErrStore, err))
	}
	if m == nil {
		l.Info().Msg("no thread mapped for discussion, comment not synced")
		s.suppressed(eventCommentCreated)
		return nil
	}
	l = l.With().Str("thread_id", m.ThreadID).Logger()

	conv, err := s.Chat.Conversation(ctx, m.ThreadID)
	if err != nil {
		return s.fail(span, eventCommentCreated, fmt.Errorf("%w: fetch thread: %w", ErrChat, err))
	}
	if !conv.Postable {
		l.Warn().Msg("mapped channel does not accept messages")
		s.suppressed(eventCommentCreated)
		return nil
	}

	if _, err := s.Chat.Send(ctx, m.ThreadID, ReverseMessageBody(c.User.Login, c.Body, c.HTMLURL)); err != nil {
		return s.fail(span, eventCommentCreated, fmt.Errorf("%w: send message: %w", ErrChat, err))
	}
	s.Registry.MarkCommentRelayed(commentID)

	l.Info().Msg("comment synced")
	observability.RecordSync(observability.DirectionReverse, eventCommentCreated, observability.OutcomeSynced)
	return nil
}

// pairableThread returns a recent unmapped thread whose title matches.
func (s *ReverseService) pairableThread(ctx context.Context, threads []domain.ChatThread, title string) (domain.ChatThread, bool, error) {
	want := registry.NormalizeTitle(title)
	now := s.now()
	for _, t := range threads {
		if t.CreatedAt.IsZero() || now.Sub(t.CreatedAt) > s.similarWindow() {
			continue
		}
		if registry.NormalizeTitle(t.Title) != want {
			continue
		}
		m, err := s.Store.FindByThreadID(ctx, t.ID)
		if err != nil {
			return domain.ChatThread{}, false, fmt.Errorf("%w: find mapping: %w", ErrStore, err)
		}
		if m != nil {
			continue
		}
		return t, true, nil
	}
	return domain.ChatThread{}, false, nil
}

func (s *ReverseService) discussionURL(ctx context.Context, l zerolog.Logger, d domain.Discussion) string {
	if d.HTMLURL != "" || s.Locator == nil {
		return d.HTMLURL
	}
	url, err := s.Locator.DiscussionURL(ctx, d.NodeID)
	if err != nil {
		l.Warn().Err(remoteFailure("resolve discussion url", err)).Msg("cannot resolve discussion url")
		return ""
	}
	return url
}

func (s *ReverseService) insertFailure(span trace.Span, l zerolog.Logger, err error) error {
	if errors.Is(err, repo.ErrMappingConflict) {
		l.Warn().Msg("mapping conflict, keeping existing pair")
		s.suppressed(eventDiscussionCreated)
		return nil
	}
	return s.fail(span, eventDiscussionCreated, fmt.Errorf("%w: insert mapping: %w", ErrStore, err))
}

func (s *ReverseService) fail(span trace.Span, event string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observability.RecordSync(observability.DirectionReverse, event, observability.OutcomeFailed)
	return err
}

func (s *ReverseService) suppressed(event string) {
	observability.RecordSync(observability.DirectionReverse, event, observability.OutcomeSuppressed)
}

// commentKey prefers the GraphQL node id and falls back to the REST id.
func commentKey(c domain.Comment) string {
	if c.NodeID != "" {
		return c.NodeID
	}
	return strconv.FormatInt(c.ID, 10)
}
