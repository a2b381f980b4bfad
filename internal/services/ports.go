package services

import (
	"context"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// MappingStore persists the thread <-> discussion bijection. Find methods
// return (nil, nil) on a miss. InsertIfAbsent returns repo.ErrMappingConflict
// when either id is already mapped elsewhere.
type MappingStore interface {
	InsertIfAbsent(ctx context.Context, threadID, discussionID, url string) (*domain.ThreadMapping, bool, error)
	FindByThreadID(ctx context.Context, threadID string) (*domain.ThreadMapping, error)
	FindByDiscussionID(ctx context.Context, discussionID string) (*domain.ThreadMapping, error)
	ListAll(ctx context.Context) ([]domain.ThreadMapping, error)
}

// DiscussionCreator can open a discussion in the configured category.
type DiscussionCreator interface {
	CreateDiscussion(ctx context.Context, title, body string) (domain.RemoteDiscussion, error)
}

// CommentAdder can add a comment to a discussion.
type CommentAdder interface {
	AddComment(ctx context.Context, discussionID, body string) (domain.RemoteComment, error)
}

// DiscussionLocator resolves a discussion's browser URL.
type DiscussionLocator interface {
	DiscussionURL(ctx context.Context, discussionID string) (string, error)
}

// Board is what forward sync needs from GitHub.
type Board interface {
	DiscussionCreator
	CommentAdder
}

// ChatPoster sends a plain message to a channel or thread and returns its id.
type ChatPoster interface {
	Send(ctx context.Context, channelID, content string) (string, error)
}

// ChatReactor adds an emoji reaction to a message.
type ChatReactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// StarterFetcher returns the first message of a forum thread.
type StarterFetcher interface {
	StarterMessage(ctx context.Context, threadID string) (domain.ChatMessage, error)
}

// ThreadDirectory lists, creates, and resolves forum threads.
type ThreadDirectory interface {
	ActiveThreads(ctx context.Context, parentID string) ([]domain.ChatThread, error)
	CreateThread(ctx context.Context, parentID, title, content string) (domain.ChatThread, error)
	Conversation(ctx context.Context, id string) (domain.Conversation, error)
}

// ForwardChat is what forward sync needs from Discord.
type ForwardChat interface {
	ChatPoster
	ChatReactor
	StarterFetcher
}

// ReverseChat is what reverse sync needs from Discord.
type ReverseChat interface {
	ChatPoster
	ThreadDirectory
}

// Dedup is the in-process lock and seen-set registry. *registry.Registry
// implements it.
type Dedup interface {
	AcquireThreadLock(title, threadID string) bool
	ReleaseThreadLock(title string)
	AcquireMessageLock(messageID string) bool
	ReleaseMessageLock(messageID string)
	AcquireCommentLock(commentID string) bool
	ReleaseCommentLock(commentID string)
	MarkSeen(scope, item string)
	IsSeen(scope, item string) bool
	MarkSentDownstream(item string)
	WasSentDownstream(item string) bool
	MarkThreadProcessed(threadID string)
	IsThreadProcessed(threadID string) bool
	ClaimDiscussion(discussionID string) bool
	MarkCommentRelayed(commentID string)
	WasCommentRelayed(commentID string) bool
}
