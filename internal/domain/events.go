package domain

import "time"

// ThreadCreated is emitted by the chat event source when a thread is opened.
type ThreadCreated struct {
	ThreadID  string
	Title     string
	ParentID  string
	GuildID   string
	CreatedAt time.Time
}

// MessageCreated is emitted by the chat event source for every new message.
// ThreadID is the channel the message was posted in; ParentID is that
// channel's parent (the forum channel when the message lives in a thread).
type MessageCreated struct {
	MessageID  string
	ThreadID   string
	ParentID   string
	AuthorID   string
	AuthorName string
	IsBot      bool
	Content    string
}

// ChatMessage is a message fetched back from the chat platform.
type ChatMessage struct {
	ID         string
	ThreadID   string
	AuthorName string
	Content    string
}

// ChatThread is a thread listed or created on the chat platform.
type ChatThread struct {
	ID        string
	Title     string
	ParentID  string
	CreatedAt time.Time
}

// Conversation is a chat destination resolved by id. Postable is false for
// channel kinds that cannot receive plain messages (categories, forums).
type Conversation struct {
	ID       string
	Postable bool
}

// BoardUser is the author of a remote discussion or comment.
type BoardUser struct {
	Login string `json:"login"`
}

// Discussion is the discussion object carried by board webhooks.
type Discussion struct {
	ID      int64     `json:"id"`
	NodeID  string    `json:"node_id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	HTMLURL string    `json:"html_url"`
	User    BoardUser `json:"user"`
}

// Comment is the comment object carried by board webhooks.
type Comment struct {
	ID      int64     `json:"id"`
	NodeID  string    `json:"node_id"`
	Body    string    `json:"body"`
	HTMLURL string    `json:"html_url"`
	User    BoardUser `json:"user"`
}

// DiscussionCreated is a verified discussion/created webhook.
type DiscussionCreated struct {
	DeliveryID string
	Discussion Discussion
}

// DiscussionEdited is a verified discussion/edited webhook.
type DiscussionEdited struct {
	DeliveryID string
	Discussion Discussion
}

// CommentCreated is a verified discussion_comment/created webhook.
type CommentCreated struct {
	DeliveryID string
	Discussion Discussion
	Comment    Comment
}

// RemoteDiscussion is the result of creating a discussion on the board.
type RemoteDiscussion struct {
	ID  string
	URL string
}

// RemoteComment is the result of adding a comment on the board.
type RemoteComment struct {
	ID  string
	URL string
}

// WebhookEvent is a verified board webhook resolved into one of the concrete
// event types below. The set is closed.
type WebhookEvent interface {
	webhookEvent()
}

// Ping is GitHub's hook-installed probe.
type Ping struct {
	DeliveryID string
	Zen        string
}

// UnhandledEvent is any well-formed delivery the bridge does not act on.
type UnhandledEvent struct {
	DeliveryID string
	Event      string
	Action     string
}

func (DiscussionCreated) webhookEvent() {}
func (DiscussionEdited) webhookEvent()  {}
func (CommentCreated) webhookEvent()    {}
func (Ping) webhookEvent()              {}
func (UnhandledEvent) webhookEvent()    {}
