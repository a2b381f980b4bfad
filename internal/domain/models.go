// Package domain defines the persistence model and the platform-neutral event
// types shared by the repository, service, and transport layers of the bridge.
package domain

import "time"

// ThreadMapping is the persisted 1:1 association between a chat thread and a
// remote discussion. Both ids are unique: a thread maps to at most one
// discussion and a discussion to at most one thread. Rows are written once
// and never updated.
//
// Fields:
//   - ID: surrogate UUID primary key (char(36)).
//   - ThreadID: chat-platform thread id (unique).
//   - DiscussionID: remote discussion node id (unique).
//   - DiscussionURL: browser URL of the discussion, used for link messages.
//   - CreatedAt: first time either side originated the conversation.
type ThreadMapping struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	ThreadID      string    `json:"thread_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_thread_mappings_thread"`
	DiscussionID  string    `json:"discussion_id"  gorm:"type:varchar(128);not null;uniqueIndex:ux_thread_mappings_discussion"`
	DiscussionURL string    `json:"discussion_url" gorm:"type:varchar(512);not null"`
	CreatedAt     time.Time `json:"created_at"     gorm:"not null;index"`
}

// TableName returns the database table name for ThreadMapping.
func (ThreadMapping) TableName() string { return "thread_mappings" }

// PendingOperation describes an in-flight sync attempt held by the in-process
// registry: a thread title being turned into a discussion, or a message or
// comment being relayed. It is never persisted.
type PendingOperation struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
