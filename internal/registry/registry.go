// Package registry implements the in-process dedup and lock registry used by
// the sync services.
//
// It tracks in-flight operations (thread-title locks, message and comment
// locks) and recently completed ones (seen messages, relayed comments,
// processed threads) so that duplicate or interleaved deliveries from Discord
// and GitHub never perform the same side effect twice.
//
// Expiry is lazy: an entry is considered gone once now-recordedAt exceeds its
// window, checked on lookup. There are no timers, and the clock is injectable
// so tests can move time explicitly.
//
// State is process-local. Running more than one bridge process against the
// same channel and repository is not supported.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

// Kinds reported in domain.PendingOperation.Kind.
const (
	KindThread  = "thread"
	KindMessage = "message"
	KindComment = "comment"
)

// Config holds the windows and bounds of the registry. Zero values are
// replaced by DefaultConfig's.
type Config struct {
	ThreadLockTTL         time.Duration
	ItemLockTTL           time.Duration
	SeenWindow            time.Duration
	SentDownstreamWindow  time.Duration
	ProcessedThreadWindow time.Duration
	CommentSeenWindow     time.Duration
	DiscussionFlagTTL     time.Duration
	MaxEntries            int
	PruneBatch            int
}

// DefaultConfig returns the reference windows.
func DefaultConfig() Config {
	return Config{
		ThreadLockTTL:         60 * time.Second,
		ItemLockTTL:           60 * time.Second,
		SeenWindow:            30 * time.Minute,
		SentDownstreamWindow:  6 * time.Hour,
		ProcessedThreadWindow: 24 * time.Hour,
		CommentSeenWindow:     time.Hour,
		DiscussionFlagTTL:     10 * time.Second,
		MaxEntries:            1000,
		PruneBatch:            100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ThreadLockTTL <= 0 {
		c.ThreadLockTTL = d.ThreadLockTTL
	}
	if c.ItemLockTTL <= 0 {
		c.ItemLockTTL = d.ItemLockTTL
	}
	if c.SeenWindow <= 0 {
		c.SeenWindow = d.SeenWindow
	}
	if c.SentDownstreamWindow <= 0 {
		c.SentDownstreamWindow = d.SentDownstreamWindow
	}
	if c.ProcessedThreadWindow <= 0 {
		c.ProcessedThreadWindow = d.ProcessedThreadWindow
	}
	if c.CommentSeenWindow <= 0 {
		c.CommentSeenWindow = d.CommentSeenWindow
	}
	if c.DiscussionFlagTTL <= 0 {
		c.DiscussionFlagTTL = d.DiscussionFlagTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.PruneBatch <= 0 {
		c.PruneBatch = d.PruneBatch
	}
	return c
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	threadLocks  map[string]domain.PendingOperation
	messageLocks map[string]domain.PendingOperation
	commentLocks map[string]domain.PendingOperation

	seen        *expiringSet
	sent        *expiringSet
	processed   *expiringSet
	discussions *expiringSet
	comments    *expiringSet
}

// New builds a Registry from cfg.
func New(cfg Config, opts ...Option) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:          cfg,
		now:          time.Now,
		threadLocks:  make(map[string]domain.PendingOperation),
		messageLocks: make(map[string]domain.PendingOperation),
		commentLocks: make(map[string]domain.PendingOperation),
		// Sweep-only sets: expired entries are dropped once the set grows
		// past MaxEntries, live ones are kept.
		seen:        newExpiringSet(cfg.SeenWindow, cfg.MaxEntries, 0),
		sent:        newExpiringSet(cfg.SentDownstreamWindow, cfg.MaxEntries, 0),
		processed:   newExpiringSet(cfg.ProcessedThreadWindow, cfg.MaxEntries, 0),
		discussions: newExpiringSet(cfg.DiscussionFlagTTL, cfg.MaxEntries, 0),
		// Hard-capped: the oldest PruneBatch go when over MaxEntries.
		comments: newExpiringSet(cfg.CommentSeenWindow, cfg.MaxEntries, cfg.PruneBatch),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NormalizeTitle returns the lock key for a thread or discussion title:
// trimmed and case-folded.
func NormalizeTitle(title string) string {
	return cases.Fold().String(strings.TrimSpace(title))
}

// AcquireThreadLock claims the normalized title for threadID. It fails while
// any live lock holds the title, including one held by the same thread.
func (r *Registry) AcquireThreadLock(title, threadID string) bool {
	return r.acquire(r.threadLocks, KindThread, NormalizeTitle(title), threadID, r.cfg.ThreadLockTTL)
}

// ReleaseThreadLock drops the lock on title. Releasing an unheld title is a
// no-op.
func (r *Registry) ReleaseThreadLock(title string) {
	r.release(r.threadLocks, NormalizeTitle(title))
}

// AcquireMessageLock is a one-shot, non-reentrant lock on a chat message id.
func (r *Registry) AcquireMessageLock(messageID string) bool {
	return r.acquire(r.messageLocks, KindMessage, messageID, uuid.NewString(), r.cfg.ItemLockTTL)
}

func (r *Registry) ReleaseMessageLock(messageID string) {
	r.release(r.messageLocks, messageID)
}

// AcquireCommentLock is a one-shot, non-reentrant lock on a board comment id.
func (r *Registry) AcquireCommentLock(commentID string) bool {
	return r.acquire(r.commentLocks, KindComment, commentID, uuid.NewString(), r.cfg.ItemLockTTL)
}

func (r *Registry) ReleaseCommentLock(commentID string) {
	r.release(r.commentLocks, commentID)
}

// MarkSeen records item under scope for SeenWindow.
func (r *Registry) MarkSeen(scope, item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.add(scopedKey(scope, item), r.now())
}

func (r *Registry) IsSeen(scope, item string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.has(scopedKey(scope, item), r.now())
}

// MarkSentDownstream records that a chat message already produced a board
// comment.
func (r *Registry) MarkSentDownstream(item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent.add(item, r.now())
}

func (r *Registry) WasSentDownstream(item string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent.has(item, r.now())
}

// MarkThreadProcessed adds threadID to the processed set.
func (r *Registry) MarkThreadProcessed(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed.add(threadID, r.now())
}

func (r *Registry) IsThreadProcessed(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed.has(threadID, r.now())
}

// ClaimDiscussion sets the short-lived processing flag for a discussion and
// reports whether the caller set it. A second claim within the flag TTL
// returns false.
func (r *Registry) ClaimDiscussion(discussionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discussions.addIfAbsent(discussionID, r.now())
}

// MarkCommentRelayed records a board comment id as relayed to chat.
func (r *Registry) MarkCommentRelayed(commentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments.add(commentID, r.now())
}

func (r *Registry) WasCommentRelayed(commentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.comments.has(commentID, r.now())
}

// Pending returns the live locks, oldest first.
func (r *Registry) Pending() []domain.PendingOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]domain.PendingOperation, 0, len(r.threadLocks)+len(r.messageLocks)+len(r.commentLocks))
	collect := func(m map[string]domain.PendingOperation, ttl time.Duration) {
		for _, op := range m {
			if now.Sub(op.CreatedAt) <= ttl {
				out = append(out, op)
			}
		}
	}
	collect(r.threadLocks, r.cfg.ThreadLockTTL)
	collect(r.messageLocks, r.cfg.ItemLockTTL)
	collect(r.commentLocks, r.cfg.ItemLockTTL)

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) acquire(locks map[string]domain.PendingOperation, kind, key, owner string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if held, ok := locks[key]; ok && now.Sub(held.CreatedAt) <= ttl {
		return false
	}
	locks[key] = domain.PendingOperation{Key: key, Kind: kind, OwnerID: owner, CreatedAt: now}
	return true
}

func (r *Registry) release(locks map[string]domain.PendingOperation, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(locks, key)
}

func scopedKey(scope, item string) string { return scope + "\x00" + item }
