package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/registry"
	"github.com/ku-fe/kufe-discussions-bot/internal/repo"
)

const testForum = "forum-1"

var nopLog = zerolog.Nop()

var errNoStarter = errors.New("thread has no starter message")

// ---- chat fake ----

type sentMessage struct {
	ChannelID string
	Content   string
}

type reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

type fakeChat struct {
	mu sync.Mutex

	sends     []sentMessage
	reactions []reaction
	created   []domain.ChatThread

	starters   map[string]domain.ChatMessage
	starterErr error
	threads    []domain.ChatThread
	convs      map[string]domain.Conversation
	convErr    error
	sendErr    error
	createErr  error
	listErr    error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		starters: map[string]domain.ChatMessage{},
		convs:    map[string]domain.Conversation{},
	}
}

func (c *fakeChat) Send(_ context.Context, channelID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sends = append(c.sends, sentMessage{channelID, content})
	return fmt.Sprintf("msg-%d", len(c.sends)), nil
}

func (c *fakeChat) React(_ context.Context, channelID, messageID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, reaction{channelID, messageID, emoji})
	return nil
}

func (c *fakeChat) StarterMessage(_ context.Context, threadID string) (domain.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starterErr != nil {
		return domain.ChatMessage{}, c.starterErr
	}
	m, ok := c.starters[threadID]
	if !ok {
		return domain.ChatMessage{}, errNoStarter
	}
	return m, nil
}

func (c *fakeChat) ActiveThreads(_ context.Context, parentID string) ([]domain.ChatThread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []domain.ChatThread
	for _, t := range append(append([]domain.ChatThread{}, c.threads...), c.created...) {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *fakeChat) CreateThread(_ context.Context, parentID, title, content string) (domain.ChatThread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return domain.ChatThread{}, c.createErr
	}
	t := domain.ChatThread{
		ID:        fmt.Sprintf("new%d", len(c.created)+1),
		Title:     title,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
	c.created = append(c.created, t)
	c.sends = append(c.sends, sentMessage{t.ID, content})
	return t, nil
}

func (c *fakeChat) Conversation(_ context.Context, id string) (domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.convErr != nil {
		return domain.Conversation{}, c.convErr
	}
	if conv, ok := c.convs[id]; ok {
		return conv, nil
	}
	return domain.Conversation{ID: id, Postable: true}, nil
}

func (c *fakeChat) sentTo(channelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.sends {
		if s.ChannelID == channelID {
			out = append(out, s.Content)
		}
	}
	return out
}

func (c *fakeChat) counts() (sends, reactions, created int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends), len(c.reactions), len(c.created)
}

// ---- board fake ----

type createCall struct{ Title, Body string }
type commentCall struct{ DiscussionID, Body string }

type fakeBoard struct {
	mu         sync.Mutex
	creates    []createCall
	comments   []commentCall
	createErr  error
	commentErr error
}

func (b *fakeBoard) CreateDiscussion(_ context.Context, title, body string) (domain.RemoteDiscussion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return domain.RemoteDiscussion{}, b.createErr
	}
	b.creates = append(b.creates, createCall{title, body})
	n := len(b.creates)
	return domain.RemoteDiscussion{
		ID:  fmt.Sprintf("d%d", n),
		URL: fmt.Sprintf("https://github.com/o/r/discussions/%d", n),
	}, nil
}

func (b *fakeBoard) AddComment(_ context.Context, discussionID, body string) (domain.RemoteComment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commentErr != nil {
		return domain.RemoteComment{}, b.commentErr
	}
	b.comments = append(b.comments, commentCall{discussionID, body})
	return domain.RemoteComment{
		ID:  fmt.Sprintf("c%d", len(b.comments)),
		URL: fmt.Sprintf("https://github.com/o/r/discussions/1#discussioncomment-%d", len(b.comments)),
	}, nil
}

func (b *fakeBoard) counts() (creates, comments int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.creates), len(b.comments)
}

// ---- failing store ----

var errDB = errors.New("database is gone")

type failingStore struct{}

func (failingStore) InsertIfAbsent(context.Context, string, string, string) (*domain.ThreadMapping, bool, error) {
	return nil, false, errDB
}
func (failingStore) FindByThreadID(context.Context, string) (*domain.ThreadMapping, error) {
	return nil, errDB
}
func (failingStore) FindByDiscussionID(context.Context, string) (*domain.ThreadMapping, error) {
	return nil, errDB
}
func (failingStore) ListAll(context.Context) ([]domain.ThreadMapping, error) { return nil, errDB }

// ---- wiring ----

func newTestStore(t *testing.T) *repo.MappingStore {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// One connection serializes writers so concurrent handlers never see
	// SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewMappingStore(db)
}

type harness struct {
	chat    *fakeChat
	board   *fakeBoard
	store   *repo.MappingStore
	reg     *registry.Registry
	forward *ForwardService
	reverse *ReverseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chat:  newFakeChat(),
		board: &fakeBoard{},
		store: newTestStore(t),
		reg:   registry.New(registry.DefaultConfig()),
	}
	h.forward = &ForwardService{
		Chat:           h.chat,
		Board:          h.board,
		Store:          h.store,
		Registry:       h.reg,
		ForumChannelID: testForum,
		Log:            &nopLog,
	}
	h.reverse = &ReverseService{
		Chat:           h.chat,
		Store:          h.store,
		Registry:       h.reg,
		ForumChannelID: testForum,
		Log:            &nopLog,
	}
	return h
}

func (h *harness) mappings(t *testing.T) []domain.ThreadMapping {
	t.Helper()
	all, err := h.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list mappings: %v", err)
	}
	return all
}

func (h *harness) seed(t *testing.T, threadID, discussionID string) {
	t.Helper()
	if _, _, err := h.store.InsertIfAbsent(context.Background(), threadID, discussionID, "https://github.com/o/r/discussions/"+discussionID); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
}
