// Package discord is the Discord adapter of the bridge. It owns the gateway
// session, turns gateway events into domain events for the sync services, and
// implements the chat capabilities those services call back into (send,
// react, read the starter message, list/create forum threads).
//
// Outbound sends are paced by a token bucket; there is no retry.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/observability"
)

const (
	apiName = "discord"

	// Forum thread names are capped at 100 characters.
	maxThreadNameRunes = 100

	// One week, the longest auto-archive Discord allows.
	threadArchiveMinutes = 10080
)

// ErrNoStarterMessage is returned when a thread's first message cannot be
// read.
var ErrNoStarterMessage = errors.New("discord: thread has no starter message")

// restAPI is the subset of *discordgo.Session REST calls the adapter uses.
type restAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ForumThreadStart(channelID, name string, archiveDuration int, content string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildThreadsActive(guildID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
}

// channelCache is the subset of *discordgo.State the adapter reads.
type channelCache interface {
	Channel(channelID string) (*discordgo.Channel, error)
}

// ThreadHandler receives thread-created events.
type ThreadHandler func(context.Context, domain.ThreadCreated) error

// MessageHandler receives message-created events.
type MessageHandler func(context.Context, domain.MessageCreated) error

// Config configures Bot.
type Config struct {
	Token          string
	ForumChannelID string

	// SendRPS paces outbound messages and reactions. Zero disables pacing.
	SendRPS float64
}

// Bot is safe for concurrent use once opened.
type Bot struct {
	session *discordgo.Session
	rest    restAPI
	state   channelCache
	limiter *rate.Limiter
	forumID string
	log     zerolog.Logger

	mu        sync.RWMutex
	ctx       context.Context
	onThread  ThreadHandler
	onMessage MessageHandler
	permsOnce sync.Once
}

// New builds a Bot. It does not connect; call Open.
func New(cfg Config) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	b := &Bot{
		session: s,
		rest:    s,
		state:   s.State,
		limiter: newLimiter(cfg.SendRPS),
		forumID: cfg.ForumChannelID,
		log:     log.With().Str("component", "discord").Logger(),
		ctx:     context.Background(),
	}
	return b, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// OnThreadCreated registers the thread-created sink. Call before Open.
func (b *Bot) OnThreadCreated(h ThreadHandler) {
	b.mu.Lock()
	b.onThread = h
	b.mu.Unlock()
}

// OnMessageCreated registers the message-created sink. Call before Open.
func (b *Bot) OnMessageCreated(h MessageHandler) {
	b.mu.Lock()
	b.onMessage = h
	b.mu.Unlock()
}

// Open registers gateway handlers and connects. Events are dispatched with
// ctx as their parent context.
func (b *Bot) Open(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord session ready")
	})
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		b.checkPermissions(g.Guild)
	})
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ThreadCreate) {
		b.handleThreadCreate(e)
	})
	b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		b.handleMessageCreate(e)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Close disconnects the gateway session.
func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) eventContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

func (b *Bot) handleThreadCreate(e *discordgo.ThreadCreate) {
	if e == nil || e.Channel == nil || !e.NewlyCreated {
		return
	}
	b.mu.RLock()
	h := b.onThread
	b.mu.RUnlock()
	if h == nil {
		return
	}
	ev := threadCreatedEvent(e.Channel)
	if err := h(b.eventContext(), ev); err != nil {
		b.log.Error().Err(err).Str("thread_id", ev.ThreadID).Msg("thread create handler failed")
	}
}

func (b *Bot) handleMessageCreate(e *discordgo.MessageCreate) {
	if e == nil || e.Message == nil || e.Author == nil {
		return
	}
	b.mu.RLock()
	h := b.onMessage
	b.mu.RUnlock()
	if h == nil {
		return
	}

	ctx := b.eventContext()
	ch, err := b.lookupChannel(ctx, e.ChannelID)
	if err != nil {
		b.log.Debug().Err(err).Str("channel_id", e.ChannelID).Msg("cannot resolve message channel")
		return
	}
	if !ch.IsThread() {
		return
	}
	ev := messageCreatedEvent(e.Message, ch.ParentID)
	if err := h(ctx, ev); err != nil {
		b.log.Error().Err(err).Str("message_id", ev.MessageID).Msg("message create handler failed")
	}
}

// Send posts content to a channel or thread and returns the message id.
func (b *Bot) Send(ctx context.Context, channelID, content string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}
	m, err := b.rest.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "send_message", err)
	if err != nil {
		return "", fmt.Errorf("discord: send message to %s: %w", channelID, err)
	}
	return m.ID, nil
}

// React adds a unicode emoji reaction to a message.
func (b *Bot) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	err := b.rest.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "add_reaction", err)
	if err != nil {
		return fmt.Errorf("discord: react to %s: %w", messageID, err)
	}
	return nil
}

// StarterMessage returns the first message of a forum thread, whose id equals
// the thread id.
func (b *Bot) StarterMessage(ctx context.Context, threadID string) (domain.ChatMessage, error) {
	m, err := b.rest.ChannelMessage(threadID, threadID, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "get_message", err)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: %w", ErrNoStarterMessage, err)
	}
	return chatMessage(m), nil
}

// ActiveThreads lists the active threads under parentID.
func (b *Bot) ActiveThreads(ctx context.Context, parentID string) ([]domain.ChatThread, error) {
	parent, err := b.lookupChannel(ctx, parentID)
	if err != nil {
		return nil, err
	}
	list, err := b.rest.GuildThreadsActive(parent.GuildID, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "list_active_threads", err)
	if err != nil {
		return nil, fmt.Errorf("discord: list active threads: %w", err)
	}
	var out []domain.ChatThread
	for _, ch := range list.Threads {
		if ch != nil && ch.ParentID == parentID {
			out = append(out, chatThread(ch))
		}
	}
	return out, nil
}

// CreateThread opens a forum post under parentID.
func (b *Bot) CreateThread(ctx context.Context, parentID, title, content string) (domain.ChatThread, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.ChatThread{}, err
	}
	ch, err := b.rest.ForumThreadStart(parentID, clipRunes(title, maxThreadNameRunes), threadArchiveMinutes, content, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "create_thread", err)
	if err != nil {
		return domain.ChatThread{}, fmt.Errorf("discord: create forum thread: %w", err)
	}
	return chatThread(ch), nil
}

// Conversation resolves a channel and reports whether it accepts messages.
func (b *Bot) Conversation(ctx context.Context, id string) (domain.Conversation, error) {
	ch, err := b.lookupChannel(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{ID: ch.ID, Postable: postable(ch.Type)}, nil
}

// lookupChannel reads the gateway cache first and falls back to REST.
func (b *Bot) lookupChannel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if b.state != nil {
		if ch, err := b.state.Channel(id); err == nil && ch != nil {
			return ch, nil
		}
	}
	ch, err := b.rest.Channel(id, discordgo.WithContext(ctx))
	observability.RecordRemoteCall(apiName, "get_channel", err)
	if err != nil {
		return nil, fmt.Errorf("discord: get channel %s: %w", id, err)
	}
	return ch, nil
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
