package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
)

func threadCreatedEvent(ch *discordgo.Channel) domain.ThreadCreated {
	return domain.ThreadCreated{
		ThreadID:  ch.ID,
		Title:     ch.Name,
		ParentID:  ch.ParentID,
		GuildID:   ch.GuildID,
		CreatedAt: snowflakeTime(ch.ID),
	}
}

func messageCreatedEvent(m *discordgo.Message, parentID string) domain.MessageCreated {
	ev := domain.MessageCreated{
		MessageID: m.ID,
		ThreadID:  m.ChannelID,
		ParentID:  parentID,
		Content:   m.Content,
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.AuthorName = m.Author.Username
		ev.IsBot = m.Author.Bot
	}
	return ev
}

func chatMessage(m *discordgo.Message) domain.ChatMessage {
	out := domain.ChatMessage{ID: m.ID, ThreadID: m.ChannelID, Content: m.Content}
	if m.Author != nil {
		out.AuthorName = m.Author.Username
	}
	return out
}

func chatThread(ch *discordgo.Channel) domain.ChatThread {
	return domain.ChatThread{
		ID:        ch.ID,
		Title:     ch.Name,
		ParentID:  ch.ParentID,
		CreatedAt: snowflakeTime(ch.ID),
	}
}

// snowflakeTime returns the creation time encoded in a Discord id, or the zero
// time for a malformed id.
func snowflakeTime(id string) time.Time {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}

// postable reports whether plain messages can be sent to a channel type.
func postable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	default:
		return false
	}
}
