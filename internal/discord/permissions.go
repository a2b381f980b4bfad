package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// requiredPermissions are what the bridge needs on the forum channel.
var requiredPermissions = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionViewChannel, "VIEW_CHANNEL"},
	{discordgo.PermissionReadMessageHistory, "READ_MESSAGE_HISTORY"},
	{discordgo.PermissionSendMessages, "SEND_MESSAGES"},
	{discordgo.PermissionSendMessagesInThreads, "SEND_MESSAGES_IN_THREADS"},
	{discordgo.PermissionCreatePublicThreads, "CREATE_PUBLIC_THREADS"},
	{discordgo.PermissionAddReactions, "ADD_REACTIONS"},
}

// missingPermissions lists the required permission names absent from perms.
// Administrator implies all of them.
func missingPermissions(perms int64) []string {
	if perms&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var missing []string
	for _, p := range requiredPermissions {
		if perms&p.bit == 0 {
			missing = append(missing, p.name)
		}
	}
	return missing
}

// checkPermissions logs the bot's effective permissions on the forum channel
// the first time the forum's guild becomes available. Missing permissions are
// reported, not fatal.
func (b *Bot) checkPermissions(g *discordgo.Guild) {
	if g == nil || b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return
	}
	ch, err := b.session.State.Channel(b.forumID)
	if err != nil || ch.GuildID != g.ID {
		return
	}
	b.permsOnce.Do(func() {
		l := b.log.With().Str("channel_id", b.forumID).Str("channel", ch.Name).Logger()
		if ch.Type != discordgo.ChannelTypeGuildForum {
			l.Warn().Int("type", int(ch.Type)).Msg("configured channel is not a forum channel")
		}
		perms, err := b.session.State.UserChannelPermissions(b.session.State.User.ID, b.forumID)
		if err != nil {
			l.Warn().Err(err).Msg("cannot compute channel permissions")
			return
		}
		if missing := missingPermissions(perms); len(missing) > 0 {
			l.Warn().Str("missing", strings.Join(missing, ",")).Msg("bot lacks permissions on forum channel")
			return
		}
		l.Info().Msg("forum channel permissions ok")
	})
}
