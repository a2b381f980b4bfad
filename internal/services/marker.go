package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// ChatOriginMarker is appended to board comments relayed from Discord.
	// GitHub renders HTML comments invisibly.
	ChatOriginMarker = "<!-- [via-discord] -->"
	chatOriginTag    = "[via-discord]"

	// BoardOriginMarker is appended to Discord messages relayed from GitHub.
	BoardOriginMarker = "[github-comment]"

	// Discord rejects message content longer than this many characters.
	maxChatMessageRunes = 2000
)

// HasChatOriginMarker reports whether a board comment was relayed from chat.
// The bare tag is matched so a stripped HTML comment still counts.
func HasChatOriginMarker(body string) bool {
	return strings.Contains(body, chatOriginTag)
}

// HasBoardOriginMarker reports whether a chat message was relayed from the
// board.
func HasBoardOriginMarker(content string) bool {
	return strings.Contains(content, BoardOriginMarker)
}

// ForwardCommentBody formats a Discord message as a discussion comment.
func ForwardCommentBody(author, content string) string {
	return fmt.Sprintf("**%s** (Discord):\n\n%s\n\n%s", author, content, ChatOriginMarker)
}

// ReverseMessageBody formats a discussion comment as a Discord message. The
// comment text is clipped so the attribution, link and marker always fit.
func ReverseMessageBody(login, body, url string) string {
	head := fmt.Sprintf("**%s**:\n\n", login)
	tail := fmt.Sprintf("\n\n<%s> %s", url, BoardOriginMarker)

	room := maxChatMessageRunes - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	if room < 0 {
		room = 0
	}
	if utf8.RuneCountInString(body) > room {
		r := []rune(body)
		if room > 1 {
			body = string(r[:room-1]) + "…"
		} else {
			body = string(r[:room])
		}
	}
	return head + body + tail
}
