// Package discord adapts a discordgo session to the capability
// contracts the core needs: send a message, iterate recent history,
// delete a message, fetch a channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/Hubz123/YTwatch/announce"
	"github.com/Hubz123/YTwatch/delivery"
)

// Session wraps an open discordgo session.
type Session struct {
	dg *discordgo.Session
}

// Connect opens a gateway session with the guild/message intents the
// watcher needs.
func Connect(token string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	ready := make(chan struct{})
	dg.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("gateway ready")
		close(ready)
	})
	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	<-ready
	return &Session{dg: dg}, nil
}

// Close shuts the gateway connection.
func (s *Session) Close() error {
	return s.dg.Close()
}

// SelfID is the bot user's id, used to scope history scans to our own
// messages.
func (s *Session) SelfID() string {
	if s.dg.State != nil && s.dg.State.User != nil {
		return s.dg.State.User.ID
	}
	return ""
}

// FetchChannel verifies the announce destination exists and is a text
// surface.
func (s *Session) FetchChannel(channelID string) error {
	ch, err := s.dg.Channel(channelID)
	if err != nil {
		return fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread:
		return nil
	default:
		return fmt.Errorf("channel %s is not a text channel or thread", channelID)
	}
}

// Send implements delivery.Sender. Mention scoping rides
// AllowedMentions so the template can never ping classes the
// configuration did not grant. Rate-limit pushback is translated to
// delivery.ErrRateLimited.
func (s *Session) Send(ctx context.Context, channelID, content string, mentionUsers, mentionRoles bool) (string, error) {
	var parse []discordgo.AllowedMentionType
	if mentionUsers {
		parse = append(parse, discordgo.AllowedMentionTypeUsers)
	}
	if mentionRoles {
		parse = append(parse, discordgo.AllowedMentionTypeRoles)
	}

	msg, err := s.dg.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: parse},
	}, discordgo.WithContext(ctx))
	if err != nil {
		var rl *discordgo.RateLimitError
		if errors.As(err, &rl) {
			return "", fmt.Errorf("%w: retry after %s", delivery.ErrRateLimited, rl.RetryAfter)
		}
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == 429 {
			return "", fmt.Errorf("%w: %v", delivery.ErrRateLimited, err)
		}
		return "", fmt.Errorf("send to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// RecentMessages implements announce.History: bounded newest-first
// iteration in pages of 100, flattening content and embeds into one
// searchable string per message.
func (s *Session) RecentMessages(ctx context.Context, channelID string, limit int) ([]announce.Message, error) {
	out := make([]announce.Message, 0, limit)
	beforeID := ""
	for len(out) < limit {
		page := limit - len(out)
		if page > 100 {
			page = 100
		}
		msgs, err := s.dg.ChannelMessages(channelID, page, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", channelID, err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			out = append(out, announce.Message{
				ID:        m.ID,
				AuthorID:  authorID(m),
				Content:   flatten(m),
				Timestamp: m.Timestamp,
			})
		}
		beforeID = msgs[len(msgs)-1].ID
	}
	return out, nil
}

// DeleteMessage implements announce.History.
func (s *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return s.dg.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func authorID(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	return m.Author.ID
}

func flatten(m *discordgo.Message) string {
	text := m.Content
	for _, e := range m.Embeds {
		if e.URL != "" {
			text += "\n" + e.URL
		}
		if e.Description != "" {
			text += "\n" + e.Description
		}
	}
	return text
}

// Mention renders the configured notify target as a Discord mention
// string: role takes precedence over user.
func Mention(roleID, userID string) string {
	if roleID != "" {
		if _, err := strconv.ParseUint(roleID, 10, 64); err == nil {
			return "<@&" + roleID + ">"
		}
	}
	if userID != "" {
		if _, err := strconv.ParseUint(userID, 10, 64); err == nil {
			return "<@" + userID + ">"
		}
	}
	return ""
}
