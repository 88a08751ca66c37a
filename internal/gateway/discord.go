package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter connects the group chat to Discord. Agent messages post
// through a channel webhook when one is configured, which lets each agent
// speak under its own name; otherwise the bot prefixes the persona name.
type DiscordAdapter struct {
	token   string
	session *discordgo.Session
	handler MessageHandler
	logger  *zap.Logger

	mu       sync.Mutex
	webhooks map[string]string // channelID -> webhook URL
}

// NewDiscordAdapter creates the adapter. Connect opens the session.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetWebhook registers a channel webhook used for persona-styled posts.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	a.session = session

	if len(session.State.Guilds) == 0 {
		a.logger.Warn("discord bot is not in any server, invite it first")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(session.State.Guilds)))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || a.handler == nil {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ChannelID,
	})
}

// Send posts the message. Persona messages go through the channel webhook
// when one is registered, else as a bot message with the name prefixed.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.Lock()
	webhookURL := a.webhooks[msg.ChannelID]
	a.mu.Unlock()

	if msg.Persona != nil && webhookURL != "" {
		return a.sendViaWebhook(webhookURL, msg.Persona, msg.Content)
	}

	content := msg.Content
	if msg.Persona != nil {
		content = fmt.Sprintf("**[%s]** %s", msg.Persona.Name, msg.Content)
	}
	if _, err := a.session.ChannelMessageSend(msg.ChannelID, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(webhookURL string, p *Persona, content string) error {
	webhook, err := a.session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	_, err = a.session.WebhookExecute(webhook.ID, webhook.Token, false, &discordgo.WebhookParams{
		Content:  content,
		Username: p.Name,
	})
	if err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Broadcast posts to the first writable text channel of every guild.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	content := msg.Content
	if msg.Title != "" {
		content = fmt.Sprintf("**%s**\n%s", msg.Title, msg.Content)
	}
	if msg.Persona != nil {
		content = fmt.Sprintf("**[%s]** %s", msg.Persona.Name, content)
	}

	for _, guild := range a.session.State.Guilds {
		channels, err := a.session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed",
				zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if _, err := a.session.ChannelMessageSend(ch.ID, content); err == nil {
				break
			}
		}
	}
	return nil
}

// Close shuts the session down.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}
