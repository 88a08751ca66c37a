package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter connects the group chat to Slack over Socket Mode. Agent
// messages post under the persona the bridge resolved for the sending
// handle, so each agent shows up as its own name in the channel.
type SlackAdapter struct {
	client *slack.Client
	socket *socketmode.Client
	logger *zap.Logger

	handler MessageHandler

	mu      sync.Mutex
	threads map[string]string // channelID:userID -> thread_ts
}

// NewSlackAdapter creates the adapter. botToken is the Bot User OAuth
// Token (xoxb-...), appToken the App-Level Token (xapp-...) required for
// Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackAdapter{
		client:  client,
		socket:  socketmode.New(client, socketmode.OptionLog(zap.NewStdLog(logger))),
		threads: make(map[string]string),
		logger:  logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect starts the Socket Mode loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.drainEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *SlackAdapter) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleEvent(evt)
		}
	}
}

func (a *SlackAdapter) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*evt.Request)
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msg.BotID != "" || a.handler == nil {
		return
	}

	// Remember the thread so the agent's reply lands in it.
	threadTS := msg.ThreadTimeStamp
	if threadTS == "" {
		threadTS = msg.TimeStamp
	}
	a.mu.Lock()
	a.threads[msg.Channel+":"+msg.User] = threadTS
	a.mu.Unlock()

	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: msg.Channel,
		UserID:    msg.User,
		UserName:  msg.User,
		Content:   msg.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts the message, styled with the sender's persona when present.
func (a *SlackAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, personaOpts(msg.Persona)...)

	if _, _, err := a.client.PostMessage(msg.ChannelID, opts...); err != nil {
		return fmt.Errorf("slack send to %s: %w", msg.ChannelID, err)
	}
	return nil
}

func personaOpts(p *Persona) []slack.MsgOption {
	if p == nil {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionUsername(p.Name)}
	if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

// Broadcast posts to every channel the bot is a member of. A failing
// channel is logged and skipped.
func (a *SlackAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	text := msg.Content
	if msg.Title != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Title, msg.Content)
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	opts = append(opts, personaOpts(msg.Persona)...)

	channels, _, err := a.client.GetConversationsForUser(&slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	})
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}
	for _, ch := range channels {
		if _, _, err := a.client.PostMessage(ch.ID, opts...); err != nil {
			a.logger.Warn("slack broadcast to channel failed",
				zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

// Close is a no-op; cancelling the Connect context stops the socket loop.
func (a *SlackAdapter) Close() error { return nil }
