package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/command"
	"github.com/kekehq/keke/internal/orchestrator"
)

// kindEmoji is the default persona icon per agent kind.
var kindEmoji = map[agent.Kind]string{
	agent.KindServant: ":robot_face:",
	agent.KindTask:    ":clipboard:",
	agent.KindAPI:     ":electric_plug:",
	agent.KindDev:     ":hammer_and_wrench:",
}

// Bridge connects platform adapters to the group chat: inbound platform
// messages become room posts from the human principal, and room events flow
// back out to the platform they came from, attributed to the agent that
// spoke.
type Bridge struct {
	room        *orchestrator.Room
	gateway     *Gateway
	broadcaster *Broadcaster
	directory   *agent.Directory
	humanHandle string
	commands    *command.Registry
	logger      *zap.Logger

	mu     sync.Mutex
	origin map[string]*InboundMessage // posted message id -> inbound source
}

// NewBridge wires the gateway's inbound handler to room. Call Run to start
// draining room events.
func NewBridge(room *orchestrator.Room, gw *Gateway, broadcaster *Broadcaster, directory *agent.Directory, humanHandle string, logger *zap.Logger) *Bridge {
	b := &Bridge{
		room:        room,
		gateway:     gw,
		broadcaster: broadcaster,
		directory:   directory,
		humanHandle: humanHandle,
		logger:      logger,
		origin:      make(map[string]*InboundMessage),
	}
	gw.SetHandler(b.handleInbound)
	return b
}

// SetCommands enables slash-command handling on inbound messages.
func (b *Bridge) SetCommands(reg *command.Registry) { b.commands = reg }

// handleInbound posts a platform message into the room as the human
// principal and remembers where it came from so the reply can find its way
// back.
func (b *Bridge) handleInbound(in *InboundMessage) {
	if b.commands != nil && command.IsCommand(in.Content) {
		res, err := b.commands.Dispatch(context.Background(), in.Content, &command.CommandContext{
			Platform:  in.Platform,
			ChannelID: in.ChannelID,
			UserID:    in.UserID,
			UserName:  in.UserName,
		})
		if err != nil {
			b.reply(in, "", "command failed: "+err.Error())
			return
		}
		b.reply(in, "", res.Content)
		return
	}

	msg, err := b.room.Post(context.Background(), b.humanHandle, in.Content)
	if err != nil {
		b.logger.Warn("inbound post failed",
			zap.String("platform", in.Platform),
			zap.String("user", in.UserName),
			zap.Error(err))
		b.reply(in, "", "could not deliver: "+err.Error())
		return
	}
	b.mu.Lock()
	b.origin[msg.ID] = in
	b.mu.Unlock()
}

// Run drains room events until ctx is cancelled. Replies correlated to an
// inbound message return to its platform channel; everything else addressed
// to the human is broadcast.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.room.Events():
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventReply:
		if ev.Err != nil {
			b.routeBack(ev.Message.ID, "", "agent failed: "+ev.Err.Error())
			return
		}
		if !b.routeBack(ev.Message.ReplyTo, ev.Message.Sender, ev.Message.Content) {
			b.broadcast(ctx, BroadcastReply, ev.Message.Sender, ev.Message.Content)
		}
	case orchestrator.EventMessage:
		b.broadcast(ctx, BroadcastAnnouncement, ev.Message.Sender, ev.Message.Content)
	case orchestrator.EventUndeliverable:
		content := "undeliverable"
		if ev.Err != nil {
			content = ev.Err.Error()
		}
		if !b.routeBack(ev.Message.ID, "", content) {
			b.broadcast(ctx, BroadcastAnnouncement, ev.Message.Sender, content)
		}
	}
}

// personaFor resolves how a room handle presents on the platforms. The
// human and unknown handles carry no persona.
func (b *Bridge) personaFor(handle string) *Persona {
	if handle == "" || handle == b.humanHandle || b.directory == nil {
		return nil
	}
	agentID, ok := b.room.AgentID(handle)
	if !ok || agentID == "" {
		return nil
	}
	desc, err := b.directory.Get(agentID)
	if err != nil {
		return nil
	}
	return &Persona{Name: handle, Emoji: kindEmoji[desc.Kind]}
}

// routeBack sends content to the platform channel that originated the
// message id, attributed to sender. Returns false when no origin is known.
func (b *Bridge) routeBack(msgID, sender, content string) bool {
	if msgID == "" {
		return false
	}
	b.mu.Lock()
	in, ok := b.origin[msgID]
	if ok {
		delete(b.origin, msgID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.reply(in, sender, content)
	return true
}

func (b *Bridge) reply(in *InboundMessage, sender, content string) {
	err := b.gateway.Send(context.Background(), &OutboundMessage{
		Platform:  in.Platform,
		ChannelID: in.ChannelID,
		Sender:    sender,
		Persona:   b.personaFor(sender),
		Content:   content,
		ReplyTo:   in.ReplyTo,
	})
	if err != nil {
		b.logger.Warn("outbound send failed",
			zap.String("platform", in.Platform), zap.Error(err))
	}
}

func (b *Bridge) broadcast(ctx context.Context, typ BroadcastType, from, content string) {
	if b.broadcaster == nil {
		return
	}
	err := b.broadcaster.Send(ctx, &BroadcastMessage{
		Type:    typ,
		Sender:  from,
		Persona: b.personaFor(from),
		Content: content,
	})
	if err != nil {
		b.logger.Warn("broadcast failed", zap.Error(err))
	}
}
