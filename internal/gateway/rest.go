package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// restWaitTimeout bounds how long a synchronous POST waits for the room
// to produce a reply.
const restWaitTimeout = 60 * time.Second

// restReply is the HTTP shape of a room reply: who spoke and what they
// said, matching the handles used inside the group chat.
type restReply struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// RESTAdapter exposes the group chat over plain HTTP. Each POST opens a
// one-shot channel keyed by a generated channel id; the reply the room
// routes back there completes the request.
type RESTAdapter struct {
	handler MessageHandler
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan *OutboundMessage // channelID -> waiting request
}

// NewRESTAdapter creates the adapter. Mount Routes under the API router.
func NewRESTAdapter(logger *zap.Logger) *RESTAdapter {
	return &RESTAdapter{
		pending: make(map[string]chan *OutboundMessage),
		logger:  logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

// Send completes the HTTP request waiting on msg.ChannelID.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.Lock()
	ch, ok := a.pending[msg.ChannelID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no request waiting on channel %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s already answered", msg.ChannelID)
	}
}

// Routes returns the adapter's HTTP endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

// handleMessage feeds one message into the room and blocks until the
// routed reply arrives or the wait times out.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusBadRequest)
		return
	}
	if a.handler == nil {
		http.Error(w, `{"error":"gateway not connected"}`, http.StatusServiceUnavailable)
		return
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)
	a.mu.Lock()
	a.pending[channelID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, channelID)
		a.mu.Unlock()
	}()

	a.handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: channelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
	})

	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(restReply{
			Sender:  msg.Sender,
			Content: msg.Content,
			ReplyTo: msg.ReplyTo,
		})
	case <-time.After(restWaitTimeout):
		a.logger.Warn("rest reply timed out", zap.String("channel", channelID))
		http.Error(w, `{"error":"no reply before timeout"}`, http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// Broadcast pushes the announcement to every request currently waiting.
func (a *RESTAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	content := msg.Content
	if msg.Title != "" {
		content = msg.Title + "\n" + msg.Content
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ch := range a.pending {
		select {
		case ch <- &OutboundMessage{Platform: "rest", ChannelID: id, Sender: msg.Sender, Content: content}:
		default:
		}
	}
	return nil
}
