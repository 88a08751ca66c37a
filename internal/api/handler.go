// Package api exposes the REST surface over the vault, agents, and the
// group chat.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/calendar"
	"github.com/kekehq/keke/internal/gateway"
	"github.com/kekehq/keke/internal/graph"
	"github.com/kekehq/keke/internal/index"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/orchestrator"
	"github.com/kekehq/keke/internal/reflect"
	"github.com/kekehq/keke/internal/retrieve"
	"github.com/kekehq/keke/internal/vault"
)

// Handler holds dependencies for HTTP handlers. Components that depend on
// external services may be nil; their routes answer 503.
type Handler struct {
	vault       *vault.Store
	retriever   *retrieve.Retriever
	directory   *agent.Directory
	room        *orchestrator.Room
	graph       *graph.Graph
	indexer     *index.Indexer
	reflector   *reflect.Scheduler
	cal         *calendar.Bridge
	restGW      *gateway.RESTAdapter
	humanHandle string
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	v *vault.Store,
	retriever *retrieve.Retriever,
	directory *agent.Directory,
	room *orchestrator.Room,
	g *graph.Graph,
	indexer *index.Indexer,
	reflector *reflect.Scheduler,
	cal *calendar.Bridge,
	restGW *gateway.RESTAdapter,
	humanHandle string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		vault:       v,
		retriever:   retriever,
		directory:   directory,
		room:        room,
		graph:       g,
		indexer:     indexer,
		reflector:   reflector,
		cal:         cal,
		restGW:      restGW,
		humanHandle: humanHandle,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/notes", h.listNotes)
		r.Post("/notes", h.putNote)
		r.Get("/notes/{type}/{name}", h.getNote)
		r.Delete("/notes/{type}/{name}", h.deleteNote)
		r.Post("/notes/reindex", h.reindexAll)

		r.Get("/search", h.search)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.spawnAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Post("/agents/{id}/publish", h.publishAgent)
		r.Put("/agents/{id}/prompt", h.updatePrompt)

		r.Post("/chat", h.postChat)
		r.Get("/chat/history", h.chatHistory)
		r.Post("/chat/retire/{handle}", h.retireAgent)

		r.Post("/graph/links", h.upsertLink)
		r.Get("/graph/neighbors/{id}", h.neighbors)
		r.Get("/graph/groups/{group}", h.subgraph)
		r.Delete("/graph/nodes/{id}", h.removeNode)

		r.Get("/schedules", h.listSchedules)
		r.Post("/schedules", h.createSchedule)
		r.Delete("/schedules/{id}", h.cancelSchedule)

		r.Post("/reflect", h.reflectNow)

		r.Get("/calendar/events/{id}/notes", h.linkedNotes)
		r.Get("/calendar/reminders", h.pendingReminders)

		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := vault.Filter{
		Status:          note.Status(q.Get("status")),
		Importance:      note.Importance(q.Get("importance")),
		ExcludeArchived: q.Get("archived") != "true",
	}
	if tag := q.Get("tag"); tag != "" {
		f.Tags = []string{tag}
	}
	if raw := q.Get("modified_after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "modified_after must be RFC 3339"})
			return
		}
		f.ModifiedAfter = &ts
	}
	notes, err := h.vault.List(r.Context(), note.Type(q.Get("type")), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) putNote(w http.ResponseWriter, r *http.Request) {
	var n note.Note
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if n.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "note id is required"})
		return
	}
	if n.Created.IsZero() {
		n.Created = time.Now()
	}
	if err := h.vault.Put(r.Context(), &n); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) getNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "type") + "/" + chi.URLParam(r, "name")
	n, err := h.vault.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "type") + "/" + chi.URLParam(r, "name")
	if err := h.vault.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) reindexAll(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "indexer not initialized"})
		return
	}
	if err := h.indexer.RebuildAll(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if h.retriever == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "retriever not initialized"})
		return
	}
	q := r.URL.Query()
	k, _ := strconv.Atoi(q.Get("k"))
	if k <= 0 {
		k = 8
	}
	filters := retrieve.Filters{}
	if tag := q.Get("tag"); tag != "" {
		filters.Tags = []string{tag}
	}
	if typ := q.Get("type"); typ != "" {
		filters.Types = []note.Type{note.Type(typ)}
	}
	results, err := h.retriever.Query(r.Context(), q.Get("q"), k, filters)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.List())
}

type spawnRequest struct {
	Kind      string   `json:"kind"`
	Prompt    string   `json:"prompt"`
	Tools     []string `json:"tools,omitempty"`
	Knowledge string   `json:"knowledge,omitempty"`
	Handle    string   `json:"handle,omitempty"`
}

func (h *Handler) spawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	desc, err := h.directory.Spawn(r.Context(), agent.Kind(req.Kind), req.Prompt, req.Tools, req.Knowledge)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Handle != "" && h.room != nil {
		if err := h.room.Join(req.Handle, desc.ID); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, desc)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	desc, err := h.directory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (h *Handler) publishAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.directory.Publish(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"published": id})
}

func (h *Handler) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.directory.UpdatePrompt(r.Context(), id, req.Prompt); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"updated": id})
}

type chatRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	msg, err := h.room.Post(r.Context(), h.humanHandle, req.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.room.History(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) retireAgent(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	handle := chi.URLParam(r, "handle")
	var err error
	if r.URL.Query().Get("mode") == "deferred" {
		err = h.room.RequestRetire(r.Context(), handle)
	} else {
		err = h.room.Retire(r.Context(), handle)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"retired": handle})
}

type linkRequest struct {
	A                 string   `json:"a"`
	B                 string   `json:"b"`
	RelationshipTypes []string `json:"relationship_types"`
	Strength          float64  `json:"strength"`
}

func (h *Handler) upsertLink(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not initialized"})
		return
	}
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	err := h.graph.UpsertLink(r.Context(), req.A, req.B, graph.LinkAttrs{
		RelationshipTypes: req.RelationshipTypes,
		Strength:          req.Strength,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

func (h *Handler) neighbors(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not initialized"})
		return
	}
	links, err := h.graph.Neighbors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) subgraph(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not initialized"})
		return
	}
	nodes, links, err := h.graph.Subgraph(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes, "links": links})
}

func (h *Handler) removeNode(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.graph.RemoveNode(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

type scheduleRequest struct {
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	At        time.Time `json:"at,omitempty"`
	AfterSecs int       `json:"after_secs,omitempty"`
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	trig := orchestrator.Trigger{At: req.At}
	if req.AfterSecs > 0 {
		trig = orchestrator.Trigger{After: time.Duration(req.AfterSecs) * time.Second}
	}
	id, err := h.room.Schedule(r.Context(), h.humanHandle, req.Receiver, req.Content, trig)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.room.ScheduledIDs())
}

func (h *Handler) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	if h.room == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.room.CancelScheduled(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cancelled": id})
}

func (h *Handler) reflectNow(w http.ResponseWriter, r *http.Request) {
	if h.reflector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reflection not initialized"})
		return
	}
	if err := h.reflector.RunOnce(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reflected"})
}

func (h *Handler) linkedNotes(w http.ResponseWriter, r *http.Request) {
	if h.cal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "calendar not initialized"})
		return
	}
	notes, err := h.cal.LinkedNotes(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) pendingReminders(w http.ResponseWriter, r *http.Request) {
	if h.cal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "calendar not initialized"})
		return
	}
	pending, err := h.cal.PendingReminders(time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUndeliverable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrVersionMismatch):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrEmbeddingProvider):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
