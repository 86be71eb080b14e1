package internal

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/infrastructure/storage"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultInspectPrefix = "conv:"
	defaultInspectLimit  = 100
	maxDetailLength      = 160
)

type InspectRow struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	EntityID  string `json:"entity_id"`
	Detail    string `json:"detail"`
	Size      int64  `json:"size"`
}

type RowMapper func(entry storage.Entry) InspectRow
type StatsProvider func() any

type PageData struct {
	Prefix string       `json:"prefix"`
	Items  []InspectRow `json:"items"`
}

// Inspector dumps raw store entries.
type Inspector interface {
	Inspect(prefix string, limit int) ([]storage.Entry, error)
}

// ConversationAdmin is the write side used to seed reference data.
type ConversationAdmin interface {
	contract.IConversationDirectory
	ParticipantsOf(ctx context.Context, conversationID domain.ConversationID) ([]domain.Identity, error)
}

type DebugServer struct {
	log           *slog.Logger
	inspector     Inspector
	conversations ConversationAdmin
	broadcaster   contract.IBroadcaster
	gatherer      prometheus.Gatherer
	stats         StatsProvider
	mapper        RowMapper
}

func NewDebugServer(log *slog.Logger, inspector Inspector, conversations ConversationAdmin,
	broadcaster contract.IBroadcaster, gatherer prometheus.Gatherer, stats StatsProvider) *DebugServer {
	return &DebugServer{
		log:           log,
		inspector:     inspector,
		conversations: conversations,
		broadcaster:   broadcaster,
		gatherer:      gatherer,
		stats:         stats,
		mapper:        DefaultMapper,
	}
}

func (s *DebugServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.health)
	r.Get("/inspect", s.inspect)
	r.Get("/conversations/{id}", s.getConversation)
	r.Put("/conversations/{id}", s.putConversation)
	return r
}

// Start serves on every interface until ctx is cancelled.
func (s *DebugServer) Start(ctx context.Context, port int) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		s.log.Info("Debug server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("Debug server stopped", "error", err)
		}
	}()
}

func (s *DebugServer) health(w http.ResponseWriter, _ *http.Request) {
	var body any = map[string]string{"status": "ok"}
	if s.stats != nil {
		body = s.stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = defaultInspectPrefix
	}
	limit := defaultInspectLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := s.inspector.Inspect(prefix, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	page := PageData{Prefix: prefix, Items: make([]InspectRow, 0, len(entries))}
	for _, entry := range entries {
		page.Items = append(page.Items, s.mapper(entry))
	}
	writeJSON(w, http.StatusOK, page)
}

type conversationBody struct {
	Participants []domain.Identity `json:"participants"`
}

func (s *DebugServer) getConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(chi.URLParam(r, "id"))
	participants, err := s.conversations.ParticipantsOf(r.Context(), id)
	switch {
	case stderrors.Is(err, errors.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, conversationBody{Participants: participants})
	}
}

// putConversation replaces the participant set and tells every instance to drop its cached copy.
func (s *DebugServer) putConversation(w http.ResponseWriter, r *http.Request) {
	id := domain.ConversationID(chi.URLParam(r, "id"))
	var body conversationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"participants\": [...]}")
		return
	}
	err := s.conversations.SaveConversation(r.Context(), domain.NewConversation(id, body.Participants...))
	switch {
	case stderrors.Is(err, errors.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.PublishMembershipChanged(r.Context(), id); err != nil {
			s.log.Warn("Unable to publish membership change", "conversation_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// DefaultMapper splits the key on ':' into type, namespace and entity id.
func DefaultMapper(entry storage.Entry) InspectRow {
	parts := strings.SplitN(entry.Key, ":", 3)
	row := InspectRow{
		Key:       entry.Key,
		Type:      strings.ToUpper(parts[0]),
		Namespace: "-",
		EntityID:  "-",
		Detail:    entry.Value,
		Size:      entry.Size,
	}
	switch len(parts) {
	case 2:
		row.EntityID = parts[1]
	case 3:
		row.Namespace = parts[1]
		row.EntityID = parts[2]
		if row.Type == "MSG" {
			row.EntityID = strings.TrimLeft(parts[2], "0")
		}
	}
	if len(row.Detail) > maxDetailLength {
		row.Detail = row.Detail[:maxDetailLength] + "..."
	}
	return row
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
