package openmemory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes the engine over HTTP. Every memory route accepts an
// X-Namespace header as the default namespace when the body names none.
type Server struct {
	engine *Engine
	log    *zap.Logger
	router chi.Router
}

// NewServer builds the HTTP surface over an engine.
func NewServer(engine *Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{engine: engine, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/memory", func(r chi.Router) {
		r.Post("/add", s.handleAdd)
		r.Post("/query", s.handleQuery)
		r.Post("/reinforce", s.handleReinforce)
		r.Get("/all", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Patch("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/namespaces", func(r chi.Router) {
			r.Get("/", s.handleListNamespaces)
			r.Post("/", s.handleCreateNamespace)
			r.Get("/{namespace}", s.handleGetNamespace)
			r.Put("/{namespace}", s.handleUpdateNamespace)
			r.Patch("/{namespace}", s.handleUpdateNamespace)
			r.Delete("/{namespace}", s.handleDeleteNamespace)
		})
		r.Route("/temporal", func(r chi.Router) {
			r.Post("/facts", s.handleAddFact)
			r.Get("/facts", s.handleFactsAt)
			r.Delete("/facts/{id}", s.handleDeleteFact)
			r.Get("/search", s.handleSearchFacts)
			r.Get("/timeline/{subject}", s.handleTimeline)
		})
		r.Get("/summary", s.handleUserSummary)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// headerNamespaces resolves the X-Namespace header into a namespace list.
func headerNamespaces(r *http.Request) []string {
	return splitNamespaceList(r.Header.Get("X-Namespace"))
}

// requestNamespaces resolves the caller's namespace scope from the
// namespaces query parameter, falling back to the X-Namespace header.
func requestNamespaces(r *http.Request) []string {
	if ns := splitNamespaceList(r.URL.Query().Get("namespaces")); len(ns) > 0 {
		return ns
	}
	return headerNamespaces(r)
}

func splitNamespaceList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, ns := range strings.Split(raw, ",") {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine failure classes onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrVectorStore):
		status = http.StatusBadGateway
	case errors.Is(err, ErrEmbed), errors.Is(err, ErrEngineClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return validationf("malformed JSON body: %v", err)
	}
	return nil
}

// --- Memory handlers ---

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Namespaces) == 0 {
		req.Namespaces = headerNamespaces(r)
	}
	result, err := s.engine.Store(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.PendingVector {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Namespaces) == 0 {
		req.Namespaces = headerNamespaces(r)
	}
	result, err := s.engine.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string  `json:"id"`
		Boost float64 `json:"boost,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	salience, err := s.engine.Reinforce(r.Context(), req.ID, req.Boost)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "salience": salience})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := q.Get("namespace")
	if namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			namespace = hs[0]
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	memories, err := s.engine.List(r.Context(), namespace, Sector(q.Get("sector")), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if memories == nil {
		memories = []*Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories, "count": len(memories)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"), requestNamespaces(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.engine.Update(r.Context(), chi.URLParam(r, "id"), req, requestNamespaces(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"), requestNamespaces(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Namespace handlers ---

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.ListNamespaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []NamespaceGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": groups})
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var g NamespaceGroup
	if err := decode(r, &g); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.CreateNamespace(r.Context(), &g); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")
	g, count, err := s.engine.GetNamespaceInfo(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	sectors, err := s.engine.SectorBreakdown(r.Context(), name)
	if err != nil {
		s.log.Warn("sector breakdown unavailable", zap.String("namespace", name), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":    g,
		"memory_count": count,
		"sectors":      sectors,
	})
}

func (s *Server) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	var g NamespaceGroup
	if err := decode(r, &g); err != nil {
		writeError(w, err)
		return
	}
	g.Namespace = chi.URLParam(r, "namespace")
	if err := s.engine.UpdateNamespace(r.Context(), &g); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteNamespace(r.Context(), chi.URLParam(r, "namespace")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Temporal fact handlers ---

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var f TemporalFact
	if err := decode(r, &f); err != nil {
		writeError(w, err)
		return
	}
	if f.Namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			f.Namespace = hs[0]
		}
	}
	id, err := s.engine.AddFact(r.Context(), &f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleFactsAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, _ := strconv.ParseInt(q.Get("at"), 10, 64)
	filter := FactFilter{
		Subject:   q.Get("subject"),
		Predicate: q.Get("predicate"),
		At:        at,
		Namespace: q.Get("namespace"),
	}
	if filter.Namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			filter.Namespace = hs[0]
		}
	}
	facts, err := s.engine.FactsAt(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if facts == nil {
		facts = []TemporalFact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleSearchFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace := q.Get("namespace")
	if namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			namespace = hs[0]
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	facts, err := s.engine.SearchFacts(r.Context(), q.Get("q"), namespace, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if facts == nil {
		facts = []TemporalFact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteFact(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			namespace = hs[0]
		}
	}
	facts, err := s.engine.FactTimeline(r.Context(), chi.URLParam(r, "subject"), namespace)
	if err != nil {
		writeError(w, err)
		return
	}
	if facts == nil {
		facts = []TemporalFact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": facts})
}

// --- Misc handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Health(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		if hs := headerNamespaces(r); len(hs) > 0 {
			namespace = hs[0]
		}
	}
	us, err := s.engine.UserSummaryFor(r.Context(), namespace)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	stats, err := s.engine.Stats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		stats = []StatEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
