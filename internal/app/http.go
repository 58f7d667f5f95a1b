package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"agora/governance/internal/governance"
	"agora/governance/internal/search"
	"agora/governance/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsServer serves the worker's operational endpoints.
type OpsServer struct {
	engine *governance.Engine
	queue  *search.Service
	checks map[string]Pinger
}

// NewOpsServer builds the server. queue may be nil; checks are probed by
// /readyz under their map key.
func NewOpsServer(engine *governance.Engine, queue *search.Service, checks map[string]Pinger) *OpsServer {
	return &OpsServer{engine: engine, queue: queue, checks: checks}
}

func (s *OpsServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/graph", s.handleGraph)
	r.Get("/communities/{communityID}/round", s.handleActiveRound)
	r.Get("/moderation-queue", s.handleQueue)
	return r
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *OpsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := make(map[string]any, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *OpsServer) handleGraph(w http.ResponseWriter, _ *http.Request) {
	g := s.engine.Graph()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    g.Version(),
		"baseRole":   g.BaseRole(),
		"memberRole": g.MemberRole(),
	})
}

func (s *OpsServer) handleActiveRound(w http.ResponseWriter, r *http.Request) {
	communityID, err := strconv.ParseInt(chi.URLParam(r, "communityID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "community id must be an integer", nil)
		return
	}
	round, ok, err := s.engine.ActiveRound(r.Context(), communityID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NO_ACTIVE_ROUND", "community has no active round", map[string]any{"community_id": communityID})
		return
	}
	status, err := governance.StatusAt(round, s.engine.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundResponse(round, status))
}

func roundResponse(r store.Round, status governance.RoundStatus) map[string]any {
	return map[string]any{
		"id":             r.ID,
		"communityId":    r.CommunityID,
		"promptId":       r.PromptID,
		"status":         status.String(),
		"startTime":      r.StartTime,
		"completionTime": r.CompletionTime,
		"endTime":        r.EndTime,
	}
}

func (s *OpsServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		Status: store.DisputeStatus(r.URL.Query().Get("status")),
	}
	for name, target := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if raw := r.URL.Query().Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a non-negative integer", nil)
				return
			}
			*target = n
		}
	}
	if raw := r.URL.Query().Get("community"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "community must be an integer", nil)
			return
		}
		q.CommunityID = id
	}
	switch q.Status {
	case "", store.DisputePending, store.DisputeResolved:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be pending or resolved", nil)
		return
	}

	results, total := s.queue.Queue(r.Context(), q)
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "total": total})
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			middleware.GetReqID(r.Context()),
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}
