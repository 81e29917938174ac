package api

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"
    "strings"

    "github.com/local/pagetrans/internal/metrics"
    "github.com/local/pagetrans/internal/pipeline"
    "github.com/local/pagetrans/internal/statuscheck"
    "github.com/local/pagetrans/internal/store"
)

// Controller is the part of the coordinator the HTTP surface drives.
type Controller interface {
    Active() *pipeline.RunHandle
    RequestStop() bool
}

type StatusStore interface {
    Get(ctx context.Context, runID string) (store.Status, bool, error)
}

type PageStore interface {
    AggregateTranslation(ctx context.Context, runID string, indices []int) (string, error)
}

type HealthChecker interface {
    Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies of the server. Status, Pages and Health are optional.
type Dependencies struct {
    Pipeline Controller
    Status   StatusStore
    Pages    PageStore
    Health   HealthChecker
}

type Server struct {
    deps Dependencies
}

func New(deps Dependencies) *Server {
    return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/health", s.handleHealth)
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/progress/", s.handleProgress)
    mux.HandleFunc("/stop", s.handleStop)
    mux.HandleFunc("/translation/", s.handleTranslation)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    if s.deps.Health == nil {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
        return
    }
    sum := s.deps.Health.Summary(r.Context())
    code := http.StatusOK
    if !sum.OK() { code = http.StatusServiceUnavailable }
    writeJSON(w, code, sum)
}

// handleProgress serves the active run from memory and any other run from
// the status store.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/progress/")
    if h := s.deps.Pipeline.Active(); h != nil && (id == "" || id == h.ID()) {
        counts := map[string]int{}
        for k, n := range h.Counts() {
            counts[k.String()] = n
        }
        writeJSON(w, http.StatusOK, map[string]any{
            "run_id":          h.ID(),
            "status":          store.StatusRunning,
            "total":           h.Total(),
            "watermark":       h.Watermark(),
            "stages":          counts,
            "low_resource":    h.LowResource(),
            "async_translate": h.AsyncTranslate(),
        })
        return
    }
    if id == "" || s.deps.Status == nil {
        http.Error(w, "not found", http.StatusNotFound); return
    }
    st, ok, err := s.deps.Status.Get(r.Context(), id)
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
    if !ok { http.Error(w, "not found", http.StatusNotFound); return }
    writeJSON(w, http.StatusOK, map[string]any{
        "run_id":     id,
        "status":     st.Status,
        "progress":   st.Progress,
        "message":    st.Message,
        "total":      st.Total,
        "watermark":  st.Watermark,
        "stages":     st.Stages,
        "start_time": st.Start,
        "end_time":   st.End,
    })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    h := s.deps.Pipeline.Active()
    if h == nil || !s.deps.Pipeline.RequestStop() {
        http.Error(w, "no active run", http.StatusConflict); return
    }
    writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "run_id": h.ID(), "status": "stopping"})
}

// handleTranslation joins the stored page translations of a run. The
// absolute page indices come from ?pages=0,2,5 or default to 0..total-1.
func (s *Server) handleTranslation(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/translation/")
    if id == "" || s.deps.Pages == nil || s.deps.Status == nil {
        http.Error(w, "not found", http.StatusNotFound); return
    }
    var indices []int
    if q := r.URL.Query().Get("pages"); q != "" {
        for _, part := range strings.Split(q, ",") {
            n, err := strconv.Atoi(strings.TrimSpace(part))
            if err != nil || n < 0 { http.Error(w, "invalid pages", http.StatusBadRequest); return }
            indices = append(indices, n)
        }
    } else {
        st, ok, err := s.deps.Status.Get(r.Context(), id)
        if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
        if !ok { http.Error(w, "not found", http.StatusNotFound); return }
        for i := 0; i < st.Total; i++ {
            indices = append(indices, i)
        }
    }
    text, err := s.deps.Pages.AggregateTranslation(r.Context(), id, indices)
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
    w.Header().Set("Content-Type", "text/plain; charset=utf-8")
    _, _ = w.Write([]byte(text))
}
