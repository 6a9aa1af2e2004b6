package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/session"
	"firespread-sim/internal/transport"
)

// Orchestrator is the session surface exposed over HTTP.
type Orchestrator interface {
	View() session.View
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset() error
	Reconnect() error
	AddIgnitionPoint(lat, lng float64) (fire.IgnitionPoint, error)
	RemoveIgnitionPoint(id string) bool
	UpdateParameters(patch fire.ParameterPatch) (fire.SimulationParameters, error)
	SaveScenario(ctx context.Context, name, description string) (fire.Scenario, error)
	LoadScenario(ctx context.Context, id string) (fire.Scenario, error)
}

// Prober runs an on-demand connectivity check.
type Prober interface {
	Probe(ctx context.Context) bool
}

type Server struct {
	orch   Orchestrator
	prober Prober
	log    *slog.Logger
	tpl    *template.Template
	mux    *http.ServeMux
}

//go:embed templates/index.html
var content embed.FS

// NewServer wires the admin routes. prober may be nil.
func NewServer(orch Orchestrator, prober Prober, log *slog.Logger) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	s := &Server{orch: orch, prober: prober, log: log, tpl: tpl, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("POST /start", s.lifecycle(func(ctx context.Context) error { return s.orch.Start(ctx) }))
	s.mux.HandleFunc("POST /pause", s.lifecycle(func(ctx context.Context) error { return s.orch.Pause(ctx) }))
	s.mux.HandleFunc("POST /stop", s.lifecycle(func(ctx context.Context) error { return s.orch.Stop(ctx) }))
	s.mux.HandleFunc("POST /reset", s.lifecycle(func(context.Context) error { return s.orch.Reset() }))
	s.mux.HandleFunc("POST /reconnect", s.lifecycle(func(context.Context) error { return s.orch.Reconnect() }))
	s.mux.HandleFunc("POST /probe", s.handleProbe)
	s.mux.HandleFunc("POST /points", s.handleAddPoint)
	s.mux.HandleFunc("DELETE /points/{id}", s.handleRemovePoint)
	s.mux.HandleFunc("PATCH /parameters", s.handleParameters)
	s.mux.HandleFunc("POST /scenarios", s.handleSaveScenario)
	s.mux.HandleFunc("POST /scenarios/{id}/load", s.handleLoadScenario)
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the admin UI on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type stateResponse struct {
	Status     string                    `json:"status"`
	Phase      string                    `json:"phase"`
	Mode       fire.DriveMode            `json:"mode"`
	SessionID  string                    `json:"sessionId,omitempty"`
	Parameters fire.SimulationParameters `json:"parameters"`
	State      fire.SessionState         `json:"state"`
}

func newStateResponse(v session.View) stateResponse {
	st := v.State
	if st.FireCells == nil {
		st.FireCells = []fire.FireCell{}
	}
	if st.IgnitionPoints == nil {
		st.IgnitionPoints = []fire.IgnitionPoint{}
	}
	return stateResponse{
		Status:     string(v.Status),
		Phase:      v.Phase.String(),
		Mode:       v.Mode,
		SessionID:  v.SessionID,
		Parameters: v.Parameters,
		State:      st,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		View       stateResponse
		Vegetation []fire.VegetationType
	}{
		View:       newStateResponse(s.orch.View()),
		Vegetation: fire.VegetationTypes,
	}
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render admin page", "err", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(s.orch.View()))
}

func (s *Server) lifecycle(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newStateResponse(s.orch.View()))
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no connection monitor configured"})
		return
	}
	ok := s.prober.Probe(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": ok,
		"status":    string(s.orch.View().Status),
	})
}

func (s *Server) handleAddPoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"lat\": number, \"lng\": number}"})
		return
	}
	p, err := s.orch.AddIgnitionPoint(*req.Lat, *req.Lng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleRemovePoint(w http.ResponseWriter, r *http.Request) {
	if !s.orch.RemoveIgnitionPoint(r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ignition point not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	var patch fire.ParameterPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	p, err := s.orch.UpdateParameters(patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSaveScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must include a name"})
		return
	}
	sc, err := s.orch.SaveScenario(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleLoadScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.orch.LoadScenario(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// writeError maps orchestrator and transport errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var reqErr *transport.RequestError
	switch {
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNoRemoteSession):
		status = http.StatusConflict
	case errors.Is(err, fire.ErrInvalidParameters),
		errors.Is(err, fire.ErrInvalidIgnitionPoint):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrBackendUnavailable),
		errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound:
		status = http.StatusNotFound
	case errors.Is(err, transport.ErrTransport), errors.Is(err, transport.ErrProtocol), errors.As(err, &reqErr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("admin request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
