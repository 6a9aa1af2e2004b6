// Package backend is a reference implementation of the remote simulation
// service: REST lifecycle and scenario routes, WebSocket push updates and a
// sqlite scenario store.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/logging"
	"firespread-sim/internal/store"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Repository persists scenarios and simulation summaries.
type Repository interface {
	CreateScenario(ctx context.Context, sc fire.Scenario) (fire.Scenario, error)
	UpdateScenario(ctx context.Context, id string, sc fire.Scenario) (fire.Scenario, error)
	GetScenario(ctx context.Context, id string) (fire.Scenario, error)
	ListScenarios(ctx context.Context) ([]fire.Scenario, error)
	DeleteScenario(ctx context.Context, id string) error
	UpsertSimulation(ctx context.Context, rec store.SimulationRecord) error
	DeleteSimulation(ctx context.Context, id string) error
}

// Options configures a Server.
type Options struct {
	APIKey string
	Tick   time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Server holds the in-memory simulations and serves the HTTP API.
type Server struct {
	repo   Repository
	hub    *hub
	log    *slog.Logger
	apiKey string
	tick   time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sims map[string]*Simulation
}

// New creates a server backed by repo.
func New(repo Repository, opts Options) *Server {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		repo:   repo,
		hub:    newHub(opts.Logger),
		log:    opts.Logger,
		apiKey: opts.APIKey,
		tick:   opts.Tick,
		now:    opts.Now,
		sims:   make(map[string]*Simulation),
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/api/health", s.handleHealth)

	authed := r.Group("/", s.requireAPIKey())
	api := authed.Group("/api")
	{
		api.POST("/simulations", s.handleCreateSimulation)
		api.GET("/simulations/:id", s.handleGetSimulation)
		api.DELETE("/simulations/:id", s.handleDeleteSimulation)
		api.POST("/simulations/:id/start", s.handleLifecycle("start"))
		api.POST("/simulations/:id/pause", s.handleLifecycle("pause"))
		api.POST("/simulations/:id/stop", s.handleLifecycle("stop"))

		api.GET("/scenarios", s.handleListScenarios)
		api.POST("/scenarios", s.handleCreateScenario)
		api.GET("/scenarios/:id", s.handleGetScenario)
		api.PUT("/scenarios/:id", s.handleUpdateScenario)
		api.DELETE("/scenarios/:id", s.handleDeleteScenario)
	}
	authed.GET("/ws/simulations/:id", s.handleSubscribe)
	return r
}

// Run advances every running simulation once per tick until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.log.Info("simulation engine started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Step(ctx)
		case <-ctx.Done():
			s.log.Info("simulation engine stopped")
			return
		}
	}
}

// Step advances all running simulations by one tick and pushes their updates.
func (s *Server) Step(ctx context.Context) {
	s.mu.Lock()
	var updates []fire.Update
	var records []store.SimulationRecord
	for _, sim := range s.sims {
		if sim.Step() {
			updates = append(updates, sim.Update())
			records = append(records, s.record(sim))
		}
	}
	s.mu.Unlock()

	sort.Slice(updates, func(i, j int) bool { return updates[i].SimulationID < updates[j].SimulationID })
	for _, u := range updates {
		s.push(u)
	}
	for _, rec := range records {
		if err := s.repo.UpsertSimulation(ctx, rec); err != nil {
			s.log.Warn("persist simulation failed", "simulation_id", rec.SimulationID, "err", err)
		}
	}
}

// ListenAndServe serves the API on addr and runs the engine until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("simulation service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every subscriber.
func (s *Server) Close() {
	s.hub.close()
}

func (s *Server) record(sim *Simulation) store.SimulationRecord {
	return store.SimulationRecord{
		SimulationID:   sim.ID,
		Parameters:     sim.Parameters,
		IgnitionPoints: len(sim.Points),
		Status:         sim.Status,
		CurrentTime:    sim.Time,
		CreatedAt:      sim.CreatedAt,
	}
}

func (s *Server) push(u fire.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		s.log.Error("failed to marshal update", "simulation_id", u.SimulationID, "err", err)
		return
	}
	s.hub.publish(u.SimulationID, data)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token != s.apiKey {
			abort(c, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

func (s *Server) handleCreateSimulation(c *gin.Context) {
	var req fire.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validateInputs(req.Parameters, req.IgnitionPoints); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	id := req.SimulationID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	if _, exists := s.sims[id]; exists {
		s.mu.Unlock()
		abort(c, http.StatusConflict, "simulation already exists")
		return
	}
	sim := NewSimulation(id, req.Parameters, req.IgnitionPoints, s.now())
	s.sims[id] = sim
	u := sim.Update()
	rec := s.record(sim)
	s.mu.Unlock()

	if err := s.repo.UpsertSimulation(c.Request.Context(), rec); err != nil {
		s.log.Warn("persist simulation failed", "simulation_id", id, "err", err)
	}
	s.log.Info("simulation created", "simulation_id", id, "points", len(req.IgnitionPoints))
	c.JSON(http.StatusCreated, u)
}

func (s *Server) handleGetSimulation(c *gin.Context) {
	s.mu.Lock()
	sim, ok := s.sims[c.Param("id")]
	var u fire.Update
	if ok {
		u = sim.Update()
	}
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, "simulation not found")
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleDeleteSimulation(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.sims[id]
	delete(s.sims, id)
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, "simulation not found")
		return
	}
	s.hub.closeSimulation(id)
	if err := s.repo.DeleteSimulation(c.Request.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("delete simulation record failed", "simulation_id", id, "err", err)
	}
	s.log.Info("simulation deleted", "simulation_id", id)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLifecycle(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		s.mu.Lock()
		sim, ok := s.sims[id]
		if !ok {
			s.mu.Unlock()
			abort(c, http.StatusNotFound, "simulation not found")
			return
		}
		if err := sim.Transition(action); err != nil {
			s.mu.Unlock()
			abort(c, http.StatusConflict, err.Error())
			return
		}
		u := sim.Update()
		rec := s.record(sim)
		s.mu.Unlock()

		s.push(u)
		if err := s.repo.UpsertSimulation(c.Request.Context(), rec); err != nil {
			s.log.Warn("persist simulation failed", "simulation_id", id, "err", err)
		}
		s.log.Info("simulation "+action, "simulation_id", id, "status", u.Status)
		c.JSON(http.StatusOK, u)
	}
}

func (s *Server) handleSubscribe(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	sim, ok := s.sims[id]
	var initial []byte
	if ok {
		initial, _ = json.Marshal(sim.Update())
	}
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, "simulation not found")
		return
	}
	s.hub.serve(c.Writer, c.Request, id, initial)
}

type scenarioRequest struct {
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	Parameters     fire.SimulationParameters `json:"parameters"`
	IgnitionPoints []fire.IgnitionPoint      `json:"ignitionPoints"`
}

func (r scenarioRequest) scenario() fire.Scenario {
	return fire.Scenario{
		Name:           r.Name,
		Description:    r.Description,
		Parameters:     r.Parameters,
		IgnitionPoints: r.IgnitionPoints,
	}
}

func (s *Server) bindScenario(c *gin.Context) (fire.Scenario, bool) {
	var req scenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return fire.Scenario{}, false
	}
	if strings.TrimSpace(req.Name) == "" {
		abort(c, http.StatusBadRequest, "scenario name is required")
		return fire.Scenario{}, false
	}
	if err := validateInputs(req.Parameters, req.IgnitionPoints); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return fire.Scenario{}, false
	}
	return req.scenario(), true
}

func (s *Server) handleListScenarios(c *gin.Context) {
	list, err := s.repo.ListScenarios(c.Request.Context())
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateScenario(c *gin.Context) {
	sc, ok := s.bindScenario(c)
	if !ok {
		return
	}
	saved, err := s.repo.CreateScenario(c.Request.Context(), sc)
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.log.Info("scenario created", "scenario_id", saved.ID, "name", saved.Name)
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleGetScenario(c *gin.Context) {
	sc, err := s.repo.GetScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) handleUpdateScenario(c *gin.Context) {
	sc, ok := s.bindScenario(c)
	if !ok {
		return
	}
	saved, err := s.repo.UpdateScenario(c.Request.Context(), c.Param("id"), sc)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteScenario(c *gin.Context) {
	if err := s.repo.DeleteScenario(c.Request.Context(), c.Param("id")); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "scenario not found")
		return
	}
	s.log.Error("scenario store failed", "path", c.Request.URL.Path, "err", err)
	abort(c, http.StatusInternalServerError, "internal error")
}

func validateInputs(params fire.SimulationParameters, points []fire.IgnitionPoint) error {
	if err := params.Validate(); err != nil {
		return err
	}
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
