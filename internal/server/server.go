package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"clawflow/internal/agent"
	"clawflow/internal/gateway"
	"clawflow/internal/logging"
	"clawflow/internal/orchestrator"
	"clawflow/internal/runstore"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// DefaultMaxRuns bounds the in-memory recent-run map.
const DefaultMaxRuns = 50

// RunFunc drives one run to completion. The dashboard supplies the run
// record so its id is known at submission time.
type RunFunc func(ctx context.Context, run *orchestrator.Run, opts orchestrator.Options, cb orchestrator.Callbacks) *orchestrator.Run

// Config holds dashboard server settings.
type Config struct {
	Port    int
	MaxRuns int
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Registry *agent.Registry
	Gateways *gateway.Registry
	Store    runstore.Store
	Run      RunFunc
}

// Server is the dashboard: run CRUD, goal submission, health, and the SSE
// stream. Recent runs are kept in a bounded in-memory map (snapshots; the
// orchestration loop owns the live records) and persisted on every step end
// and terminal transition.
type Server struct {
	cfg         Config
	deps        Deps
	broadcaster *Broadcaster
	engine      *gin.Engine

	runs  map[string]*orchestrator.Run
	order []string
	mu    sync.Mutex
}

// New creates the dashboard server and its routes.
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxRuns < 1 {
		cfg.MaxRuns = DefaultMaxRuns
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// The cors middleware only answers requests that carry an Origin header;
	// every response carries the allow-all header regardless.
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	})
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	engine.Use(cors.New(corsCfg))

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		broadcaster: NewBroadcaster(),
		engine:      engine,
		runs:        make(map[string]*orchestrator.Run),
	}

	engine.GET("/", s.handleIndex)
	engine.GET("/api/health", s.handleHealth)
	engine.GET("/api/agents/health", s.handleAgentsHealth)
	engine.GET("/api/events", s.handleEvents)
	engine.GET("/api/runs", s.handleListRuns)
	engine.POST("/api/runs", s.handleCreateRun)
	engine.GET("/api/runs/:id", s.handleGetRun)
	engine.DELETE("/api/runs/:id", s.handleDeleteRun)

	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start serves HTTP until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	logging.Info("dashboard listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleHealth(c *gin.Context) {
	type agentView struct {
		Name         string              `json:"name"`
		Type         string              `json:"type"`
		Description  string              `json:"description,omitempty"`
		Capabilities []string            `json:"capabilities,omitempty"`
		Health       *agent.HealthStatus `json:"health,omitempty"`
	}

	cached := make(map[string]agent.HealthStatus)
	for _, st := range s.deps.Registry.Health() {
		cached[st.Name] = st
	}

	agents := make([]agentView, 0, s.deps.Registry.Len())
	for _, a := range s.deps.Registry.List() {
		view := agentView{
			Name:         a.Name(),
			Type:         a.Type(),
			Description:  a.Description(),
			Capabilities: a.Capabilities(),
		}
		if st, ok := cached[a.Name()]; ok {
			view.Health = &st
		}
		agents = append(agents, view)
	}

	gateways := []string{}
	if s.deps.Gateways != nil {
		gateways = s.deps.Gateways.Names()
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"agents":   agents,
		"gateways": gateways,
	})
}

func (s *Server) handleAgentsHealth(c *gin.Context) {
	statuses := s.deps.Registry.CheckAllHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"agents": statuses})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	// Initial keep-alive comment confirms the stream to the client.
	c.Writer.WriteString(":\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case data := <-ch:
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			c.Writer.WriteString(":\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	s.mu.Lock()
	runs := make([]*orchestrator.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	c.JSON(http.StatusOK, runs)
}

// createRunRequest is the POST /api/runs body.
type createRunRequest struct {
	Goal           string `json:"goal"`
	MaxConcurrency int    `json:"maxConcurrency"`
	MaxSteps       int    `json:"maxSteps"`
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal is required"})
		return
	}

	run := orchestrator.NewRun(req.Goal)
	s.insert(run.Clone())
	s.broadcaster.Broadcast(runStartedEvent{Type: "run:started", RunID: run.RunID, Goal: run.Goal})

	opts := orchestrator.Options{
		MaxConcurrency: req.MaxConcurrency,
		MaxSteps:       req.MaxSteps,
	}
	go s.drive(run, opts)

	c.JSON(http.StatusCreated, gin.H{"runId": run.RunID, "goal": run.Goal})
}

// drive executes a submitted run in the background, mirroring progress to
// the SSE stream, the in-memory map, and the persistent store.
func (s *Server) drive(run *orchestrator.Run, opts orchestrator.Options) {
	ctx := context.Background()
	runID := run.RunID

	cb := orchestrator.Callbacks{
		OnThinking: func(step int) {
			s.update(run.Clone())
			s.broadcaster.Broadcast(stepThinkingEvent{Type: "step:thinking", RunID: runID, StepNumber: step})
		},
		OnStepStart: func(step int, taskIDs []string, tasks []*orchestrator.StepTask) {
			s.update(run.Clone())
			s.broadcaster.Broadcast(stepStartedEvent{Type: "step:started", RunID: runID, StepNumber: step, TaskIDs: taskIDs, Tasks: tasks})
		},
		OnTaskStart: func(step int, taskID string) {
			s.broadcaster.Broadcast(taskStartedEvent{Type: "task:started", RunID: runID, StepNumber: step, TaskID: taskID})
		},
		OnTaskChunk: func(step int, taskID, content string, done bool) {
			s.broadcaster.Broadcast(taskChunkEvent{Type: "task:chunk", RunID: runID, StepNumber: step, TaskID: taskID, Content: content, Done: done})
		},
		OnTaskEnd: func(step int, task *orchestrator.StepTask) {
			s.update(run.Clone())
			result := agent.TaskResult{}
			if task.Result != nil {
				result = *task.Result
			}
			s.broadcaster.Broadcast(taskEndedEvent{Type: "task:ended", RunID: runID, StepNumber: step, TaskID: task.ID, Result: result, Status: string(task.Status)})
		},
		OnStepEnd: func(step int) {
			snapshot := run.Clone()
			s.update(snapshot)
			s.persist(snapshot)
			s.broadcaster.Broadcast(stepEndedEvent{Type: "step:ended", RunID: runID, StepNumber: step})
		},
	}

	final := s.deps.Run(ctx, run, opts, cb)

	snapshot := final.Clone()
	s.update(snapshot)
	s.persist(snapshot)

	if final.State == orchestrator.StateError {
		s.broadcaster.Broadcast(runErrorEvent{Type: "run:error", RunID: runID, Error: final.Error})
		return
	}
	s.broadcaster.Broadcast(runCompleteEvent{
		Type:       "run:complete",
		RunID:      runID,
		Answer:     final.FinalAnswer,
		DurationMs: final.DurationMs(),
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()

	if !ok && s.deps.Store != nil {
		stored, err := s.deps.Store.Get(id)
		if err == nil {
			run, ok = stored, true
		}
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	_, inMemory := s.runs[id]
	if inMemory {
		delete(s.runs, id)
		for i, rid := range s.order {
			if rid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	inStore := false
	if s.deps.Store != nil {
		if err := s.deps.Store.Delete(id); err == nil {
			inStore = true
		}
	}

	if !inMemory && !inStore {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	s.broadcaster.Broadcast(runDeletedEvent{Type: "run:deleted", RunID: id})
	c.JSON(http.StatusOK, gin.H{"deleted": true, "runId": id})
}

// insert adds a run snapshot, evicting the oldest entry past MaxRuns.
// Eviction follows submission order, which tracks startedAt in practice.
func (s *Server) insert(run *orchestrator.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = run
	s.order = append(s.order, run.RunID)
	for len(s.order) > s.cfg.MaxRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
}

// update replaces a run snapshot in place; evicted runs are not resurrected.
func (s *Server) update(run *orchestrator.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; ok {
		s.runs[run.RunID] = run
	}
}

func (s *Server) persist(run *orchestrator.Run) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Save(run); err != nil {
		logging.Error("failed to persist run", "runId", run.RunID, "error", err)
	}
}
