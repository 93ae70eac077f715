// Package server exposes the operator control plane over HTTP: task
// submission, status, history, usage and cost, health, project and job
// management, and a websocket live-status stream.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pravindurgani/agent-sutra/config"
	"github.com/pravindurgani/agent-sutra/coordinator"
	"github.com/pravindurgani/agent-sutra/files"
	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/internal/sysinfo"
	"github.com/pravindurgani/agent-sutra/projects"
	"github.com/pravindurgani/agent-sutra/providers/ollama"
	"github.com/pravindurgani/agent-sutra/scheduler"
)

const operatorHeader = "X-Operator-Id"

// Server is the control-plane HTTP server.
type Server struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	gw       *gateway.Gateway
	registry *projects.Registry
	sched    *scheduler.Scheduler
	local    *ollama.Client

	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, coord *coordinator.Coordinator, gw *gateway.Gateway, registry *projects.Registry, sched *scheduler.Scheduler, local *ollama.Client) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      cfg,
		coord:    coord,
		gw:       gw,
		registry: registry,
		sched:    sched,
		local:    local,
		engine:   gin.New(),
		upgrader: websocket.Upgrader{},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.authMiddleware())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/tasks", s.handleHistory)
	s.engine.POST("/tasks", s.handleSubmit)
	s.engine.POST("/chain", s.handleChain)
	s.engine.POST("/exec", s.handleExec)
	s.engine.POST("/cancel", s.handleCancel)
	s.engine.GET("/usage", s.handleUsage)
	s.engine.GET("/cost", s.handleCost)
	s.engine.GET("/projects", s.handleProjects)
	s.engine.GET("/jobs", s.handleJobsList)
	s.engine.POST("/jobs", s.handleJobsAdd)
	s.engine.DELETE("/jobs/:id", s.handleJobsRemove)
	s.engine.GET("/context", s.handleContextView)
	s.engine.DELETE("/context", s.handleContextClear)
	s.engine.POST("/files", s.handleUpload)
	s.engine.GET("/debug/:prefix", s.handleDebug)
	s.engine.GET("/ws/status", s.handleStatusWS)
}

// authMiddleware checks the operator allow list on every request.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(operatorHeader), 10, 64)
		if err != nil || !s.cfg.Allowed(userID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator id not on the allow list"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func operatorID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("server: listening on %s", s.cfg.ListenAddr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{}

	if used, err := sysinfo.MemoryPercent(); err == nil {
		out["ramPercent"] = used
	}
	if free, err := sysinfo.DiskFreeBytes(s.cfg.BaseDir); err == nil {
		out["diskFree"] = humanize.Bytes(free)
	}

	inFlight := s.coord.InFlight()
	out["inFlight"] = len(inFlight)
	out["maxConcurrent"] = s.cfg.MaxConcurrentTasks

	if s.local != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if s.local.Healthy(ctx) {
			models, _ := s.local.Models(ctx)
			out["localModel"] = gin.H{"online": true, "models": models}
		} else {
			out["localModel"] = gin.H{"online": false}
		}
	}

	if summary, err := s.gw.Summary(c.Request.Context(), time.Time{}); err == nil {
		out["apiCalls"] = summary.TotalCalls
		out["apiCostUsd"] = summary.TotalCostUSD
	}

	// Per-project venv health.
	var issues []string
	for _, p := range s.registry.All() {
		if p.Venv == "" {
			continue
		}
		python := filepath.Join(p.Venv, "bin", "python3")
		if _, err := os.Stat(python); err != nil {
			issues = append(issues, fmt.Sprintf("%s: venv python not found at %s", p.Name, python))
		}
	}
	if len(issues) > 0 {
		out["projectIssues"] = issues
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.InFlight())
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	lines, err := s.coord.History(c.Request.Context(), operatorID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": coordinator.SanitizeError(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": lines})
}

type submitRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	taskID, err := s.coord.HandleMessage(c.Request.Context(), operatorID(c), req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*coordinator.GuardError); ok {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": coordinator.SanitizeError(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID})
}

type chainRequest struct {
	Chain string `json:"chain" binding:"required"`
}

func (s *Server) handleChain(c *gin.Context) {
	var req chainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain is required"})
		return
	}
	if err := s.coord.RunChain(c.Request.Context(), operatorID(c), req.Chain); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": coordinator.SanitizeError(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "chain complete"})
}

type execRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	result := s.coord.Exec(c.Request.Context(), req.Command)
	c.JSON(http.StatusOK, gin.H{
		"success":  result.Success,
		"exitCode": result.ExitCode,
		"stdout":   capAt(result.Stdout, 3000),
		"stderr":   coordinator.SanitizeError(capAt(result.Stderr, 1000)),
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	cancelled := s.coord.Cancel(c.Request.Context(), operatorID(c))
	c.JSON(http.StatusOK, gin.H{
		"cancelled": cancelled,
		"note":      "background execution may take a moment to fully stop",
	})
}

func (s *Server) handleUsage(c *gin.Context) {
	summary, err := s.gw.Summary(c.Request.Context(), time.Time{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage query failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleCost(c *gin.Context) {
	today, errDay := s.gw.SpendToday(c.Request.Context())
	month, errMonth := s.gw.SpendThisMonth(c.Request.Context())
	if errDay != nil || errMonth != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cost query failed"})
		return
	}
	summary, _ := s.gw.Summary(c.Request.Context(), time.Time{})
	c.JSON(http.StatusOK, gin.H{
		"todayUsd": today,
		"monthUsd": month,
		"byModel":  summary.ByModel,
	})
}

func (s *Server) handleProjects(c *gin.Context) {
	all := s.registry.All()
	out := make([]gin.H, 0, len(all))
	for _, p := range all {
		commands := make([]string, 0, len(p.Commands))
		for name := range p.Commands {
			commands = append(commands, name)
		}
		out = append(out, gin.H{
			"name":     p.Name,
			"commands": commands,
			"triggers": p.Triggers,
		})
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

func (s *Server) handleJobsList(c *gin.Context) {
	jobs, err := s.sched.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job query failed"})
		return
	}
	out := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, gin.H{
			"id":      j.ID[:8],
			"message": j.Message,
			"every":   j.Interval.String(),
			"nextRun": j.NextRun,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

type jobRequest struct {
	Minutes int    `json:"minutes" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleJobsAdd(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes and message are required"})
		return
	}
	id, err := s.sched.Add(c.Request.Context(), operatorID(c), req.Message, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": id[:8]})
}

func (s *Server) handleJobsRemove(c *gin.Context) {
	if err := s.sched.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleContextView(c *gin.Context) {
	// Conversation history plus stored context keys.
	lines, err := s.coord.History(c.Request.Context(), operatorID(c), 8)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recent": lines})
}

func (s *Server) handleContextClear(c *gin.Context) {
	if err := s.coord.ClearConversation(c.Request.Context(), operatorID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "conversation memory cleared"})
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxFileSizeBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	saved, err := files.SaveUpload(s.cfg.UploadsDir, data, fileHeader.Filename, s.cfg.MaxFileSizeBytes)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	s.coord.AddPendingFile(operatorID(c), saved)
	c.JSON(http.StatusOK, gin.H{"path": saved, "note": "file queued for your next task"})
}

func (s *Server) handleDebug(c *gin.Context) {
	sidecar, err := s.coord.Debug(c.Param("prefix"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(sidecar))
}

// handleStatusWS streams hash-gated (stage, stdout tail) snapshots for
// one task over a websocket.
func (s *Server) handleStatusWS(c *gin.Context) {
	taskID := c.Query("task")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task query parameter is required"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var lastHash uint64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			snapshot, changed := s.coord.StatusSnapshot(taskID, &lastHash)
			if snapshot == "" {
				// Stage cleared: the task is done.
				_ = conn.WriteMessage(websocket.TextMessage, []byte("done"))
				return
			}
			if !changed {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(snapshot)); err != nil {
				return
			}
		}
	}
}

func capAt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
