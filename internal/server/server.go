// Package server exposes a loaded grading artifact over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/manager"
	"github.com/aristath/grader/internal/metrics"
)

// Config configures the HTTP handler.
type Config struct {
	Logger *zap.Logger
	// Gatherer backs /metrics; the route is absent when nil.
	Gatherer prometheus.Gatherer
	Release  bool
	// AuthToken, when set, is required as a bearer token on grading routes.
	AuthToken string
	// Parallelism bounds concurrent grading requests. Defaults to 1.
	Parallelism int
}

// Server grades submissions on request.
type Server struct {
	manager *manager.Manager
	logger  *zap.Logger
	slots   chan struct{}
	engine  *gin.Engine
}

// New builds the routes for m.
func New(m *manager.Manager, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		manager: m,
		logger:  cfg.Logger,
		slots:   make(chan struct{}, cfg.Parallelism),
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(cfg.Logger, "", false))
	r.Use(ginzap.RecoveryWithZap(cfg.Logger, true))
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(cfg.Gatherer)))
	}
	if cfg.AuthToken != "" {
		r.Use(tokenAuth(cfg.AuthToken))
	}
	r.GET("/problems", s.handleProblems)
	r.POST("/grade", s.handleGrade)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

type problemsResponse struct {
	Problems []string          `json:"problems"`
	Excluded map[string]string `json:"excluded"`
}

func (s *Server) handleProblems(c *gin.Context) {
	excluded := make(map[string]string)
	for short, err := range s.manager.Excluded() {
		excluded[short] = err.Error()
	}
	c.JSON(http.StatusOK, problemsResponse{
		Problems: s.manager.Problems(),
		Excluded: excluded,
	})
}

// GradeRequest asks for one submission directory to be graded.
type GradeRequest struct {
	Target  string            `json:"target"`
	Sanity  bool              `json:"sanity"`
	Options map[string]string `json:"options"`
}

// GradeResponse carries the report. Error is set when the run stopped on
// a configuration fault; Report then holds what ran before it.
type GradeResponse struct {
	Statistics grade.Statistics        `json:"statistics"`
	Report     *grade.AssignmentReport `json:"report"`
	Error      string                  `json:"error,omitempty"`
}

func (s *Server) handleGrade(c *gin.Context) {
	var req GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	if req.Target == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, "no target provided")
		return
	}

	ctx := c.Request.Context()
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ctx.Err().Error())
		return
	}

	report, err := s.manager.RunSingle(ctx, req.Target, manager.RunOptions{
		SanityOnly: req.Sanity,
		Options:    req.Options,
	})
	resp := GradeResponse{Statistics: report.Statistics(), Report: report}
	status := http.StatusOK
	if err != nil {
		c.Error(err)
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
		if errors.Is(err, grade.ErrConfiguration) {
			status = http.StatusInternalServerError
		}
	}

	// Encode directly so the report keeps its key order.
	c.Status(status)
	c.Header("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(c.Writer).Encode(resp); err != nil {
		c.Error(err)
	}
}

func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}
