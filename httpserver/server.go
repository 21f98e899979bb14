package httpserver

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nixxel-company-limited/starlan-emulator/config"
)

// Printer is the device state exposed on /status.
type Printer interface {
	EventToggle() uint8
	SessionOpen() bool
	Buffered() int
	StatusSnapshot() []byte
}

// JobLister lists captured job names.
type JobLister interface {
	List() ([]string, error)
}

// Routes wires the admin endpoints. Nil members disable their route.
type Routes struct {
	Printer     Printer
	Jobs        JobLister
	MetricsPath string
	Metrics     http.Handler
	Ready       func() bool
}

// StatusResponse is the /status body.
type StatusResponse struct {
	EventToggle    uint8  `json:"event_toggle"`
	SessionOpen    bool   `json:"session_open"`
	BufferedBlocks int    `json:"buffered_blocks"`
	StatusFrame    string `json:"status_frame"`
}

// Server wraps the gin admin server
type Server struct {
	srv *http.Server
}

// New creates the gin engine and HTTP server
func New(cfg config.HTTPConfig, routes Routes) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if routes.Ready == nil || routes.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})

	if p := routes.Printer; p != nil {
		r.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, StatusResponse{
				EventToggle:    p.EventToggle(),
				SessionOpen:    p.SessionOpen(),
				BufferedBlocks: p.Buffered(),
				StatusFrame:    hex.EncodeToString(p.StatusSnapshot()),
			})
		})
	}
	if jobs := routes.Jobs; jobs != nil {
		r.GET("/jobs", func(c *gin.Context) {
			names, err := jobs.List()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if names == nil {
				names = []string{}
			}
			c.JSON(http.StatusOK, gin.H{"jobs": names})
		})
	}

	metricsPath := routes.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if routes.Metrics != nil {
		r.GET(metricsPath, gin.WrapH(routes.Metrics))
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// Start serves until Shutdown (blocking). A graceful shutdown returns nil.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
