// Package monitor exposes the live state of in-process tuning runs over
// HTTP, so long-running hosts can be observed while tuning converges.
package monitor

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/stijnh/kernel-launcher/internal/logger"
)

// TunerStatus is the wire form of one tuning run's state.
type TunerStatus struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Kernel          string  `json:"kernel"`
	State           string  `json:"state"`
	Evaluations     int     `json:"evaluations"`
	BestPerformance float64 `json:"best_performance"`
	BestConfig      string  `json:"best_config,omitempty"`
	CurrentConfig   string  `json:"current_config,omitempty"`
}

// StatusFunc produces a snapshot of a tuning run; it must be safe to call
// from the server's goroutines.
type StatusFunc func() TunerStatus

// Server serves tuning status over HTTP.
type Server struct {
	mu     sync.RWMutex
	tuners map[string]registration
	log    logger.Logger
	echo   *echo.Echo
}

type registration struct {
	name   string
	status StatusFunc
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		tuners: make(map[string]registration),
		log:    log,
		echo:   echo.New(),
	}
	s.echo.Use(middleware.Recover())
	s.echo.GET("/v1/tuners", s.handleList)
	s.echo.GET("/v1/tuners/:id", s.handleGet)
	return s
}

// Register adds a tuning run under a human-readable name and returns its
// unique id.
func (s *Server) Register(name string, status StatusFunc) string {
	id := "tune-" + uuid.NewString()
	s.mu.Lock()
	s.tuners[id] = registration{name: name, status: status}
	s.mu.Unlock()
	s.log.Debug("registered tuner", "id", id, "name", name)
	return id
}

// Unregister removes a tuning run.
func (s *Server) Unregister(id string) {
	s.mu.Lock()
	delete(s.tuners, id)
	s.mu.Unlock()
}

// Start serves until the listener fails or the context is cancelled; run it
// on its own goroutine.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.log.Info("tuning monitor listening", "addr", addr)
	sc := echo.StartConfig{Address: addr}
	return sc.Start(ctx, s.echo)
}

// ServeHTTP makes the server mountable into an existing mux and testable
// without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) snapshot(id string, reg registration) TunerStatus {
	st := reg.status()
	st.ID = id
	st.Name = reg.name
	return st
}

func (s *Server) handleList(c *echo.Context) error {
	s.mu.RLock()
	out := make([]TunerStatus, 0, len(s.tuners))
	for id, reg := range s.tuners {
		out = append(out, s.snapshot(id, reg))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return c.JSON(http.StatusOK, map[string]any{"tuners": out})
}

func (s *Server) handleGet(c *echo.Context) error {
	id := c.Param("id")

	s.mu.RLock()
	reg, ok := s.tuners[id]
	s.mu.RUnlock()

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": "unknown tuner: " + id,
		})
	}
	return c.JSON(http.StatusOK, s.snapshot(id, reg))
}
