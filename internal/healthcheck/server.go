// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is used when neither config nor HEALTH_CHECK_PORT name one.
const DefaultPort = 8090

// ConditionLastCycle is false while the most recent scan cycle failed to
// start, usually because the bookkeeping service was unreachable.
const ConditionLastCycle = "last_cycle"

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

type ReadyStatus int32

const (
	ReadyStatusNotReady ReadyStatus = iota
	ReadyStatusReady
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy   bool       `json:"healthy"`
	LastCycle *time.Time `json:"lastCycle,omitempty"`
}

type Server struct {
	port       int
	staleAfter time.Duration
	now        func() time.Time

	status      atomic.Int32
	readyStatus atomic.Int32
	conditions  sync.Map // map[string]bool
	lastCycle   atomic.Int64
	server      *http.Server
}

type Config struct {
	Port int
	// StaleAfter marks the process unhealthy when no scan cycle has
	// completed for this long. Zero disables the check.
	StaleAfter time.Duration
}

func GetConfigFromEnv() Config {
	port := DefaultPort
	if portStr := os.Getenv("HEALTH_CHECK_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 && p < 65536 {
			port = p
		}
	}

	return Config{
		Port: port,
	}
}

func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}

	return &Server{
		port:       config.Port,
		staleAfter: config.StaleAfter,
		now:        time.Now,
	}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	if ready {
		s.readyStatus.Store(int32(ReadyStatusReady))
	} else {
		s.readyStatus.Store(int32(ReadyStatusNotReady))
	}
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// SetReadyCondition sets a named readiness condition. All conditions must be
// true, along with the base ready flag, for IsReady to report true.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.conditions.Store(name, ready)
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

func (s *Server) ClearReadyCondition(name string) {
	s.conditions.Delete(name)
}

// ObserveCycle records a finished scan cycle. The first one makes the server
// ready; err is the cycle's start failure, if any.
func (s *Server) ObserveCycle(err error) {
	s.lastCycle.Store(s.now().UnixNano())
	s.SetReadyCondition(ConditionLastCycle, err == nil)
	s.SetStatus(StatusHealthy)
	s.SetReady(true)
}

// LastCycle returns when the most recent cycle finished.
func (s *Server) LastCycle() (time.Time, bool) {
	ns := s.lastCycle.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// IsStale reports whether the scan loop has gone quiet for longer than the
// configured limit since its last cycle.
func (s *Server) IsStale() bool {
	if s.staleAfter <= 0 {
		return false
	}
	last, ok := s.LastCycle()
	if !ok {
		return false
	}
	return s.now().Sub(last) > s.staleAfter
}

func (s *Server) IsReady() bool {
	if ReadyStatus(s.readyStatus.Load()) != ReadyStatusReady {
		return false
	}
	ready := true
	s.conditions.Range(func(_, value any) bool {
		if !value.(bool) {
			ready = false
			return false
		}
		return true
	})
	return ready
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.HandleFunc("/livez", s.livezHandler)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.SetStatus(StatusStarting)
	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.GetStatus() == StatusHealthy && !s.IsStale())
}

func (s *Server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.IsReady())
}

func (s *Server) livezHandler(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.GetStatus() != StatusUnhealthy && !s.IsStale())
}

func (s *Server) respond(w http.ResponseWriter, ok bool) {
	response := Response{Healthy: ok}
	if last, seen := s.LastCycle(); seen {
		last = last.UTC()
		response.LastCycle = &last
	}

	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
