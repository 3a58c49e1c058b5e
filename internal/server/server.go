package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/logging"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// Controller is the command surface of a device the API dispatches to.
type Controller interface {
	SetProperty(ctx context.Context, id string, value any) error
	CallAction(ctx context.Context, id string, args ...any) error
}

// Config holds the server configuration
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:9810"
	Addr string
}

// managed bundles everything the API needs for one device.
type managed struct {
	id       string
	name     string
	host     string
	model    string
	entities []*entity.Entity
	coord    *coordinator.Coordinator
	ctrl     Controller
	cancel   func()
}

// Server exposes the local HTTP API: device inventory and status,
// setting writes and action calls, Prometheus metrics and a websocket
// stream of coordinator updates.
type Server struct {
	config  *Config
	http    *http.Server
	metrics *metrics
	hub     *wsHub

	mu      sync.Mutex
	devices map[string]*managed
}

// New creates a new Server instance
func New(config *Config) *Server {
	s := &Server{
		config:  config,
		metrics: newMetrics(),
		hub:     newWSHub(),
		devices: make(map[string]*managed),
	}
	s.http = &http.Server{
		Addr:    config.Addr,
		Handler: s.routes(),
	}
	return s
}

// AddDevice registers a device with the API and starts mirroring its
// coordinator updates into metrics and the websocket stream.
func (s *Server) AddDevice(id, name, host, model string, entities []*entity.Entity, coord *coordinator.Coordinator, ctrl Controller) error {
	s.mu.Lock()
	if _, exists := s.devices[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("device %s is already registered", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &managed{
		id:       id,
		name:     name,
		host:     host,
		model:    model,
		entities: entities,
		coord:    coord,
		ctrl:     ctrl,
		cancel:   cancel,
	}
	s.devices[id] = m
	s.mu.Unlock()

	updates, cancelSub := coord.Subscribe()
	go func() {
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				s.metrics.observe(update)
				s.hub.broadcast(update)
			}
		}
	}()

	return nil
}

// RemoveDevice unregisters a device from the API.
func (s *Server) RemoveDevice(id string) {
	s.mu.Lock()
	m, ok := s.devices[id]
	if ok {
		delete(s.devices, id)
	}
	s.mu.Unlock()
	if ok {
		m.cancel()
		s.metrics.forget(id)
	}
}

func (s *Server) device(id string) *managed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id]
}

func (s *Server) deviceList() []*managed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*managed, 0, len(s.devices))
	for _, m := range s.devices {
		out = append(out, m)
	}
	return out
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logging.Info("Starting HTTP API server",
		zap.String("addr", s.config.Addr),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logging.Info("Shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.closeAll()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
			return s.http.Close()
		}
		logging.Info("All connections closed gracefully")
		return nil
	}
}
