package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/logging"
	"github.com/muurk/miiobridge/internal/miio"
)

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("GET /api/devices/{id}/status", s.handleGetStatus)
	mux.HandleFunc("POST /api/devices/{id}/settings/{setting}", s.handleSetSetting)
	mux.HandleFunc("POST /api/devices/{id}/actions/{action}", s.handleCallAction)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deviceSummary is the list representation of a device.
type deviceSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// entitySummary describes one entity in the detail representation.
type entitySummary struct {
	UniqueID string `json:"unique_id"`
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Category string `json:"category,omitempty"`
}

type deviceDetail struct {
	deviceSummary
	Entities []entitySummary `json:"entities"`
}

func summarize(m *managed) deviceSummary {
	return deviceSummary{
		ID:        m.id,
		Name:      m.name,
		Host:      m.host,
		Model:     m.model,
		Available: m.coord.Available(),
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.deviceList()
	out := make([]deviceSummary, 0, len(devices))
	for _, m := range devices {
		out = append(out, summarize(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	m := s.device(r.PathValue("id"))
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	detail := deviceDetail{deviceSummary: summarize(m)}
	for _, e := range m.entities {
		detail.Entities = append(detail.Entities, entitySummary{
			UniqueID: e.UniqueID,
			EntityID: e.EntityID,
			Name:     e.Name,
			Platform: string(e.Platform),
			Category: string(e.Category),
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	m := s.device(r.PathValue("id"))
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	status, available := m.coord.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"available": available,
		"status":    status,
	})
}

// settingRequest is the body of a setting write.
type settingRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	m := s.device(r.PathValue("id"))
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	setting := r.PathValue("setting")
	logging.LogCommand(m.id, "set", setting, req.Value)
	if err := m.ctrl.SetProperty(r.Context(), setting, normalizeNumber(req.Value)); err != nil {
		writeCommandError(w, err)
		return
	}
	m.coord.ForceRefresh()
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleCallAction(w http.ResponseWriter, r *http.Request) {
	m := s.device(r.PathValue("id"))
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	action := r.PathValue("action")
	logging.LogCommand(m.id, "action", action, nil)
	if err := m.ctrl.CallAction(r.Context(), action); err != nil {
		writeCommandError(w, err)
		return
	}
	m.coord.ForceRefresh()
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// writeCommandError maps device errors onto HTTP statuses: validation
// problems are the caller's fault, device trouble is upstream.
func writeCommandError(w http.ResponseWriter, err error) {
	var devErr *miio.DeviceError
	if errors.As(err, &devErr) {
		writeError(w, http.StatusBadGateway, devErr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// normalizeNumber undoes encoding/json's float64 default for integral
// values so ranged integer properties validate cleanly.
func normalizeNumber(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}
