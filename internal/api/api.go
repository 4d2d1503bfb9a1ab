// Package api translates external requests into core operations. The shim
// never interprets device state on its own; every handler is a thin mapping
// onto an engine, poller, set-point, or config call.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/db"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/engine"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/sensor"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/setpoint"
)

type Server struct {
	engine   *engine.Engine
	poller   *sensor.Poller
	setpoint *setpoint.Store
	cfg      *config.Config
	events   *sql.DB

	httpServer *http.Server
}

type StatusResponse struct {
	State                    string  `json:"state"`
	Mode                     string  `json:"mode"`
	Temperature              float64 `json:"temperature"`
	Humidity                 float64 `json:"humidity"`
	HaveReading              bool    `json:"have_reading"`
	Target                   float64 `json:"target"`
	SetPointSource           string  `json:"set_point_source"`
	TemperatureUnit          string  `json:"temperature_unit"`
	FanMode                  bool    `json:"fan_mode"`
	EmergencyStop            bool    `json:"emergency_stop"`
	CooldownRemainingSeconds float64 `json:"cooldown_remaining_seconds"`
	StateTimeSeconds         float64 `json:"state_time_seconds"`
	HeatingTimeSeconds       float64 `json:"heating_time_seconds"`
	EstimatedSecondsToTarget float64 `json:"estimated_seconds_to_target"`
	SuccessfulReads          int     `json:"successful_reads"`
	ConsecutiveFailures      int     `json:"consecutive_failures"`
	WarmedUp                 bool    `json:"warmed_up"`
	LogicError               string  `json:"logic_error,omitempty"`
}

type SetpointRequest struct {
	Target float64 `json:"target"`
}

type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(eng *engine.Engine, poller *sensor.Poller, sp *setpoint.Store, cfg *config.Config, events *sql.DB) *Server {
	return &Server{
		engine:   eng,
		poller:   poller,
		setpoint: sp,
		cfg:      cfg,
		events:   events,
	}
}

// Handler builds the route table. Split from Start so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/setpoint", s.handleSetpoint)
	mux.HandleFunc("/api/fan", s.handleFan)
	mux.HandleFunc("/api/emergency_stop", s.handleEmergencyStop)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/events", s.handleEvents)

	// CORS for the mobile app's webview.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	log.Info().Str("address", addr).Msg("Starting local API server")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StatusSnapshot is the core read operation behind GET /api/status.
func (s *Server) StatusSnapshot() StatusResponse {
	now := time.Now()
	reading, haveReading := s.poller.CurrentReadings()
	target, source, _ := s.setpoint.Snapshot()
	stats := s.poller.Stats()

	resp := StatusResponse{
		State:                    s.engine.StateName(),
		Mode:                     string(s.engine.CurrentMode()),
		Temperature:              reading.Temperature,
		Humidity:                 reading.Humidity,
		HaveReading:              haveReading,
		Target:                   target,
		SetPointSource:           string(source),
		TemperatureUnit:          s.cfg.TemperatureUnit,
		FanMode:                  s.engine.FanMode(),
		EmergencyStop:            s.engine.EmergencyStopped(),
		CooldownRemainingSeconds: s.engine.RemainingCooldown(now).Seconds(),
		StateTimeSeconds:         s.engine.StateTime(now).Seconds(),
		HeatingTimeSeconds:       s.engine.HeatingTime(now).Seconds(),
		EstimatedSecondsToTarget: s.engine.EstimatedTimeToTarget().Seconds(),
		SuccessfulReads:          stats.SuccessfulReads,
		ConsecutiveFailures:      stats.ConsecutiveFailures,
		WarmedUp:                 stats.WarmedUp,
	}
	if err := s.engine.LogicError(); err != nil {
		resp.LogicError = err.Error()
	}
	return resp
}

// SetTarget validates and forwards a new target to the set-point store.
func (s *Server) SetTarget(value float64) error {
	min, max := 40.0, 95.0
	if s.cfg.TemperatureUnit == "C" {
		min, max = 5.0, 35.0
	}
	if value < min || value > max {
		return fmt.Errorf("target %.1f out of range [%.1f, %.1f]", value, min, max)
	}
	s.engine.UpdateSetPoint(value)
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.StatusSnapshot())
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SetpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if err := s.SetTarget(req.Target); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Float64("target", req.Target).Msg("Set point updated via API")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.engine.SetFanMode(req.Enabled)
	log.Info().Bool("enabled", req.Enabled).Msg("Fan mode updated via API")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if req.Enabled {
		s.engine.EnableEmergencyStop()
	} else {
		s.engine.DisableEmergencyStop()
	}
	log.Info().Bool("enabled", req.Enabled).Msg("Emergency stop toggled via API")
	w.WriteHeader(http.StatusOK)
}

// ConfigView is the externally visible subset of the configuration.
type ConfigView struct {
	DeploymentType                 string  `json:"deployment_type"`
	TemperatureUnit                string  `json:"temperature_unit"`
	CoolingOffset                  float64 `json:"cooling_offset"`
	HeatingOffset                  float64 `json:"heating_offset"`
	TemperatureDifferenceThreshold float64 `json:"temperature_difference_threshold"`
	CompressorMinOffMinutes        float64 `json:"compressor_min_off_minutes"`
	SensorPollIntervalSeconds      int     `json:"sensor_poll_interval_seconds"`
	DataSendIntervalSeconds        int     `json:"data_send_interval_seconds"`
	ControlLoopIntervalMs          int     `json:"control_loop_interval_ms"`
	DefaultUserSetTemperature      float64 `json:"default_user_set_temperature"`
	DeviceID                       string  `json:"device_id"`
	RelayCommands                  struct {
		Off       string `json:"off"`
		FanOnly   string `json:"fan_only"`
		Cool      string `json:"cool"`
		Heat      string `json:"heat"`
		Emergency string `json:"emergency"`
	} `json:"relay_commands"`
}

// ConfigSnapshot is the core read operation behind GET /api/config.
func (s *Server) ConfigSnapshot() ConfigView {
	var view ConfigView
	view.DeploymentType = string(s.cfg.DeploymentType)
	view.TemperatureUnit = s.cfg.TemperatureUnit
	view.CoolingOffset = s.cfg.CoolingOffset
	view.HeatingOffset = s.cfg.HeatingOffset
	view.TemperatureDifferenceThreshold = s.cfg.TemperatureDifferenceThreshold
	view.CompressorMinOffMinutes = s.cfg.CompressorMinOffMinutes
	view.SensorPollIntervalSeconds = s.cfg.SensorPollIntervalSeconds
	view.DataSendIntervalSeconds = s.cfg.DataSendIntervalSeconds
	view.ControlLoopIntervalMs = s.cfg.ControlLoopIntervalMs
	view.DefaultUserSetTemperature = s.cfg.DefaultUserSetTemperature
	view.DeviceID = s.cfg.DeviceID
	view.RelayCommands.Off = config.Render(s.cfg.Parsed.Off)
	view.RelayCommands.FanOnly = config.Render(s.cfg.Parsed.FanOnly)
	view.RelayCommands.Cool = config.Render(s.cfg.Parsed.Cool)
	view.RelayCommands.Heat = config.Render(s.cfg.Parsed.Heat)
	view.RelayCommands.Emergency = config.Render(s.cfg.Parsed.Emergency)
	return view
}

// ConfigUpdate is the mutable subset accepted by PATCH /api/config. Control
// thresholds take effect on the next process start; the persisted file is
// the source of truth.
type ConfigUpdate struct {
	CoolingOffset                  *float64 `json:"cooling_offset"`
	HeatingOffset                  *float64 `json:"heating_offset"`
	TemperatureDifferenceThreshold *float64 `json:"temperature_difference_threshold"`
	CompressorMinOffMinutes        *float64 `json:"compressor_min_off_minutes"`
	DataSendIntervalSeconds        *int     `json:"data_send_interval_seconds"`
	SensorPollIntervalSeconds      *int     `json:"sensor_poll_interval_seconds"`
	DefaultUserSetTemperature      *float64 `json:"default_user_set_temperature"`
}

// UpdateConfig merges an accepted subset into the config and persists it.
func (s *Server) UpdateConfig(update ConfigUpdate) error {
	patched := *s.cfg
	if update.CoolingOffset != nil {
		patched.CoolingOffset = *update.CoolingOffset
	}
	if update.HeatingOffset != nil {
		patched.HeatingOffset = *update.HeatingOffset
	}
	if update.TemperatureDifferenceThreshold != nil {
		patched.TemperatureDifferenceThreshold = *update.TemperatureDifferenceThreshold
	}
	if update.CompressorMinOffMinutes != nil {
		patched.CompressorMinOffMinutes = *update.CompressorMinOffMinutes
	}
	if update.DataSendIntervalSeconds != nil {
		patched.DataSendIntervalSeconds = *update.DataSendIntervalSeconds
	}
	if update.SensorPollIntervalSeconds != nil {
		patched.SensorPollIntervalSeconds = *update.SensorPollIntervalSeconds
	}
	if update.DefaultUserSetTemperature != nil {
		patched.DefaultUserSetTemperature = *update.DefaultUserSetTemperature
	}

	if err := patched.Validate(); err != nil {
		return err
	}

	*s.cfg = patched
	if s.cfg.ConfigFile != "" {
		if err := s.cfg.Save(); err != nil {
			log.Error().Err(err).Msg("Failed to persist updated config")
			return err
		}
	}

	log.Info().Msg("Configuration updated via API")
	return nil
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.ConfigSnapshot())
	case http.MethodPatch:
		var update ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if err := s.UpdateConfig(update); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, s.ConfigSnapshot())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, []db.Event{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}

	events, err := db.RecentEvents(s.events, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read event log")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []db.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
