package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.auth.Authenticate(req.Username, req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Username)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Std().Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Std().Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Device handlers ==========

// HandleGetDevice returns the connection status of the monitored device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	var lastUpdate *time.Time
	if t := s.session.LastUpdate(); !t.IsZero() {
		lastUpdate = &t
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":            s.session.Address(),
		"name":               s.session.Name(),
		"serial_no":          s.session.SerialNo(),
		"state":              s.session.State().String(),
		"connected":          s.session.Connected(),
		"available":          s.session.Available(),
		"supports_telemetry": s.session.SupportsTelemetry(),
		"timed_out":          s.session.TimedOut(),
		"last_update":        lastUpdate,
	})
}

// HandleConnectDevice triggers a connection attempt and reports the outcome
func (s *RESTServer) HandleConnectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxAttempts int `json:"max_attempts"`
	}

	// An empty body selects the configured attempt count.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	log.Info().Str("address", s.session.Address()).Msg("Connect requested via API")

	ok := s.session.Connect(r.Context(), req.MaxAttempts, true)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": ok,
		"state":   s.session.State().String(),
	})
}

// HandleDisconnectDevice severs the device link
func (s *RESTServer) HandleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	log.Info().Str("address", s.session.Address()).Msg("Disconnect requested via API")

	s.session.Disconnect()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   s.session.State().String(),
	})
}

// HandleGetTelemetry returns the most recent telemetry snapshot
func (s *RESTServer) HandleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	if snap == nil {
		s.respondError(w, http.StatusNotFound, "no telemetry received yet")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"telemetry":     snap,
		"battery_power": snap.PowerBattery(),
	})
}

// ========== Misc handlers ==========

// HandleHealth health check handler
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"available": s.session.Available(),
		"time":      time.Now().UTC(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Solix Monitor",
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
