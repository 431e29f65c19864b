// Package dataprovider is the read-side HTTP service. Consumers present the
// encrypted API key token in the X-API-Key header and can query readings for
// the devices owned by that key.
package dataprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/keycrypt"
	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// Server serves the telemetry query API.
type Server struct {
	router   *mux.Router
	database db.Service
	cipher   *keycrypt.Cipher
	logger   logger.Logger
}

func NewServer(database db.Service, cipher *keycrypt.Cipher, log logger.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		database: database,
		cipher:   cipher,
		logger:   log,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.health).Methods(http.MethodGet)

	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(s.authenticationMiddleware)
	protected.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	protected.HandleFunc("/devices/{id}/data", s.getDeviceData).Methods(http.MethodGet)
}

// Router exposes the handler for the HTTP server and for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticationMiddleware resolves the X-API-Key token to an active client.
// Undecryptable tokens, unknown keys, and expired credentials all yield the
// same 401.
func (s *Server) authenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			writeError(w, "missing API key", http.StatusUnauthorized)
			return
		}

		plainKey, err := s.cipher.Decrypt(token)
		if err != nil {
			writeError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		client, err := s.database.ActiveClientByKey(r.Context(), keycrypt.HashKey(plainKey))
		if errors.Is(err, db.ErrClientNotFound) {
			writeError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		if err != nil {
			s.logger.Error().Err(err).Msg("failed to resolve API key")
			writeError(w, "internal server error", http.StatusInternalServerError)

			return
		}

		s.logger.Debug().Str("client_id", client.ClientID).Str("path", r.URL.Path).Msg("authenticated request")

		ctx := context.WithValue(r.Context(), apiKeyContextKey, plainKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	plainKey, _ := r.Context().Value(apiKeyContextKey).(string)

	ids, err := s.database.DeviceIDsForKey(r.Context(), plainKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list devices")
		writeError(w, "failed to list devices", http.StatusInternalServerError)

		return
	}

	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": ids})
}

type readingsPageResponse struct {
	DeviceID string            `json:"device_id"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Readings []*models.Reading `json:"readings"`
}

func (s *Server) getDeviceData(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	plainKey, _ := r.Context().Value(apiKeyContextKey).(string)

	// A device the key does not own is indistinguishable from one that does
	// not exist.
	owned, err := s.database.DeviceCredentialsMatch(r.Context(), deviceID, plainKey)
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("failed to check device ownership")
		writeError(w, "internal server error", http.StatusInternalServerError)

		return
	}

	if !owned {
		writeError(w, "device not found", http.StatusNotFound)
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, pageSize, err := parsePagination(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, total, err := s.database.ReadingsPage(r.Context(), deviceID, start, end, page, pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("failed to query readings")
		writeError(w, "failed to query readings", http.StatusInternalServerError)

		return
	}

	if readings == nil {
		readings = []*models.Reading{}
	}

	writeJSON(w, http.StatusOK, readingsPageResponse{
		DeviceID: deviceID,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Readings: readings,
	})
}

func parseTimeRange(r *http.Request) (start, end *time.Time, err error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, errors.New("invalid start time format, expected RFC3339")
		}

		start = &t
	}

	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, errors.New("invalid end time format, expected RFC3339")
		}

		end = &t
	}

	return start, end, nil
}

func parsePagination(r *http.Request) (page, pageSize int, err error) {
	page = 1
	pageSize = defaultPageSize

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}

	if raw := r.URL.Query().Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 1 || pageSize > maxPageSize {
			return 0, 0, fmt.Errorf("page_size must be between 1 and %d", maxPageSize)
		}
	}

	return page, pageSize, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, models.ErrorResponse{Message: message, Status: statusCode})
}
