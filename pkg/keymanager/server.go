// Package keymanager is the credential issuance HTTP service. It creates
// client records, hands the plaintext API key back exactly once, and stores
// only the encrypted token and the lookup digest.
package keymanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/keycrypt"
	"github.com/gridsense/gridsense/pkg/logger"
	"github.com/gridsense/gridsense/pkg/models"
)

const (
	// keyEntropyBytes is the entropy of issued API keys.
	keyEntropyBytes = 32

	defaultKeyTTL = 365 * 24 * time.Hour
)

// Server serves the client credential API.
type Server struct {
	router   *mux.Router
	database db.Service
	cipher   *keycrypt.Cipher
	keyTTL   time.Duration
	logger   logger.Logger
}

func NewServer(database db.Service, cipher *keycrypt.Cipher, log logger.Logger, options ...func(*Server)) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		database: database,
		cipher:   cipher,
		keyTTL:   defaultKeyTTL,
		logger:   log,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithKeyTTL overrides the default credential lifetime.
func WithKeyTTL(ttl time.Duration) func(*Server) {
	return func(s *Server) {
		s.keyTTL = ttl
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/clients", s.createClient).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/clients", s.listClients).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/clients/{id}", s.getClient).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/clients/{id}", s.deleteClient).Methods(http.MethodDelete)
}

// Router exposes the handler for the HTTP server and for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createClientRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Description   string `json:"description,omitempty"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

// createClientResponse carries the plaintext key alongside the stored record.
// This is the only place the plaintext ever leaves the service.
type createClientResponse struct {
	*models.Client
	PlainAPIKey string `json:"plain_api_key"`
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" {
		writeError(w, "name and email are required", http.StatusBadRequest)
		return
	}

	plainKey, err := keycrypt.GenerateKey(keyEntropyBytes)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate API key")
		writeError(w, "failed to generate key", http.StatusInternalServerError)

		return
	}

	token, err := s.cipher.Encrypt(plainKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encrypt API key")
		writeError(w, "failed to encrypt key", http.StatusInternalServerError)

		return
	}

	ttl := s.keyTTL
	if req.ExpiresInDays > 0 {
		ttl = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}

	now := time.Now().UTC()
	client := &models.Client{
		ClientID:    uuid.New().String(),
		Name:        req.Name,
		Email:       req.Email,
		APIKey:      token,
		KeyHash:     keycrypt.HashKey(plainKey),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Description: req.Description,
	}

	if err := s.database.CreateClient(r.Context(), client); err != nil {
		s.logger.Error().Err(err).Str("email", req.Email).Msg("failed to create client")
		writeError(w, "failed to create client", http.StatusInternalServerError)

		return
	}

	s.logger.Info().
		Str("client_id", client.ClientID).
		Time("expires_at", client.ExpiresAt).
		Msg("issued client credential")

	writeJSON(w, http.StatusCreated, createClientResponse{Client: client, PlainAPIKey: plainKey})
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.database.ListClients(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list clients")
		writeError(w, "failed to list clients", http.StatusInternalServerError)

		return
	}

	if clients == nil {
		clients = []*models.Client{}
	}

	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	client, err := s.database.GetClient(r.Context(), clientID)
	if errors.Is(err, db.ErrClientNotFound) {
		writeError(w, "client not found", http.StatusNotFound)
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to get client")
		writeError(w, "failed to get client", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, client)
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	err := s.database.DeleteClient(r.Context(), clientID)
	if errors.Is(err, db.ErrClientNotFound) {
		writeError(w, "client not found", http.StatusNotFound)
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to delete client")
		writeError(w, "failed to delete client", http.StatusInternalServerError)

		return
	}

	s.logger.Info().Str("client_id", clientID).Msg("revoked client credential")
	w.WriteHeader(http.StatusNoContent)
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
