// Package api exposes the relay over HTTP: the inbound webhook, the client
// sync endpoints and client lifecycle management.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Actions groups the pipeline entry points the server dispatches to.
type Actions struct {
	Receive       Receiver
	Upload        Uploader
	Download      Downloader
	Register      Registrar
	Delete        Deleter
	PendingMetric MetricReader
}

type Server struct {
	actions Actions
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(actions Actions, logger *slog.Logger) *Server {
	server := &Server{actions: actions, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/email/receive", server.handleReceive)
	mux.HandleFunc("/api/email/upload", server.handleUpload)
	mux.HandleFunc("/api/email/download", server.handleDownload)
	mux.HandleFunc("/api/client/register", server.handleRegister)
	mux.HandleFunc("/api/client/", server.handleClient)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthcheck" {
		s.handleHealth(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ClientID string `json:"client_id"`
		Mime     string `json:"mime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	message, status := s.actions.Receive.Do(r.Context(), payload.ClientID, payload.Mime)
	s.respondMessage(w, status, message)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ClientID   string `json:"client_id"`
		ResourceID string `json:"resource_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	message, status := s.actions.Upload.Do(r.Context(), payload.ClientID, payload.ResourceID)
	s.respondMessage(w, status, message)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		http.Error(w, "client_id required", http.StatusBadRequest)
		return
	}
	result, message, status := s.actions.Download.Do(r.Context(), clientID)
	if status != http.StatusOK {
		s.respondMessage(w, status, message)
		return
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	registration, message, status := s.actions.Register.Do(r.Context(), strings.TrimSpace(payload.Domain))
	if status != http.StatusOK {
		s.respondMessage(w, status, message)
		return
	}
	s.respondJSON(w, status, registration)
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/client/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	domain := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		message, status := s.actions.Delete.Do(r.Context(), domain)
		s.respondMessage(w, status, message)
		return
	}

	if len(parts) == 2 && parts[1] == "pending" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		metric, message, status := s.actions.PendingMetric.Do(r.Context(), domain)
		if status != http.StatusOK {
			s.respondMessage(w, status, message)
			return
		}
		s.respondJSON(w, status, metric)
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondMessage(w, http.StatusOK, "OK")
}

func (s *Server) respondMessage(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"message": message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
