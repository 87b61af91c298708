package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/majenkotech/MHGroveBLE/ble"
)

// Status is a snapshot of the controller's observable state, taken by the
// poll loop after each unit of work.
type Status struct {
	State  ble.State
	Reason ble.PanicReason
}

// Server handles incoming HTTP requests for observing and feeding the
// configured BLE controller
type Server struct {
	Logger *slog.Logger
	// Status returns the latest controller snapshot.
	Status func() *Status
	// Connection forwards connection events to the poll loop, which owns
	// the controller.
	Connection chan<- bool
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /connection", s.handleConnection)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)

}

// handleState reports the controller's observable state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	type StateResponse struct {
		State  string `json:"state"`
		Reason string `json:"reason,omitempty"`
	}

	status := s.Status()
	resp := StateResponse{State: status.State.String()}
	if status.State == ble.StatePanicked {
		resp.Reason = status.Reason.String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleConnection feeds a connection event into the controller loop
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	type ConnectionRequest struct {
		Connected *bool `json:"connected"`
	}

	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Connected == nil {
		s.sendError(w, "'connected' field is required", http.StatusBadRequest)
		return
	}

	select {
	case s.Connection <- *req.Connected:
		s.Logger.Info("Connection event accepted", "connected", *req.Connected)
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		s.sendError(w, "controller loop not accepting events", http.StatusServiceUnavailable)
	}
}
