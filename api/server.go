package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/transport/websocket"
)

// queryTimeout bounds a room list lookup against the hub loop.
const queryTimeout = 5 * time.Second

// RoomDirectory is the part of the hub the HTTP surface needs.
type RoomDirectory interface {
	Rooms(ctx context.Context, name string) ([]protocol.RoomAvailable, error)
	RoomTypes() []websocket.RoomType
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Server represents the dev server HTTP surface
type Server struct {
	rooms  RoomDirectory
	router *mux.Router
	log    *slog.Logger
}

// NewServer creates a new API server
func NewServer(rooms RoomDirectory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rooms:  rooms,
		router: mux.NewRouter(),
		log:    logger.With("component", "api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// Room discovery (types must be before {name})
	s.router.HandleFunc("/api/rooms", s.handleListRooms).Methods("GET")
	s.router.HandleFunc("/api/rooms/types", s.handleRoomTypes).Methods("GET")
	s.router.HandleFunc("/api/rooms/{name}", s.handleGetRooms).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.rooms.ServeWS)
}

// Router exposes the router so callers can mount extra handlers.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Room handlers

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.respondRooms(w, r, r.URL.Query().Get("name"))
}

func (s *Server) handleGetRooms(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.knownType(name) {
		respondError(w, http.StatusNotFound, "no room type named "+name)
		return
	}
	s.respondRooms(w, r, name)
}

func (s *Server) respondRooms(w http.ResponseWriter, r *http.Request, name string) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	rooms, err := s.rooms.Rooms(ctx, name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, websocket.ErrHubStopped):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		s.log.Warn("room list failed", "name", name, "error", err)
		respondError(w, status, err.Error())
		return
	}
	if rooms == nil {
		rooms = []protocol.RoomAvailable{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":  name,
		"count": len(rooms),
		"rooms": rooms,
	})
}

func (s *Server) handleRoomTypes(w http.ResponseWriter, r *http.Request) {
	types := s.rooms.RoomTypes()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(types),
		"types": types,
	})
}

func (s *Server) knownType(name string) bool {
	for _, rt := range s.rooms.RoomTypes() {
		if rt.Name == name {
			return true
		}
	}
	return false
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}
