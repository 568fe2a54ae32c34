// Package main provides the session registry server.
//
// Architecture Overview:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Client    │────▶│  HTTP API   │────▶│ ingest ring │
//	│  (HTTP)     │     │  (handlers) │     │ (pring MP)  │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │
//	                                               ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  registry   │◀────│  Processor  │◀────│  Consumer   │
//	│  (rhset +   │     │ (single     │     │ (pring SC)  │
//	│   epoch)    │     │  goroutine) │     │             │
//	└─────────────┘     └─────────────┘     └─────────────┘
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rishav/lockfree/internal/ingest"
	"github.com/rishav/lockfree/internal/registry"
)

// Server is the session registry's HTTP front end.
//
// Architecture: writes (Join/Leave) flow through a multi-producer,
// single-consumer pring ring into one Processor goroutine, the
// same separation of "many concurrent submitters, one applying
// goroutine" the teacher's LMAX-disruptor-backed order server used —
// except here the single writer constraint comes directly from
// spec.md's rhset contract (exactly one active writer), not from a
// determinism requirement.
type Server struct {
	reg       *registry.Registry
	processor *ingest.Processor

	httpServer *http.Server
}

// Config holds server configuration.
type Config struct {
	Port             int
	RegistryCapacity uint64
	RingCapacity     uint64
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Port:             8080,
		RegistryCapacity: 64,
		RingCapacity:     4096,
	}
}

// NewServer creates a new server instance.
func NewServer(config Config) (*Server, error) {
	reg, err := registry.New(registry.Config{Capacity: config.RegistryCapacity})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	processor, err := ingest.NewProcessor(reg, ingest.Config{
		RingCapacity:  config.RingCapacity,
		SubmitRetries: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest processor: %w", err)
	}

	server := &Server{reg: reg, processor: processor}

	mux := http.NewServeMux()
	mux.HandleFunc("/join", server.handleJoin)
	mux.HandleFunc("/leave", server.handleLeave)
	mux.HandleFunc("/lookup", server.handleLookup)
	mux.HandleFunc("/stats", server.handleStats)
	mux.HandleFunc("/health", server.handleHealth)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server, nil
}

// Start starts the server.
func (s *Server) Start() error {
	log.Printf("Starting session registry on %s", s.httpServer.Addr)

	s.processor.Start()

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server: stop accepting HTTP
// requests, drain the ingest ring, flush every deferred registry
// destructor through an epoch barrier, then release pooled readers.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	s.processor.Stop()
	s.reg.Shutdown()
	return nil
}

// JoinRequest is a session-join submission.
type JoinRequest struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// JoinResponse reports the outcome of a join attempt.
type JoinResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JoinResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	session := &registry.Session{ID: req.ID, Name: req.Name, JoinedAt: time.Now().UnixNano()}
	reply := make(chan ingest.Result, 1)
	result, err := s.processor.Submit(&ingest.Request{Kind: ingest.KindJoin, Session: session, Reply: reply})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, JoinResponse{Error: err.Error()})
		return
	}
	if !result.OK {
		errMsg := "duplicate session id"
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		writeJSON(w, http.StatusConflict, JoinResponse{Error: errMsg})
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Success: true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := r.URL.Query().Get("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	reply := make(chan ingest.Result, 1)
	result, err := s.processor.Submit(&ingest.Request{Kind: ingest.KindLeave, ID: id, Reply: reply})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	if !result.OK {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLookup serves a read directly against the registry — no ring
// submission needed, since Lookup is the concurrent-reader path rhset
// and epoch exist to make safe without involving the single writer at
// all.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	session, found := s.reg.Lookup(id)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        session.ID,
		"name":      session.Name,
		"joined_at": session.JoinedAt,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.reg.Stats()
	writeJSON(w, http.StatusOK, map[string]uint64{
		"joins":  stats.Joins,
		"leaves": stats.Leaves,
		"active": stats.Active,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	port := flag.Int("port", 8080, "Server port")
	ringCapacity := flag.Uint64("ring-capacity", 4096, "Ingest ring capacity (power of two)")
	flag.Parse()

	config := DefaultConfig()
	config.Port = *port
	config.RingCapacity = *ringCapacity

	server, err := NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}
