package core

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// HeartbeatInterval is how often an idle port stream gets a keep-alive comment.
const HeartbeatInterval = 15 * time.Second

// maxCommandBody bounds one posted command. Start commands carry whole batches.
const maxCommandBody = 8 << 20

// PortServer exposes tracker connections over HTTP. Each GET /port opens
// one SSE stream backed by its own tracker session; commands for it are
// posted to /port/command?session=<id>.
type PortServer struct {
	tracker *tracker.Tracker
	lister  Lister
	token   string
	port    int
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]tracker.Port
}

// NewPortServer creates a server. An empty token disables authentication.
func NewPortServer(t *tracker.Tracker, lister Lister, token string, port int) *PortServer {
	return &PortServer{
		tracker:  t,
		lister:   lister,
		token:    token,
		port:     port,
		log:      utils.Logger("port-server"),
		sessions: make(map[string]tracker.Port),
	}
}

// Handler returns the routed, authenticated handler.
func (s *PortServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"port":     s.port,
			"sessions": s.SessionCount(),
		})
	})
	mux.HandleFunc(PathList, s.handleList)
	mux.HandleFunc(PathPort, s.handlePort)
	mux.HandleFunc(PathCommand, s.handleCommand)

	return corsMiddleware(authMiddleware(s.token, mux))
}

// SessionCount reports the number of open port streams.
func (s *PortServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DisconnectAll closes every open port stream.
func (s *PortServer) DisconnectAll() {
	s.mu.Lock()
	ports := make([]tracker.Port, 0, len(s.sessions))
	for _, p := range s.sessions {
		ports = append(ports, p)
	}
	s.mu.Unlock()
	for _, p := range ports {
		p.Disconnect()
	}
}

func (s *PortServer) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.lister == nil {
		http.Error(w, "Server internal error: no download provider", http.StatusInternalServerError)
		return
	}
	items, err := s.lister.Query(r.Context(), time.Time{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *PortServer) handlePort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	conn, port := tracker.NewPipe()
	s.mu.Lock()
	s.sessions[id] = port
	s.mu.Unlock()

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := s.tracker.Serve(r.Context(), conn); err != nil {
			s.log.Debug().Err(err).Str("session", id).Msg("tracker session ended")
		}
	}()
	defer func() {
		port.Disconnect()
		<-served
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.log.Debug().Str("session", id).Msg("port closed")
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(sessionPayload{Session: id})
	if err := writeEvent(w, SessionEvent, hello); err != nil {
		return
	}
	s.log.Debug().Str("session", id).Msg("port opened")

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-port.Closed():
			return
		case <-heartbeat.C:
			if err := writeComment(w, "ping"); err != nil {
				return
			}
		case n := <-port.Notifications():
			data, err := events.EncodeNotification(n)
			if err != nil {
				s.log.Warn().Err(err).Msg("encode notification")
				continue
			}
			if err := writeEvent(w, events.Kind(n), data); err != nil {
				return
			}
		}
	}
}

func (s *PortServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "Missing session parameter", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	cmd, err := events.DecodeCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	port, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if err := port.Post(cmd); err != nil {
		if errors.Is(err, tracker.ErrDisconnected) {
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires "Authorization: Bearer <token>" on every route
// except the health check.
func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == PathHealth {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
