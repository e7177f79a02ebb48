// Package gameapitest runs an in-process stand-in for the game server.
package gameapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"woodland-client/internal/model"

	"github.com/gorilla/websocket"
)

const (
	Username = "alice"
	Password = "hunter2"
	Token    = "opaque-access-token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves one game. Route is the current action; Steps are handed out
// in order, first by GET and then one per accepted submission.
type Server struct {
	*httptest.Server

	GameID model.GameID

	mu          sync.Mutex
	route       string
	steps       []model.ActionStep
	submissions []map[string]any
	undoFails   bool
	undos       int
	conns       []*websocket.Conn
}

func NewServer(t *testing.T, gameID model.GameID, route string, steps ...model.ActionStep) *Server {
	t.Helper()
	s := &Server{GameID: gameID, route: route, steps: steps}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.Server.Close()
}

func (s *Server) SetRoute(route string, steps ...model.ActionStep) {
	s.mu.Lock()
	s.route, s.steps = route, steps
	s.mu.Unlock()
}

func (s *Server) FailUndo(fail bool) {
	s.mu.Lock()
	s.undoFails = fail
	s.mu.Unlock()
}

func (s *Server) Submissions() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.submissions...)
}

func (s *Server) Undos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undos
}

// PushUpdate broadcasts the server's "something changed" message.
func (s *Server) PushUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteJSON(map[string]string{"message": "update"})
	}
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	id := fmt.Sprint(s.GameID)
	path := r.URL.Path

	switch {
	case path == "/api/token/":
		s.token(w, r)
	case path == "/ws/game/"+id+"/":
		s.socket(w, r)
	case !authorized(r):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	case path == "/api/game/current-action/"+id+"/":
		s.mu.Lock()
		route := s.route
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, model.ActionRoute{Route: route})
	case path == "/api/game/undo/"+id+"/":
		s.undo(w)
	case path == "/api/clearings/"+id+"/":
		writeJSON(w, http.StatusOK, []model.Clearing{{ClearingNumber: 1, Suit: "r"}, {ClearingNumber: 2, Suit: "y"}})
	case path == "/api/players/"+id+"/":
		writeJSON(w, http.StatusOK, []model.Player{{Username: Username, Faction: "ca"}})
	default:
		s.action(w, r, id)
	}
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Username != Username || body.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": Token, "refresh": "refresh-token"})
}

func (s *Server) undo(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undoFails {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Nothing to undo"})
		return
	}
	s.undos++
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.route == "" || !strings.HasPrefix(r.URL.Path, s.route) {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodGet {
		if len(s.steps) == 0 {
			writeJSON(w, http.StatusOK, model.ActionStep{Name: model.StepCompleted})
			return
		}
		writeJSON(w, http.StatusOK, s.steps[0])
		return
	}
	if !strings.HasPrefix(r.URL.Path, s.route+id+"/") {
		http.NotFound(w, r)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad payload"})
		return
	}
	s.submissions = append(s.submissions, payload)
	if len(s.steps) > 0 {
		s.steps = s.steps[1:]
	}
	if len(s.steps) == 0 {
		writeJSON(w, http.StatusOK, model.ActionStep{Name: model.StepCompleted})
		return
	}
	writeJSON(w, http.StatusOK, s.steps[0])
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "authenticate" || msg["token"] != Token {
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	_ = conn.WriteJSON(map[string]string{"type": "authenticated"})
	s.mu.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+Token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
