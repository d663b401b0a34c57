// Package relay exposes one pair of glasses over HTTP: link events stream
// to WebSocket clients and display commands arrive as JSON requests.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/glasslink/link"
	"github.com/user/glasslink/logger"
)

// Controller is the part of the glasses API the relay drives
type Controller interface {
	Info() link.Info
	Live() link.Live
	Subscribe() (<-chan link.Event, func())
	SendText(title, body string) error
	SendTextWall(text string) error
	SendNotification(appID, title, subtitle, body string) error
	SetBrightness(percent int, auto bool) error
	ClearDisplay() error
	QueryBatteryNow() error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Info link.Info `json:"info"`
	Live link.Live `json:"live"`
}

type TextRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type NotificationRequest struct {
	AppID    string `json:"app_id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Body     string `json:"body"`
}

type BrightnessRequest struct {
	Percent int  `json:"percent"`
	Auto    bool `json:"auto"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server relays one controller
type Server struct {
	ctl    Controller
	hub    *Hub
	mux    *http.ServeMux
	prefix string

	mu   sync.Mutex
	http *http.Server

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewServer(ctl Controller) *Server {
	s := &Server{
		ctl:    ctl,
		hub:    NewHub(),
		mux:    http.NewServeMux(),
		prefix: "relay",
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/status", corsMiddleware(s.handleStatus))
	s.mux.HandleFunc("/api/text", corsMiddleware(s.handleText))
	s.mux.HandleFunc("/api/notification", corsMiddleware(s.handleNotification))
	s.mux.HandleFunc("/api/brightness", corsMiddleware(s.handleBrightness))
	s.mux.HandleFunc("/api/clear", corsMiddleware(s.handleClear))
	s.mux.HandleFunc("/api/battery", corsMiddleware(s.handleBattery))

	go s.pump()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the client hub
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe serves until Shutdown
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return nil
	default:
	}
	s.http = srv
	s.mu.Unlock()
	logger.Info(s.prefix, "listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the event pump, disconnects clients and stops the
// listener if one is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Unlock()
	<-s.done
	s.hub.CloseAll()
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// pump forwards controller events to the hub
func (s *Server) pump() {
	defer close(s.done)
	events, unsub := s.ctl.Subscribe()
	defer unsub()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(ev)
		case <-ticker.C:
			s.hub.ping()
		case <-s.stop:
			return
		}
	}
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(s.prefix, "Failed to upgrade connection: %v", err)
		return
	}
	s.hub.AddClient(conn)
	logger.Debug(s.prefix, "client %s connected", conn.RemoteAddr())

	// Reads only serve control frames and close detection
	go func() {
		defer s.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn(s.prefix, "client %s: %v", conn.RemoteAddr(), err)
				}
				return
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	json.NewEncoder(w).Encode(StatusResponse{Info: s.ctl.Info(), Live: s.ctl.Live()})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Title == "" {
		s.reply(w, s.ctl.SendTextWall(req.Body))
		return
	}
	s.reply(w, s.ctl.SendText(req.Title, req.Body))
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.AppID == "" {
		writeError(w, http.StatusBadRequest, "app_id is required")
		return
	}
	s.reply(w, s.ctl.SendNotification(req.AppID, req.Title, req.Subtitle, req.Body))
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req BrightnessRequest
	if !decodePost(w, r, &req) {
		return
	}
	s.reply(w, s.ctl.SetBrightness(req.Percent, req.Auto))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.reply(w, s.ctl.ClearDisplay())
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.reply(w, s.ctl.QueryBatteryNow())
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// reply maps a controller error onto an HTTP status
func (s *Server) reply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, link.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, link.ErrDestroyed):
		writeError(w, http.StatusGone, err.Error())
	default:
		logger.Warn(s.prefix, "command failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
