// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/journal"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/scheduler"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// Bot is the control surface the server exposes.
type Bot interface {
	Snapshot() orchestrator.Snapshot
	StartSession(p scheduler.Params) error
	StopSession()
	SetRegion(r screen.Rect)
	Image() []byte
	Journal(n int) []journal.Entry
	JournalEvents() <-chan journal.Entry
	MetricsHandler() http.Handler
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

// EventMessage carries one journal entry to clients.
type EventMessage struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Headline string    `json:"headline"`
	Detail   string    `json:"detail,omitempty"`
}

// SnapshotMessage answers a client "status" request.
type SnapshotMessage struct {
	Type  string                `json:"type"`
	State orchestrator.Snapshot `json:"state"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// maxExtraDelaySec is the longest delay a time.Duration can hold.
const maxExtraDelaySec = math.MaxInt64 / float64(time.Second)

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	Rounds        uint32  `json:"rounds"`
	Objects       uint32  `json:"objects"`
	ExtraDelaySec float64 `json:"extra_delay_sec"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one WebSocket connection. A single writer drains send so
// clients see messages in the order they were queued.
type client struct {
	conn *websocket.Conn
	rl   rateLimiter
	send chan any
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan any, SendQueueSize)}
}

// offer queues msg without blocking and reports whether it fit.
func (c *client) offer(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// reply queues msg, waiting for room until ctx is done.
func (c *client) reply(ctx context.Context, msg any) {
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	bot     Bot
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a new server. Call Run to start broadcasting.
func New(bot Bot) *Server {
	return &Server{
		bot:     bot,
		clients: make(map[*client]struct{}),
	}
}

// Run forwards journal events to every WebSocket client until ctx is done.
func (s *Server) Run(ctx context.Context) {
	events := s.bot.JournalEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(EventMessage{Type: string(e.Kind), Time: e.Time, Headline: e.Headline, Detail: e.Detail})
		}
	}
}

// broadcast queues msg for every client. A client whose queue is full
// misses the message.
func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !c.offer(msg) {
			slog.Debug("websocket send queue full, dropping message")
		}
	}
}

func (s *Server) connCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("PUT /api/region", s.handleRegion)
	mux.HandleFunc("GET /api/capture", s.handleCapture)
	mux.HandleFunc("GET /api/journal", s.handleJournal)
	mux.Handle("GET /metrics", s.bot.MetricsHandler())

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	c := newClient(conn)
	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		c.writeLoop(ctx)
	}()

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		cancel()
		<-wrote
	}()

	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.reply(ctx, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "status":
			c.reply(ctx, SnapshotMessage{Type: "snapshot", State: s.bot.Snapshot()})
		case "stop":
			log.Info("session stop requested", "via", "websocket")
			s.bot.StopSession()
		default:
			c.reply(ctx, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(msg.Type)})
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.Snapshot())
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ExtraDelaySec < 0 {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "extra_delay_sec must not be negative"))
		return
	}
	if req.ExtraDelaySec > maxExtraDelaySec {
		writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "extra_delay_sec must not exceed %.0f", maxExtraDelaySec))
		return
	}

	p := scheduler.Params{
		Rounds:     req.Rounds,
		Objects:    req.Objects,
		ExtraDelay: time.Duration(req.ExtraDelaySec * float64(time.Second)),
	}
	if err := s.bot.StartSession(p); err != nil {
		writeError(w, err)
		return
	}
	trace.Logger(r.Context()).Info("session started", "rounds", p.Rounds, "objects", p.Objects, "extra_delay", p.ExtraDelay)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.bot.StopSession()
	trace.Logger(r.Context()).Info("session stop requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	var rect screen.Rect
	if err := decodeBody(w, r, &rect); err != nil {
		writeError(w, err)
		return
	}
	if rect.Empty() || rect.X < 0 || rect.Y < 0 {
		writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid region %s", rect.String()))
		return
	}
	s.bot.SetRegion(rect)
	writeJSON(w, http.StatusOK, rect)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	img := s.bot.Image()
	if len(img) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := JournalDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.bot.Journal(limit))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, httpStatus(code), map[string]string{"error": msg, "code": string(code)})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeUnavailable, apperrors.CodeTargetNotFound:
		return http.StatusServiceUnavailable
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
