// Package bridge connects the rendering surface to the controller over a
// WebSocket: bus events go out, commands come in.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/navigation"
	"github.com/arrdeck/arrdeck/internal/session"
	"github.com/arrdeck/arrdeck/internal/validator"
)

// Sessions resolves a scope to its configuration session.
type Sessions interface {
	Session(scope string) (*session.Session, bool)
}

// Option customises a Server.
type Option func(*Server)

// WithAllowedOrigins accepts browser origins beyond the loopback defaults.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = newOriginPolicy(origins)
	}
}

// WithValidator enables instance.validate.
func WithValidator(v *validator.Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithPromptTimeout bounds how long a navigation prompt waits for an answer.
func WithPromptTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.promptTimeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type pendingPrompt struct {
	client *Client
	reply  chan navigation.Decision
}

// Server manages WebSocket clients and routes their commands.
type Server struct {
	controller    *navigation.Controller
	sessions      Sessions
	bus           *eventbus.Bus
	validator     *validator.Validator
	metrics       http.Handler
	origins       *originPolicy
	promptTimeout time.Duration
	logger        *log.Logger

	upgrader   websocket.Upgrader
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stopped    chan struct{}
	stopOnce   sync.Once
	life       eventbus.Lifecycle

	mu      sync.RWMutex
	clients map[string]*Client

	promptsMu sync.Mutex
	prompts   map[string]pendingPrompt
}

// New creates a bridge and installs it as the controller's navigation guard.
func New(controller *navigation.Controller, sessions Sessions, bus *eventbus.Bus, opts ...Option) *Server {
	s := &Server{
		controller:    controller,
		sessions:      sessions,
		bus:           bus,
		origins:       newOriginPolicy(nil),
		promptTimeout: constants.BridgePromptTimeout,
		logger:        log.Default(),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan []byte, 256),
		stopped:       make(chan struct{}),
		clients:       make(map[string]*Client),
		prompts:       make(map[string]pendingPrompt),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.origins.allowed(origin)
		},
	}
	if controller != nil {
		controller.SetGuard(s.Guard)
	}
	return s
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler serves /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run forwards bus events to clients until ctx is done, then disconnects
// every client and waits for in-flight commands.
func (s *Server) Run(ctx context.Context) error {
	ctx = s.life.Start(ctx)
	for _, topic := range eventbus.AllTopics {
		sub := s.bus.Subscribe(topic, eventbus.WithSubscriptionName("bridge"))
		s.life.Track(sub)
		s.life.Go(func(ctx context.Context) {
			s.forward(ctx, sub)
		})
	}

	for {
		select {
		case <-ctx.Done():
			s.stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.BridgeShutdownTimeout)
			defer cancel()
			if err := s.life.Shutdown(shutdownCtx); err != nil {
				s.logger.Printf("[Bridge] shutdown: %v", err)
			}
			return nil

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.id] = client
			s.mu.Unlock()
			client.enqueue(Message{
				Type:      TypeHello,
				Data:      helloPayload{ClientID: client.id, Section: string(s.currentSection())},
				Timestamp: time.Now().UTC(),
			})

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client.id]; ok {
				delete(s.clients, client.id)
				client.closeSend()
			}
			s.mu.Unlock()

		case payload := <-s.broadcast:
			s.mu.RLock()
			for _, client := range s.clients {
				client.enqueueRaw(payload)
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.mu.Lock()
		for id, client := range s.clients {
			client.closeSend()
			delete(s.clients, id)
		}
		s.mu.Unlock()
	})
}

// Serve runs the bridge on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.BackendRequestTimeout,
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Printf("[Bridge] listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			<-runDone
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.BridgeShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-runDone
	return err
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[Bridge] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) forward(ctx context.Context, sub *eventbus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(Message{
				Type:      string(env.Topic),
				ID:        env.CorrelationID,
				Data:      env.Payload,
				Timestamp: env.Timestamp,
			})
			if err != nil {
				s.logger.Printf("[Bridge] marshal %s event: %v", env.Topic, err)
				continue
			}
			select {
			case s.broadcast <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"section": string(s.currentSection()),
		"clients": s.ClientCount(),
	})
}

func (s *Server) currentSection() navigation.Section {
	if s.controller == nil {
		return ""
	}
	return s.controller.Current()
}

func (s *Server) session(scope string) (*session.Session, error) {
	if s.sessions == nil {
		return nil, errUnknownScope(scope)
	}
	sess, ok := s.sessions.Session(scope)
	if !ok {
		return nil, errUnknownScope(scope)
	}
	return sess, nil
}
