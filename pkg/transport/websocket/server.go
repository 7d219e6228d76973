package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	// UserIDParam is the handshake query parameter carrying the user id
	UserIDParam = "userId"
	// UserIDHeader is consulted when the query parameter is absent
	UserIDHeader = "X-User-Id"
	// AnonymousPrefix prefixes user ids synthesized from the session id
	AnonymousPrefix = "anonymous_"
)

// Dispatcher handles one inbound frame from a client
type Dispatcher interface {
	Dispatch(ctx context.Context, client domain.Client, frame []byte)
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Hub             domain.Hub
	Logger          *logging.Logger
	Dispatcher      Dispatcher
	Client          ClientOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithHub sets the hub for the server
func WithHub(hub domain.Hub) ServerOption {
	return func(o *ServerOptions) {
		o.Hub = hub
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithDispatcher sets the inbound frame dispatcher
func WithDispatcher(d Dispatcher) ServerOption {
	return func(o *ServerOptions) {
		o.Dispatcher = d
	}
}

// WithClientOptions sets the per-connection options
func WithClientOptions(opts ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = opts
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithAllowedOrigins only accepts upgrades whose Origin host is listed.
// An empty list allows every origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(o *ServerOptions) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
		}
		o.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Host)]
			return ok
		}
	}
}

// Server upgrades HTTP requests and hands the connections to the hub
type Server struct {
	upgrader websocket.Upgrader
	hub      domain.Hub
	logger   *logging.Logger
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Logger: logging.Discard(),
		Client: DefaultClientOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		hub:     options.Hub,
		logger:  options.Logger,
		options: options,
	}
}

// UserIDFromRequest derives the user identity for a new session
func UserIDFromRequest(r *http.Request, sessionID string) string {
	userID := r.URL.Query().Get(UserIDParam)
	if userID == "" {
		userID = r.Header.Get(UserIDHeader)
	}
	userID = strings.TrimSpace(protocol.Sanitize(userID))
	if len(userID) > protocol.MaxSafeLength {
		// cut on a rune boundary so the id stays valid UTF-8
		cut := protocol.MaxSafeLength
		for cut > 0 && !utf8.RuneStart(userID[cut]) {
			cut--
		}
		userID = strings.TrimSpace(userID[:cut])
	}
	if userID == "" {
		return AnonymousPrefix + sessionID
	}
	return userID
}

// ServeHTTP implements http.Handler. It returns once the connection is
// closed and unregistered.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	sessionID := xid.New().String()

	clientOptions := s.options.Client
	clientOptions.ID = sessionID
	clientOptions.UserID = UserIDFromRequest(r, sessionID)

	client := NewClient(conn, s.logger, clientOptions)

	client.Receive(func(message []byte) error {
		s.handleMessage(client, message)
		return nil
	})

	if err := s.hub.Register(client); err != nil {
		s.logger.Error("failed to register client",
			"error", err,
			"client_id", sessionID,
		)
		client.Close()
		return
	}

	client.Start()

	s.logger.Info("client connected",
		"client_id", sessionID,
		"user_id", clientOptions.UserID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()

	if err := s.hub.Unregister(sessionID); err != nil {
		s.logger.Warn("failed to unregister client",
			"error", err,
			"client_id", sessionID,
		)
	}

	client.Wait()

	s.logger.Info("client disconnected", "client_id", sessionID)
}

// handleMessage hands one frame to the dispatcher
func (s *Server) handleMessage(client *Client, message []byte) {
	s.logger.Debug("received message",
		"client_id", client.ID(),
		"size", len(message),
	)

	if s.options.Dispatcher == nil {
		s.logger.Warn("no dispatcher configured")
		return
	}

	ctx, cancel := context.WithTimeout(client.Context(), 30*time.Second)
	defer cancel()

	s.options.Dispatcher.Dispatch(ctx, client, message)
}
