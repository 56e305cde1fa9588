package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"candidatehub/api/internal/app"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultMaxMessageBytes = 64 * 1024
)

type ServerConfig struct {
	// AllowedOrigin is matched against the Origin header; "*" or empty allows any.
	AllowedOrigin   string
	MaxMessageBytes int64
}

// Server upgrades HTTP requests to WebSocket connections managed by a Manager.
type Server struct {
	manager         *Manager
	upgrader        websocket.Upgrader
	maxMessageBytes int64
	logger          *zap.Logger
}

func NewServer(manager *Manager, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	origin := strings.TrimSpace(cfg.AllowedOrigin)
	return &Server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if origin == "" || origin == "*" {
					return true
				}
				return r.Header.Get("Origin") == origin
			},
		},
		maxMessageBytes: cfg.MaxMessageBytes,
		logger:          logger.With(zap.String("component", "ws")),
	}
}

// ServeHTTP authenticates before upgrading, so a rejected credential gets a
// plain 401 and a user over the connection cap gets 429.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Connect(r.Context(), credentialFrom(r))
	if err != nil {
		status := http.StatusUnauthorized
		domainErr := app.AsDomainError(err)
		if errors.Is(err, ErrTooManyConnections) {
			status = http.StatusTooManyRequests
			domainErr = &app.DomainError{Code: "TOO_MANY_CONNECTIONS", Message: "Connection limit exceeded"}
		} else if domainErr.Code != app.CodeAuthenticationFailed {
			domainErr = app.AuthenticationError("Authentication failed")
		}
		s.logger.Warn("websocket rejected",
			zap.Int("status", status),
			zap.String("remoteAddr", r.RemoteAddr),
			zap.Error(err),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": domainErr.Code, "error": domainErr.Message})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
		s.manager.Close(c, "upgrade failed")
		return
	}

	go s.writePump(ws, c)
	go s.readPump(ws, c)
}

// readPump feeds client messages to the manager. Its exit closes the
// connection, whatever the cause.
func (s *Server) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		s.manager.Close(c, "disconnect")
		ws.Close()
	}()

	ws.SetReadLimit(s.maxMessageBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("connectionID", c.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.manager.replyError(c, "", "binary", app.ValidationError("Binary messages are not supported"))
			continue
		}
		s.manager.Handle(c.Context(), c, message)
	}
}

func (s *Server) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-c.Send():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", zap.String("connectionID", c.ID()), zap.Error(err))
				return
			}
		case <-c.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// credentialFrom reads the token from the Authorization header, the token
// query parameter or the auth_token cookie, in that order.
func credentialFrom(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}
