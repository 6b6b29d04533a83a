package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Listener receives connection lifecycle and inbound text frames
type Listener interface {
	OnConnect(connID string)
	OnFrame(connID string, data []byte)
	OnDisconnect(connID string)
}

// HandlerConfig holds heartbeat and buffer settings
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   defaultWriteTimeout,
		BufferSize:     1024,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades observer requests and pumps their frames to a Listener
type Handler struct {
	registry *Registry
	listener Listener
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(registry *Registry, listener Listener, cfg HandlerConfig, logger *zap.Logger) *Handler {
	defaults := DefaultHandlerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.ReadTimeout <= cfg.PingInterval {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		registry: registry,
		listener: listener,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.BufferSize,
			WriteBufferSize:  cfg.BufferSize,
			HandshakeTimeout: 10 * time.Second,
			// Observers are served from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("websocket"),
	}
}

// HandleWebSocket serves /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.cfg.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", zap.String("conn_id", conn.GetID()), zap.Error(err))
		_ = conn.Close()
		return
	}
	h.logger.Info("observer connected", zap.String("conn_id", conn.GetID()), zap.String("remote_addr", r.RemoteAddr))

	if h.listener != nil {
		h.listener.OnConnect(conn.GetID())
	}
	go h.handleConnection(conn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if h.listener != nil {
			h.listener.OnDisconnect(conn.GetID())
		}
		h.logger.Info("observer disconnected", zap.String("conn_id", conn.GetID()))
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("conn_id", conn.GetID()), zap.Error(err))
			}
			return
		}
		if messageType == websocket.TextMessage && h.listener != nil {
			h.listener.OnFrame(conn.GetID(), data)
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
