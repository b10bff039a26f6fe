// Package ws maintains one WebSocket connection per workflow session and
// carries progress updates and the HITL request/response exchange over it.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/auditflow/auditflow/types"
)

// Responder receives decoded operator answers from the channel.
// Implemented by the orchestrator.
type Responder interface {
	HandleHITLResponse(resp types.HITLResponse)
}

// sessionConn wraps one accepted connection. Writes are serialized with
// a mutex because WebSocket does not allow concurrent writers.
type sessionConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sessionConn) write(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, raw)
}

// ConnectionManager tracks the live connection per session. It is the
// orchestrator's transport: sends to a session without a connection are
// dropped, not failed, because a disconnected operator must never abort
// a running workflow.
type ConnectionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionConn
	responder Responder
	logger    *zap.Logger
}

// NewConnectionManager creates a manager delivering operator responses
// to responder.
func NewConnectionManager(responder Responder, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		sessions:  make(map[string]*sessionConn),
		responder: responder,
		logger:    logger.With(zap.String("component", "ws_manager")),
	}
}

// HandleSession upgrades the request and serves the session channel
// until the client disconnects. A new connection for a session replaces
// the old one.
func (m *ConnectionManager) HandleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket accept failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	sc := &sessionConn{conn: conn}
	m.register(sessionID, sc)
	m.logger.Info("session channel opened", zap.String("session_id", sessionID))

	defer func() {
		m.unregister(sessionID, sc)
		conn.Close(websocket.StatusNormalClosure, "closing")
		m.logger.Info("session channel closed", zap.String("session_id", sessionID))
	}()

	m.readLoop(r.Context(), sessionID, sc)
}

func (m *ConnectionManager) readLoop(ctx context.Context, sessionID string, sc *sessionConn) {
	for {
		_, raw, err := sc.conn.Read(ctx)
		if err != nil {
			return
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			m.logger.Warn("discarding malformed frame",
				zap.String("session_id", sessionID), zap.Error(err))
			m.writeError(ctx, sc, "malformed frame")
			continue
		}

		switch frame.Type {
		case FrameHITLResponse:
			var resp types.HITLResponse
			if err := json.Unmarshal(frame.Data, &resp); err != nil {
				m.logger.Warn("discarding malformed hitl response",
					zap.String("session_id", sessionID), zap.Error(err))
				m.writeError(ctx, sc, "malformed hitl_response")
				continue
			}
			resp.SessionID = sessionID
			m.responder.HandleHITLResponse(resp)
		default:
			m.logger.Debug("ignoring frame",
				zap.String("session_id", sessionID),
				zap.String("type", frame.Type))
		}
	}
}

func (m *ConnectionManager) writeError(ctx context.Context, sc *sessionConn, message string) {
	raw, err := EncodeFrame(FrameError, map[string]string{"message": message})
	if err != nil {
		return
	}
	_ = sc.write(ctx, raw)
}

// SendProgress implements orchestrator.Transport.
func (m *ConnectionManager) SendProgress(ctx context.Context, sessionID string, update types.ProgressUpdate) error {
	return m.send(ctx, sessionID, FrameProgressUpdate, update)
}

// SendHITLRequest implements orchestrator.Transport.
func (m *ConnectionManager) SendHITLRequest(ctx context.Context, req types.HITLRequest) error {
	return m.send(ctx, req.SessionID, FrameHITLRequest, req)
}

func (m *ConnectionManager) send(ctx context.Context, sessionID, frameType string, body any) error {
	m.mu.RLock()
	sc, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("no channel for session, dropping frame",
			zap.String("session_id", sessionID),
			zap.String("type", frameType))
		return nil
	}

	raw, err := EncodeFrame(frameType, body)
	if err != nil {
		return err
	}
	if err := sc.write(ctx, raw); err != nil {
		m.logger.Warn("session channel write failed",
			zap.String("session_id", sessionID),
			zap.String("type", frameType),
			zap.Error(err))
		return err
	}
	return nil
}

func (m *ConnectionManager) register(sessionID string, sc *sessionConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[sessionID]; ok {
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by new connection")
	}
	m.sessions[sessionID] = sc
}

func (m *ConnectionManager) unregister(sessionID string, sc *sessionConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[sessionID]; ok && cur == sc {
		delete(m.sessions, sessionID)
	}
}

// Connected reports whether a session currently has a live channel.
func (m *ConnectionManager) Connected(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}
