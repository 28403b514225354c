package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/session"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/gorilla/websocket"
)

const writeDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The agent binds loopback by default; the GUI runs on the same host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the caller-facing contract over a websocket: inbound
// transfer_start/transfer_cancel commands, outbound progress, state and
// terminal events.
type Server struct {
	cfg  *config.Config
	hub  *Hub
	orch *session.Orchestrator
	http *http.Server
}

func NewServer(cfg *config.Config, hub *Hub, orch *session.Orchestrator) *Server {
	s := &Server{cfg: cfg, hub: hub, orch: orch}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.http = &http.Server{Addr: cfg.ListenAddr(), Handler: mux}
	return s
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	logger.Log.Info("event server listening", "addr", s.cfg.ListenAddr())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("websocket upgrade failed", "err", err)
		return
	}
	conn := s.hub.attach()
	go s.writePump(ws, conn)
	s.readPump(ws, conn)
}

// writePump drains the connection's send channel onto the socket.
func (s *Server) writePump(ws *websocket.Conn, conn *connection) {
	for msg := range conn.sendCh {
		ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := ws.WriteJSON(msg); err != nil {
			logger.Log.Warn("write failed, closing connection", "conn", conn.id, "err", err)
			ws.Close()
			return
		}
	}
	ws.Close()
}

// readPump dispatches inbound commands until the socket closes.
func (s *Server) readPump(ws *websocket.Conn, conn *connection) {
	defer s.hub.detach(conn.id)
	for {
		_, msgBytes, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg models.Message
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			logger.Log.Warn("failed to parse message", "conn", conn.id, "err", err)
			continue
		}
		s.dispatch(conn, msg)
	}
}

func (s *Server) dispatch(conn *connection, msg models.Message) {
	switch msg.Type {
	case models.MsgTransferStart:
		s.handleStart(conn, msg.Payload)
	case models.MsgTransferCancel:
		s.orch.Cancel()
	default:
		logger.Log.Warn("no handler for message type", "type", msg.Type)
	}
}

func (s *Server) handleStart(conn *connection, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.replyError(conn, "invalid transfer_start payload")
		return
	}
	var req models.TransferRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.replyError(conn, "invalid transfer_start payload")
		return
	}
	if req.LocalPath == "" {
		req.LocalPath = s.cfg.LocalRoot()
	}
	if _, err := s.orch.Start(req.Direction, req.LocalPath, req.RemotePath); err != nil {
		logger.Log.Error("transfer start rejected", "err", err)
		s.replyError(conn, err.Error())
	}
}

func (s *Server) replyError(conn *connection, detail string) {
	select {
	case conn.sendCh <- models.Message{Type: models.MsgError, Payload: detail}:
	default:
	}
}
