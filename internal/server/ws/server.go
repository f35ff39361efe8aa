// Package ws exposes the real-time chat protocol over WebSocket.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avolkov/wirechat/internal/event"
	"github.com/avolkov/wirechat/internal/hub"
	"github.com/avolkov/wirechat/internal/limiter"
	"github.com/avolkov/wirechat/internal/service"
)

// opTimeout bounds each storage-touching operation triggered by one inbound
// event. Operations deliberately run on a background-derived context: closing
// the transport must not cancel an already-submitted persistence call.
const opTimeout = 10 * time.Second

// Server wires the hub and services into the WebSocket endpoint.
type Server struct {
	log        *zap.Logger
	hub        *hub.Hub
	gateway    service.Gateway
	rooms      service.Rooms
	signKey    []byte
	violations limiter.Violations
	upgrader   websocket.Upgrader
}

// New constructs the WebSocket server.
func New(log *zap.Logger, h *hub.Hub, gw service.Gateway, rooms service.Rooms, signKey []byte, viol limiter.Violations) *Server {
	return &Server{
		log:        log,
		hub:        h,
		gateway:    gw,
		rooms:      rooms,
		signKey:    signKey,
		violations: viol,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin policy is enforced by the fronting proxy
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP surface: the WebSocket endpoint plus health and
// metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))
	r.HandleFunc("/ws", s.requireAuth(s.handleWS)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/direct", s.requireAuth(s.handleOpenDirect)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/group", s.requireAuth(s.handleCreateGroup)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", s.requireAuth(s.handleRename)).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}", s.requireAuth(s.handleDeleteConversation)).Methods(http.MethodDelete)
	r.HandleFunc("/conversations/{id}/members", s.requireAuth(s.handleAddMember)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/members/{principal}", s.requireAuth(s.handleRemoveMember)).Methods(http.MethodDelete)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// handleWS upgrades an authenticated request and runs the connection's read
// loop. Events of one connection are processed strictly in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	principalID, ok := PrincipalIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "AuthenticationRequired", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	wc := newWSConn(sock)
	go wc.writePump()

	regCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	conn, err := s.hub.Register(regCtx, principalID, wc)
	cancel()
	if err != nil {
		s.log.Warn("register failed", zap.Error(err))
		wc.Close()
		return
	}

	s.readPump(conn, wc, sock)
}

func (s *Server) readPump(conn *hub.Conn, wc *wsConn, sock *websocket.Conn) {
	defer func() {
		// every close path, normal or abnormal, lands here
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		s.hub.Unregister(ctx, conn)
		cancel()
		s.violations.Forget(conn.ID)
	}()

	sock.SetReadLimit(maxInboundSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in event.Inbound
		if err := sock.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.String("conn", conn.ID.String()), zap.Error(err))
			}
			return
		}
		if fatal := s.dispatch(conn, wc, in); fatal {
			return
		}
	}
}
