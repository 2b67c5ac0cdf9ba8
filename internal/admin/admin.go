// Package admin implements the supplemented localhost-only admin surface:
// a health check, a snapshot of the current shared-state document, and a
// websocket channel that pushes the current snapshot each time
// BroadcastSnapshot is called. It is gated behind --admin-addr and always binds to
// 127.0.0.1 regardless of what's configured, so it is never reachable
// off-box even by operator mistake.
package admin

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/sharedstate"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // localhost-only by bind address, not origin
}

// Server is the admin HTTP/websocket surface.
type Server struct {
	log            *logging.Logger
	sharedStatePath string

	httpSrv *http.Server

	mu      sync.Mutex
	clients map[*gorillaws.Conn]struct{}
}

// New creates an admin Server that reads snapshots from sharedStatePath.
func New(log *logging.Logger, sharedStatePath string) *Server {
	return &Server{
		log:             log.WithFields(zap.String("component", "admin")),
		sharedStatePath: sharedStatePath,
		clients:         make(map[*gorillaws.Conn]struct{}),
	}
}

// router builds the gin engine serving this surface's routes.
func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/snapshot", s.handleSnapshot)
	router.GET("/ws", s.handleWS)
	return router
}

// Start binds to 127.0.0.1:port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{Handler: s.router()}
	s.log.Info("admin surface listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	st, err := sharedstate.Read(s.sharedStatePath)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain (and discard) client messages so a disconnect surfaces as a read
	// error; this endpoint is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastSnapshot pushes the current shared-state document to every
// connected websocket client. cmd/warden calls it on its own one-second
// ticker, reading whatever the supervisor last published to the file.
func (s *Server) BroadcastSnapshot() {
	st, err := sharedstate.Read(s.sharedStatePath)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(st); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}
