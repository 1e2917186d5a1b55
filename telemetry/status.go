package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// Updates queued per websocket client before it is dropped
	clientBuffer = 16
)

// StatusSource supplies the JSON documents served by the status server.
type StatusSource interface {
	Health() any
	Peers() any
}

// StatusServer serves /healthz, /metrics, /peers and a /ws stream of
// whatever is passed to Publish.
type StatusServer struct {
	addr     string
	source   StatusSource
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewStatusServer(addr string, source StatusSource) *StatusServer {
	return &StatusServer{
		addr:   addr,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.source.Health())
	})
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.source.Peers())
	})
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("status: failed to write response: %v", err)
	}
}

// Serve listens on the configured address until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, l)
}

func (s *StatusServer) serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(sctx)
		s.closeAll()
	}()

	log.Infof("Status server listening on http://%s", l.Addr())

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish sends v as JSON to every websocket client. Slow clients are
// disconnected rather than allowed to block the caller.
func (s *StatusServer) Publish(v any) {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	if n == 0 {
		return
	}

	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("status: cannot encode update: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- b:
		default:
			log.Warnf("status: dropping slow websocket client %s", c.conn.RemoteAddr())
			s.removeLocked(c)
		}
	}
}

func (s *StatusServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("status: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	log.Debugf("status: websocket client %s connected", conn.RemoteAddr())

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop only exists to process control frames and notice disconnects.
func (s *StatusServer) readLoop(c *wsClient) {
	defer s.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("status: websocket client %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (s *StatusServer) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}
		}
	}
}

func (s *StatusServer) remove(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(c)
}

func (s *StatusServer) removeLocked(c *wsClient) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (s *StatusServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.removeLocked(c)
	}
}

// Clients returns the number of connected websocket clients.
func (s *StatusServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
