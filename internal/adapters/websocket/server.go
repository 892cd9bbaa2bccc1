package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
	"github.com/bft-labs/listycity/pkg/log"
)

// Server serves registered collections at CollectionPath + ":collection".
type Server struct {
	logger   log.Logger
	upgrader websocket.Upgrader
	router   *gin.Engine

	mu     sync.RWMutex
	stores map[string]ports.RemoteStore
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server with no collections. logger may be nil.
func NewServer(logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		stores: make(map[string]ports.RemoteStore),
		conns:  make(map[*serverConn]struct{}),
	}
	// Route on the escaped path so a collection name may contain a slash.
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.UseRawPath = true
	s.router.UnescapePathValues = true
	s.router.GET(CollectionPath+":collection", s.serveCollection)
	return s
}

// Handle serves store as collection, replacing any earlier registration.
func (s *Server) Handle(collection string, store ports.RemoteStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[collection] = store
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) store(collection string) (ports.RemoteStore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[collection]
	return st, ok
}

func (s *Server) serveCollection(ctx *gin.Context) {
	w, r := ctx.Writer, ctx.Request
	collection := ctx.Param("collection")
	store, ok := s.store(collection)
	if !ok {
		ctx.String(http.StatusNotFound, "unknown collection %q\n", collection)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.String("collection", collection), log.Err(err))
		return
	}
	ws.SetReadLimit(readLimit)

	c := &serverConn{
		ws:         ws,
		store:      store,
		collection: collection,
		logger:     log.With(s.logger, log.String("collection", collection), log.String("remote", r.RemoteAddr)),
	}
	if !s.track(c) {
		_ = ws.Close()
		return
	}
	defer s.untrack(c)

	c.logger.Debug("client connected")
	c.run(r.Context())
	c.logger.Debug("client disconnected")
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Close drops every client connection and waits for their handlers to
// finish. Clients see their subscriptions as lost. It does not close the
// registered stores.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	s.wg.Wait()
	return nil
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// serverConn is one client connection.
type serverConn struct {
	ws         *websocket.Conn
	store      ports.RemoteStore
	collection string
	logger     log.Logger

	writeMu sync.Mutex

	subMu sync.Mutex
	sub   ports.Subscription
}

func (c *serverConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.closeSubscription()
		_ = c.ws.Close()
	}()

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read frame", log.Err(err))
			}
			return
		}
		if f.Collection != "" && f.Collection != c.collection {
			c.reply(f.ID, fmt.Errorf("frame for collection %q on %q", f.Collection, c.collection))
			continue
		}

		switch f.Type {
		case FrameSubscribe:
			c.subscribe(ctx, f.ID)
		case FrameWrite:
			if f.Record == nil {
				c.reply(f.ID, errors.New("write without record"))
				continue
			}
			c.reply(f.ID, c.store.Write(ctx, *f.Record))
		case FrameDelete:
			c.reply(f.ID, c.store.Delete(ctx, f.Key))
		default:
			c.reply(f.ID, fmt.Errorf("unknown frame type %q", f.Type))
		}
	}
}

// subscribe replaces the connection's subscription. Snapshots are held
// back until the ack has been sent.
func (c *serverConn) subscribe(ctx context.Context, id string) {
	c.closeSubscription()

	ready := make(chan struct{})
	wait := func() bool {
		select {
		case <-ready:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sub, err := c.store.Subscribe(ctx,
		func(docs []domain.Document) {
			if wait() {
				c.send(Frame{Type: FrameSnapshot, ID: id, Collection: c.collection, Docs: docs})
			}
		},
		func(err error) {
			if !wait() {
				return
			}
			c.logger.Warn("subscription error", log.Err(err))
			c.send(Frame{
				Type:  FrameError,
				ID:    id,
				Error: err.Error(),
				Lost:  errors.Is(err, domain.ErrSubscriptionLost),
			})
		},
	)
	if err != nil {
		c.reply(id, err)
		return
	}

	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()

	c.reply(id, nil)
	close(ready)
}

func (c *serverConn) closeSubscription() {
	c.subMu.Lock()
	sub := c.sub
	c.sub = nil
	c.subMu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (c *serverConn) reply(id string, err error) {
	if err != nil {
		c.send(Frame{Type: FrameError, ID: id, Error: err.Error()})
		return
	}
	c.send(Frame{Type: FrameAck, ID: id})
}

func (c *serverConn) send(f Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(f); err != nil {
		c.logger.Debug("write frame", log.String("type", f.Type), log.Err(err))
	}
}
