package wire

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/MgenGlder/docbind/pkg/memstore"
	"github.com/MgenGlder/docbind/pkg/store"
)

// outBuffer is the per-connection event queue depth. When the queue
// is full the producing subscription blocks, which stalls only that
// subscription's delivery goroutine, never the store.
const outBuffer = 256

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Store is the document store served to clients. Required.
	Store *memstore.Store

	// Logger receives connection and subscription activity. Optional.
	Logger *slog.Logger
}

// Validate checks the config and applies defaults.
func (c *ServerConfig) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Server exposes a memstore over the wire protocol. It is an
// http.Handler; mount it wherever the daemon listens.
type Server struct {
	store    *memstore.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a protocol server over the given store.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		store:  cfg.Store,
		logger: cfg.Logger,
	}, nil
}

// ServeHTTP upgrades the request and runs the connection until the
// client disconnects. Every subscription the connection opened is
// released on teardown.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &serverConn{
		id:    ulid.Make().String(),
		ws:    ws,
		store: s.store,
		out:   make(chan event, outBuffer),
		done:  make(chan struct{}),
		subs:  make(map[string]store.Unsubscribe),
	}
	conn.logger = s.logger.With("conn", conn.id, "remote", r.RemoteAddr)
	conn.run()
}

// serverConn is one client connection: a read pump dispatching
// requests and a write pump serializing events.
type serverConn struct {
	id     string
	ws     *websocket.Conn
	store  *memstore.Store
	logger *slog.Logger

	out  chan event
	done chan struct{}

	mu   sync.Mutex
	subs map[string]store.Unsubscribe
}

func (c *serverConn) run() {
	c.logger.Info("client connected")

	var g errgroup.Group
	g.Go(c.readPump)
	g.Go(c.writePump)
	err := g.Wait()

	c.releaseAll()
	_ = c.ws.Close()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("client disconnected", "error", err)
	} else {
		c.logger.Info("client disconnected")
	}
}

// readPump consumes requests until the connection fails or closes,
// then stops the write pump via done.
func (c *serverConn) readPump() error {
	defer close(c.done)

	for {
		var req request
		if err := c.ws.ReadJSON(&req); err != nil {
			return err
		}
		c.dispatch(req)
	}
}

// writePump serializes all outgoing events through the single
// permitted websocket writer.
func (c *serverConn) writePump() error {
	for {
		select {
		case ev := <-c.out:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

// send queues an event for the write pump. It blocks when the queue
// is full and gives up once the connection is done, so subscription
// callbacks cannot outlive the connection.
func (c *serverConn) send(ev event) {
	select {
	case c.out <- ev:
	case <-c.done:
	}
}

func (c *serverConn) dispatch(req request) {
	switch req.Op {
	case opSubscribeQuery:
		c.subscribeQuery(req)
	case opSubscribeDoc:
		c.subscribeDoc(req)
	case opUnsubscribe:
		c.unsubscribe(req.Sub)
	case opSet, opUpdate, opDelete, opAdd:
		c.mutate(req)
	default:
		c.logger.Error("unknown request op", "op", req.Op)
	}
}

func (c *serverConn) subscribeQuery(req request) {
	if !c.reserve(req.Sub) {
		c.send(event{Type: eventError, Sub: req.Sub, Error: "duplicate subscription id"})
		return
	}

	q := c.store.Collection(req.Collection).Query()
	for _, w := range req.Where {
		q = q.Where(w.Field, w.Op, w.Value)
	}
	for _, o := range req.OrderBy {
		q = q.OrderBy(o.Field, o.Desc)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}

	sub := req.Sub
	unsub := q.Subscribe(
		func(changes []store.Change) {
			c.send(event{Type: eventChanges, Sub: sub, Changes: encodeChanges(changes)})
		},
		func(err error) {
			c.send(event{Type: eventError, Sub: sub, Error: err.Error()})
		},
	)
	c.record(sub, unsub)
	c.logger.Debug("query subscription opened", "sub", sub, "collection", req.Collection)
}

func (c *serverConn) subscribeDoc(req request) {
	if !c.reserve(req.Sub) {
		c.send(event{Type: eventError, Sub: req.Sub, Error: "duplicate subscription id"})
		return
	}

	sub := req.Sub
	ref := c.store.Collection(req.Collection).Doc(req.Doc)
	unsub := ref.Subscribe(
		func(snap store.Snapshot) {
			doc := encodeSnapshot(snap)
			c.send(event{Type: eventSnapshot, Sub: sub, Doc: &doc})
		},
		func(err error) {
			c.send(event{Type: eventError, Sub: sub, Error: err.Error()})
		},
	)
	c.record(sub, unsub)
	c.logger.Debug("document subscription opened", "sub", sub, "doc", ref.Path())
}

func (c *serverConn) unsubscribe(sub string) {
	c.mu.Lock()
	unsub, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()

	if ok {
		unsub()
		c.logger.Debug("subscription released", "sub", sub)
	}
}

func (c *serverConn) mutate(req request) {
	col := c.store.Collection(req.Collection)

	var (
		docID string
		err   error
	)
	switch req.Op {
	case opSet:
		err = col.Set(req.Doc, req.Data)
	case opUpdate:
		err = col.Update(req.Doc, req.Data)
	case opDelete:
		err = col.Delete(req.Doc)
	case opAdd:
		docID, err = col.Add(req.Data)
	}

	ack := event{Type: eventAck, Req: req.Req, DocID: docID}
	if err != nil {
		ack.Error = err.Error()
	}
	c.send(ack)
}

// reserve claims a subscription id before the subscription exists so
// concurrent duplicate ids cannot race past the check.
func (c *serverConn) reserve(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub == "" {
		return false
	}
	if _, exists := c.subs[sub]; exists {
		return false
	}
	c.subs[sub] = func() {}
	return true
}

func (c *serverConn) record(sub string, unsub store.Unsubscribe) {
	c.mu.Lock()
	if _, ok := c.subs[sub]; ok {
		c.subs[sub] = unsub
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Unsubscribed while the subscription was being opened.
	unsub()
}

func (c *serverConn) releaseAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]store.Unsubscribe)
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}
