package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MgenGlder/docbind/pkg/store"
)

var (
	// ErrClosed indicates the client connection is gone.
	ErrClosed = errors.New("connection closed")

	// ErrRemote wraps failures reported by the server, for both
	// subscriptions and mutation acks.
	ErrRemote = errors.New("remote store error")
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	// Logger receives connection activity. Optional.
	Logger *slog.Logger
}

// Client is a remote document store reached over the wire protocol.
// Its queries and document references satisfy the pkg/store contract,
// so a Binder consumes a remote store exactly like a local one.
//
// The single read loop dispatches every server event, which preserves
// per-subscription delivery order end to end.
type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// writeMu serializes frame writes; the websocket permits one
	// concurrent writer.
	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*clientSub
	acks    map[string]chan event
	nextSub int
	nextReq int
	closed  bool

	done chan struct{}
}

type clientSub struct {
	onChanges func([]store.Change)
	onSnap    func(store.Snapshot)
	onError   func(error)
}

// Dial connects to a docbind server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*clientSub),
		acks:   make(map[string]chan event),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Debug("connected", "url", url)
	return c, nil
}

// Close tears the connection down. Open subscriptions receive
// ErrClosed through their error callbacks.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Collection returns a handle for the named remote collection.
func (c *Client) Collection(name string) *Collection {
	return &Collection{client: c, name: name}
}

// readLoop dispatches server events until the connection fails, then
// fans the failure out to every open subscription and pending ack.
func (c *Client) readLoop() {
	for {
		var ev event
		if err := c.ws.ReadJSON(&ev); err != nil {
			c.fail(err)
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev event) {
	switch ev.Type {
	case eventChanges:
		if sub := c.sub(ev.Sub); sub != nil && sub.onChanges != nil {
			changes, err := decodeChanges(ev.Changes)
			if err != nil {
				sub.onError(fmt.Errorf("%w: %v", ErrRemote, err))
				return
			}
			sub.onChanges(changes)
		}

	case eventSnapshot:
		if sub := c.sub(ev.Sub); sub != nil && sub.onSnap != nil && ev.Doc != nil {
			sub.onSnap(decodeSnapshot(*ev.Doc))
		}

	case eventError:
		if sub := c.sub(ev.Sub); sub != nil {
			sub.onError(fmt.Errorf("%w: %s", ErrRemote, ev.Error))
		}

	case eventAck:
		c.mu.Lock()
		ch, ok := c.acks[ev.Req]
		delete(c.acks, ev.Req)
		c.mu.Unlock()
		if ok {
			ch <- ev
		}

	default:
		c.logger.Error("unknown event type", "type", ev.Type)
	}
}

func (c *Client) sub(id string) *clientSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

// fail closes out the client after a connection-level error.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	acks := c.acks
	c.subs = make(map[string]*clientSub)
	c.acks = make(map[string]chan event)
	close(c.done)
	c.mu.Unlock()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("connection failed", "error", err)
	}

	cause := fmt.Errorf("%w: %v", ErrClosed, err)
	for _, sub := range subs {
		sub.onError(cause)
	}
	for _, ch := range acks {
		close(ch)
	}
}

// register claims a subscription id. Returns "" when the client is
// already closed.
func (c *Client) register(sub *clientSub) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ""
	}
	c.nextSub++
	id := "s" + strconv.Itoa(c.nextSub)
	c.subs[id] = sub
	return id
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok {
		_ = c.write(request{Op: opUnsubscribe, Sub: id})
	}
}

func (c *Client) write(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(req)
}

// roundTrip sends a mutation request and waits for its ack.
func (c *Client) roundTrip(ctx context.Context, req request) (event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return event{}, ErrClosed
	}
	c.nextReq++
	req.Req = "r" + strconv.Itoa(c.nextReq)
	ch := make(chan event, 1)
	c.acks[req.Req] = ch
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.acks, req.Req)
		c.mu.Unlock()
		return event{}, fmt.Errorf("write %s: %w", req.Op, err)
	}

	select {
	case ev, ok := <-ch:
		if !ok {
			return event{}, ErrClosed
		}
		if ev.Error != "" {
			return event{}, fmt.Errorf("%w: %s", ErrRemote, ev.Error)
		}
		return ev, nil
	case <-c.done:
		return event{}, ErrClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.acks, req.Req)
		c.mu.Unlock()
		return event{}, ctx.Err()
	}
}

// Collection is a handle to one remote collection.
type Collection struct {
	client *Client
	name   string
}

// Name returns the collection's name.
func (col *Collection) Name() string {
	return col.name
}

// Doc returns a reference to the identified remote document.
func (col *Collection) Doc(id string) *DocRef {
	return &DocRef{col: col, id: id}
}

// Query returns an unfiltered query over the remote collection.
func (col *Collection) Query() *Query {
	return &Query{col: col}
}

// Where is shorthand for Query().Where.
func (col *Collection) Where(field, op string, value any) *Query {
	return col.Query().Where(field, op, value)
}

// OrderBy is shorthand for Query().OrderBy.
func (col *Collection) OrderBy(field string, desc bool) *Query {
	return col.Query().OrderBy(field, desc)
}

// Set creates or wholly replaces a remote document.
func (col *Collection) Set(ctx context.Context, id string, data map[string]any) error {
	_, err := col.client.roundTrip(ctx, request{
		Op: opSet, Collection: col.name, Doc: id, Data: data,
	})
	return err
}

// Update merges fields into an existing remote document.
func (col *Collection) Update(ctx context.Context, id string, fields map[string]any) error {
	_, err := col.client.roundTrip(ctx, request{
		Op: opUpdate, Collection: col.name, Doc: id, Data: fields,
	})
	return err
}

// Delete removes an existing remote document.
func (col *Collection) Delete(ctx context.Context, id string) error {
	_, err := col.client.roundTrip(ctx, request{
		Op: opDelete, Collection: col.name, Doc: id,
	})
	return err
}

// Add stores data under a server-generated identifier and returns it.
func (col *Collection) Add(ctx context.Context, data map[string]any) (string, error) {
	ev, err := col.client.roundTrip(ctx, request{
		Op: opAdd, Collection: col.name, Data: data,
	})
	if err != nil {
		return "", err
	}
	return ev.DocID, nil
}

// Query is a filtered, ordered view over a remote collection. Builder
// methods derive a new Query and never mutate the receiver. Filter
// validation happens server-side and surfaces through the
// subscription's error callback.
type Query struct {
	col     *Collection
	where   []whereSpec
	orderBy []orderSpec
	limit   int
}

// Where derives a query additionally filtered by "field op value".
func (q *Query) Where(field, op string, value any) *Query {
	next := q.clone()
	next.where = append(next.where, whereSpec{Field: field, Op: op, Value: value})
	return next
}

// OrderBy derives a query ordered by the given field; repeated calls
// append secondary sort keys.
func (q *Query) OrderBy(field string, desc bool) *Query {
	next := q.clone()
	next.orderBy = append(next.orderBy, orderSpec{Field: field, Desc: desc})
	return next
}

// Limit derives a query truncated to the first n results.
func (q *Query) Limit(n int) *Query {
	next := q.clone()
	next.limit = n
	return next
}

// Path returns the queried collection's name.
func (q *Query) Path() string {
	return q.col.name
}

// Subscribe opens a remote query subscription.
func (q *Query) Subscribe(onChanges func([]store.Change), onError func(error)) store.Unsubscribe {
	c := q.col.client
	sub := &clientSub{onChanges: onChanges, onError: onError}

	id := c.register(sub)
	if id == "" {
		go onError(ErrClosed)
		return func() {}
	}

	err := c.write(request{
		Op:         opSubscribeQuery,
		Sub:        id,
		Collection: q.col.name,
		Where:      q.where,
		OrderBy:    q.orderBy,
		Limit:      q.limit,
	})
	if err != nil {
		c.unregister(id)
		go onError(fmt.Errorf("subscribe: %w", err))
		return func() {}
	}

	return func() { c.unregister(id) }
}

func (q *Query) clone() *Query {
	return &Query{
		col:     q.col,
		where:   append([]whereSpec(nil), q.where...),
		orderBy: append([]orderSpec(nil), q.orderBy...),
		limit:   q.limit,
	}
}

// DocRef references a single remote document.
type DocRef struct {
	col *Collection
	id  string
}

// Path returns "collection/id".
func (d *DocRef) Path() string {
	return d.col.name + "/" + d.id
}

// ID returns the document's identity.
func (d *DocRef) ID() string {
	return d.id
}

// Subscribe opens a remote document subscription.
func (d *DocRef) Subscribe(onSnapshot func(store.Snapshot), onError func(error)) store.Unsubscribe {
	c := d.col.client
	sub := &clientSub{onSnap: onSnapshot, onError: onError}

	id := c.register(sub)
	if id == "" {
		go onError(ErrClosed)
		return func() {}
	}

	err := c.write(request{
		Op:         opSubscribeDoc,
		Sub:        id,
		Collection: d.col.name,
		Doc:        d.id,
	})
	if err != nil {
		c.unregister(id)
		go onError(fmt.Errorf("subscribe: %w", err))
		return func() {}
	}

	return func() { c.unregister(id) }
}
