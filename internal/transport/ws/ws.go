// Package ws is a concrete, runnable transport.Connection implementation
// over WebSockets, used by cmd/noded to actually run a node end to end.
// The event loop core treats transport as an external collaborator
// (spec.md §1); this package is the one adapter this module ships.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	pool "github.com/libp2p/go-buffer-pool"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/I-luk-I/Warthog/internal/log"
	"github.com/I-luk-I/Warthog/internal/transport"
	"github.com/I-luk-I/Warthog/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = wire.MaxFrameSize
	sendQueueDepth = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a *websocket.Conn to transport.Connection.
type Conn struct {
	id        transport.ConnectionID
	addr      string
	dir       transport.Direction
	since     time.Time
	logger    log.Logger

	ws      *websocket.Conn
	sendCh  chan []byte
	closeCh chan wire.Reason

	closeOnce sync.Once
}

var _ transport.Connection = (*Conn)(nil)

func newConn(id transport.ConnectionID, wsConn *websocket.Conn, addr string, dir transport.Direction, logger log.Logger) *Conn {
	c := &Conn{
		id:      id,
		addr:    addr,
		dir:     dir,
		since:   time.Now(),
		logger:  logger,
		ws:      wsConn,
		sendCh:  make(chan []byte, sendQueueDepth),
		closeCh: make(chan wire.Reason, 1),
	}
	wsConn.SetReadLimit(maxMessageSize)
	go c.writePump()
	return c
}

func (c *Conn) ID() transport.ConnectionID          { return c.id }
func (c *Conn) PeerAddress() string                 { return c.addr }
func (c *Conn) Direction() transport.Direction      { return c.dir }
func (c *Conn) ConnectedSince() time.Time           { return c.since }

func (c *Conn) AsyncSend(buf []byte) {
	select {
	case c.sendCh <- buf:
	default:
		c.logger.Debug("dropping send on full queue", "conn", c.id)
		c.AsyncClose(wire.ReasonTimeout)
	}
}

func (c *Conn) AsyncClose(reason wire.Reason) {
	c.closeOnce.Do(func() {
		c.closeCh <- reason
		close(c.closeCh)
	})
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for buf := range c.sendCh {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			c.logger.Debug("write failed", "conn", c.id, "err", err)
			return
		}
	}
}

// ExtractMessages blocks reading frames off the socket until it closes or
// ctx is cancelled, handing each decoded frame to cb. It returns the
// close reason once the loop stops, either the peer's own AsyncClose or a
// read/decode failure translated to a wire.Reason.
func (c *Conn) ExtractMessages(ctx context.Context, cb func(wire.Message)) wire.Reason {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		c.ws.Close()
	}()
	defer close(done)

	for {
		select {
		case reason := <-c.closeCh:
			return reason
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return wire.ReasonTimeout
		}
		buf := pool.Get(len(raw))
		copy(buf, raw)

		msg, err := wire.Decode(buf)
		pool.Put(buf)
		if err != nil {
			return wire.ReasonChecksum
		}
		cb(msg)
	}
}

// Listener implements transport.Listener over an HTTP server upgrading to
// WebSocket connections, bounded by netutil.LimitListener the same way
// the resource caps in spec.md §5 bound everything else.
type Listener struct {
	logger   log.Logger
	inbound  chan transport.Connection
	nextID   uint64
	mu       sync.Mutex

	httpSrv *http.Server
	ln      net.Listener
}

// NewListener starts accepting inbound WebSocket connections on addr,
// admitting at most maxConns simultaneous sockets.
func NewListener(addr string, maxConns int, logger log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln = netutil.LimitListener(ln, maxConns)

	l := &Listener{
		logger:  logger,
		inbound: make(chan transport.Connection, maxConns),
		ln:      ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.httpSrv = &http.Server{Handler: mux}

	go l.httpSrv.Serve(ln)
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	id := l.allocID()
	conn := newConn(transport.ConnectionID(id), wsConn, r.RemoteAddr, transport.Inbound, l.logger)
	l.inbound <- conn
}

func (l *Listener) allocID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

func (l *Listener) Accept(ctx context.Context) (transport.Connection, error) {
	select {
	case c := <-l.inbound:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Dial(ctx context.Context, addr string) (transport.Connection, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := d.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	id := l.allocID()
	return newConn(transport.ConnectionID(id), wsConn, addr, transport.Outbound, l.logger), nil
}

func (l *Listener) Close() error {
	return l.httpSrv.Close()
}
