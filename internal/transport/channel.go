// Package transport implements the Connection Acceptor and Peer Channel
// of spec.md §2/§4.3: accepting inbound connections, framing each one,
// and dispatching inbound frames to a local Inbox (the coordinator or the
// ring manager).
package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// Inbox receives frames a Channel decodes off its connection. Dispatch is
// handed the originating Channel itself (not just its address) so request
// handlers can write a reply straight back without a second dial.
type Inbox interface {
	Dispatch(ch *Channel, f wire.Frame)
	ConnectionClosed(peerAddr string)
}

// Channel is one framed duplex connection to a peer (spec.md §2, "Peer
// Channel"). It owns a reader goroutine decoding inbound frames and a
// bounded outbound queue drained by a writer goroutine (spec.md §5
// back-pressure: "Peer channels hold bounded outbound queues; when full,
// the producer blocks").
type Channel struct {
	conn      net.Conn
	peerAddr  string
	reader    *wire.Reader
	writer    *wire.Writer
	outbound  chan wire.Frame
	inbox     Inbox
	logger    *zap.SugaredLogger
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

const outboundQueueSize = 128

// NewChannel wraps conn and immediately starts its reader and writer
// goroutines. peerAddr is the remote address used to key the
// coordinator's peer<->user bimap.
func NewChannel(conn net.Conn, peerAddr string, inbox Inbox, logger *zap.SugaredLogger) *Channel {
	c := &Channel{
		conn:     conn,
		peerAddr: peerAddr,
		reader:   wire.NewReader(conn),
		writer:   wire.NewWriter(conn),
		outbound: make(chan wire.Frame, outboundQueueSize),
		inbox:    inbox,
		logger:   logger.With(logging.Fields("transport", peerAddr)...),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Channel) PeerAddr() string { return c.peerAddr }

// Send enqueues f for delivery, blocking if the outbound queue is full.
// Once the channel has closed, Send returns at once and f is discarded.
func (c *Channel) Send(f wire.Frame) {
	select {
	case c.outbound <- f:
	case <-c.done:
	}
}

func (c *Channel) readLoop() {
	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			c.close()
			return
		}
		c.inbox.Dispatch(c, f)
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			if err := c.writer.WriteFrame(f); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.conn.Close()
		c.inbox.ConnectionClosed(c.peerAddr)
	})
}

// Close tears the channel down without waiting for a read/write error.
func (c *Channel) Close() error {
	c.close()
	return nil
}
