package transport

import (
	"net"

	"github.com/foodmesh/core/internal/logging"
	"go.uber.org/zap"
)

// Acceptor is the Connection Acceptor of spec.md §2: it accepts inbound
// connections and hands each one off to a fresh Peer Channel.
type Acceptor struct {
	listener net.Listener
	inbox    Inbox
	logger   *zap.SugaredLogger
}

func NewAcceptor(listener net.Listener, inbox Inbox, logger *zap.SugaredLogger) *Acceptor {
	return &Acceptor{listener: listener, inbox: inbox, logger: logger.With(logging.Fields("transport-acceptor", listener.Addr().String())...)}
}

// Serve blocks accepting connections until the listener is closed.
func (a *Acceptor) Serve() error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return err
		}
		addr := conn.RemoteAddr().String()
		a.logger.Infow("accepted connection", "peer_addr", addr)
		NewChannel(conn, addr, a.inbox, a.logger)
	}
}

func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Dial opens an outbound connection to addr and wraps it in a Channel.
func Dial(addr string, inbox Inbox, logger *zap.SugaredLogger) (*Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewChannel(conn, addr, inbox, logger), nil
}
