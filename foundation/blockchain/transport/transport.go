// Package transport provides the reliable point to point transport of the
// gossip protocol. The sender opens a fresh connection per logical
// message, writes one encoded envelope, signals end of stream, and
// closes; the listener receives one complete envelope per accepted
// connection.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
	"github.com/pkg/errors"
)

// Connection limits. An outbound send must not block unbounded on a slow
// peer.
const (
	dialTimeout  = 3 * time.Second
	writeTimeout = 5 * time.Second
	readTimeout  = 5 * time.Second
)

// Handler interface represents the behavior required to be implemented by
// the layer receiving inbound messages. The transport holds the handler
// as an injected back reference, never as ownership.
type Handler interface {
	HandleMessage(msg wire.Message, fromHost string)
}

// =============================================================================

// TCP implements the transport over TCP sockets.
type TCP struct {
	host     string
	port     uint32
	ev       func(v string, args ...any)
	handler  Handler
	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a TCP transport that will listen on the specified host
// and port. A port of zero picks a free port at listen time.
func New(host string, port uint32, ev func(v string, args ...any)) *TCP {
	return &TCP{
		host: host,
		port: port,
		ev:   ev,
	}
}

// Port returns the listening port. Valid after Listen when constructed
// with port zero.
func (t *TCP) Port() uint32 {
	return t.port
}

// Listen binds the listening socket and starts accepting connections on a
// worker goroutine, delivering each received envelope to the handler.
func (t *TCP) Listen(handler Handler) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", t.host, t.port))
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	t.handler = handler
	t.listener = listener
	t.port = uint32(listener.Addr().(*net.TCPAddr).Port)

	t.wg.Add(1)
	go t.accept()

	return nil
}

// Shutdown stops the listener. In flight inbound handlers are drained; in
// flight outbound sends may still complete after Shutdown.
func (t *TCP) Shutdown() error {
	if t.listener == nil {
		return nil
	}

	err := t.listener.Close()
	t.wg.Wait()
	return err
}

// Send opens a fresh connection to the peer, writes one envelope, signals
// end of stream, and closes.
func (t *TCP) Send(to peer.Peer, cmd wire.Command, payload any) error {
	data, err := wire.Encode(cmd, payload, t.port)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", to.String(), dialTimeout)
	if err != nil {
		return errors.Wrapf(err, "dial %s", to)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set deadline")
	}

	if _, err := conn.Write(data); err != nil {
		return errors.Wrapf(err, "write %s to %s", cmd, to)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return errors.Wrap(err, "close write")
		}
	}

	return nil
}

// =============================================================================

// accept receives connections until the listener closes.
func (t *TCP) accept() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.ev("transport: accept: ERROR: %s", err)
			continue
		}

		t.wg.Add(1)
		go t.handle(conn)
	}
}

// handle reads one envelope from the connection and delivers it. A PING
// is answered with a PONG before the upper layer sees it. Malformed
// envelopes are logged and dropped; the connection is abandoned.
func (t *TCP) handle(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.ev("transport: handle: ERROR: %s", err)
		return
	}

	msg, err := wire.Decode(conn)
	if err != nil {
		t.ev("transport: handle: dropping message: %s", err)
		return
	}

	fromHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		t.ev("transport: handle: remote addr: %s", err)
		return
	}

	if msg.Command == wire.CmdPing {
		from := peer.New(fromHost, msg.FromPort)
		go func() {
			if err := t.Send(from, wire.CmdPong, nil); err != nil {
				t.ev("transport: handle: pong reply: %s", err)
			}
		}()
	}

	t.handler.HandleMessage(msg, fromHost)
}
