package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
)

// maxDatagramSize bounds a single KNXnet/IP datagram read.
const maxDatagramSize = 1024

// Handler receives one inbound datagram. pkt is owned by the handler.
type Handler func(pkt []byte, from netip.AddrPort)

// Transport sends and receives raw KNXnet/IP datagrams.
type Transport interface {
	// Bind opens the socket and starts delivering datagrams to the handler.
	// It returns the local endpoint to advertise in HPAIs.
	Bind(ctx context.Context) (netip.AddrPort, error)

	// Send transmits one datagram to the remote endpoint.
	Send(pkt []byte) error

	// SetHandler replaces the inbound datagram handler.
	SetHandler(h Handler)

	// Close releases the socket and stops the read loop.
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// readFunc reads one datagram into buf.
type readFunc func(buf []byte) (int, netip.AddrPort, error)

// loop carries the lifecycle state shared by Tunnel and Router.
type loop struct {
	logger Logger

	mu      sync.RWMutex
	handler Handler
	bound   bool
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

func (l *loop) init(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
	l.done = make(chan struct{})
}

// SetHandler implements Transport.
func (l *loop) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// checkSend reports whether the transport can send.
func (l *loop) checkSend() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	if !l.bound {
		return ErrNotBound
	}
	return nil
}

// checkBind reports whether Bind may proceed. Callers hold l.mu.
func (l *loop) checkBind() error {
	if l.closed {
		return ErrClosed
	}
	if l.bound {
		return ErrAlreadyBound
	}
	return nil
}

// markClosed flips the closed flag once; it reports false if already closed.
func (l *loop) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	close(l.done)
	return true
}

func (l *loop) start(read readFunc, skip func(netip.AddrPort) bool) {
	l.wg.Add(1)
	go l.run(read, skip)
}

// run delivers datagrams until the socket is closed.
func (l *loop) run(read readFunc, skip func(netip.AddrPort) bool) {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := read(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			l.logger.Warn("udp read failed", "error", err)
			continue
		}
		if n == 0 || (skip != nil && skip(from)) {
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])

		l.mu.RLock()
		h := l.handler
		l.mu.RUnlock()
		if h == nil {
			l.logger.Debug("no handler, dropping datagram", "from", from, "bytes", n)
			continue
		}
		h(pkt, from)
	}
}

// addrPortOf converts a net.Addr to a netip.AddrPort when it is a UDP address.
func addrPortOf(a net.Addr) netip.AddrPort {
	if u, ok := a.(*net.UDPAddr); ok && u != nil {
		ap := u.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}
