package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// TunnelConfig configures a Tunnel.
type TunnelConfig struct {
	// Remote is the gateway endpoint, normally port 3671.
	Remote netip.AddrPort

	// Interface names the local interface to bind to.
	// Default: the first non-loopback interface with an IPv4 address.
	Interface string

	// Conn is an optional pre-connected datagram connection. When set, no
	// socket is opened and Interface is ignored.
	Conn net.Conn

	// Logger is optional.
	Logger Logger
}

// Tunnel is the unicast binding used for tunneling connections.
//
// The socket is not connected, so responses from a gateway that was
// addressed through the multicast group are still received.
type Tunnel struct {
	loop

	cfg   TunnelConfig
	udp   *net.UDPConn
	conn  net.Conn
	local netip.AddrPort
}

var _ Transport = (*Tunnel)(nil)

// NewTunnel validates the configuration. No socket is opened until Bind.
//
// Returns:
//   - *Tunnel: Unbound transport
//   - error: ErrInvalidRemote if Remote is not an IPv4 endpoint
func NewTunnel(cfg TunnelConfig) (*Tunnel, error) {
	if cfg.Conn == nil {
		addr := cfg.Remote.Addr().Unmap()
		if !cfg.Remote.IsValid() || !addr.Is4() || addr.IsUnspecified() || cfg.Remote.Port() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRemote, cfg.Remote)
		}
		cfg.Remote = netip.AddrPortFrom(addr, cfg.Remote.Port())
	}

	t := &Tunnel{cfg: cfg}
	t.init(cfg.Logger)
	return t, nil
}

// Bind implements Transport. It selects the local interface, opens a socket
// on an ephemeral port and starts the read loop.
func (t *Tunnel) Bind(ctx context.Context) (netip.AddrPort, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBind(); err != nil {
		return netip.AddrPort{}, err
	}
	if err := ctx.Err(); err != nil {
		return netip.AddrPort{}, err
	}

	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
		t.local = addrPortOf(t.conn.LocalAddr())
		t.bound = true
		t.start(t.readConn, nil)
		return t.local, nil
	}

	_, ip, err := LocalIPv4(t.cfg.Interface)
	if err != nil {
		return netip.AddrPort{}, err
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", netip.AddrPortFrom(ip, 0).String())
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("binding %s: %w", ip, err)
	}
	udp, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return netip.AddrPort{}, fmt.Errorf("binding %s: unexpected %T", ip, pc)
	}

	t.udp = udp
	t.local = addrPortOf(udp.LocalAddr())
	t.bound = true
	t.start(t.readUDP, nil)

	t.logger.Debug("tunnel socket bound", "local", t.local, "remote", t.cfg.Remote)
	return t.local, nil
}

func (t *Tunnel) readUDP(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := t.udp.ReadFromUDPAddrPort(buf)
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), err
}

func (t *Tunnel) readConn(buf []byte) (int, netip.AddrPort, error) {
	n, err := t.conn.Read(buf)
	return n, t.cfg.Remote, err
}

// Send implements Transport.
func (t *Tunnel) Send(pkt []byte) error {
	if err := t.checkSend(); err != nil {
		return err
	}

	var err error
	if t.conn != nil {
		_, err = t.conn.Write(pkt)
	} else {
		_, err = t.udp.WriteToUDPAddrPort(pkt, t.cfg.Remote)
	}
	if err != nil {
		return fmt.Errorf("sending to %s: %w", t.cfg.Remote, err)
	}
	return nil
}

// LocalAddr returns the bound local endpoint.
func (t *Tunnel) LocalAddr() netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// Close implements Transport. It is safe to call more than once.
func (t *Tunnel) Close() error {
	if !t.markClosed() {
		return nil
	}

	var err error
	switch {
	case t.conn != nil:
		err = t.conn.Close()
	case t.udp != nil:
		err = t.udp.Close()
	}
	t.wg.Wait()
	return err
}
