package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// DefaultMulticastTTL is the TTL of outgoing routing indications.
const DefaultMulticastTTL = 16

// KNXnet/IP routing group, 224.0.23.12:3671.
var defaultGroup = netip.AddrPortFrom(netip.AddrFrom4([4]byte{224, 0, 23, 12}), 3671) //nolint:mnd // system setup multicast address

// RouterConfig configures a Router.
type RouterConfig struct {
	// Group is the routing multicast endpoint.
	// Default: 224.0.23.12:3671.
	Group netip.AddrPort

	// Interface names the interface that joins the group.
	// Default: the first non-loopback interface with an IPv4 address.
	Interface string

	// TTL of outgoing datagrams.
	// Default: 16.
	TTL int

	// Loopback delivers our own datagrams to other sockets on this host.
	Loopback bool

	// Logger is optional.
	Logger Logger
}

// Router is the multicast binding used in routing mode.
type Router struct {
	loop

	cfg   RouterConfig
	udp   *net.UDPConn
	pconn *ipv4.PacketConn
	ifi   *net.Interface
	local netip.AddrPort
}

var _ Transport = (*Router)(nil)

// NewRouter validates the configuration. No socket is opened until Bind.
//
// Returns:
//   - *Router: Unbound transport
//   - error: ErrInvalidRemote if Group is not an IPv4 multicast endpoint
func NewRouter(cfg RouterConfig) (*Router, error) {
	if !cfg.Group.IsValid() {
		cfg.Group = defaultGroup
	}
	if addr := cfg.Group.Addr().Unmap(); !addr.Is4() || !addr.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not an IPv4 multicast group", ErrInvalidRemote, cfg.Group)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultMulticastTTL
	}

	r := &Router{cfg: cfg}
	r.init(cfg.Logger)
	return r, nil
}

// Bind implements Transport. It binds the group port, joins the group on the
// selected interface and starts the read loop. The returned endpoint is the
// interface address with the group port.
func (r *Router) Bind(ctx context.Context) (netip.AddrPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkBind(); err != nil {
		return netip.AddrPort{}, err
	}

	iface, ip, err := LocalIPv4(r.cfg.Interface)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ifi, err := net.InterfaceByIndex(iface.Index)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %s: %w", ErrInterfaceNotFound, iface.Name, err)
	}

	// Binding the group address lets several routing clients share the port.
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", r.cfg.Group.String())
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("binding %s: %w", r.cfg.Group, err)
	}
	udp, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return netip.AddrPort{}, fmt.Errorf("binding %s: unexpected %T", r.cfg.Group, pc)
	}

	p := ipv4.NewPacketConn(udp)
	group := &net.UDPAddr{IP: r.cfg.Group.Addr().AsSlice()}

	if err := p.JoinGroup(ifi, group); err != nil {
		udp.Close()
		return netip.AddrPort{}, fmt.Errorf("join multicast group %s on %s: %w", group.IP, ifi.Name, err)
	}
	if err := p.SetMulticastInterface(ifi); err != nil {
		udp.Close()
		return netip.AddrPort{}, fmt.Errorf("set multicast interface %s: %w", ifi.Name, err)
	}
	if err := p.SetMulticastTTL(r.cfg.TTL); err != nil {
		udp.Close()
		return netip.AddrPort{}, fmt.Errorf("set multicast TTL: %w", err)
	}
	if err := p.SetMulticastLoopback(r.cfg.Loopback); err != nil {
		udp.Close()
		return netip.AddrPort{}, fmt.Errorf("set multicast loopback: %w", err)
	}

	r.udp = udp
	r.pconn = p
	r.ifi = ifi
	r.local = netip.AddrPortFrom(ip, r.cfg.Group.Port())
	r.bound = true
	r.start(r.read, r.isSelf)

	r.logger.Info("joined routing group", "group", r.cfg.Group, "interface", ifi.Name, "local", r.local)
	return r.local, nil
}

func (r *Router) read(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := r.udp.ReadFromUDPAddrPort(buf)
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), err
}

// isSelf drops datagrams we sent ourselves when loopback is enabled.
func (r *Router) isSelf(from netip.AddrPort) bool {
	return r.cfg.Loopback && from == r.local
}

// Send implements Transport. Datagrams go to the multicast group.
func (r *Router) Send(pkt []byte) error {
	if err := r.checkSend(); err != nil {
		return err
	}
	if _, err := r.udp.WriteToUDPAddrPort(pkt, r.cfg.Group); err != nil {
		return fmt.Errorf("sending to %s: %w", r.cfg.Group, err)
	}
	return nil
}

// LocalAddr returns the bound local endpoint.
func (r *Router) LocalAddr() netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Close implements Transport. It leaves the group and closes the socket.
func (r *Router) Close() error {
	if !r.markClosed() {
		return nil
	}
	if r.udp == nil {
		return nil
	}

	if err := r.pconn.LeaveGroup(r.ifi, &net.UDPAddr{IP: r.cfg.Group.Addr().AsSlice()}); err != nil {
		r.logger.Debug("leave multicast group failed", "error", err)
	}
	err := r.udp.Close()
	r.wg.Wait()
	return err
}
