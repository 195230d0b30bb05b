package client

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
	"github.com/nerrad567/knxnetip/internal/knxnet/transport"
)

// Default timings.
const (
	// DefaultReconnectDelay is the length of one connect cycle. Half of it is
	// spent waiting for each of the two CONNECT_REQUEST attempts.
	DefaultReconnectDelay = 3000 * time.Millisecond

	// DefaultReceiveAckTimeout is how long to wait for TUNNELING_ACK.
	DefaultReceiveAckTimeout = 2000 * time.Millisecond

	// DefaultMinimumDelay is the minimum spacing between outbound frames.
	DefaultMinimumDelay = 20 * time.Millisecond

	// DefaultConnstateRequestInterval is the idle time before a keepalive.
	DefaultConnstateRequestInterval = 10000 * time.Millisecond

	// DefaultConnstateResponseTimeout is how long to wait for a keepalive answer.
	DefaultConnstateResponseTimeout = 1500 * time.Millisecond

	// DefaultDisconnectTimeout is how long to wait for DISCONNECT_RESPONSE.
	DefaultDisconnectTimeout = 3000 * time.Millisecond

	// DefaultReadTimeout bounds Read when the context has no deadline.
	DefaultReadTimeout = 5 * time.Second

	// tunnelingGuardMargin is added once to a tunneling send that was
	// queued while a TUNNELING_ACK was outstanding.
	tunnelingGuardMargin = 10 * time.Millisecond
)

// DefaultPhysAddr is the source address used until the gateway assigns one.
var DefaultPhysAddr = address.NewDevice(15, 15, 15) //nolint:mnd // 15.15.15

// TransportFactory opens the transport for a session. tunneling selects the
// unicast binding; false selects multicast routing.
type TransportFactory func(tunneling bool) (transport.Transport, error)

// Options configures a Connection.
type Options struct {
	// IPAddr is the gateway or routing multicast address. Required.
	IPAddr netip.Addr

	// IPPort is the remote port.
	// Default: 3671.
	IPPort uint16

	// Interface names the local network interface.
	// Default: the first non-loopback interface with an IPv4 address.
	Interface string

	// ForceTunneling tunnels even when IPAddr is a multicast address.
	ForceTunneling bool

	// DisableAutoReconnect stops the connect cycle from restarting after a
	// failed attempt. Auto-reconnect is on by default.
	DisableAutoReconnect bool

	// ReconnectDelay is the length of one connect cycle.
	// Default: 3s.
	ReconnectDelay time.Duration

	// ReceiveAckTimeout is how long to wait for TUNNELING_ACK.
	// Default: 2s.
	ReceiveAckTimeout time.Duration

	// MinimumDelay is the minimum spacing between outbound frames.
	// Default: 20ms.
	MinimumDelay time.Duration

	// ConnstateRequestInterval is the idle time before a keepalive.
	// Default: 10s.
	ConnstateRequestInterval time.Duration

	// ConnstateResponseTimeout is how long to wait for a keepalive answer.
	// Default: 1.5s.
	ConnstateResponseTimeout time.Duration

	// DisconnectTimeout is how long to wait for DISCONNECT_RESPONSE.
	// Default: 3s.
	DisconnectTimeout time.Duration

	// PhysAddr is the source address of outbound frames until the gateway
	// assigns one.
	// Default: 15.15.15.
	PhysAddr address.DeviceAddress

	// EventQueueSize bounds the dispatcher queue; events beyond it are dropped.
	// Default: 256.
	EventQueueSize int

	// Transport overrides how the session's socket is opened.
	// Default: transport.NewTunnel or transport.NewRouter.
	Transport TransportFactory
}

// Remote returns the remote endpoint.
func (o Options) Remote() netip.AddrPort {
	return netip.AddrPortFrom(o.IPAddr, o.IPPort)
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.IPPort == 0 {
		o.IPPort = codec.DefaultPort
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.ReceiveAckTimeout == 0 {
		o.ReceiveAckTimeout = DefaultReceiveAckTimeout
	}
	if o.MinimumDelay == 0 {
		o.MinimumDelay = DefaultMinimumDelay
	}
	if o.ConnstateRequestInterval == 0 {
		o.ConnstateRequestInterval = DefaultConnstateRequestInterval
	}
	if o.ConnstateResponseTimeout == 0 {
		o.ConnstateResponseTimeout = DefaultConnstateResponseTimeout
	}
	if o.DisconnectTimeout == 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if o.PhysAddr == 0 {
		o.PhysAddr = DefaultPhysAddr
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = defaultEventQueueSize
	}
	return o
}

// selectMode decides between tunneling and routing from the remote address.
//
// Multicast addresses route unless forced to tunnel. Unicast, private,
// link-local and loopback addresses tunnel. Unspecified, broadcast and
// non-IPv4 addresses are rejected.
//
// Returns:
//   - bool: true for tunneling
//   - error: ErrInvalidConfig for unusable addresses
func selectMode(ip netip.Addr, forceTunneling bool) (bool, error) {
	if !ip.IsValid() {
		return false, fmt.Errorf("%w: ip address is required", ErrInvalidConfig)
	}
	ip = ip.Unmap()
	if !ip.Is4() {
		return false, fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidConfig, ip)
	}

	switch {
	case ip.IsUnspecified():
		return false, fmt.Errorf("%w: %s cannot be used for KNX", ErrInvalidConfig, ip)
	case ip == netip.AddrFrom4([4]byte{255, 255, 255, 255}):
		return false, fmt.Errorf("%w: broadcast address %s cannot be used for KNX", ErrInvalidConfig, ip)
	case ip.IsMulticast():
		return forceTunneling, nil
	default:
		return true, nil
	}
}

// validate checks option ranges after defaults are applied.
func (o Options) validate() error {
	timings := []struct {
		name string
		d    time.Duration
	}{
		{"reconnect delay", o.ReconnectDelay},
		{"receive ack timeout", o.ReceiveAckTimeout},
		{"minimum delay", o.MinimumDelay},
		{"connstate request interval", o.ConnstateRequestInterval},
		{"connstate response timeout", o.ConnstateResponseTimeout},
		{"disconnect timeout", o.DisconnectTimeout},
	}

	var errs []string
	for _, tm := range timings {
		if tm.d < 0 {
			errs = append(errs, tm.name+" must not be negative")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// defaultTransport builds the standard UDP bindings.
func (o Options) defaultTransport(logger Logger) TransportFactory {
	return func(tunneling bool) (transport.Transport, error) {
		if tunneling {
			return transport.NewTunnel(transport.TunnelConfig{
				Remote:    o.Remote(),
				Interface: o.Interface,
				Logger:    logger,
			})
		}
		group := o.Remote()
		if !o.IPAddr.IsMulticast() {
			group = codec.MulticastEndpoint
		}
		return transport.NewRouter(transport.RouterConfig{
			Group:     group,
			Interface: o.Interface,
			Logger:    logger,
		})
	}
}
