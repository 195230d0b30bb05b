package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// Interface is a local network interface with its IPv4 addresses.
type Interface struct {
	Name     string
	Index    int
	Up       bool
	Loopback bool
	Addrs    []netip.Addr
}

// Interfaces lists the host's network interfaces.
func Interfaces() ([]Interface, error) {
	sys, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	out := make([]Interface, 0, len(sys))
	for _, ifi := range sys {
		addrs, err := ifi.Addrs()
		if err != nil {
			return nil, fmt.Errorf("addresses of %s: %w", ifi.Name, err)
		}
		iface := Interface{
			Name:     ifi.Name,
			Index:    ifi.Index,
			Up:       ifi.Flags&net.FlagUp != 0,
			Loopback: ifi.Flags&net.FlagLoopback != 0,
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			if ip := prefix.Addr().Unmap(); ip.Is4() {
				iface.Addrs = append(iface.Addrs, ip)
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

// SelectIPv4 picks the local interface and address to bind to.
//
// With a name, that interface must exist and carry an IPv4 address. Without
// one, the first interface that is up, is not a loopback and has an IPv4
// address wins.
//
// Returns:
//   - Interface: The chosen interface
//   - netip.Addr: Its first IPv4 address
//   - error: ErrInterfaceNotFound or ErrNoInterface
func SelectIPv4(ifaces []Interface, name string) (Interface, netip.Addr, error) {
	if name != "" {
		for _, iface := range ifaces {
			if iface.Name != name {
				continue
			}
			if len(iface.Addrs) == 0 {
				return Interface{}, netip.Addr{}, fmt.Errorf("%w: %s has no IPv4 address", ErrInterfaceNotFound, name)
			}
			return iface, iface.Addrs[0], nil
		}
		return Interface{}, netip.Addr{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}

	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback || len(iface.Addrs) == 0 {
			continue
		}
		return iface, iface.Addrs[0], nil
	}
	return Interface{}, netip.Addr{}, ErrNoInterface
}

// LocalIPv4 selects an interface from the host's interfaces. See SelectIPv4.
func LocalIPv4(name string) (Interface, netip.Addr, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return Interface{}, netip.Addr{}, err
	}
	return SelectIPv4(ifaces, name)
}
