package probe

import (
	"context"
	"fmt"
	"net"
)

// Func issues one blocking reachability probe. Implementations absorb
// every failure mode (timeout, refused, no route, resolution) into a
// false return; a probe never reports an error.
type Func func(ctx context.Context) bool

// localAddr resolves the first IPv4 address of the named interface so a
// probe can bind its traffic to it. Empty name means no binding.
func localAddr(iface string) (net.IP, error) {
	if iface == "" {
		return nil, nil
	}

	nif, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}

	addrs, err := nif.Addrs()
	if err != nil {
		return nil, fmt.Errorf("interface %s addrs: %w", iface, err)
	}

	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}

	return nil, fmt.Errorf("interface %s has no IPv4 address", iface)
}
