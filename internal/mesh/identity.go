package mesh

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// OwnIDFromAddress derives a node ID from an IPv4 address's last octet, as
// the data model requires: id = lastOctet(addr).
func OwnIDFromAddress(addr string) (NodeID, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0, fmt.Errorf("mesh: %q is not a valid IP address", addr)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("mesh: %q is not an IPv4 address", addr)
	}
	return NodeID(v4[3]), nil
}

// AddressForID reconstructs the IPv4 address of a node from its ID and the
// mesh's configured base prefix, e.g. AddressForID("10.0.0", 7) == "10.0.0.7".
func AddressForID(basePrefix string, id NodeID) string {
	return fmt.Sprintf("%s.%d", strings.TrimSuffix(basePrefix, "."), id)
}

// OwnIDFromInterface reads the IPv4 address bound to the named network
// interface and derives the node ID from its last octet. Used at boot to
// read the agent's own ID off its wireless interface; in testing mode the
// caller (internal/cli) reads MESHAGENTD_NODE_ID first and only falls
// back to this when that variable is unset.
func OwnIDFromInterface(name string) (NodeID, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("mesh: lookup interface %q: %w", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return 0, fmt.Errorf("mesh: read addresses for %q: %w", name, err)
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		return NodeID(v4[3]), nil
	}

	return 0, fmt.Errorf("mesh: interface %q has no IPv4 address", name)
}

// ParseNodeIDList parses a comma-separated list of node IDs, as used for
// the unreachable-hosts and server-whitelist CLI options.
func ParseNodeIDList(csv string) ([]NodeID, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]NodeID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("mesh: invalid node id %q: %w", p, err)
		}
		ids = append(ids, NodeID(v))
	}
	return ids, nil
}
