// Package utils holds small helpers shared by the listener and storage.
package utils

import (
	"fmt"
	"net"
	"strings"

	"github.com/oklog/ulid/v2"
)

// RemoteIP extracts the IP address of a peer.
func RemoteIP(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	case *net.IPAddr:
		return a.IP, nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		// Maybe it's just an IP without port
		host = addr.String()
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
	}
	return ip, nil
}

// NewID returns a new lexically sortable report identifier.
func NewID() string {
	return ulid.Make().String()
}
