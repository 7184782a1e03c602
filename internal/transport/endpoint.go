package transport

import (
	"fmt"
	"net"
	"strings"

	"github.com/KevinKickass/HostEmu/internal/types"
)

// Endpoint is a parsed channel address. Supported forms are
// ipc:///path/to.sock, unix:///path/to.sock and tcp://host:port.
type Endpoint struct {
	Scheme  string
	Network string
	Address string
}

func ParseEndpoint(s string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || rest == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, types.StatusInvalidArgument)
	}

	switch scheme {
	case "ipc", "unix":
		return Endpoint{Scheme: scheme, Network: "unix", Address: rest}, nil
	case "tcp":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: %w: %v", s, types.StatusInvalidArgument, err)
		}
		return Endpoint{Scheme: scheme, Network: "tcp", Address: rest}, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q: %w", s, scheme, types.StatusInvalidArgument)
	}
}

func (e Endpoint) String() string {
	return e.Scheme + "://" + e.Address
}

// IsUnix reports whether the endpoint is a filesystem socket.
func (e Endpoint) IsUnix() bool {
	return e.Network == "unix"
}

func (e Endpoint) listenAddress() string {
	if e.IsUnix() {
		return e.Address
	}
	host, port, _ := net.SplitHostPort(e.Address)
	if host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, port)
}

func (e Endpoint) dialAddress() string {
	if e.IsUnix() {
		return e.Address
	}
	host, port, _ := net.SplitHostPort(e.Address)
	if host == "*" || host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// url is the websocket URL used for the handshake. Unix sockets have no
// host, so a fixed one is used and the real address is supplied by the
// dialer.
func (e Endpoint) url() string {
	if e.IsUnix() {
		return "ws://localhost/"
	}
	return "ws://" + e.dialAddress() + "/"
}
