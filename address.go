package secretstack

import (
	"net"
	"strconv"
	"strings"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

const (
	addressSeparator = ";"
	keySeparator     = "~shs:"
)

// Address is one way to reach a node: a transport, a host and port on that transport, and the public key the node
// must prove ownership of during the handshake.
//
// Its string form is "<transport>:<host>:<port>~shs:<base64 public key>", e.g.
//
//	net:127.0.0.1:8008~shs:gHRqHxGYYOkuVUOkRTsPCtLgZdf3fdR+EfvAb2Mj0Uk=
//
// A node reachable over several transports publishes all of its addresses joined by ";".
type Address struct {
	Transport string
	Host      string
	Port      uint16
	Key       identity.PublicKey
}

func (a Address) String() string {
	return a.Transport + ":" + net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port))) + keySeparator + a.Key.Base64()
}

// ParseAddress parses one or more addresses joined by ";".
func ParseAddress(s string) ([]Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("address is empty")
	}

	var addrs []Address

	for _, part := range strings.Split(s, addressSeparator) {
		addr, err := parseSingleAddress(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid address %q", part)
		}

		addrs = append(addrs, addr)
	}

	return addrs, nil
}

func parseSingleAddress(s string) (Address, error) {
	var addr Address

	i := strings.LastIndex(s, keySeparator)
	if i < 0 {
		return addr, errors.New("missing ~shs: public key")
	}

	key, err := identity.ParsePublicKey(s[i+len(keySeparator):])
	if err != nil {
		return addr, err
	}

	location := s[:i]

	j := strings.Index(location, ":")
	if j <= 0 {
		return addr, errors.New("missing transport tag")
	}

	host, rawPort, err := net.SplitHostPort(location[j+1:])
	if err != nil {
		return addr, err
	}

	port, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return addr, errors.Wrapf(err, "invalid port %q", rawPort)
	}

	addr.Transport = location[:j]
	addr.Host = host
	addr.Port = uint16(port)
	addr.Key = key

	return addr, nil
}

// formatAddresses joins addresses into their published form.
func formatAddresses(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parts = append(parts, addr.String())
	}
	return strings.Join(parts, addressSeparator)
}

// remoteAddress describes the remote end of an inbound connection in address form.
func remoteAddress(transport string, remote net.Addr, key identity.PublicKey) Address {
	addr := Address{Transport: transport, Host: remote.String(), Key: key}

	if host, rawPort, err := net.SplitHostPort(remote.String()); err == nil {
		if port, err := strconv.ParseUint(rawPort, 10, 16); err == nil {
			addr.Host = host
			addr.Port = uint16(port)
		}
	}

	return addr
}
