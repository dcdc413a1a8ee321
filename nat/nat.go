// Package nat forwards a listening port through the local gateway over UPnP or NAT-PMP, so that the advertised node
// address is reachable from outside the local network.
package nat

import (
	"net"
	"sync"
	"time"

	gonat "github.com/fd/go-nat"
	"github.com/perlin-network/secretstack/log"
	"github.com/pkg/errors"
)

const (
	// Lease is how long a gateway holds a mapping before it must be renewed.
	Lease = 20 * time.Minute

	description = "secretstack"
)

// Discover finds the gateway to map ports through.
type Discover func() (gonat.NAT, error)

// DefaultDiscover probes the local network for a UPnP or NAT-PMP gateway.
func DefaultDiscover() (gonat.NAT, error) {
	return gonat.DiscoverGateway()
}

// Mapping is a port mapping held open on a gateway until closed.
type Mapping struct {
	gateway gonat.NAT

	protocol     string
	internalPort int
	externalPort int
	externalIP   net.IP

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Map asks the gateway found by discover to forward an external port onto port. protocol is "tcp" or "udp". The
// mapping is renewed in the background at half of its lease.
func Map(discover Discover, protocol string, port uint16) (*Mapping, error) {
	if discover == nil {
		discover = DefaultDiscover
	}

	gateway, err := discover()
	if err != nil {
		return nil, errors.Wrap(err, "unable to discover gateway")
	}

	internalIP, err := gateway.GetInternalAddress()
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch internal IP")
	}

	externalIP, err := gateway.GetExternalAddress()
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch external IP")
	}

	externalPort, err := gateway.AddPortMapping(protocol, int(port), description, Lease)
	if err != nil {
		return nil, errors.Wrap(err, "cannot setup port mapping")
	}

	log.Info().
		Str("gateway", gateway.Type()).
		Str("internal_ip", internalIP.String()).
		Str("external_ip", externalIP.String()).
		Int("internal_port", int(port)).
		Int("external_port", externalPort).
		Msg("Mapped port through gateway.")

	m := &Mapping{
		gateway:      gateway,
		protocol:     protocol,
		internalPort: int(port),
		externalPort: externalPort,
		externalIP:   externalIP,
		stop:         make(chan struct{}),
	}

	m.wg.Add(1)
	go m.renew(Lease / 2)

	return m, nil
}

// Host is the external IP of the gateway.
func (m *Mapping) Host() string {
	return m.externalIP.String()
}

// Port is the external port forwarded onto the local one.
func (m *Mapping) Port() uint16 {
	return uint16(m.externalPort)
}

func (m *Mapping) renew(every time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.gateway.AddPortMapping(m.protocol, m.internalPort, description, Lease); err != nil {
				log.Warn().Err(err).Int("internal_port", m.internalPort).Msg("Failed to renew port mapping.")
			}
		}
	}
}

// Close removes the mapping from the gateway.
func (m *Mapping) Close() error {
	var err error

	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()

		log.Info().Int("external_port", m.externalPort).Msg("Removing port mapping.")

		if err = m.gateway.DeletePortMapping(m.protocol, m.internalPort); err != nil {
			err = errors.Wrap(err, "failed to remove port mapping")
		}
	})

	return err
}
