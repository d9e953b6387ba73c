// Package inject re-sends rewritten frames through a raw PF_PACKET socket
// bound to the capture interface, so a mutated frame re-enters the receive
// path the same way the original arrived.
package inject

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Injector owns one raw AF_PACKET send socket bound to an interface.
type Injector struct {
	fd     int
	device string
	addr   unix.SockaddrLinklayer
}

// New opens the raw socket and binds it to the named interface.
// Requires CAP_NET_RAW.
func New(device string) (*Injector, error) {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve interface %s: %w", device, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind raw socket to %s: %w", device, err)
	}

	return &Injector{
		fd:     fd,
		device: device,
		addr:   addr,
	}, nil
}

// Inject sends one complete frame, link-layer header included, out the
// bound interface.
func (i *Injector) Inject(frame []byte) error {
	if err := unix.Sendto(i.fd, frame, 0, &i.addr); err != nil {
		return fmt.Errorf("failed to inject frame on %s: %w", i.device, err)
	}
	return nil
}

// Close releases the socket.
func (i *Injector) Close() error {
	return unix.Close(i.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
