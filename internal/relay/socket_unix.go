//go:build unix

package relay

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// receiveNow performs one non-blocking recvfrom on the socket. The callback
// always reports done so the runtime poller never parks the goroutine.
func (s *udpSocket) receiveNow(b []byte) (int, *net.UDPAddr, error) {
	var (
		n       int
		from    unix.Sockaddr
		recvErr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		for {
			n, from, recvErr = unix.Recvfrom(int(fd), b, 0)
			if recvErr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, nil, err
	}
	if recvErr == unix.EAGAIN || recvErr == unix.EWOULDBLOCK {
		return 0, nil, ErrNoPacket
	}
	if recvErr != nil {
		return 0, nil, os.NewSyscallError("recvfrom", recvErr)
	}
	return n, sockaddrToUDP(from), nil
}

func sockaddrToUDP(sa unix.Sockaddr) *net.UDPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, addr.Addr[:])
		return &net.UDPAddr{IP: ip, Port: addr.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		zone := ""
		if addr.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(addr.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.UDPAddr{IP: ip, Port: addr.Port, Zone: zone}
	}
	return nil
}
