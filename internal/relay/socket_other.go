//go:build !unix

package relay

import (
	"net"
	"time"
)

// nowSlice bounds the zero-wait receive on platforms without a raw
// non-blocking recvfrom.
const nowSlice = time.Millisecond

func (s *udpSocket) receiveNow(b []byte) (int, *net.UDPAddr, error) {
	return s.receiveTimed(b, nowSlice)
}
