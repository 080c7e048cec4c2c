package relay

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
)

// ErrNoPacket is returned by PacketSocket.Receive when no datagram arrived in
// time. It ends a drain, it is not a failure.
var ErrNoPacket = errors.New("no datagram pending")

// PacketSocket is the subset of a UDP socket the relay needs.
// This abstraction enables unit testing without real network connections.
type PacketSocket interface {
	// Receive reads one datagram into b. A positive wait blocks up to wait
	// for a datagram to arrive; a zero wait never blocks.
	Receive(b []byte, wait time.Duration) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends b to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// LocalAddr returns the bound local address.
	LocalAddr() net.Addr

	// Close closes the socket.
	Close() error
}

// SocketFactory creates bound packet sockets.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (PacketSocket, error)
}

// UDPSocketFactory implements SocketFactory using net.ListenUDP.
type UDPSocketFactory struct{}

// ListenUDP binds a new UDP socket. Go sockets are non-blocking underneath;
// Receive decides per call whether to wait.
func (UDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (PacketSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &udpSocket{conn: conn, raw: raw}, nil
}

type udpSocket struct {
	conn *net.UDPConn
	raw  syscall.RawConn
}

func (s *udpSocket) Receive(b []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	if wait <= 0 {
		return s.receiveNow(b)
	}
	return s.receiveTimed(b, wait)
}

// receiveTimed waits for readability with a read deadline. The deadline is
// cleared again before returning because the raw non-blocking path refuses to
// run while an expired deadline is set.
func (s *udpSocket) receiveTimed(b []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, nil, err
	}
	n, addr, err := s.conn.ReadFromUDP(b)
	_ = s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, ErrNoPacket
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (s *udpSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(b, addr)
}

func (s *udpSocket) SetReadBuffer(bytes int) error {
	return s.conn.SetReadBuffer(bytes)
}

func (s *udpSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

// MockSocket implements PacketSocket for testing.
type MockSocket struct {
	mu sync.Mutex

	// Packets holds the datagrams returned by Receive, in order.
	Packets []MockPacket
	// ReadIndex tracks the current position in Packets.
	ReadIndex int
	// Waits records the wait argument of every Receive call.
	Waits []time.Duration
	// Written records every WriteToUDP call.
	Written []MockPacket
	// ReadError is returned by the next Receive call if set.
	ReadError error
	// WriteError is returned by every WriteToUDP call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// LocalAddress is returned by LocalAddr.
	LocalAddress net.Addr
	// Closed indicates whether Close was called.
	Closed bool
	// CloseCalls counts Close calls.
	CloseCalls int
}

// MockPacket is one datagram seen or produced by MockSocket.
type MockPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockSocket returns a MockSocket bound to 127.0.0.1:16571 that will
// deliver packets in order.
func NewMockSocket(packets ...MockPacket) *MockSocket {
	return &MockSocket{
		Packets:      packets,
		LocalAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 16571},
	}
}

// Push queues another datagram.
func (m *MockSocket) Push(data []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, MockPacket{Data: data, Addr: addr})
}

// Receive returns the next queued datagram or ErrNoPacket. An empty queue
// with a positive wait sleeps for wait first, like a real idle socket.
func (m *MockSocket) Receive(b []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	n, addr, err := m.next(b, wait)
	if errors.Is(err, ErrNoPacket) && wait > 0 {
		time.Sleep(wait)
	}
	return n, addr, err
}

func (m *MockSocket) next(b []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Waits = append(m.Waits, wait)
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, ErrNoPacket
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return copy(b, pkt.Data), pkt.Addr, nil
}

// ReceiveWaits returns a copy of the recorded wait arguments.
func (m *MockSocket) ReceiveWaits() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.Waits...)
}

// WriteToUDP records the datagram.
func (m *MockSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Written = append(m.Written, MockPacket{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// SetReadBuffer records the buffer size.
func (m *MockSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// Close marks the socket as closed.
func (m *MockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	m.CloseCalls++
	return m.CloseError
}

// WrittenPackets returns a copy of the datagrams sent so far.
func (m *MockSocket) WrittenPackets() []MockPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockPacket(nil), m.Written...)
}

// MockSocketFactory implements SocketFactory for testing.
type MockSocketFactory struct {
	// Socket is returned from ListenUDP.
	Socket *MockSocket
	// Error is returned by ListenUDP if set.
	Error error
	// ListenCalls records all ListenUDP calls.
	ListenCalls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// ListenUDP returns the configured mock socket.
func (f *MockSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (PacketSocket, error) {
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Addr: laddr})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}
