package utp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/riverweave/bitcore/internal/logger"
)

var ErrAddrInUse = errors.New("utp: connect already in progress to this address")

// connKey identifies one connection by the endpoint and connection ID
// pair the owning socket demultiplexes incoming datagrams on.
type connKey struct {
	addr   string
	connID uint16
}

// Socket owns one UDP socket shared by every uTP connection dialed or
// accepted through it (spec.md §4.5): one demultiplexing reader fans
// datagrams in to per-connection actors, and each connection has its
// own sink goroutine writing its datagrams out through the shared
// socket.
type Socket struct {
	pc  net.PacketConn
	log logger.Logger

	mu    sync.Mutex
	conns map[connKey]*Conn

	acceptC chan *Conn

	closeC  chan struct{}
	closedC chan struct{}
}

// Listen opens a UDP socket on addr and starts its demultiplexing
// loop; sink loops are started per connection as they are created.
func Listen(addr string, log logger.Logger) (*Socket, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	s := &Socket{
		pc:      pc,
		log:     log,
		conns:   make(map[connKey]*Conn),
		acceptC: make(chan *Conn, 64),
		closeC:  make(chan struct{}),
		closedC: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Close tears down every live connection and the underlying socket.
func (s *Socket) Close() error {
	select {
	case <-s.closeC:
	default:
		close(s.closeC)
	}
	err := s.pc.Close()
	<-s.closedC

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return err
}

// Accept returns the next newly-handshaken incoming connection.
func (s *Socket) Accept() (*Conn, error) {
	select {
	case c, ok := <-s.acceptC:
		if !ok {
			return nil, ErrClosed
		}
		return c, nil
	case <-s.closedC:
		return nil, ErrClosed
	}
}

// Connect dials remote, sending the initial SYN and returning once
// the reciprocal ST_STATE arrives or timeout elapses.
func (s *Socket) Connect(remote *net.UDPAddr, timeout time.Duration) (*Conn, error) {
	key := connKey{addr: remote.String()}

	s.mu.Lock()
	for k, c := range s.conns {
		if k.addr == remote.String() && c.state == StateSynSent {
			s.mu.Unlock()
			return nil, ErrAddrInUse
		}
	}
	connIDRecv := randConnID()
	key.connID = connIDRecv
	outC := make(chan packet, 64)
	c := newConn(remote, connIDRecv, connIDRecv+1, outC, s.log)
	s.conns[key] = c
	s.mu.Unlock()

	go s.sinkLoop(c, outC)
	go c.Run(StateSynSent)

	c.send(packet{header: header{Type: stSyn, Version: version, ConnID: connIDRecv, SeqNr: 1}})

	select {
	case <-waitConnected(c):
		return c, nil
	case <-time.After(timeout):
		s.mu.Lock()
		delete(s.conns, key)
		s.mu.Unlock()
		c.Close()
		s.log.Debugf("utp: connect to %s timed out", remote)
		return nil, ErrConnTimeout
	}
}

// waitConnected polls the connection's state until it leaves
// SynSent; used only by Connect's handshake wait.
func waitConnected(c *Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if c.state != StateSynSent {
				return
			}
			select {
			case <-c.closedC:
				return
			default:
			}
		}
	}()
	return done
}

// readLoop demultiplexes incoming datagrams by (remote, connID) to
// the owning connection, spawning a new one on an unrecognized SYN.
func (s *Socket) readLoop() {
	defer close(s.closedC)
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		p, err := decode(buf[:n])
		if err != nil {
			s.log.Debugf("utp: dropping malformed packet from %s: %v", addr, err)
			continue
		}
		s.route(addr, p)
	}
}

func (s *Socket) route(addr net.Addr, p packet) {
	udpAddr, _ := addr.(*net.UDPAddr)
	key := connKey{addr: addr.String(), connID: p.ConnID}

	s.mu.Lock()
	c, ok := s.conns[key]
	if !ok && p.Type == stSyn {
		connIDRecv := p.ConnID + 1
		outC := make(chan packet, 64)
		c = newConn(udpAddr, connIDRecv, p.ConnID, outC, s.log)
		s.conns[connKey{addr: addr.String(), connID: connIDRecv}] = c
		s.mu.Unlock()

		go s.sinkLoop(c, outC)
		go c.Run(StateSynSent)
		c.deliver(p)

		go func() {
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				if c.state == StateConnected {
					select {
					case s.acceptC <- c:
					case <-s.closedC:
					}
					return
				}
				select {
				case <-c.closedC:
					return
				default:
				}
			}
		}()
		return
	}
	s.mu.Unlock()
	if ok {
		c.deliver(p)
	}
}

// sinkLoop serializes one connection's outgoing packets through the
// socket's shared UDP send path, removing the connection from the
// demux table once it closes.
func (s *Socket) sinkLoop(c *Conn, outC chan packet) {
	for {
		select {
		case p := <-outC:
			_, err := s.pc.WriteTo(p.encode(), c.remote)
			if err != nil {
				s.log.Debugf("utp: write to %s failed: %v", c.remote, err)
			}
		case <-c.closedC:
			s.mu.Lock()
			delete(s.conns, connKey{addr: c.remote.String(), connID: c.connIDRecv})
			s.mu.Unlock()
			return
		}
	}
}

func randConnID() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	id := binary.BigEndian.Uint16(b[:])
	if id == 0 {
		id = 1
	}
	return id
}
