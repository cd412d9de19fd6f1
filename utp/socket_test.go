package utp

import (
	"net"
	"testing"
	"time"

	"github.com/riverweave/bitcore/internal/logger"
)

func TestConnectAcceptHandshake(t *testing.T) {
	serverLog := logger.New("utp-server")
	clientLog := logger.New("utp-client")

	server, err := Listen("127.0.0.1:0", serverLog)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Close()

	client, err := Listen("127.0.0.1:0", clientLog)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer client.Close()

	serverAddr := server.pc.LocalAddr().(*net.UDPAddr)

	acceptedC := make(chan *Conn, 1)
	go func() {
		c, err := server.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		acceptedC <- c
	}()

	clientConn, err := client.Connect(serverAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer clientConn.Close()

	select {
	case serverConn := <-acceptedC:
		defer serverConn.Close()
		if serverConn.state != StateConnected {
			t.Fatalf("server conn state = %v, want Connected", serverConn.state)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("accept never completed")
	}

	if clientConn.state != StateConnected {
		t.Fatalf("client conn state = %v, want Connected", clientConn.state)
	}
}

func TestConnectAddrInUseOnDuplicateDial(t *testing.T) {
	log := logger.New("utp-dup")
	client, err := Listen("127.0.0.1:0", log)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer client.Close()

	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} // nobody listens here

	go client.Connect(remote, 2*time.Second)
	time.Sleep(20 * time.Millisecond)

	_, err = client.Connect(remote, 2*time.Second)
	if err != ErrAddrInUse {
		t.Fatalf("err = %v, want ErrAddrInUse", err)
	}
}
