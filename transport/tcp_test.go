package transport

import (
	"net"
	"strconv"
	"testing"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("parsing free port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("converting free port: %v", err)
	}
	return port
}

func TestListenAndDialPlainTCP(t *testing.T) {
	port := freePort(t)

	ln, err := Listen(ListenerConfig{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := Dial(DialerConfig{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := server.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}
}

func TestDialUnreachableReturnsWrappedError(t *testing.T) {
	port := freePort(t)

	_, err := Dial(DialerConfig{Host: "127.0.0.1", Port: port})
	if err == nil {
		t.Fatalf("expected dial to an unbound port to fail")
	}
}
