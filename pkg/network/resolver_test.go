package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDialFirstAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	conn, err := Dial(context.Background(), "127.0.0.1", port, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	_, err = Dial(context.Background(), "127.0.0.1", port, time.Second)
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if connErr.Err == nil {
		t.Fatalf("ConnectError must carry the last address error")
	}
}

func TestResolveUnknownHost(t *testing.T) {
	_, err := Dial(context.Background(), "no-such-host.invalid", 22, time.Second)
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if resErr.Host != "no-such-host.invalid" {
		t.Fatalf("unexpected host in error: %q", resErr.Host)
	}
}

func TestParseUnixAddr(t *testing.T) {
	addr, err := ParseUnixAddr("unix:///tmp/studio.sock")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.Path != "/tmp/studio.sock" {
		t.Fatalf("unexpected path %q", addr.Path)
	}

	if _, err := ParseUnixAddr("/tmp/studio.sock"); err == nil {
		t.Fatalf("expected error for address without scheme")
	}
}
