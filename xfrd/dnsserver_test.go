/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// fakeMaster is a minimal in-process DNS server used to back the UDP probe
// and TCP transfer tests end-to-end, modeled on the role the teacher's
// "stupidns" integration helper (_examples/johanix-tdns/stupidns) plays in
// tests/ixfr_integration_test.go: queue up canned responses, serve them off
// a real listener, and let the code under test talk to it over the wire.
type fakeMaster struct {
	udpSrv *dns.Server
	tcpSrv *dns.Server
	addr   string
}

// newFakeMaster starts a UDP and TCP listener on the same loopback port and
// replies to every query with handler. It shuts both down on test cleanup.
func newFakeMaster(t *testing.T, handler dns.HandlerFunc) *fakeMaster {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	addr := pc.LocalAddr().String()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen tcp on %s: %v", addr, err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", handler)

	udpSrv := &dns.Server{PacketConn: pc, Handler: mux}
	tcpSrv := &dns.Server{Listener: ln, Handler: mux}

	readyUDP := make(chan struct{})
	readyTCP := make(chan struct{})
	udpSrv.NotifyStartedFunc = func() { close(readyUDP) }
	tcpSrv.NotifyStartedFunc = func() { close(readyTCP) }

	go udpSrv.ActivateAndServe()
	go tcpSrv.ActivateAndServe()

	select {
	case <-readyUDP:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake master: udp server did not start")
	}
	select {
	case <-readyTCP:
	case <-time.After(2 * time.Second):
		t.Fatalf("fake master: tcp server did not start")
	}

	fm := &fakeMaster{udpSrv: udpSrv, tcpSrv: tcpSrv, addr: addr}
	t.Cleanup(func() {
		udpSrv.Shutdown()
		tcpSrv.Shutdown()
	})
	return fm
}
