/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

// End-to-end over a real UDP socket: the master answers with the
// client's own query ID and a newer serial, so startUDPProbe's result
// should feed straight into handleUDPReply as a mini-notify promotion.
func TestStartUDPProbeRoundTrip(t *testing.T) {
	fm := newFakeMaster(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{soaRR("example.com.", 11)}
		w.WriteMsg(m)
	})

	zd := zoneWithDisk(10, time.Now().Add(-1000*time.Second))
	zd.Masters = []Master{{Host: fm.addr}}

	resultCh := make(chan UDPResult, 1)
	startUDPProbe(zd, resultCh)

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("probe error: %v", res.Err)
		}
		action, err := handleUDPReply(zd, res, time.Now())
		if err != nil {
			t.Fatalf("handleUDPReply: %v", err)
		}
		if action != ActionPromoteTCPIx {
			t.Fatalf("action = %v, want ActionPromoteTCPIx", action)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for udp probe result")
	}
}

// A master that never answers must time out rather than hang forever; the
// probe goroutine still reports a result (with Err set) on resultCh.
func TestStartUDPProbeTimesOutOnSilentMaster(t *testing.T) {
	// A UDP socket nobody is listening on (closed immediately) simulates an
	// unreachable/silent master without waiting out the full probe timeout.
	fm := newFakeMaster(t, func(w dns.ResponseWriter, r *dns.Msg) {
		// never reply
	})
	fm.udpSrv.Shutdown()

	zd := zoneWithDisk(10, time.Now().Add(-1000*time.Second))
	zd.Masters = []Master{{Host: fm.addr}}

	resultCh := make(chan UDPResult, 1)
	startUDPProbe(zd, resultCh)

	select {
	case res := <-resultCh:
		if res.Err == nil {
			t.Fatalf("expected an error against an unreachable master")
		}
	case <-time.After(UDPProbeTimeout + 5*time.Second):
		t.Fatalf("probe goroutine never reported a result")
	}
}
