/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

// End-to-end AXFR over a real TCP connection via dns.Transfer, the same
// path startTCPTransfer drives in production.
func TestStartTCPTransferAXFRRoundTrip(t *testing.T) {
	apex := "example.com."
	fm := newFakeMaster(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{soaRR(apex, 7), aRecord(apex, "192.0.2.1"), soaRR(apex, 7)}
		w.WriteMsg(m)
	})

	zd := &Zone{Apex: apex, ApexStr: apex, TCPSlot: -1, Masters: []Master{{Host: fm.addr}}}

	resultCh := make(chan TCPResult, 1)
	startTCPTransfer(zd, true, resultCh)

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("transfer error: %v", res.Err)
		}
		if !res.AXFR {
			t.Fatalf("expected an AXFR result")
		}
		if res.FinalSOA.Serial != 7 {
			t.Fatalf("final serial = %d, want 7", res.FinalSOA.Serial)
		}
		if len(res.RRs) != 3 {
			t.Fatalf("expected 3 RRs (soa, a, soa), got %d", len(res.RRs))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for tcp transfer result")
	}
}

// End-to-end IXFR: the master answers with a single difference sequence,
// and startTCPTransfer must classify it as an incremental transfer and hand
// back the parsed delta rather than a flat AXFR RR set.
func TestStartTCPTransferIXFRRoundTrip(t *testing.T) {
	apex := "example.com."
	fm := newFakeMaster(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{
			soaRR(apex, 6), // final
			soaRR(apex, 5), // old
			aRecord(apex, "192.0.2.1"),
			soaRR(apex, 6), // new
			aRecord(apex, "192.0.2.2"),
			soaRR(apex, 6), // final, repeated
		}
		w.WriteMsg(m)
	})

	zd := &Zone{
		Apex: apex, ApexStr: apex, TCPSlot: -1,
		Masters: []Master{{Host: fm.addr}},
		SoaDisk: Snapshot{SOA: SOA{Serial: 5}, Acquired: time.Now().Add(-time.Hour)},
	}

	resultCh := make(chan TCPResult, 1)
	startTCPTransfer(zd, false, resultCh)

	select {
	case res := <-resultCh:
		if res.Err != nil {
			t.Fatalf("transfer error: %v", res.Err)
		}
		if res.AXFR {
			t.Fatalf("expected an IXFR (incremental) result")
		}
		if res.FinalSOA.Serial != 6 {
			t.Fatalf("final serial = %d, want 6", res.FinalSOA.Serial)
		}
		if len(res.Deltas) != 1 {
			t.Fatalf("expected 1 delta, got %d", len(res.Deltas))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for tcp transfer result")
	}
}

// A master that closes the connection without sending an SOA-terminated
// AXFR response must surface as an error, not a zero-value success.
func TestStartTCPTransferMalformedResponseErrors(t *testing.T) {
	apex := "example.com."
	fm := newFakeMaster(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = []dns.RR{aRecord(apex, "192.0.2.1")} // no SOA at all
		w.WriteMsg(m)
	})

	zd := &Zone{Apex: apex, ApexStr: apex, TCPSlot: -1, Masters: []Master{{Host: fm.addr}}}

	resultCh := make(chan TCPResult, 1)
	startTCPTransfer(zd, true, resultCh)

	select {
	case res := <-resultCh:
		if res.Err == nil {
			t.Fatalf("expected an error for a non-SOA-terminated AXFR response")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for tcp transfer result")
	}
}
