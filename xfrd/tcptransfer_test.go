/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"testing"

	"github.com/miekg/dns"
)

func aRecord(name, addr string) dns.RR {
	rr, err := dns.NewRR(name + " 3600 IN A " + addr)
	if err != nil {
		panic(err)
	}
	return rr
}

func TestIsIxfrEnvelope(t *testing.T) {
	apex := "example.com."
	axfr := []dns.RR{soaRR(apex, 5), aRecord(apex, "192.0.2.1"), soaRR(apex, 5)}
	if isIxfrEnvelope(axfr) {
		t.Fatalf("a single bracketing SOA pair around plain data is an AXFR shape, not IXFR")
	}

	ixfr := []dns.RR{soaRR(apex, 6), soaRR(apex, 5), aRecord(apex, "192.0.2.1"), soaRR(apex, 6)}
	if !isIxfrEnvelope(ixfr) {
		t.Fatalf("two leading consecutive SOA records is the IXFR signature")
	}

	if isIxfrEnvelope([]dns.RR{soaRR(apex, 5)}) {
		t.Fatalf("a single record can never be an ixfr envelope")
	}
}

// RFC 1995 §4: one difference sequence, old SOA + removed RRs + new SOA +
// added RRs, terminated by the final SOA repeating as the last record.
func TestParseIxfrSingleDelta(t *testing.T) {
	apex := "example.com."
	rrs := []dns.RR{
		soaRR(apex, 6), // final SOA (first record)
		soaRR(apex, 5), // old SOA
		aRecord(apex, "192.0.2.1"),
		soaRR(apex, 6), // new SOA
		aRecord(apex, "192.0.2.2"),
		soaRR(apex, 6), // final SOA repeated as the last record
	}

	final, deltas, err := parseIxfr(rrs)
	if err != nil {
		t.Fatalf("parseIxfr: %v", err)
	}
	if final.Serial != 6 {
		t.Fatalf("final serial = %d, want 6", final.Serial)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	d := deltas[0]
	if d.FromSerial != 5 || d.ToSerial != 6 {
		t.Fatalf("delta serials = %d -> %d, want 5 -> 6", d.FromSerial, d.ToSerial)
	}
	if len(d.Removed) != 1 || len(d.Added) != 1 {
		t.Fatalf("expected 1 removed + 1 added RR, got %d removed, %d added", len(d.Removed), len(d.Added))
	}
}

// Multiple difference sequences in one transfer (the master had several
// serial bumps since the client's last poll) must all be captured in order.
func TestParseIxfrMultipleDeltas(t *testing.T) {
	apex := "example.com."
	rrs := []dns.RR{
		soaRR(apex, 8), // final SOA
		soaRR(apex, 6), // old SOA #1
		aRecord(apex, "192.0.2.1"),
		soaRR(apex, 7), // new SOA #1
		aRecord(apex, "192.0.2.2"),
		soaRR(apex, 7), // old SOA #2
		aRecord(apex, "192.0.2.2"),
		soaRR(apex, 8), // new SOA #2
		aRecord(apex, "192.0.2.3"),
	}

	final, deltas, err := parseIxfr(rrs)
	if err != nil {
		t.Fatalf("parseIxfr: %v", err)
	}
	if final.Serial != 8 {
		t.Fatalf("final serial = %d, want 8", final.Serial)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if deltas[0].FromSerial != 6 || deltas[0].ToSerial != 7 {
		t.Fatalf("delta 0 = %d->%d, want 6->7", deltas[0].FromSerial, deltas[0].ToSerial)
	}
	if deltas[1].FromSerial != 7 || deltas[1].ToSerial != 8 {
		t.Fatalf("delta 1 = %d->%d, want 7->8", deltas[1].FromSerial, deltas[1].ToSerial)
	}
}

func TestParseIxfrTruncatedSequenceErrors(t *testing.T) {
	apex := "example.com."
	rrs := []dns.RR{
		soaRR(apex, 6),
		soaRR(apex, 5),
		aRecord(apex, "192.0.2.1"),
		// missing the terminating new-SOA
	}
	if _, _, err := parseIxfr(rrs); err == nil {
		t.Fatalf("expected an error for a truncated difference sequence")
	}
}
