/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func soaRR(apex string, serial uint32) *dns.SOA {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: dns.Fqdn(apex), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:      "ns1." + dns.Fqdn(apex),
		Mbox:    "hostmaster." + dns.Fqdn(apex),
		Serial:  serial,
		Refresh: 3600,
		Retry:   600,
		Expire:  1209600,
		Minttl:  3600,
	}
}

func replyMsg(id uint16, rcode int, answer ...dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.Id = id
	m.Rcode = rcode
	m.Answer = answer
	return m
}

func zoneWithDisk(serial uint32, acquired time.Time) *Zone {
	return &Zone{
		Apex:    "example.com.",
		ApexStr: "example.com.",
		TCPSlot: -1,
		SoaDisk: Snapshot{
			SOA:      SOA{Serial: serial, Refresh: 3600, Retry: 600, Expire: 1209600},
			Acquired: acquired,
		},
	}
}

// Scenario 2 (spec.md §8): a probe reply whose serial matches soa_disk.serial
// is the "still current" fast path: rearm for refresh, no TCP promotion.
func TestHandleUDPReplyUnchangedSerial(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(42, now.Add(-1000*time.Second))
	zd.QueryID = 7

	msg := replyMsg(7, dns.RcodeSuccess, soaRR(zd.Apex, 42))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 7, Msg: msg}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionUnchanged {
		t.Fatalf("action = %v, want ActionUnchanged", action)
	}
	if zd.State != StateOK {
		t.Fatalf("state = %s, want ok", zd.State)
	}
	if !zd.SoaDisk.Acquired.Equal(now) {
		t.Fatalf("soa_disk.acquired should be bumped to now when soa_notified is unacquired")
	}
}

// The "unchanged serial" quirk (DESIGN.md resolved question 4): if a notify
// is already pending (soa_notified.acquired != 0), soa_disk.acquired is
// deliberately NOT bumped, even though the zone still rearms for refresh.
func TestHandleUDPReplyUnchangedSerialQuirkWithPendingNotify(t *testing.T) {
	now := time.Now()
	acquired := now.Add(-1000 * time.Second)
	zd := zoneWithDisk(42, acquired)
	zd.SoaNotified = Snapshot{Acquired: now.Add(-10 * time.Second)}
	zd.QueryID = 7

	msg := replyMsg(7, dns.RcodeSuccess, soaRR(zd.Apex, 42))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 7, Msg: msg}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionUnchanged {
		t.Fatalf("action = %v, want ActionUnchanged", action)
	}
	if !zd.SoaDisk.Acquired.Equal(acquired) {
		t.Fatalf("soa_disk.acquired must stay %v while a notify is pending, got %v", acquired, zd.SoaDisk.Acquired)
	}
}

// Mini-notify: ancount==1 with a newer serial; the real data must still
// come over TCP as an IXFR.
func TestHandleUDPReplyMiniNotifyPromotesToIxfr(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(10, now.Add(-1000*time.Second))
	zd.QueryID = 3

	msg := replyMsg(3, dns.RcodeSuccess, soaRR(zd.Apex, 11))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 3, Msg: msg}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionPromoteTCPIx {
		t.Fatalf("action = %v, want ActionPromoteTCPIx", action)
	}
}

// Scenario 4 (spec.md §8): a truncated UDP reply (TC bit) carrying more than
// one answer RR promotes to a TCP fetch, as a full AXFR. (A single newer SOA
// is caught first by the mini-notify check.)
func TestHandleUDPReplyTruncatedPromotesToAxfr(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(10, now.Add(-1000*time.Second))
	zd.QueryID = 9

	msg := replyMsg(9, dns.RcodeSuccess, soaRR(zd.Apex, 11), soaRR(zd.Apex, 10))
	msg.Truncated = true
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 9, Msg: msg}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionPromoteTCPAx {
		t.Fatalf("action = %v, want ActionPromoteTCPAx", action)
	}
}

// A stale serial (older than what's already on disk) must be rejected.
func TestHandleUDPReplyStaleSerialAborts(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(100, now.Add(-1000*time.Second))
	zd.QueryID = 1

	msg := replyMsg(1, dns.RcodeSuccess, soaRR(zd.Apex, 99))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 1, Msg: msg}, now)
	if err == nil {
		t.Fatalf("expected an error for a stale serial")
	}
	if action != ActionAbort {
		t.Fatalf("action = %v, want ActionAbort", action)
	}
}

// A reply ID that doesn't match the outstanding query must be rejected,
// guarding against off-path spoofing and stray retransmits alike.
func TestHandleUDPReplyWrongIDAborts(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(10, now.Add(-1000*time.Second))
	zd.QueryID = 55

	msg := replyMsg(99, dns.RcodeSuccess, soaRR(zd.Apex, 11))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 55, Msg: msg}, now)
	if err == nil {
		t.Fatalf("expected an error for a mismatched reply ID")
	}
	if action != ActionAbort {
		t.Fatalf("action = %v, want ActionAbort", action)
	}
}

// An empty answer section (ancount == 0) is "too short", independent of
// rcode.
func TestHandleUDPReplyEmptyAnswerAborts(t *testing.T) {
	now := time.Now()
	zd := zoneWithDisk(10, now.Add(-1000*time.Second))
	zd.QueryID = 4

	msg := replyMsg(4, dns.RcodeSuccess)
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 4, Msg: msg}, now)
	if err == nil {
		t.Fatalf("expected an error for ancount == 0")
	}
	if action != ActionAbort {
		t.Fatalf("action = %v, want ActionAbort", action)
	}
}

// A cold zone (never acquired an SOA) treats any non-stale serial as newer,
// so a single-SOA reply still counts as a mini-notify worth promoting; with
// nothing on disk to diff against, the TCP fetch is a full AXFR.
func TestHandleUDPReplyColdZoneMiniNotify(t *testing.T) {
	now := time.Now()
	zd := &Zone{Apex: "example.com.", ApexStr: "example.com.", TCPSlot: -1, QueryID: 2}

	msg := replyMsg(2, dns.RcodeSuccess, soaRR(zd.Apex, 1))
	action, err := handleUDPReply(zd, UDPResult{Zone: zd, ID: 2, Msg: msg}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionPromoteTCPAx {
		t.Fatalf("action = %v, want ActionPromoteTCPAx", action)
	}
}
