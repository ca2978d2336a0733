/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"log"
	"time"

	"github.com/miekg/dns"
)

// ReplyAction is what the coordinator should do next after C7 has looked at
// one UDP probe reply (spec.md §4.7).
type ReplyAction int

const (
	ActionAbort        ReplyAction = iota // malformed/stale/wrong ID: drop, caller schedules retry
	ActionUnchanged                       // serial == soa_disk.serial: rearmed for refresh, nothing else to do
	ActionPromoteTCPIx                    // mini-notify: fetch the real data over TCP as an IXFR
	ActionPromoteTCPAx                    // TC bit set or cold start: fetch over TCP, full AXFR
)

// validateHeader applies validation steps 1-4 of spec.md §4.7 to a UDP
// probe reply; only handleUDPReply calls it, and TCP transfer replies do
// not pass through it. It returns the reason for rejection, or "" if the
// message passed.
func validateHeader(zd *Zone, msg *dns.Msg, expectID uint16) string {
	if msg.Id != expectID {
		return fmt.Sprintf("reply ID %d does not match query ID %d", msg.Id, expectID)
	}
	if msg.Rcode != dns.RcodeSuccess {
		return fmt.Sprintf("rcode %s", dns.RcodeToString[msg.Rcode])
	}
	if len(msg.Answer) == 0 {
		return "too short: ancount == 0"
	}
	return ""
}

// firstSOA validates step 5: the first answer RR must be an SOA. Any other
// answer-section contents before it are a protocol violation, not skipped.
func firstSOA(msg *dns.Msg) (*dns.SOA, error) {
	soa, ok := msg.Answer[0].(*dns.SOA)
	if !ok {
		return nil, fmt.Errorf("first answer RR is not SOA")
	}
	return soa, nil
}

// handleUDPReply implements the decision tree below validation in spec.md
// §4.7 for a UDP IXFR probe reply. Callers must hold zd.mu for the duration;
// on ActionUnchanged the zone has already been rearmed and there is nothing
// further to do.
func handleUDPReply(zd *Zone, res UDPResult, now time.Time) (ReplyAction, error) {
	if res.Err != nil {
		return ActionAbort, res.Err
	}
	msg := res.Msg

	if reason := validateHeader(zd, msg, res.ID); reason != "" {
		return ActionAbort, fmt.Errorf("%s", reason)
	}
	soa, err := firstSOA(msg)
	if err != nil {
		return ActionAbort, err
	}
	newSerial := soa.Serial

	if !zd.SoaDisk.Acquired.IsZero() && CompareSerial(zd.SoaDisk.SOA.Serial, newSerial) > 0 {
		return ActionAbort, fmt.Errorf("stale serial %d (have %d)", newSerial, zd.SoaDisk.SOA.Serial)
	}

	if !zd.SoaDisk.Acquired.IsZero() && zd.SoaDisk.SOA.Serial == newSerial {
		if zd.SoaNotified.Acquired.IsZero() {
			zd.SoaDisk.Acquired = now
			if zd.SoaNsd.SOA.Serial == newSerial {
				zd.SoaNsd.Acquired = now
			}
		}
		armRefresh(zd)
		return ActionUnchanged, nil
	}

	ancount := len(msg.Answer)
	serialIsNewer := zd.SoaDisk.Acquired.IsZero() || CompareSerial(zd.SoaDisk.SOA.Serial, newSerial) < 0

	// A zone with nothing on disk has no serial to diff against, so it
	// always fetches a full AXFR.
	promote := ActionPromoteTCPIx
	if zd.SoaDisk.Acquired.IsZero() {
		promote = ActionPromoteTCPAx
	}

	if ancount == 1 && serialIsNewer {
		return promote, nil
	}
	if msg.Truncated {
		return ActionPromoteTCPAx, nil
	}
	if ancount < 2 {
		return ActionAbort, fmt.Errorf("too short for real xfr: ancount=%d", ancount)
	}

	// A UDP reply carrying the whole transfer inline isn't expected in
	// practice (masters truncate), but if one arrives, treat it the same
	// as a TCP IXFR transfer would be.
	return promote, nil
}

// commitTransfer implements spec.md §4.7's "Commit path": append to the
// diff log, update soa_disk, transition to OK and arm the refresh timer.
// Per DESIGN.md's resolved open question on §9, this core updates every SOA
// field from the transfer (not just the serial), since the full RR is
// already in hand.
func commitTransfer(zd *Zone, res TCPResult, now time.Time, dl *DiffLog) error {
	if !zd.SoaDisk.Acquired.IsZero() && CompareSerial(zd.SoaDisk.SOA.Serial, res.FinalSOA.Serial) > 0 {
		return fmt.Errorf("stale serial %d from tcp transfer (have %d)", res.FinalSOA.Serial, zd.SoaDisk.SOA.Serial)
	}

	comment := fmt.Sprintf("xfr serial=%d, %s", res.FinalSOA.Serial, notifyComment(len(zd.NotifyTargets)))
	if res.AXFR {
		if err := dl.WritePacket(zd.Apex, res.FinalSOA.Serial, comment+" axfr", res.RRs); err != nil {
			return err
		}
	} else {
		for _, d := range res.Deltas {
			rrs := make([]dns.RR, 0, len(d.Removed)+len(d.Added)+2)
			rrs = append(rrs, d.ToSerialSOA())
			rrs = append(rrs, d.Removed...)
			rrs = append(rrs, d.ToSerialSOA())
			rrs = append(rrs, d.Added...)
			if err := dl.WritePacket(zd.Apex, d.ToSerial, comment+" ixfr delta", rrs); err != nil {
				return err
			}
		}
	}
	if err := dl.WriteCommit(zd.Apex, res.FinalSOA.Serial, comment); err != nil {
		return err
	}

	zd.SoaDisk = Snapshot{SOA: res.FinalSOA, Acquired: now}
	armRefresh(zd)
	log.Printf("xfrd: zone %s committed serial %d", zd.ApexStr, res.FinalSOA.Serial)
	return nil
}

// ToSerialSOA is a convenience accessor used by commitTransfer to rebuild
// the bracketing SOA RR for a delta's diff-log record.
func (d Delta) ToSerialSOA() dns.RR {
	return &dns.SOA{
		Hdr:    dns.RR_Header{Rrtype: dns.TypeSOA, Class: dns.ClassINET},
		Serial: d.ToSerial,
	}
}
