/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Delta is one add/remove difference sequence out of an IXFR response,
// grounded on the teacher's tdns.Ixfr type in tdns/structs.go.
type Delta struct {
	FromSerial uint32
	ToSerial   uint32
	Removed    []dns.RR
	Added      []dns.RR
}

// TCPResult is what a transfer goroutine reports back to the coordinator
// over the shared tcpResults channel.
type TCPResult struct {
	Zone     *Zone
	AXFR     bool // true: full zone content in RRs; false: incremental in Deltas
	FinalSOA SOA
	RRs      []dns.RR
	Deltas   []Delta
	Err      error
}

// isIxfrEnvelope reports whether rrs (the concatenation of every envelope's
// RR slice in one transfer) opens with two consecutive SOA records, the
// signature of an RFC 1995 incremental transfer as opposed to a full zone
// dump. Grounded on tdns/zone_utils.go's IsIxfr.
func isIxfrEnvelope(rrs []dns.RR) bool {
	if len(rrs) < 2 {
		return false
	}
	_, firstSOA := rrs[0].(*dns.SOA)
	_, secondSOA := rrs[1].(*dns.SOA)
	return firstSOA && secondSOA
}

// parseIxfr splits the flattened RR stream of an incremental transfer into
// its difference sequences, per RFC 1995 §4: new SOA, then repeated
// (old SOA, removed RRs..., new SOA, added RRs...) groups, terminated by the
// final new SOA appearing as the last record of the message.
func parseIxfr(rrs []dns.RR) (final SOA, deltas []Delta, err error) {
	firstSOA, ok := rrs[0].(*dns.SOA)
	if !ok {
		return SOA{}, nil, fmt.Errorf("ixfr: first record is not an SOA")
	}
	final = SOAFromRR(firstSOA)

	i := 1
	for i < len(rrs) {
		if i == len(rrs)-1 {
			if last, ok := rrs[i].(*dns.SOA); ok && last.Serial == final.Serial {
				break // the closing repeat of the final SOA
			}
		}
		oldSOA, ok := rrs[i].(*dns.SOA)
		if !ok {
			return SOA{}, nil, fmt.Errorf("ixfr: expected SOA at position %d", i)
		}
		i++
		var removed, added []dns.RR
		for i < len(rrs) {
			if soa, ok := rrs[i].(*dns.SOA); ok {
				_ = soa
				break
			}
			removed = append(removed, rrs[i])
			i++
		}
		if i >= len(rrs) {
			return SOA{}, nil, fmt.Errorf("ixfr: truncated difference sequence")
		}
		newSOA := rrs[i].(*dns.SOA)
		i++
		for i < len(rrs) {
			if _, ok := rrs[i].(*dns.SOA); ok {
				break
			}
			added = append(added, rrs[i])
			i++
		}
		deltas = append(deltas, Delta{
			FromSerial: oldSOA.Serial,
			ToSerial:   newSOA.Serial,
			Removed:    removed,
			Added:      added,
		})
	}
	return final, deltas, nil
}

// startTCPTransfer runs one AXFR or IXFR-over-TCP transfer for zd on its own
// goroutine and reports the outcome on resultCh. zd must already hold a C5
// pool slot; the caller is responsible for releasing it once the result has
// been processed (spec.md §4.5).
func startTCPTransfer(zd *Zone, wantAxfr bool, resultCh chan<- TCPResult) {
	zd.mu.Lock()
	master := zd.CurrentMasterAddr()
	apex := zd.Apex
	soa := zd.SoaDisk.SOA
	zd.mu.Unlock()

	m := new(dns.Msg)
	if wantAxfr {
		m.SetAxfr(apex)
	} else {
		m.SetIxfr(apex, soa.Serial, soa.PrimaryNS, soa.Email)
	}

	if master.TSIGKeyName != "" {
		m.SetTsig(dns.Fqdn(master.TSIGKeyName), master.TSIGAlgo, 300, time.Now().Unix())
	}

	go func() {
		t := &dns.Transfer{
			DialTimeout:  10 * time.Second,
			ReadTimeout:  TCPTimeout,
			WriteTimeout: 10 * time.Second,
		}
		if master.TSIGKeyName != "" {
			t.TsigSecret = map[string]string{dns.Fqdn(master.TSIGKeyName): master.TSIGSecret}
		}

		env, err := t.In(m, master.Host)
		if err != nil {
			resultCh <- TCPResult{Zone: zd, Err: fmt.Errorf("tcp transfer to %s: %w", master.Host, err)}
			return
		}

		var rrs []dns.RR
		for e := range env {
			if e.Error != nil {
				resultCh <- TCPResult{Zone: zd, Err: fmt.Errorf("tcp transfer to %s: %w", master.Host, e.Error)}
				return
			}
			rrs = append(rrs, e.RR...)
		}

		if len(rrs) == 0 {
			resultCh <- TCPResult{Zone: zd, Err: fmt.Errorf("tcp transfer to %s: empty response", master.Host)}
			return
		}

		if wantAxfr || !isIxfrEnvelope(rrs) {
			lastSOA, ok := rrs[len(rrs)-1].(*dns.SOA)
			if !ok {
				resultCh <- TCPResult{Zone: zd, Err: fmt.Errorf("tcp transfer to %s: axfr not SOA-terminated", master.Host)}
				return
			}
			resultCh <- TCPResult{Zone: zd, AXFR: true, FinalSOA: SOAFromRR(lastSOA), RRs: rrs}
			return
		}

		final, deltas, err := parseIxfr(rrs)
		if err != nil {
			resultCh <- TCPResult{Zone: zd, Err: fmt.Errorf("tcp transfer to %s: %w", master.Host, err)}
			return
		}
		resultCh <- TCPResult{Zone: zd, AXFR: false, FinalSOA: final, Deltas: deltas}
	}()
}
