/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/miekg/dns"
)

// UDPResult is what a probe goroutine reports back to the coordinator (C1)
// over the shared udpResults channel. Msg is nil when the probe timed out or
// the transport itself failed; Err then carries the reason.
type UDPResult struct {
	Zone *Zone
	ID   uint16 // the query ID this result answers, for stale-reply rejection
	Msg  *dns.Msg
	RTT  time.Duration
	Err  error
}

// buildIxfrQuery constructs the IXFR probe query for zd, using the currently
// held soa_disk serial as the client's "what I have" cookie (spec.md §4.4,
// grounded on tdns/dnsutils.go's use of dns.Msg.SetIxfr). Callers must hold
// zd.mu.
func buildIxfrQuery(zd *Zone) *dns.Msg {
	soa := zd.SoaDisk.SOA
	m := new(dns.Msg)
	m.SetIxfr(zd.Apex, soa.Serial, soa.PrimaryNS, soa.Email)
	m.Id = zd.QueryID
	return m
}

// startUDPProbe sends one UDP IXFR probe to zd's current master on its own
// goroutine and reports the outcome on resultCh. Before spawning it, on the
// caller's goroutine and under lock, it stores a fresh QueryID and sets
// UDPInFlight; the spawned goroutine never touches zd, and all further state
// transitions happen back on the coordinator goroutine when the result is
// processed, preserving the single-writer invariant described on Zone.
func startUDPProbe(zd *Zone, resultCh chan<- UDPResult) {
	zd.mu.Lock()
	zd.QueryID = uint16(rand.Intn(1 << 16))
	m := buildIxfrQuery(zd)
	master := zd.CurrentMasterAddr()
	id := zd.QueryID
	zd.UDPInFlight = true
	zd.mu.Unlock()

	if master.TSIGKeyName != "" {
		m.SetTsig(dns.Fqdn(master.TSIGKeyName), master.TSIGAlgo, 300, time.Now().Unix())
	}

	go func() {
		c := &dns.Client{
			Net:     "udp",
			Timeout: UDPProbeTimeout,
		}
		if master.TSIGKeyName != "" {
			c.TsigSecret = map[string]string{dns.Fqdn(master.TSIGKeyName): master.TSIGSecret}
		}

		reply, rtt, err := c.Exchange(m, master.Host)
		if err != nil {
			resultCh <- UDPResult{Zone: zd, ID: id, Err: fmt.Errorf("udp probe to %s: %w", master.Host, err)}
			return
		}
		resultCh <- UDPResult{Zone: zd, ID: id, Msg: reply, RTT: rtt}
	}()
}
