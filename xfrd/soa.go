/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"time"

	"github.com/miekg/dns"
)

// SOA is a wire-shaped snapshot of one SOA RR: the five 32-bit timers plus
// the fields needed to reconstruct the RR for an outgoing IXFR cookie.
// Unlike the C original this is kept in host byte order throughout -
// miekg/dns already hands us host-order fields on read and re-encodes on
// write, so there is no network/host conversion to track here (see
// DESIGN.md, "Resolved Open Questions", item 1).
type SOA struct {
	Type       uint16
	Class      uint16
	TTL        uint32
	RdataCount uint16
	PrimaryNS  string
	Email      string
	Serial     uint32
	Refresh    uint32
	Retry      uint32
	Expire     uint32
	Minimum    uint32
}

// SOAFromRR captures the fields of a dns.SOA answer RR.
func SOAFromRR(rr *dns.SOA) SOA {
	return SOA{
		Type:       dns.TypeSOA,
		Class:      dns.ClassINET,
		TTL:        rr.Hdr.Ttl,
		RdataCount: 7,
		PrimaryNS:  rr.Ns,
		Email:      rr.Mbox,
		Serial:     rr.Serial,
		Refresh:    rr.Refresh,
		Retry:      rr.Retry,
		Expire:     rr.Expire,
		Minimum:    rr.Minttl,
	}
}

// RR reconstructs a dns.SOA suitable for use as an IXFR authority-section
// cookie, owned by apex.
func (s SOA) RR(apex string) *dns.SOA {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(apex),
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    s.TTL,
		},
		Ns:      s.PrimaryNS,
		Mbox:    s.Email,
		Serial:  s.Serial,
		Refresh: s.Refresh,
		Retry:   s.Retry,
		Expire:  s.Expire,
		Minttl:  s.Minimum,
	}
}

// Snapshot pairs an SOA with the moment it was acquired. A zero Acquired
// means "never acquired" (spec.md §3): the SOA field is then undefined and
// must not be read.
type Snapshot struct {
	SOA      SOA
	Acquired time.Time
}

// RefreshDeadline returns Acquired + Refresh.
func (s Snapshot) RefreshDeadline() time.Time {
	return s.Acquired.Add(time.Duration(s.SOA.Refresh) * time.Second)
}

// ExpireDeadline returns Acquired + Expire.
func (s Snapshot) ExpireDeadline() time.Time {
	return s.Acquired.Add(time.Duration(s.SOA.Expire) * time.Second)
}

// CompareSerial implements RFC 1982 serial number arithmetic: the signed
// difference of a and b modulo 2^32. A positive result means a is "newer"
// than b in serial space.
func CompareSerial(a, b uint32) int32 {
	return int32(a - b)
}

// SerialNewer reports whether candidate is strictly newer than current
// under RFC 1982 arithmetic.
func SerialNewer(current, candidate uint32) bool {
	return CompareSerial(candidate, current) > 0
}
