/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"log"

	"github.com/miekg/dns"
)

// NotifyRequest is queued onto the coordinator's notify worker whenever a
// commit gives a zone new data to announce downstream, grounded on
// tdns/notify.go's NotifyRequest/NotifierEngine pair.
type NotifyRequest struct {
	Apex    string
	Targets []string
}

// RunNotifier drains reqCh on its own goroutine, sending one SOA NOTIFY per
// target per request. It never blocks the coordinator: commits just enqueue
// and move on (spec.md's core doesn't make outbound NOTIFY synchronous with
// anything).
func RunNotifier(reqCh <-chan NotifyRequest) {
	for req := range reqCh {
		sendNotify(req.Apex, req.Targets)
	}
}

// sendNotify tries every configured downstream target in turn, logging
// failures and moving on - the same best-effort fan-out as
// tdns.ZoneData.SendNotify, just without that function's parent/CSYNC
// branches, which have no analogue for a secondary's downstream NOTIFY.
func sendNotify(apex string, targets []string) {
	if len(targets) == 0 {
		return
	}
	for _, dst := range targets {
		m := new(dns.Msg)
		m.SetNotify(apex)

		if Globals.Verbose {
			log.Printf("xfrd: sending NOTIFY(%s) to %s", apex, dst)
		}

		res, err := dns.Exchange(m, dst)
		if err != nil {
			log.Printf("xfrd: NOTIFY(%s) to %s failed: %v", apex, dst, err)
			continue
		}
		if res.Rcode != dns.RcodeSuccess {
			log.Printf("xfrd: NOTIFY(%s) to %s: %s", apex, dst, dns.RcodeToString[res.Rcode])
		}
	}
}

// notifyComment is a small helper used by the diff-log commit comment to
// mention how many downstreams will be notified.
func notifyComment(n int) string {
	if n == 0 {
		return "no downstream notify targets configured"
	}
	return fmt.Sprintf("notifying %d downstream target(s)", n)
}
