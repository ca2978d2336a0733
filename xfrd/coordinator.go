/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Coordinator is C1: the single goroutine that owns every zone's state and
// serializes all transitions through one select loop, the idiomatic Go
// replacement for the original's single-threaded select/poll dispatcher
// (spec.md §4.1). Worker goroutines (C4 UDP probes, C6 TCP transfers, the
// IPC reader) never touch Zone fields themselves; they only report results
// back over channels this loop reads.
type Coordinator struct {
	reg     *Registry
	pool    *TCPPool
	diffLog *DiffLog
	ipc     *IPC

	notifyCh chan NotifyRequest
	refreshq chan string

	udpResults chan UDPResult
	tcpResults chan TCPResult
}

func NewCoordinator(reg *Registry, pool *TCPPool, dl *DiffLog, ipc *IPC, notifyCh chan NotifyRequest) *Coordinator {
	return &Coordinator{
		reg:        reg,
		pool:       pool,
		diffLog:    dl,
		ipc:        ipc,
		notifyCh:   notifyCh,
		refreshq:   make(chan string, 16),
		udpResults: make(chan UDPResult, 16),
		tcpResults: make(chan TCPResult, 16),
	}
}

// ForceRefresh is the hook the admin API (apiserver.go) uses to request an
// out-of-band refresh; it never blocks the caller, matching this core's
// invariant that nothing outside the coordinator goroutine mutates a zone.
func (c *Coordinator) ForceRefresh(apex string) error {
	if _, ok := c.reg.Get(apex); !ok {
		return fmt.Errorf("zone %q not found", apex)
	}
	select {
	case c.refreshq <- apex:
		return nil
	default:
		return fmt.Errorf("refresh queue full, try again")
	}
}

// Bootstrap arms every zone's initial timer: "acquired == 0 or timer in the
// past -> REFRESHING, timer = now" (spec.md §4.3, "Startup" row). Zones
// rehydrated from the state file with a still-future timer are left alone.
func (c *Coordinator) Bootstrap(now time.Time) {
	for _, zd := range c.reg.All() {
		zd.mu.Lock()
		if zd.TimerAt.IsZero() || !zd.TimerAt.After(now) {
			setRefreshNow(zd, now)
		}
		if zd.TCPSlot < 0 {
			zd.TCPSlot = -1
		}
		zd.mu.Unlock()
	}
}

// Run is the event loop itself. It returns when ctx is cancelled or the
// parent IPC signals shutdown.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	quitCh := make(chan struct{})
	if c.ipc != nil {
		go c.ipc.Run(quitCh)
	}

	log.Printf("xfrd: coordinator starting, %d zones", c.reg.Len())

	for {
		select {
		case <-ctx.Done():
			log.Printf("xfrd: coordinator: context cancelled, stopping")
			return
		case <-quitCh:
			log.Printf("xfrd: coordinator: parent requested shutdown")
			return
		case now := <-ticker.C:
			c.scanTimers(now)
		case apex := <-c.refreshq:
			c.onForceRefresh(apex, time.Now())
		case res := <-c.udpResults:
			c.onUDPResult(res, time.Now())
		case res := <-c.tcpResults:
			c.onTCPResult(res, time.Now())
		}
	}
}

// scanTimers fires every zone whose timer is due and which has no other
// outstanding operation, spec.md §3's "at most one outstanding operation"
// invariant enforced by dueForTimer.
func (c *Coordinator) scanTimers(now time.Time) {
	for _, zd := range c.reg.All() {
		zd.mu.Lock()
		due := dueForTimer(zd, now)
		zd.mu.Unlock()
		if due {
			c.fireZone(zd, now)
		}
	}
}

func (c *Coordinator) onForceRefresh(apex string, now time.Time) {
	zd, ok := c.reg.Get(apex)
	if !ok {
		return
	}
	zd.mu.Lock()
	busy := zd.UDPInFlight || zd.TCPSlot >= 0 || zd.Waiting
	zd.mu.Unlock()
	if busy {
		log.Printf("xfrd: zone %s: force-refresh requested but an operation is already in flight", apex)
		return
	}
	c.fireZone(zd, now)
}

// fireZone is xfrd.c's xfrd_handle_zone: rearm the retry timer and rotate
// the master *before* dispatching, so a probe that never gets a reply still
// leaves the zone with a sane next-attempt time and a different master to
// try. A zone that has never acquired any SOA snapshot skips the UDP probe
// entirely and goes straight to a full AXFR over TCP.
func (c *Coordinator) fireZone(zd *Zone, now time.Time) {
	zd.mu.Lock()
	justExpired := armRetry(zd, now)
	advanceMaster(zd)
	if zd.State != StateExpired {
		zd.State = StateRefreshing
	}
	cold := zd.SoaDisk.Acquired.IsZero()
	apex := zd.ApexStr
	zd.mu.Unlock()

	if justExpired {
		log.Printf("xfrd: zone %s: EXPIRED", apex)
		zd.SetError(TransferError, "expire interval elapsed with no successful refresh")
		if err := c.ipc.NotifyExpired(); err != nil {
			log.Printf("xfrd: zone %s: error notifying parent of expiry: %v", apex, err)
		}
	}

	if cold {
		c.startTCP(zd, true)
		return
	}
	startUDPProbe(zd, c.udpResults)
}

// startTCP requests a C5 pool slot for zd. If one is free the transfer
// starts immediately; otherwise zd waits in the pool's FIFO and
// PendingAXFR records which kind of transfer to start once a slot frees up
// (spec.md §8 scenario 6).
func (c *Coordinator) startTCP(zd *Zone, axfr bool) {
	zd.mu.Lock()
	zd.PendingAXFR = axfr
	zd.mu.Unlock()

	if !c.pool.Obtain(zd) {
		return // queued; Release() will hand it a slot later
	}
	c.dispatchGrantedTCP(zd)
}

func (c *Coordinator) dispatchGrantedTCP(zd *Zone) {
	zd.mu.Lock()
	zd.TCPSlot = 0
	axfr := zd.PendingAXFR
	zd.mu.Unlock()
	startTCPTransfer(zd, axfr, c.tcpResults)
}

func (c *Coordinator) onUDPResult(res UDPResult, now time.Time) {
	zd := res.Zone
	zd.mu.Lock()
	zd.UDPInFlight = false
	action, err := handleUDPReply(zd, res, now)
	apex := zd.ApexStr
	zd.mu.Unlock()

	if err != nil {
		log.Printf("xfrd: zone %s: udp probe reply rejected: %v", apex, err)
		zd.SetError(ProtocolError, "udp probe reply rejected: %v", err)
	}

	switch action {
	case ActionPromoteTCPIx:
		c.startTCP(zd, false)
	case ActionPromoteTCPAx:
		c.startTCP(zd, true)
	case ActionUnchanged:
		if err == nil {
			zd.SetError(NoError, "")
		}
	case ActionAbort:
		// Leaves the retry timer armed at dispatch time in fireZone.
	}
}

func (c *Coordinator) onTCPResult(res TCPResult, now time.Time) {
	zd := res.Zone
	next := c.pool.Release(zd)

	zd.mu.Lock()
	zd.TCPSlot = -1
	zd.mu.Unlock()

	if res.Err != nil {
		log.Printf("xfrd: zone %s: tcp transfer failed: %v", zd.ApexStr, res.Err)
		zd.SetError(TransferError, "tcp transfer failed: %v", res.Err)
	} else {
		zd.mu.Lock()
		err := commitTransfer(zd, res, now, c.diffLog)
		apex := zd.ApexStr
		targets := append([]string(nil), zd.NotifyTargets...)
		zd.mu.Unlock()

		if err != nil {
			log.Printf("xfrd: zone %s: commit failed: %v", apex, err)
			zd.SetError(ProtocolError, "commit failed: %v", err)
		} else {
			zd.SetError(NoError, "")
			if err := c.ipc.RequestReload(); err != nil {
				log.Printf("xfrd: zone %s: error requesting reload: %v", apex, err)
			}
			if len(targets) > 0 && c.notifyCh != nil {
				select {
				case c.notifyCh <- NotifyRequest{Apex: apex, Targets: targets}:
				default:
					log.Printf("xfrd: zone %s: notify queue full, dropping notify", apex)
				}
			}
		}
	}

	if next != nil {
		c.dispatchGrantedTCP(next)
	}
}
