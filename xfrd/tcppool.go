/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import "sync"

// TCPPool bounds the number of concurrent AXFR/IXFR-over-TCP transfers, the
// same way xfrd.c's xfrd_tcp_set does: a fixed capacity plus a FIFO wait
// queue of zones, so that a burst of simultaneous expiries can't open more
// than MaxTCP sockets to masters at once (spec.md §4.5). Zone.waitNext
// threads the queue without a separate allocation per waiter.
type TCPPool struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waitHead *Zone
	waitTail *Zone
}

func NewTCPPool(capacity int) *TCPPool {
	return &TCPPool{capacity: capacity}
}

// Obtain requests a slot for zd. If one is free it is granted immediately
// (granted=true); otherwise zd is appended to the FIFO wait queue and
// Release on some other zone will eventually grant it one, returning zd so
// the coordinator can dispatch its transfer (spec.md §8 scenario 6).
func (p *TCPPool) Obtain(zd *Zone) (granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse < p.capacity {
		p.inUse++
		return true
	}

	zd.Waiting = true
	zd.waitNext = nil
	if p.waitTail == nil {
		p.waitHead = zd
	} else {
		p.waitTail.waitNext = zd
	}
	p.waitTail = zd
	return false
}

// Release frees zd's slot and, if anyone is waiting, hands it to the
// longest-waiting zone and returns it so the coordinator can dispatch its
// transfer next. Returns nil when the wait queue was empty.
func (p *TCPPool) Release(zd *Zone) *Zone {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse--
	if p.inUse < 0 {
		p.inUse = 0
	}

	if p.waitHead == nil {
		return nil
	}

	next := p.waitHead
	p.waitHead = next.waitNext
	if p.waitHead == nil {
		p.waitTail = nil
	}
	next.waitNext = nil
	next.Waiting = false
	p.inUse++
	return next
}

// Len reports how many zones are currently waiting for a slot.
func (p *TCPPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for z := p.waitHead; z != nil; z = z.waitNext {
		n++
	}
	return n
}
