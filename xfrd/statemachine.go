/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"math/rand"
	"time"
)

// jitter returns a random duration in [0, d). Grounded on the original
// source's "T0 + random()%T0" backoff for a zone that has never transferred.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// armRetry implements spec.md §4.3's retry-scheduling formula and, as a side
// effect, the EXPIRED transition ("any: now - soa_disk.acquired > expire
// while still polling -> EXPIRED"). Callers must hold zd.mu. It returns true
// the one time this call causes a fresh OK/REFRESHING -> EXPIRED transition,
// so the caller can fire the expiry notification exactly once (spec.md §8
// scenario 5).
func armRetry(zd *Zone, now time.Time) (justExpired bool) {
	if zd.SoaDisk.Acquired.IsZero() {
		zd.TimerAt = now.Add(T0 + jitter(T0))
		return false
	}

	expireAt := zd.SoaDisk.ExpireDeadline()
	wasExpired := zd.State == StateExpired

	if now.After(expireAt) && !wasExpired {
		zd.State = StateExpired
		justExpired = true
	}

	retry := time.Duration(zd.SoaDisk.SOA.Retry) * time.Second
	if zd.State == StateExpired || now.Add(retry).Before(expireAt) {
		zd.TimerAt = now.Add(retry)
	} else {
		zd.TimerAt = expireAt
	}
	return justExpired
}

// advanceMaster rotates to the next configured master, wrapping around to
// the first after the last (spec.md §4.3, "Master rotation").
func advanceMaster(zd *Zone) {
	if len(zd.Masters) == 0 {
		return
	}
	zd.CurrentMaster = (zd.CurrentMaster + 1) % len(zd.Masters)
}

// armRefresh puts the zone into OK and arms the timer for
// soa_disk.acquired + refresh, the common tail of both the "commit" and
// "unchanged serial" transitions in the table in spec.md §4.3.
func armRefresh(zd *Zone) {
	zd.State = StateOK
	zd.TimerAt = zd.SoaDisk.RefreshDeadline()
}

// setRefreshNow is the startup/cold-timer transition: "acquired == 0 or
// timer in the past -> REFRESHING, timer = now".
func setRefreshNow(zd *Zone, now time.Time) {
	zd.State = StateRefreshing
	zd.TimerAt = now
}

// dueForTimer reports whether zd's timer has fired and the zone currently
// has no other outstanding operation (spec.md §3 invariant: at most one
// outstanding operation per zone).
func dueForTimer(zd *Zone, now time.Time) bool {
	if zd.TimerAt.IsZero() || zd.TimerAt.After(now) {
		return false
	}
	return !zd.UDPInFlight && zd.TCPSlot < 0 && !zd.Waiting
}
