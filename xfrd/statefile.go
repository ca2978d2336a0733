/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// tokenizer turns the body of a state file (everything between the two
// magic lines) into a flat stream of whitespace-separated tokens, with a
// trailing "# comment" on any line discarded, per spec.md §4.8.
type tokenizer struct {
	toks []string
	pos  int
}

func newTokenizer(lines []string) *tokenizer {
	var toks []string
	for _, line := range lines {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		toks = append(toks, strings.Fields(line)...)
	}
	return &tokenizer{toks: toks}
}

func (t *tokenizer) next() (string, bool) {
	if t.pos >= len(t.toks) {
		return "", false
	}
	tok := t.toks[t.pos]
	t.pos++
	return tok, true
}

func (t *tokenizer) expectKey(key string) error {
	tok, ok := t.next()
	if !ok {
		return fmt.Errorf("state file: expected %q, got EOF", key)
	}
	if tok != key {
		return fmt.Errorf("state file: expected %q, got %q", key, tok)
	}
	return nil
}

func (t *tokenizer) nextUint32() (uint32, error) {
	tok, ok := t.next()
	if !ok {
		return 0, fmt.Errorf("state file: expected number, got EOF")
	}
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("state file: %q is not a number: %w", tok, err)
	}
	return uint32(v), nil
}

func (t *tokenizer) nextUint16() (uint16, error) {
	v, err := t.nextUint32()
	return uint16(v), err
}

func (t *tokenizer) nextString() (string, error) {
	tok, ok := t.next()
	if !ok {
		return "", fmt.Errorf("state file: expected token, got EOF")
	}
	return tok, nil
}

func readSOALine(t *tokenizer, key string) (SOA, error) {
	if err := t.expectKey(key); err != nil {
		return SOA{}, err
	}
	var s SOA
	var err error
	if s.Type, err = t.nextUint16(); err != nil {
		return s, err
	}
	if s.Class, err = t.nextUint16(); err != nil {
		return s, err
	}
	if ttl, err := t.nextUint32(); err != nil {
		return s, err
	} else {
		s.TTL = ttl
	}
	if s.RdataCount, err = t.nextUint16(); err != nil {
		return s, err
	}
	if s.PrimaryNS, err = t.nextString(); err != nil {
		return s, err
	}
	if s.Email, err = t.nextString(); err != nil {
		return s, err
	}
	if s.Serial, err = t.nextUint32(); err != nil {
		return s, err
	}
	if s.Refresh, err = t.nextUint32(); err != nil {
		return s, err
	}
	if s.Retry, err = t.nextUint32(); err != nil {
		return s, err
	}
	if s.Expire, err = t.nextUint32(); err != nil {
		return s, err
	}
	if s.Minimum, err = t.nextUint32(); err != nil {
		return s, err
	}
	return s, nil
}

// futureTolerance is how far into the future a timestamp may be before the
// reader considers the file corrupt (spec.md §4.8 reader tolerance rules).
const futureTolerance = 15 * time.Second

// LoadStateFile reads a state file written by WriteStateFile, rehydrating
// zones already present in the registry (unknown/unconfigured zones in the
// file are skipped, per spec.md §4.8). It never fails hard: on any
// corruption it logs and returns as much as it managed to read, leaving
// the zones it couldn't parse to the startup "refresh everything now" path.
func LoadStateFile(path string, reg *Registry, now time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(lines) < 2 {
		log.Printf("xfrd: state file %s too short, ignoring", path)
		return nil
	}

	wantMagic := strings.TrimSuffix(StateFileMagic, "\n")
	if strings.TrimRight(lines[0], "\r\n") != wantMagic {
		log.Printf("xfrd: state file %s: bad leading magic, ignoring", path)
		return nil
	}

	body := lines[1:]
	if strings.TrimRight(body[len(body)-1], "\r\n") == wantMagic {
		body = body[:len(body)-1]
	} else {
		log.Printf("xfrd: state file %s: missing trailing magic, reading what we can", path)
	}

	t := newTokenizer(body)

	if err := t.expectKey("filetime:"); err != nil {
		log.Printf("xfrd: %v", err)
		return nil
	}
	filetime, err := t.nextUint32()
	if err != nil {
		log.Printf("xfrd: %v", err)
		return nil
	}
	corrupt := time.Unix(int64(filetime), 0).After(now.Add(futureTolerance))
	if corrupt {
		log.Printf("xfrd: state file %s: filetime in the future, treating as untrustworthy", path)
	}

	if err := t.expectKey("numzones:"); err != nil {
		log.Printf("xfrd: %v", err)
		return nil
	}
	n, err := t.nextUint32()
	if err != nil {
		log.Printf("xfrd: %v", err)
		return nil
	}

	for i := uint32(0); i < n; i++ {
		if err := readZoneBlock(t, reg, now); err != nil {
			log.Printf("xfrd: state file %s: zone block %d: %v, stopping", path, i, err)
			return nil
		}
	}
	return nil
}

func readZoneBlock(t *tokenizer, reg *Registry, now time.Time) error {
	if err := t.expectKey("zone:"); err != nil {
		return err
	}
	if err := t.expectKey("name:"); err != nil {
		return err
	}
	apex, err := t.nextString()
	if err != nil {
		return err
	}

	if err := t.expectKey("state:"); err != nil {
		return err
	}
	stateVal, err := t.nextUint32()
	if err != nil {
		return err
	}

	if err := t.expectKey("master:"); err != nil {
		return err
	}
	master, err := t.nextUint32()
	if err != nil {
		return err
	}

	if err := t.expectKey("next_timeout:"); err != nil {
		return err
	}
	nextTimeout, err := t.nextUint32()
	if err != nil {
		return err
	}

	soaNsd, soaNsdAcq, err := readOptionalSnapshot(t, "soa_nsd")
	if err != nil {
		return err
	}
	soaDisk, soaDiskAcq, err := readOptionalSnapshot(t, "soa_disk")
	if err != nil {
		return err
	}
	soaNotify, soaNotifyAcq, err := readOptionalSnapshot(t, "soa_notify")
	if err != nil {
		return err
	}

	zd, ok := reg.Get(apex)
	if !ok {
		return nil // unknown zone: skip silently, per spec.md §4.8
	}

	zd.mu.Lock()
	defer zd.mu.Unlock()

	if int(master) < len(zd.Masters) {
		zd.CurrentMaster = int(master)
	} else {
		zd.CurrentMaster = 0
	}

	if s, ok := stateFromWire(stateVal); ok {
		zd.State = s
	}
	// next_timeout is expected to sit well into the future during normal
	// operation (a refresh timer hours out is routine); spec.md §4.8's
	// future-tolerance rule applies only to filetime and *_acquired
	// epochs, not to this one, so it is parsed as-is.
	zd.TimerAt = time.Unix(int64(nextTimeout), 0)
	zd.SoaNsd = Snapshot{SOA: soaNsd, Acquired: clampFuture(soaNsdAcq, now)}
	zd.SoaDisk = Snapshot{SOA: soaDisk, Acquired: clampFuture(soaDiskAcq, now)}
	zd.SoaNotified = Snapshot{SOA: soaNotify, Acquired: clampFuture(soaNotifyAcq, now)}

	if !zd.SoaDisk.Acquired.IsZero() {
		if zd.TimerAt.Sub(zd.SoaDisk.Acquired) > time.Duration(zd.SoaDisk.SOA.Refresh)*time.Second ||
			!zd.SoaNotified.Acquired.IsZero() {
			setRefreshNow(zd, now)
		}
		if now.Sub(zd.SoaDisk.Acquired) > time.Duration(zd.SoaDisk.SOA.Expire)*time.Second {
			zd.State = StateExpired
		}
	}
	return nil
}

// stateToWire/stateFromWire translate between the internal ZoneState enum
// (1-indexed, so the Go zero value is never mistaken for a real state) and
// the on-disk `state: <0|1|2>` encoding spec.md §4.8 documents, which the
// host authoritative server also reads.
func stateToWire(s ZoneState) uint32 {
	switch s {
	case StateOK:
		return 0
	case StateRefreshing:
		return 1
	case StateExpired:
		return 2
	default:
		return 1
	}
}

func stateFromWire(v uint32) (ZoneState, bool) {
	switch v {
	case 0:
		return StateOK, true
	case 1:
		return StateRefreshing, true
	case 2:
		return StateExpired, true
	default:
		return 0, false
	}
}

// clampFuture returns the zero time if t is more than futureTolerance past
// now, the reader-corruption rule from spec.md §4.8.
func clampFuture(t, now time.Time) time.Time {
	if t.Unix() == 0 {
		return time.Time{}
	}
	if t.After(now.Add(futureTolerance)) {
		return time.Time{}
	}
	return t
}

func readOptionalSnapshot(t *tokenizer, prefix string) (SOA, time.Time, error) {
	if err := t.expectKey(prefix + "_acquired:"); err != nil {
		return SOA{}, time.Time{}, err
	}
	acq, err := t.nextUint32()
	if err != nil {
		return SOA{}, time.Time{}, err
	}
	if acq == 0 {
		return SOA{}, time.Time{}, nil
	}
	soa, err := readSOALine(t, prefix+":")
	if err != nil {
		return SOA{}, time.Time{}, err
	}
	return soa, time.Unix(int64(acq), 0), nil
}

// humanDuration renders a second count as the "Nd Nh Nm Ns" operator
// comment the writer appends after every timer and SOA, per spec.md §4.8.
func humanDuration(seconds uint32) string {
	d := time.Duration(seconds) * time.Second
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
}

// WriteStateFile persists the registry's zones in the format read by
// LoadStateFile. Writes are not atomic (spec.md §6): a crash mid-write
// leaves a truncated file, which the reader tolerates by keeping the zone
// blocks it could parse and leaving the rest to the refresh-now startup
// path.
func WriteStateFile(path string, reg *Registry, now time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprint(w, StateFileMagic)
	fmt.Fprintf(w, "filetime: %d\n", now.Unix())
	zones := reg.All()
	fmt.Fprintf(w, "numzones: %d\n", len(zones))

	for _, zd := range zones {
		zd.mu.Lock()
		writeZoneBlock(w, zd, now)
		zd.mu.Unlock()
	}

	fmt.Fprint(w, StateFileMagic)
	return w.Flush()
}

func writeZoneBlock(w *bufio.Writer, zd *Zone, now time.Time) {
	fmt.Fprintf(w, "zone: name: %s\n", zd.ApexStr)
	fmt.Fprintf(w, "  state: %d # %s\n", stateToWire(zd.State), zd.State)
	fmt.Fprintf(w, "  master: %d\n", zd.CurrentMaster)

	var untilFire uint32
	if zd.TimerAt.After(now) {
		untilFire = uint32(zd.TimerAt.Sub(now) / time.Second)
	}
	fmt.Fprintf(w, "  next_timeout: %d # in %s\n", zd.TimerAt.Unix(), humanDuration(untilFire))

	writeSnapshot(w, "soa_nsd", zd.SoaNsd, now)
	writeSnapshot(w, "soa_disk", zd.SoaDisk, now)
	writeSnapshot(w, "soa_notify", zd.SoaNotified, now)
}

func writeSnapshot(w *bufio.Writer, prefix string, snap Snapshot, now time.Time) {
	if snap.Acquired.IsZero() {
		fmt.Fprintf(w, "  %s_acquired: 0\n", prefix)
		return
	}
	fmt.Fprintf(w, "  %s_acquired: %d # %s ago\n", prefix, snap.Acquired.Unix(), humanDuration(uint32(now.Sub(snap.Acquired)/time.Second)))
	s := snap.SOA
	fmt.Fprintf(w, "  %s: %d %d %d %d %s %s %d %d %d %d %d # refresh %s retry %s expire %s\n",
		prefix, s.Type, s.Class, s.TTL, s.RdataCount, s.PrimaryNS, s.Email,
		s.Serial, s.Refresh, s.Retry, s.Expire, s.Minimum,
		humanDuration(s.Refresh), humanDuration(s.Retry), humanDuration(s.Expire))
}
