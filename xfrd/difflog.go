/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/miekg/dns"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Record types for the diff log's on-disk framing (spec.md §6, "Diff log").
// The log is opaque to the coordinator's own logic: this binary framing
// exists only so the authoritative server on the other end can demux
// packet records from commit records, mirroring NSD's ixfr.db without
// committing to being byte-compatible with it.
const (
	diffRecPacket byte = 1
	diffRecCommit byte = 2
)

// DiffLog is the append-only log by which C7 hands received zone data to
// the host authoritative server, reusing the teacher's lumberjack-based
// rotation strategy from logging.go for a second, independent writer.
type DiffLog struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

func NewDiffLog(path string) *DiffLog {
	return &DiffLog{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

func (d *DiffLog) Close() error {
	return d.w.Close()
}

func writeLenPrefixed(buf []byte, s string) []byte {
	b := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[2:], s)
	return append(buf, b...)
}

// WritePacket appends one raw-reply "packet" record, step 1 of the commit
// path in spec.md §4.7: "Append the raw reply bytes to the diff log as one
// packet record with the zone name, serial, and a free-form comment." rrs is
// packed into a standalone answer message so the bytes on disk are the same
// wire format a resolver would have seen, even though our transport
// (dns.Transfer) hands us parsed RRs rather than the original bytes.
func (d *DiffLog) WritePacket(apex string, serial uint32, comment string, rrs []dns.RR) error {
	msg := new(dns.Msg)
	msg.Answer = rrs
	raw, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("difflog: pack packet for %s: %w", apex, err)
	}

	var rec []byte
	rec = append(rec, diffRecPacket)
	serialBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(serialBuf, serial)
	rec = append(rec, serialBuf...)
	rec = writeLenPrefixed(rec, apex)
	rec = writeLenPrefixed(rec, comment)
	dataLen := make([]byte, 4)
	binary.BigEndian.PutUint32(dataLen, uint32(len(raw)))
	rec = append(rec, dataLen...)
	rec = append(rec, raw...)

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.w.Write(rec)
	return err
}

// WriteCommit appends the "commit" record that marks a zone update
// complete and ready for the authoritative server to reload (spec.md
// §4.7 step 2, and the `diff_write_commit` interface in §6).
func (d *DiffLog) WriteCommit(apex string, serial uint32, comment string) error {
	var rec []byte
	rec = append(rec, diffRecCommit)
	serialBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(serialBuf, serial)
	rec = append(rec, serialBuf...)
	rec = writeLenPrefixed(rec, apex)
	rec = append(rec, 1) // status: 1 = ok, matching diff_write_commit's status=1
	rec = writeLenPrefixed(rec, comment)

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.w.Write(rec)
	return err
}
