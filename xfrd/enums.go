/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import "fmt"

// ZoneState is the C3 SOA timing state machine's current state for a zone.
type ZoneState uint8

const (
	StateOK ZoneState = iota + 1
	StateRefreshing
	StateExpired
)

var ZoneStateToString = map[ZoneState]string{
	StateOK:         "ok",
	StateRefreshing: "refreshing",
	StateExpired:    "expired",
}

func (s ZoneState) String() string {
	if str, ok := ZoneStateToString[s]; ok {
		return str
	}
	return "unknown"
}

// ErrorType classifies the last error recorded against a zone, surfaced
// through the admin API and the log line prefix.
type ErrorType uint8

const (
	NoError ErrorType = iota
	ConfigError
	TransferError
	ProtocolError
)

var ErrorTypeToString = map[ErrorType]string{
	ConfigError:   "config",
	TransferError: "transfer",
	ProtocolError: "protocol",
}

func (zd *Zone) SetError(errtype ErrorType, errmsg string, args ...interface{}) {
	zd.mu.Lock()
	defer zd.mu.Unlock()
	if errtype == NoError {
		zd.Error = false
		zd.ErrorType = NoError
		zd.ErrorMsg = ""
		return
	}
	zd.Error = true
	zd.ErrorType = errtype
	zd.ErrorMsg = fmt.Sprintf(errmsg, args...)
}
