/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import "time"

const (
	DefaultCfgFile   = "/etc/xfrd/xfrd.yaml"
	DefaultZonesFile = "/etc/xfrd/xfrd-zones.yaml"
	DefaultStateFile = "nsd.xfst"

	// MaxTCP is the default size of the concurrent TCP transfer pool (C5).
	MaxTCP = 8

	// DefaultTCPPort is the port dialed for AXFR/IXFR-over-TCP when a master
	// doesn't specify one explicitly.
	DefaultTCPPort = "53"

	// T0 is the base retry delay used when a zone has never been acquired.
	T0 = 10 * time.Second

	// TCPTimeout bounds a single TCP transfer attempt (connect through final byte).
	TCPTimeout = 120 * time.Second

	// UDPProbeTimeout bounds how long a UDP IXFR probe waits for a reply.
	UDPProbeTimeout = 10 * time.Second

	StateFileMagic = "NSD zone transfer daemon state file v1\n"
)
