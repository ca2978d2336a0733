/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

// GlobalStuff mirrors the teacher's tdns.Globals idiom: a small bag of
// process-wide flags read by many packages, instead of threading them
// through every function call.
type GlobalStuff struct {
	Verbose bool
	Debug   bool
}

var Globals = GlobalStuff{
	Verbose: false,
	Debug:   false,
}

// Zones is the process-wide C2 registry, populated once at startup from the
// configured zone list and never pruned thereafter.
var Zones = NewRegistry()
