/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import "time"

// Config is the top-level parsed configuration, grounded on tdnsd/config.go's
// Config struct, trimmed to the sections a transfer coordinator actually
// needs (no DnsEngine/DnssecPolicies/MultiSigner/Db sections, which belong to
// a full authoritative server).
type Config struct {
	App       AppDetails
	Service   ServiceConf
	Apiserver ApiserverConf
	Log       LogConf
	Internal  InternalConf
}

type AppDetails struct {
	Name    string
	Version string
}

// ServiceConf carries the per-process knobs that don't belong to any single
// zone: the state file location and pool size, plus logging flags.
type ServiceConf struct {
	Name      string `validate:"required"`
	Debug     *bool
	Verbose   *bool
	StateFile string
	MaxTCP    int
	IPCFdName string // name of an env var for the parent-IPC fd; not read by cmd/xfrd, which takes the fd from -ipc-fd
}

// ApiserverConf mirrors tdns/config.go's ApiserverConf: the admin/status HTTP
// surface is optional, gated on Addresses being non-empty.
type ApiserverConf struct {
	Addresses []string
	ApiKey    string
}

type LogConf struct {
	File string `validate:"required"`
}

// InternalConf holds process-derived state that has no business living in
// the YAML file itself, the same role tdnsd/config.go's InternalConf plays.
type InternalConf struct {
	CfgFile      string
	ZonesCfgFile string
	StartTime    time.Time
}

// ZoneConf is one entry of the zones file (spec.md §6: "zone list with
// per-zone request_xfr master ACLs").
type ZoneConf struct {
	Name          string       `yaml:"name" validate:"required"`
	Masters       []MasterConf `yaml:"masters" validate:"required,min=1"`
	NotifyTargets []string     `yaml:"notify_targets"`
}

type MasterConf struct {
	Host        string `yaml:"host" validate:"required"`
	Port        string `yaml:"port"`
	TSIGKeyName string `yaml:"tsig_key_name"`
	TSIGSecret  string `yaml:"tsig_secret"`
	TSIGAlgo    string `yaml:"tsig_algo"`
}
