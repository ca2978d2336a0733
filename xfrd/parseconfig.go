/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ParseConfig loads the main config file with viper, the same call sequence
// as tdnsd/main.go's ParseConfig: SetConfigFile/ReadInConfig/Unmarshal.
func ParseConfig(cfgfile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(cfgfile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("ParseConfig: error reading %q: %w", cfgfile, err)
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("ParseConfig: error unmarshaling %q: %w", cfgfile, err)
	}
	conf.Internal.CfgFile = cfgfile

	if conf.Service.StateFile == "" {
		conf.Service.StateFile = DefaultStateFile
	}
	if conf.Service.MaxTCP <= 0 {
		conf.Service.MaxTCP = MaxTCP
	}
	return &conf, nil
}

// zonesFile is the on-disk shape of the zones file: a plain list, not a map,
// because a YAML map keyed by an arbitrary zone name doesn't roundtrip
// cleanly through viper's mapstructure-based decoder (the teacher hits the
// same wall in tdnsd/main.go and reaches for yaml.v3 directly instead).
type zonesFile struct {
	Zones []ZoneConf `yaml:"zones"`
}

// ParseZones reads the zones file directly with yaml.v3 (the "kludge"
// DESIGN.md documents) and returns a name-keyed map, the shape the rest of
// this package wants to work with.
func ParseZones(zonesfile string) (map[string]ZoneConf, error) {
	data, err := os.ReadFile(zonesfile)
	if err != nil {
		return nil, fmt.Errorf("ParseZones: error reading %q: %w", zonesfile, err)
	}

	var zf zonesFile
	if err := yaml.Unmarshal(data, &zf); err != nil {
		return nil, fmt.Errorf("ParseZones: error parsing %q: %w", zonesfile, err)
	}

	out := make(map[string]ZoneConf, len(zf.Zones))
	for _, z := range zf.Zones {
		if z.Name == "" {
			return nil, fmt.Errorf("ParseZones: zone entry missing required 'name' field")
		}
		key := canonical(z.Name)
		if _, exists := out[key]; exists {
			return nil, fmt.Errorf("ParseZones: duplicate zone name %q", z.Name)
		}
		out[key] = z
	}
	return out, nil
}

// BuildRegistry populates reg from a parsed zone-config map, the startup
// half of spec.md §3's "Lifecycles": zone records are created once here and
// never destroyed afterward.
func BuildRegistry(reg *Registry, zones map[string]ZoneConf, defaultPort string) {
	for _, zc := range zones {
		zd := &Zone{
			Apex:          zc.Name,
			ApexStr:       zc.Name,
			CurrentMaster: 0,
			TCPSlot:       -1,
			NotifyTargets: zc.NotifyTargets,
		}
		for _, mc := range zc.Masters {
			port := mc.Port
			if port == "" {
				port = defaultPort
			}
			zd.Masters = append(zd.Masters, Master{
				Host:        joinHostPort(mc.Host, port),
				TSIGKeyName: mc.TSIGKeyName,
				TSIGSecret:  mc.TSIGSecret,
				TSIGAlgo:    mc.TSIGAlgo,
			})
		}
		reg.Add(zd)
	}
}

func joinHostPort(host, port string) string {
	if host == "" {
		return host
	}
	// A host that already carries a port (IPv4 with ':' or bracketed IPv6)
	// is passed through untouched.
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ']' {
			break
		}
		if host[i] == ':' {
			return host
		}
	}
	return host + ":" + port
}
