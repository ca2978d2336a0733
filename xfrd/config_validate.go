/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig runs struct-tag validation over the main config's
// sub-sections, the same "validate each section separately" shape as
// tdns/config_validate.go's ValidateBySection (a map[string]interface{}
// can't carry a single nested struct, since the sections here don't share
// one parent struct required-field rule set).
func ValidateConfig(conf *Config, cfgfile string) error {
	sections := map[string]interface{}{
		"service": conf.Service,
		"log":     conf.Log,
	}
	return ValidateBySection(conf, sections, cfgfile)
}

// ValidateZones validates every parsed zone entry, mirroring
// tdns/config_validate.go's ValidateZones ("cannot validate a
// map[string]foobar, must validate the individual foobars").
func ValidateZones(conf *Config, zones map[string]ZoneConf, cfgfile string) error {
	sections := make(map[string]interface{}, len(zones))
	for name, zc := range zones {
		sections["zone:"+name] = zc
	}
	return ValidateBySection(conf, sections, cfgfile)
}

func ValidateBySection(conf *Config, sections map[string]interface{}, cfgfile string) error {
	validate := validator.New()
	for k, data := range sections {
		log.Printf("%s: validating config section %q\n", strings.ToUpper(conf.App.Name), k)
		if err := validate.Struct(data); err != nil {
			return fmt.Errorf("%s: config %s, section %q: missing required attributes:\n%v",
				strings.ToUpper(conf.App.Name), cfgfile, k, err)
		}
	}
	return nil
}
