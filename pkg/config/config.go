// Package config reads the adapter configuration file named by the
// UADK_CONF environment variable.
//
// The file is line oriented "key=value" text:
//
//	mode=0
//	driver_name=hisi_zip
//	driver_name=deflate_sw
//
// Unknown keys, blank lines, "#" comments and malformed lines are
// ignored. A missing or unreadable file is not an error: the caller falls
// back to scanning the driver registry.
package config

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// EnvFile names the configuration file.
	EnvFile = "UADK_CONF"

	KeyMode       = "mode"
	KeyDriverName = "driver_name"
)

// Adapter holds the parsed adapter configuration.
type Adapter struct {
	// Mode is the integer selection mode; 0 when absent.
	Mode int
	// Drivers lists driver names in file order.
	Drivers []string
	// Source is the file the configuration came from.
	Source string
}

// Load reads the file named by UADK_CONF. It returns nil when the variable
// is unset or the file cannot be read.
func Load() *Adapter {
	path := os.Getenv(EnvFile)
	if path == "" {
		return nil
	}
	return LoadFile(path)
}

// LoadFile reads path, returning nil if it cannot be opened.
func LoadFile(path string) *Adapter {
	f, err := os.Open(path)
	if err != nil {
		log.Debugf("config: ignoring %s: %v", path, err)
		return nil
	}
	defer f.Close()

	cfg := Parse(f)
	cfg.Source = path
	return cfg
}

// Parse reads key=value lines from r. The first valid mode line wins;
// every driver_name line is kept.
func Parse(r io.Reader) *Adapter {
	cfg := &Adapter{}
	modeSet := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			log.Debugf("config: skipping malformed line %q", line)
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case KeyMode:
			if modeSet {
				continue
			}
			m, err := strconv.Atoi(value)
			if err != nil {
				log.Warnf("config: invalid mode %q: %v", value, err)
				continue
			}
			cfg.Mode, modeSet = m, true
		case KeyDriverName:
			if value != "" {
				cfg.Drivers = append(cfg.Drivers, value)
			}
		default:
			log.Debugf("config: ignoring unknown key %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		log.Warnf("config: read stopped early: %v", err)
	}
	return cfg
}
