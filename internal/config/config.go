// Package config holds iotrace's runtime configuration: the CLI flags
// wired through by cmd/iotrace, validated and normalized in one place the
// way pgscv's Config.Validate does for its JSON config file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOutputPrefix = "iotrace"
	defaultRangeDelta   = 1 * time.Second
)

// Config is iotrace's validated runtime configuration.
type Config struct {
	InputPath    string
	OutputPrefix string

	DeviceFilter []string // "major:minor" strings as given on the command line
	ExeFilter    []string

	RangeDelta     time.Duration
	IostatInterval time.Duration

	DumpLevel string // "", "summary", "full"
	LogLevel  string

	devices map[uint32]bool // compiled from DeviceFilter by Validate
	exes    map[string]bool
}

// Validate fills in defaults and compiles the filter lists. It must run
// before a Config is handed to the engine.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input path is required")
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = defaultOutputPrefix
	}
	if c.RangeDelta <= 0 {
		c.RangeDelta = defaultRangeDelta
	}
	switch c.DumpLevel {
	case "", "summary", "full":
	default:
		return fmt.Errorf("invalid dump level %q: want \"\", \"summary\", or \"full\"", c.DumpLevel)
	}

	if len(c.DeviceFilter) > 0 {
		c.devices = make(map[uint32]bool, len(c.DeviceFilter))
		for _, s := range c.DeviceFilter {
			id, err := ParseDevice(s)
			if err != nil {
				return fmt.Errorf("device filter %q: %w", s, err)
			}
			c.devices[id] = true
		}
	}
	if len(c.ExeFilter) > 0 {
		c.exes = make(map[string]bool, len(c.ExeFilter))
		for _, s := range c.ExeFilter {
			c.exes[s] = true
		}
	}
	return nil
}

// Devices returns the compiled device-id filter, or nil for "no filter".
// Validate must have already run.
func (c *Config) Devices() map[uint32]bool { return c.devices }

// Exes returns the compiled executable-name filter, or nil for "no filter".
func (c *Config) Exes() map[string]bool { return c.exes }

// ParseDevice parses a "major:minor" device string into the combined id
// trace.Event.Device carries (major in the top 12 bits, minor in the
// bottom 20, the kernel's dev_t layout).
func ParseDevice(s string) (uint32, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want \"major:minor\"")
	}
	major, err := strconv.ParseUint(parts[0], 10, 12)
	if err != nil {
		return 0, fmt.Errorf("major: %w", err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 20)
	if err != nil {
		return 0, fmt.Errorf("minor: %w", err)
	}
	return uint32(major)<<20 | uint32(minor), nil
}
