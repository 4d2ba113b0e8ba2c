/*
Package config loads and extracts bus configuration.

# Overview

config wraps a map[string]any and provides typed accessor methods that
handle missing keys and type mismatches gracefully by returning default
values. On top of the generic accessors, Parse maps a loaded file onto
the bus's structured Settings: node identity, quota limits, delivery
window bounds, per-channel overrides, and cluster peers.

# Basic Usage

Create a Config from any map and extract values with defaults:

	cfg := config.New(map[string]any{
	    "max_drift": "60s",
	    "node_id":   "node-a",
	})

	drift := cfg.Duration("max_drift", time.Minute) // 60s
	node := cfg.String("node_id", "")               // "node-a"

Or load a file and parse the whole node configuration:

	cfg, err := config.FromFile("bus.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	settings := config.Parse(cfg)

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

Numeric types handle reasonable conversions:
  - int from float64 (only without a fractional part)
  - float64 from int

All accessors return the default value if the key is missing or the
value cannot be converted to the requested type.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
