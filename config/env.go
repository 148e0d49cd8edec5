package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from PROCNET_<NAME> variables. Empty values are ignored.
func (c *Config) applyEnv(lookup lookupFunc) error {
	setters := map[string]func(string) error{
		"DEVICES": func(v string) error {
			c.Capture.Devices = splitList(v)
			return nil
		},
		"FILTER":     func(v string) error { c.Capture.Filter = v; return nil },
		"STORE_PCAP": func(v string) error { c.Capture.StorePcap = v; return nil },
		"READ_FILE":  func(v string) error { c.Capture.ReadFile = v; return nil },
		"SNAPSHOT_LEN": func(v string) (err error) {
			c.Capture.SnapshotLen, err = cast.ToInt32E(v)
			return
		},
		"PROMISC": func(v string) (err error) {
			c.Capture.Promisc, err = cast.ToBoolE(v)
			return
		},
		"SYNC_INTERVAL": func(v string) (err error) {
			c.Engine.SyncInterval, err = cast.ToDurationE(v)
			return
		},
		"REPORT_INTERVAL": func(v string) (err error) {
			c.Engine.ReportInterval, err = cast.ToDurationE(v)
			return
		},
		"QUEUE_SIZE": func(v string) (err error) {
			c.Engine.QueueSize, err = cast.ToIntE(v)
			return
		},
		"EVICT_AFTER": func(v string) (err error) {
			c.Engine.EvictAfter, err = cast.ToIntE(v)
			return
		},
		"JANITOR_SPEC": func(v string) error { c.Engine.JanitorSpec = v; return nil },
		"LOG_LEVEL":    func(v string) error { c.Log.Level = v; return nil },
		"LOG_FORMAT":   func(v string) error { c.Log.Format = v; return nil },
		"LOG_PATH":     func(v string) error { c.Log.Path = v; return nil },
		"OUTPUT":       func(v string) error { c.Output.Format = v; return nil },
		"LISTEN":       func(v string) error { c.Output.Listen = v; return nil },
		"TOP": func(v string) (err error) {
			c.Output.Top, err = cast.ToIntE(v)
			return
		},
		"CPU": func(v string) (err error) {
			c.Limit.CPU, err = cast.ToFloat64E(v)
			return
		},
		"MEM_MB": func(v string) (err error) {
			c.Limit.MemMB, err = cast.ToIntE(v)
			return
		},
	}

	for name, set := range setters {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := set(v); err != nil {
			return fmt.Errorf("env %s%s: %w", envPrefix, name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
