package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

const envPrefix = "PROCNET_"

var (
	outputFormats = map[string]bool{"table": true, "log": true, "json": true}
	logFormats    = map[string]bool{"text": true, "json": true}
)

type (
	//Config holds the configuration for one monitor run
	Config struct {
		Capture CaptureCfg `yaml:"Capture"`
		Engine  EngineCfg  `yaml:"Engine"`
		Log     LogCfg     `yaml:"Log"`
		Output  OutputCfg  `yaml:"Output"`
		Limit   LimitCfg   `yaml:"Limit"`
	}

	//CaptureCfg selects where frames come from
	CaptureCfg struct {
		Devices     []string `yaml:"Devices"`
		Filter      string   `yaml:"Filter"`
		SnapshotLen int32    `yaml:"SnapshotLen" default:"65536"`
		Promisc     bool     `yaml:"Promisc"`
		StorePcap   string   `yaml:"StorePcap"`
		ReadFile    string   `yaml:"ReadFile"`
	}

	//EngineCfg tunes the attribution engine
	EngineCfg struct {
		SyncInterval   time.Duration `yaml:"SyncInterval" default:"2s"`
		ReportInterval time.Duration `yaml:"ReportInterval" default:"2s"`
		QueueSize      int           `yaml:"QueueSize" default:"100000"`
		EvictAfter     int           `yaml:"EvictAfter" default:"3"`
		JanitorSpec    string        `yaml:"JanitorSpec" default:"@every 30s"`
	}

	//LogCfg contains the configuration for logging
	LogCfg struct {
		Level  string `yaml:"Level" default:"info"`
		Format string `yaml:"Format" default:"text"`
		Path   string `yaml:"Path"`
	}

	//OutputCfg controls where reports go
	OutputCfg struct {
		Format string `yaml:"Format" default:"table"`
		Top    int    `yaml:"Top"`
		Listen string `yaml:"Listen"`
	}

	//LimitCfg puts the monitor into a cgroup, zero values disable it
	LimitCfg struct {
		CPU   float64 `yaml:"CPU"`
		MemMB int     `yaml:"MemMB"`
	}
)

// Default returns a config filled from the default tags only.
func Default() (*Config, error) {
	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads cfgPath on top of the defaults, then applies PROCNET_*
// environment overrides. An empty cfgPath skips the file. The result is not
// validated, callers layer their own overrides first and then call Validate.
func Load(cfgPath string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the engine would otherwise reject late.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync interval must be positive"))
	}
	if c.Engine.ReportInterval <= 0 {
		errs = append(errs, errors.New("report interval must be positive"))
	}
	if c.Engine.QueueSize < 0 {
		errs = append(errs, errors.New("queue size must not be negative"))
	}
	if c.Engine.EvictAfter < 0 {
		errs = append(errs, errors.New("evict after must not be negative"))
	}
	if c.Engine.JanitorSpec != "" {
		if _, err := cron.Parse(c.Engine.JanitorSpec); err != nil {
			errs = append(errs, fmt.Errorf("janitor spec %q: %w", c.Engine.JanitorSpec, err))
		}
	}
	if c.Capture.SnapshotLen <= 0 {
		errs = append(errs, errors.New("snapshot length must be positive"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !logFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if !outputFormats[strings.ToLower(c.Output.Format)] {
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output.Format))
	}
	if c.Output.Top < 0 {
		errs = append(errs, errors.New("top must not be negative"))
	}
	if c.Limit.CPU < 0 || c.Limit.MemMB < 0 {
		errs = append(errs, errors.New("cgroup limits must not be negative"))
	}

	return errors.Join(errs...)
}
