package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/jinmuyano/procnet/config"
	"github.com/jinmuyano/procnet/sink"
	"github.com/jinmuyano/procnet/sysinfo"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// parseRun runs the flags of the run command through a stub action and
// returns the resulting config.
func parseRun(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var (
		cfg    *config.Config
		cfgErr error
	)
	app := cli.NewApp()
	app.Commands = []cli.Command{{
		Name:  "run",
		Flags: runFlags(),
		Action: func(c *cli.Context) error {
			cfg, cfgErr = loadConfig(c)
			return nil
		},
	}}
	require.NoError(t, app.Run(append([]string{"procnet", "run"}, args...)))
	return cfg, cfgErr
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := parseRun(t)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Engine.ReportInterval)
	assert.Equal(t, 3, cfg.Engine.EvictAfter)
	assert.Equal(t, "table", cfg.Output.Format)
	assert.Empty(t, cfg.Capture.Devices)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := parseRun(t,
		"--device", "eth0", "--device", "cni0",
		"--filter", "not port 22",
		"--report-interval", "5s",
		"--evict-after", "0",
		"--output", "JSON",
		"--top", "5",
		"--listen", ":9102",
		"--cpu", "0.5",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"eth0", "cni0"}, cfg.Capture.Devices)
	assert.Equal(t, "not port 22", cfg.Capture.Filter)
	assert.Equal(t, 5*time.Second, cfg.Engine.ReportInterval)
	assert.Equal(t, 2*time.Second, cfg.Engine.SyncInterval)
	assert.Equal(t, 0, cfg.Engine.EvictAfter)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 5, cfg.Output.Top)
	assert.Equal(t, ":9102", cfg.Output.Listen)
	assert.Equal(t, 0.5, cfg.Limit.CPU)
}

func TestLoadConfigFlagOverridesBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Output:\n    Format: xml\n"), 0o644))

	cfg, err := parseRun(t, "--config", path, "--output", "json")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output.Format)

	_, err = parseRun(t, "--config", path)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestLoadConfigRejectsBadOutput(t *testing.T) {
	_, err := parseRun(t, "--output", "xml")
	assert.Error(t, err)
}

func TestBuildSinks(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var buf bytes.Buffer
	stats := func() pnet.Stats { return pnet.Stats{} }

	sinks, exporter := buildSinks(config.OutputCfg{Format: "table"}, &buf, logger, stats)
	require.Len(t, sinks, 1)
	assert.IsType(t, &sink.Table{}, sinks[0])
	assert.Nil(t, exporter)

	sinks, exporter = buildSinks(config.OutputCfg{Format: "json", Listen: ":0"}, &buf, logger, stats)
	require.Len(t, sinks, 2)
	assert.IsType(t, &sink.JSONLines{}, sinks[0])
	require.NotNil(t, exporter)
	assert.Same(t, exporter, sinks[1])

	sinks, _ = buildSinks(config.OutputCfg{Format: "log"}, &buf, logger, stats)
	emitAll(pnet.Report{Rows: []pnet.Row{{PID: 7, Name: "nginx"}}}, sinks, logger)
	assert.Len(t, hook.AllEntries(), 2)
	assert.Empty(t, buf.String())
}

func TestPrintInterfaces(t *testing.T) {
	var buf bytes.Buffer
	printInterfaces(&buf, []sysinfo.Interface{{
		Name:  "eth0",
		MAC:   net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
		Addrs: []string{"172.17.0.2/16"},
		Up:    true,
	}})

	out := buf.String()
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "02:42:ac:11:00:02")
	assert.Contains(t, out, "172.17.0.2/16")
	assert.Contains(t, out, "1 local interfaces")
}

func TestAppCommands(t *testing.T) {
	app := newApp()
	assert.NotNil(t, app.Command("run"))
	assert.NotNil(t, app.Command("interfaces"))
}
