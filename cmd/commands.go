package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jinmuyano/procnet/config"
	"github.com/jinmuyano/procnet/sysinfo"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

func commands() []cli.Command {
	return []cli.Command{
		{
			Name:   "run",
			Usage:  "capture traffic and report it per process",
			Flags:  runFlags(),
			Action: runAction,
		},
		{
			Name:  "interfaces",
			Usage: "list the interfaces whose hardware address counts as local",
			Action: func(c *cli.Context) error {
				ifaces, err := sysinfo.Interfaces()
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				printInterfaces(c.App.Writer, ifaces)
				return nil
			},
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load `FILE` before flags and PROCNET_* variables",
		},
		cli.StringSliceFlag{
			Name:  "device, i",
			Usage: "capture on `DEVICE`, repeatable, all devices when unset",
		},
		cli.StringFlag{
			Name:  "filter, f",
			Usage: "extra pcap `FILTER` joined to the default one with and",
		},
		cli.StringFlag{
			Name:  "read, r",
			Usage: "replay a pcap `FILE` instead of live capture",
		},
		cli.StringFlag{
			Name:  "store-pcap",
			Usage: "dump captured packets into `FILE`",
		},
		cli.BoolFlag{
			Name:  "promisc",
			Usage: "put devices into promiscuous mode",
		},
		cli.DurationFlag{
			Name:  "sync-interval",
			Usage: "connection table refresh period",
		},
		cli.DurationFlag{
			Name:  "report-interval",
			Usage: "report period",
		},
		cli.IntFlag{
			Name:  "evict-after",
			Usage: "report cycles an exited process is kept for, 0 keeps it forever",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "report format: table, log or json",
		},
		cli.IntFlag{
			Name:  "top, n",
			Usage: "only show the top `N` processes in the table",
		},
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "serve Prometheus metrics on `ADDR`",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		cli.Float64Flag{
			Name:  "cpu",
			Usage: "cgroup cpu limit in cores",
		},
		cli.IntFlag{
			Name:  "mem",
			Usage: "cgroup memory limit in MB",
		},
	}
}

// loadConfig layers file, environment and then the flags that were set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if devs := c.StringSlice("device"); len(devs) > 0 {
		cfg.Capture.Devices = devs
	}
	if c.IsSet("filter") {
		cfg.Capture.Filter = c.String("filter")
	}
	if c.IsSet("read") {
		cfg.Capture.ReadFile = c.String("read")
	}
	if c.IsSet("store-pcap") {
		cfg.Capture.StorePcap = c.String("store-pcap")
	}
	if c.IsSet("promisc") {
		cfg.Capture.Promisc = c.Bool("promisc")
	}
	if c.IsSet("sync-interval") {
		cfg.Engine.SyncInterval = c.Duration("sync-interval")
	}
	if c.IsSet("report-interval") {
		cfg.Engine.ReportInterval = c.Duration("report-interval")
	}
	if c.IsSet("evict-after") {
		cfg.Engine.EvictAfter = c.Int("evict-after")
	}
	if c.IsSet("output") {
		cfg.Output.Format = strings.ToLower(c.String("output"))
	}
	if c.IsSet("top") {
		cfg.Output.Top = c.Int("top")
	}
	if c.IsSet("listen") {
		cfg.Output.Listen = c.String("listen")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("cpu") {
		cfg.Limit.CPU = c.Float64("cpu")
	}
	if c.IsSet("mem") {
		cfg.Limit.MemMB = c.Int("mem")
	}

	return cfg, cfg.Validate()
}

func printInterfaces(out io.Writer, ifaces []sysinfo.Interface) {
	if out == nil {
		out = os.Stdout
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Name", "MAC", "Up", "Addresses"})
	table.SetAutoFormatHeaders(false)
	for _, iface := range ifaces {
		table.Append([]string{
			iface.Name,
			iface.MAC.String(),
			strconv.FormatBool(iface.Up),
			strings.Join(iface.Addrs, " "),
		})
	}
	table.Render()
	fmt.Fprintf(out, "%d local interfaces\n", len(ifaces))
}
