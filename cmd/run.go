package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	pnet "github.com/jinmuyano/procnet"
	"github.com/jinmuyano/procnet/capture"
	"github.com/jinmuyano/procnet/config"
	"github.com/jinmuyano/procnet/logging"
	"github.com/jinmuyano/procnet/netflow"
	"github.com/jinmuyano/procnet/sink"
	"github.com/jinmuyano/procnet/sysinfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if err := capture.ValidateFilter(cfg.Capture.Filter); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	base, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	logger := logging.WithRun(base)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMonitor(ctx, cfg, c.App.Writer, logger); err != nil {
		logger.WithError(err).Error("monitor failed")
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func runMonitor(ctx context.Context, cfg *config.Config, out io.Writer, logger logrus.FieldLogger) error {
	localMACs, err := sysinfo.LocalMACs()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed, err := openFeed(ctx, cfg.Capture, logger)
	if err != nil {
		return err
	}

	var nf *netflow.Netflow
	stats := func() pnet.Stats { return nf.Stats() }

	sinks, exporter := buildSinks(cfg.Output, out, logger, stats)
	nf, err = netflow.NewNetflow(feed, sysinfo.NewNetstat(), sysinfo.NewProcesses(ctx), localMACs,
		netflow.WithLogger(logger),
		netflow.WithSyncInterval(cfg.Engine.SyncInterval),
		netflow.WithReportInterval(cfg.Engine.ReportInterval),
		netflow.WithQueueSize(cfg.Engine.QueueSize),
		netflow.WithEvictAfter(cfg.Engine.EvictAfter),
		netflow.WithJanitorSpec(cfg.Engine.JanitorSpec),
		netflow.WithLimitCgroup(cfg.Limit.CPU, cfg.Limit.MemMB),
		netflow.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}

	wg, gctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		defer cancel()
		return nf.Run(gctx)
	})
	if exporter != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(exporter)
		wg.Go(func() error {
			return sink.Serve(gctx, cfg.Output.Listen, reg, logger)
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}

	// a replayed file usually ends before the first tick
	report := nf.Reporter().Collect(context.Background())
	report.Interval = cfg.Engine.ReportInterval
	emitAll(report, sinks, logger)

	st := nf.Stats()
	logger.WithFields(logrus.Fields{
		"captured":   st.Captured,
		"attributed": st.Attributed,
		"unmatched":  st.Unmatched,
		"no_ports":   st.NoPorts,
		"overflow":   st.Overflow,
	}).Info("monitor stopped")
	return nil
}

func openFeed(ctx context.Context, cfg config.CaptureCfg, logger logrus.FieldLogger) (pnet.Feed, error) {
	if cfg.ReadFile != "" {
		return capture.OpenFile(ctx, cfg.ReadFile, logger)
	}
	return capture.Open(ctx, capture.Config{
		Devices:     cfg.Devices,
		Filter:      cfg.Filter,
		SnapshotLen: cfg.SnapshotLen,
		Promisc:     cfg.Promisc,
		StorePcap:   cfg.StorePcap,
	}, logger)
}

// buildSinks returns the report sinks for cfg, and the Prometheus exporter
// when a listen address is configured. The exporter is one of the sinks.
func buildSinks(cfg config.OutputCfg, out io.Writer, logger logrus.FieldLogger, stats func() pnet.Stats) ([]pnet.Sink, *sink.Exporter) {
	var sinks []pnet.Sink
	switch cfg.Format {
	case "log":
		sinks = append(sinks, sink.NewLog(logger))
	case "json":
		sinks = append(sinks, sink.NewJSONLines(out))
	default:
		sinks = append(sinks, sink.NewTable(out, cfg.Top))
	}

	if cfg.Listen == "" {
		return sinks, nil
	}
	exporter := sink.NewExporter(stats)
	return append(sinks, exporter), exporter
}

func emitAll(report pnet.Report, sinks []pnet.Sink, logger logrus.FieldLogger) {
	for _, s := range sinks {
		if err := s.Emit(report); err != nil {
			logger.WithError(err).Warn("emit report failed")
		}
	}
}
