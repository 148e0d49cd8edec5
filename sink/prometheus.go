package sink

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var processLabels = []string{"pid", "name"}

// Exporter keeps the last report and exposes it as Prometheus metrics on
// scrape. It is both a report sink and a prometheus.Collector.
type Exporter struct {
	mu   sync.RWMutex
	last pnet.Report

	stats func() pnet.Stats

	uploadBytes   *prometheus.Desc
	downloadBytes *prometheus.Desc
	uploadRate    *prometheus.Desc
	downloadRate  *prometheus.Desc
	processes     *prometheus.Desc
	frames        *prometheus.Desc
}

// NewExporter builds the collector, stats may be nil.
func NewExporter(stats func() pnet.Stats) *Exporter {
	return &Exporter{
		stats: stats,
		uploadBytes: prometheus.NewDesc("procnet_process_upload_bytes_total",
			"Bytes uploaded by the process since it was first seen.", processLabels, nil),
		downloadBytes: prometheus.NewDesc("procnet_process_download_bytes_total",
			"Bytes downloaded by the process since it was first seen.", processLabels, nil),
		uploadRate: prometheus.NewDesc("procnet_process_upload_bytes_per_second",
			"Upload speed over the last report interval.", processLabels, nil),
		downloadRate: prometheus.NewDesc("procnet_process_download_bytes_per_second",
			"Download speed over the last report interval.", processLabels, nil),
		processes: prometheus.NewDesc("procnet_report_processes",
			"Number of processes in the last report.", nil, nil),
		frames: prometheus.NewDesc("procnet_frames_total",
			"Captured frames by attribution outcome.", []string{"outcome"}, nil),
	}
}

func (e *Exporter) Emit(r pnet.Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = r
	return nil
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.uploadBytes
	ch <- e.downloadBytes
	ch <- e.uploadRate
	ch <- e.downloadRate
	ch <- e.processes
	ch <- e.frames
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.RLock()
	r := e.last
	e.mu.RUnlock()

	for _, row := range r.Rows {
		labels := []string{strconv.Itoa(int(row.PID)), row.Name}
		ch <- prometheus.MustNewConstMetric(e.uploadBytes, prometheus.CounterValue, float64(row.Upload), labels...)
		ch <- prometheus.MustNewConstMetric(e.downloadBytes, prometheus.CounterValue, float64(row.Download), labels...)
		ch <- prometheus.MustNewConstMetric(e.uploadRate, prometheus.GaugeValue, perSecond(row.UploadSpeed, r.Interval), labels...)
		ch <- prometheus.MustNewConstMetric(e.downloadRate, prometheus.GaugeValue, perSecond(row.DownloadSpeed, r.Interval), labels...)
	}
	ch <- prometheus.MustNewConstMetric(e.processes, prometheus.GaugeValue, float64(len(r.Rows)))

	if e.stats == nil {
		return
	}
	st := e.stats()
	for outcome, n := range map[string]int64{
		"attributed": st.Attributed,
		"unmatched":  st.Unmatched,
		"no_ports":   st.NoPorts,
		"overflow":   st.Overflow,
	} {
		ch <- prometheus.MustNewConstMetric(e.frames, prometheus.CounterValue, float64(n), outcome)
	}
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.WithField("addr", ln.Addr().String()).Info("metrics server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
