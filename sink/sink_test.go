package sink

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() pnet.Report {
	created := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	return pnet.Report{
		At:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local),
		Interval: 2 * time.Second,
		Rows: []pnet.Row{
			{PID: 100, Name: "curl", CreateTime: created, Upload: 150, Download: 3072, UploadSpeed: 150, DownloadSpeed: 2048},
			{PID: 200, Name: "sshd", CreateTime: created, Upload: 10, Download: 20},
		},
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "150.00B", FormatSize(150))
	assert.Equal(t, "1.50KB", FormatSize(1536))
	assert.Equal(t, "2.00MB", FormatSize(2*1024*1024))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "1.00KB/s", FormatRate(2048, 2*time.Second))
	assert.Equal(t, "300.00B/s", FormatRate(300, 0))
}

func TestTableEmit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTable(&buf, 0).Emit(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "processes: 2")
	for _, h := range tableHeader {
		assert.Contains(t, out, h)
	}
	assert.Contains(t, out, "curl")
	assert.Contains(t, out, "3.00KB")
	assert.Contains(t, out, "1.00KB/s")
	assert.Contains(t, out, "sshd")
}

func TestTableLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTable(&buf, 1).Emit(sampleReport()))

	assert.Contains(t, buf.String(), "curl")
	assert.NotContains(t, buf.String(), "sshd")
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf)
	require.NoError(t, s.Emit(sampleReport()))
	require.NoError(t, s.Emit(pnet.Report{}))

	sc := bufio.NewScanner(&buf)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)

	var got pnet.Report
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Len(t, got.Rows, 2)
	assert.Equal(t, int32(100), got.Rows[0].PID)
	assert.Equal(t, uint64(3072), got.Rows[0].Download)
	assert.Equal(t, 2*time.Second, got.Interval)
	assert.Contains(t, lines[0], `"download_speed":2048`)
}

func TestLogEmit(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, NewLog(logger).Emit(sampleReport()))

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "traffic report", entries[0].Message)
	assert.Equal(t, 2, entries[0].Data["processes"])
	assert.Equal(t, "process traffic", entries[1].Message)
	assert.Equal(t, int32(100), entries[1].Data["pid"])
	assert.Equal(t, "150.00B", entries[1].Data["upload"])
	assert.Equal(t, logrus.InfoLevel, entries[2].Level)
}

func TestExporterCollect(t *testing.T) {
	e := NewExporter(func() pnet.Stats {
		return pnet.Stats{Captured: 10, Attributed: 7, Unmatched: 2, NoPorts: 1}
	})
	require.NoError(t, e.Emit(sampleReport()))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(e))

	expected := `
# HELP procnet_process_download_bytes_total Bytes downloaded by the process since it was first seen.
# TYPE procnet_process_download_bytes_total counter
procnet_process_download_bytes_total{name="curl",pid="100"} 3072
procnet_process_download_bytes_total{name="sshd",pid="200"} 20
# HELP procnet_process_download_bytes_per_second Download speed over the last report interval.
# TYPE procnet_process_download_bytes_per_second gauge
procnet_process_download_bytes_per_second{name="curl",pid="100"} 1024
procnet_process_download_bytes_per_second{name="sshd",pid="200"} 0
# HELP procnet_frames_total Captured frames by attribution outcome.
# TYPE procnet_frames_total counter
procnet_frames_total{outcome="attributed"} 7
procnet_frames_total{outcome="no_ports"} 1
procnet_frames_total{outcome="overflow"} 0
procnet_frames_total{outcome="unmatched"} 2
# HELP procnet_report_processes Number of processes in the last report.
# TYPE procnet_report_processes gauge
procnet_report_processes 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"procnet_process_download_bytes_total",
		"procnet_process_download_bytes_per_second",
		"procnet_frames_total",
		"procnet_report_processes",
	)
	assert.NoError(t, err)
}

func TestExporterWithoutStats(t *testing.T) {
	e := NewExporter(nil)
	require.NoError(t, e.Emit(pnet.Report{Rows: sampleReport().Rows[:1]}))
	assert.Equal(t, 5, testutil.CollectAndCount(e))
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(nil)
	require.NoError(t, e.Emit(sampleReport()))
	reg.MustRegister(e)

	addr := freeAddr(t)
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, logger) }()

	var body string
	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var b bytes.Buffer
		if _, err := b.ReadFrom(resp.Body); err != nil {
			return false
		}
		body = b.String()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, `procnet_process_upload_bytes_total{name="curl",pid="100"} 150`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
