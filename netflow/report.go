package netflow

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/sirupsen/logrus"
)

// Reporter turns accumulator snapshots into ranked reports. Speeds are the
// difference against the previous snapshot.
type Reporter struct {
	acc    *Accumulator
	procs  pnet.ProcessInfo
	logger logrus.FieldLogger

	mu      sync.Mutex
	prev    map[int32]pnet.Traffic
	created map[int32]time.Time
	misses  map[int32]int // 连续几轮没找到进程
}

func NewReporter(acc *Accumulator, procs pnet.ProcessInfo, logger logrus.FieldLogger) *Reporter {
	if logger == nil {
		logger = discardLogger()
	}
	return &Reporter{
		acc:     acc,
		procs:   procs,
		logger:  logger,
		created: map[int32]time.Time{},
		misses:  map[int32]int{},
	}
}

// Collect runs one reporting cycle.
func (r *Reporter) Collect(ctx context.Context) pnet.Report {
	snap := r.acc.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		rows    = make([]pnet.Row, 0, len(snap))
		created = make(map[int32]time.Time, len(snap))
	)

	for pid, cur := range snap {
		info, err := r.procs.Lookup(ctx, pid)
		if err != nil {
			if !errors.Is(err, pnet.ErrProcessNotFound) {
				r.logger.WithError(err).WithField("pid", pid).Debug("process lookup failed")
			}
			r.misses[pid]++
			continue
		}
		delete(r.misses, pid)
		created[pid] = info.CreateTime

		prev, ok := r.prev[pid]
		if last, seen := r.created[pid]; ok && seen && !last.Equal(info.CreateTime) {
			// totals keep the previous owner's bytes, speed stays a plain delta
			r.logger.WithFields(logrus.Fields{
				"pid":      pid,
				"name":     info.Name,
				"previous": last,
			}).Warn("pid reused by a new process")
		}

		row := pnet.Row{
			PID:        pid,
			Name:       info.Name,
			CreateTime: info.CreateTime,
			Upload:     cur.Upload,
			Download:   cur.Download,
		}
		row.UploadSpeed = r.delta(pid, pnet.Upload, cur.Upload, prev.Upload, ok)
		row.DownloadSpeed = r.delta(pid, pnet.Download, cur.Download, prev.Download, ok)
		rows = append(rows, row)
	}

	for pid := range r.misses {
		if _, ok := snap[pid]; !ok {
			delete(r.misses, pid)
		}
	}

	r.prev = snap
	r.created = created

	sortRows(rows)
	return pnet.Report{
		At:   time.Now(),
		Rows: rows,
	}
}

func (r *Reporter) delta(pid int32, dir pnet.Direction, cur, prev uint64, hasPrev bool) uint64 {
	if !hasPrev {
		return cur
	}
	if cur < prev {
		r.logger.WithFields(logrus.Fields{
			"pid":       pid,
			"direction": dir.String(),
			"previous":  prev,
			"current":   cur,
		}).Warn("traffic counter went backwards")
		return 0
	}
	return cur - prev
}

// Missing returns pids that were not found for at least n consecutive cycles.
func (r *Reporter) Missing(n int) []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []int32
	for pid, cnt := range r.misses {
		if cnt >= n {
			out = append(out, pid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Forget drops every trace of pid, called after the accumulator evicted it.
func (r *Reporter) Forget(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.misses, pid)
	delete(r.prev, pid)
	delete(r.created, pid)
}

// Run emits a report to every sink each interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, interval time.Duration, sinks ...pnet.Sink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := r.Collect(ctx)
			report.Interval = interval
			for _, sink := range sinks {
				if err := sink.Emit(report); err != nil {
					r.logger.WithError(err).Warn("report sink failed")
				}
			}
		}
	}
}

func sortRows(rows []pnet.Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Download != rows[j].Download {
			return rows[i].Download > rows[j].Download
		}
		return rows[i].PID < rows[j].PID
	})
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
