package netflow

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize      = 100000
	defaultSyncInterval   = time.Duration(2 * time.Second)
	defaultReportInterval = time.Duration(2 * time.Second)
	defaultEvictAfter     = 3
	defaultJanitorSpec    = "@every 30s"
)

// Netflow owns the connection table and the accumulator and runs the capture,
// attribution, table refresh and report loops against them.
type Netflow struct {
	feed  pnet.Feed
	conns pnet.ConnectionSource
	procs pnet.ProcessInfo

	table      *Mapping
	acc        *Accumulator
	attributor *Attributor
	reporter   *Reporter

	qsize       int
	packetQueue chan pnet.Frame // 抓包存放队列

	syncInterval   time.Duration
	reportInterval time.Duration
	sinks          []pnet.Sink

	evictAfter  int
	janitorSpec string
	listPids    func() (map[int32]bool, error)

	// for cgroup
	cpuCore float64
	memMB   int

	logger logrus.FieldLogger

	captured int64
	overflow int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	exitFunc []func()
}

type optionFunc func(*Netflow) error

func WithSyncInterval(dur time.Duration) optionFunc {
	return func(o *Netflow) error {
		if dur <= 0 {
			return errors.New("invalid sync interval")
		}

		o.syncInterval = dur
		return nil
	}
}

func WithReportInterval(dur time.Duration) optionFunc {
	return func(o *Netflow) error {
		if dur <= 0 {
			return errors.New("invalid report interval")
		}

		o.reportInterval = dur
		return nil
	}
}

func WithQueueSize(size int) optionFunc {
	if size < 1000 {
		size = defaultQueueSize
	}

	return func(o *Netflow) error {
		o.qsize = size
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) optionFunc {
	return func(o *Netflow) error {
		if logger == nil {
			return errors.New("invalid logger")
		}

		o.logger = logger
		return nil
	}
}

func WithSinks(sinks ...pnet.Sink) optionFunc {
	return func(o *Netflow) error {
		o.sinks = append(o.sinks, sinks...)
		return nil
	}
}

// WithEvictAfter sets how many consecutive report cycles a vanished pid is kept
// for. 0 never evicts.
func WithEvictAfter(cycles int) optionFunc {
	return func(o *Netflow) error {
		if cycles < 0 {
			return errors.New("invalid evict cycles")
		}

		o.evictAfter = cycles
		return nil
	}
}

// WithJanitorSpec sets the cron spec of the eviction sweep, e.g. "@every 30s".
func WithJanitorSpec(spec string) optionFunc {
	return func(o *Netflow) error {
		if len(spec) == 0 {
			return nil
		}
		if _, err := cron.Parse(spec); err != nil {
			return err
		}

		o.janitorSpec = spec
		return nil
	}
}

// WithLimitCgroup use cgroup to limit cpu and mem, param cpu's unit is cpu core num , mem's unit is MB
func WithLimitCgroup(cpu float64, mem int) optionFunc {
	return func(o *Netflow) error {
		if cpu < 0 || mem < 0 {
			return errors.New("invalid cgroup limit")
		}

		o.cpuCore = cpu
		o.memMB = mem
		return nil
	}
}

func NewNetflow(feed pnet.Feed, conns pnet.ConnectionSource, procs pnet.ProcessInfo, localMACs []net.HardwareAddr, opts ...optionFunc) (*Netflow, error) {
	if len(localMACs) == 0 {
		return nil, pnet.ErrNoInterfaces
	}

	nf := &Netflow{
		feed:           feed,
		conns:          conns,
		procs:          procs,
		qsize:          defaultQueueSize,
		syncInterval:   defaultSyncInterval,
		reportInterval: defaultReportInterval,
		evictAfter:     defaultEvictAfter,
		janitorSpec:    defaultJanitorSpec,
		listPids:       livePids,
		logger:         discardLogger(),
	}

	for _, opt := range opts {
		err := opt(nf)
		if err != nil {
			return nil, err
		}
	}

	nf.packetQueue = make(chan pnet.Frame, nf.qsize)
	nf.table = NewMapping()
	nf.acc = NewAccumulator()
	nf.attributor = NewAttributor(nf.table, nf.acc, localMACs)
	nf.reporter = NewReporter(nf.acc, nf.procs, nf.logger)

	return nf, nil
}

func (nf *Netflow) Table() *Mapping           { return nf.table }
func (nf *Netflow) Accumulator() *Accumulator { return nf.acc }
func (nf *Netflow) Reporter() *Reporter       { return nf.reporter }

func (nf *Netflow) Stats() pnet.Stats {
	return pnet.Stats{
		Captured:   atomic.LoadInt64(&nf.captured),
		Attributed: atomic.LoadInt64(&nf.attributor.attributed),
		Unmatched:  atomic.LoadInt64(&nf.attributor.unmatched),
		NoPorts:    atomic.LoadInt64(&nf.attributor.noPorts),
		Overflow:   atomic.LoadInt64(&nf.overflow),
	}
}

// Run blocks until the capture feed is exhausted or ctx is done, then waits
// for every loop to return. Refresh and report loops may take up to one
// interval to notice. A Netflow runs once.
func (nf *Netflow) Run(ctx context.Context) error {
	if err := nf.configureCgroups(); err != nil {
		return err
	}
	defer nf.finalize()

	ctx, cancel := context.WithCancel(ctx)
	nf.mu.Lock()
	nf.cancel = cancel
	nf.mu.Unlock()
	defer cancel()

	// first run at the beginning, so early frames have a table to hit
	nf.rescanConns(ctx)

	if nf.evictAfter > 0 {
		c := cron.New()
		if err := c.AddFunc(nf.janitorSpec, nf.sweep); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	wg, gctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		nf.captureLoop(gctx, cancel)
		return nil
	})
	wg.Go(func() error {
		nf.loopHandlePacket()
		return nil
	})
	wg.Go(func() error {
		nf.startResourceSyncer(gctx)
		return nil
	})
	wg.Go(func() error {
		nf.reporter.Run(gctx, nf.reportInterval, nf.sinks...)
		return nil
	})

	return wg.Wait()
}

func (nf *Netflow) Stop() {
	nf.mu.Lock()
	defer nf.mu.Unlock()

	if nf.cancel != nil {
		nf.cancel()
	}
}

func (nf *Netflow) finalize() {
	for _, fn := range nf.exitFunc {
		fn()
	}
	nf.exitFunc = nil
}

// captureLoop moves frames from the feed into the queue. It owns the queue and
// closes it on exit so the worker drains what is left.
func (nf *Netflow) captureLoop(ctx context.Context, shutdown context.CancelFunc) {
	defer close(nf.packetQueue)

	frames := nf.feed.Frames()
	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				nf.logger.Info("capture feed closed, shutting down")
				shutdown()
				return
			}
			nf.enqueue(frame)
		}
	}
}

func (nf *Netflow) enqueue(frame pnet.Frame) {
	atomic.AddInt64(&nf.captured, 1)

	select {
	case nf.packetQueue <- frame:
	default:
		// best effort, drop when the worker falls behind
		if atomic.AddInt64(&nf.overflow, 1)%1000 == 1 {
			nf.logger.WithField("size", nf.qsize).Warn("queue overflow")
		}
	}
}

func (nf *Netflow) loopHandlePacket() {
	for frame := range nf.packetQueue {
		nf.attributor.Attribute(frame)
	}
}

func (nf *Netflow) startResourceSyncer(ctx context.Context) {
	ticker := time.NewTicker(nf.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nf.rescanConns(ctx)
		}
	}
}

// rescanConns never retries on failure, the next tick will.
func (nf *Netflow) rescanConns(ctx context.Context) {
	if err := nf.table.Refresh(ctx, nf.conns); err != nil {
		nf.logger.WithError(err).Debug("connection snapshot failed, skipping cycle")
	}
}

// sweep evicts pids that vanished for evictAfter report cycles and are not in
// the live process list any more, then ages out stale table entries.
func (nf *Netflow) sweep() {
	live, err := nf.listPids()
	if err != nil {
		nf.logger.WithError(err).Warn("list processes failed, skipping sweep")
		return
	}

	var evicted int
	for _, pid := range nf.reporter.Missing(nf.evictAfter) {
		if live[pid] {
			continue
		}
		nf.acc.Evict(pid)
		nf.reporter.Forget(pid)
		evicted++
	}

	swept := nf.table.Sweep(nf.evictAfter)
	if evicted > 0 || swept > 0 {
		nf.logger.WithFields(logrus.Fields{
			"pids":  evicted,
			"pairs": swept,
		}).Debug("evicted stale entries")
	}
}

func (nf *Netflow) configureCgroups() error {
	if nf.cpuCore == 0 && nf.memMB == 0 {
		return nil
	}

	cg := cgroupsLimiter{}
	pid := os.Getpid()

	err := cg.configure(pid, nf.cpuCore, nf.memMB)
	if err != nil {
		return err
	}
	nf.exitFunc = append(nf.exitFunc, func() {
		cg.free()
	})
	return nil
}
