package netflow

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	pnet "github.com/jinmuyano/procnet"
)

var (
	localMAC  = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}
	remoteMAC = net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
)

type fakeConns struct {
	sync.Mutex
	conns []pnet.Connection
	err   error
	calls int
}

func (f *fakeConns) Connections(ctx context.Context) ([]pnet.Connection, error) {
	f.Lock()
	defer f.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]pnet.Connection, len(f.conns))
	copy(out, f.conns)
	return out, nil
}

func (f *fakeConns) set(conns []pnet.Connection, err error) {
	f.Lock()
	defer f.Unlock()

	f.conns = conns
	f.err = err
}

type fakeProcs struct {
	sync.Mutex
	dict map[int32]pnet.ProcInfo
}

func newFakeProcs(infos ...pnet.ProcInfo) *fakeProcs {
	f := &fakeProcs{dict: map[int32]pnet.ProcInfo{}}
	for _, info := range infos {
		f.dict[info.PID] = info
	}
	return f
}

func (f *fakeProcs) Lookup(ctx context.Context, pid int32) (pnet.ProcInfo, error) {
	f.Lock()
	defer f.Unlock()

	info, ok := f.dict[pid]
	if !ok {
		return pnet.ProcInfo{}, pnet.ErrProcessNotFound
	}
	return info, nil
}

func (f *fakeProcs) kill(pid int32) {
	f.Lock()
	defer f.Unlock()

	delete(f.dict, pid)
}

func (f *fakeProcs) put(info pnet.ProcInfo) {
	f.Lock()
	defer f.Unlock()

	f.dict[info.PID] = info
}

type chanFeed chan pnet.Frame

func (c chanFeed) Frames() <-chan pnet.Frame { return c }

type recordSink struct {
	sync.Mutex
	reports []pnet.Report
	err     error
}

func (s *recordSink) Emit(r pnet.Report) error {
	s.Lock()
	defer s.Unlock()

	s.reports = append(s.reports, r)
	return s.err
}

func (s *recordSink) count() int {
	s.Lock()
	defer s.Unlock()

	return len(s.reports)
}

var errRace = errors.New("dictionary changed size during iteration")

func proc(pid int32, name string) pnet.ProcInfo {
	return pnet.ProcInfo{
		PID:        pid,
		Name:       name,
		CreateTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func frame(sport, dport uint16, src net.HardwareAddr, length int) pnet.Frame {
	return pnet.Frame{
		Timestamp: time.Now(),
		Length:    length,
		HasPorts:  true,
		SrcPort:   sport,
		DstPort:   dport,
		SrcMAC:    src,
	}
}

func snapshotOf(m *Mapping) map[pnet.PortPair]int32 {
	m.RLock()
	defer m.RUnlock()

	out := make(map[pnet.PortPair]int32, len(m.dict))
	for k, v := range m.dict {
		out[k] = v.pid
	}
	return out
}
