package netflow

import (
	"sync"
	"sync/atomic"

	pnet "github.com/jinmuyano/procnet"
)

type trafficEntry struct {
	upload   atomic.Uint64
	download atomic.Uint64
}

// Accumulator holds cumulative per-pid upload/download bytes. The map lock is
// only taken exclusively to create or evict an entry; credits are atomic adds.
type Accumulator struct {
	sync.RWMutex

	dict map[int32]*trafficEntry
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		dict: make(map[int32]*trafficEntry, 1000),
	}
}

// Credit adds n bytes while holding the map lock, so an entry evicted
// concurrently never swallows the credit.
func (a *Accumulator) Credit(pid int32, dir pnet.Direction, n uint64) {
	a.RLock()
	ent, ok := a.dict[pid]
	if ok {
		add(ent, dir, n)
		a.RUnlock()
		return
	}
	a.RUnlock()

	a.Lock()
	defer a.Unlock()

	ent, ok = a.dict[pid]
	if !ok {
		ent = new(trafficEntry)
		a.dict[pid] = ent
	}
	add(ent, dir, n)
}

func (a *Accumulator) Get(pid int32) (pnet.Traffic, bool) {
	a.RLock()
	ent, ok := a.dict[pid]
	a.RUnlock()
	if !ok {
		return pnet.Traffic{}, false
	}
	return load(ent), true
}

// Snapshot copies every counter. Each credit touches one field only, so a
// per-pid copy never holds half of a credit.
func (a *Accumulator) Snapshot() map[int32]pnet.Traffic {
	a.RLock()
	defer a.RUnlock()

	out := make(map[int32]pnet.Traffic, len(a.dict))
	for pid, ent := range a.dict {
		out[pid] = load(ent)
	}
	return out
}

func (a *Accumulator) Len() int {
	a.RLock()
	defer a.RUnlock()

	return len(a.dict)
}

// Evict drops pid and returns the totals it held.
func (a *Accumulator) Evict(pid int32) (pnet.Traffic, bool) {
	a.Lock()
	defer a.Unlock()

	ent, ok := a.dict[pid]
	if !ok {
		return pnet.Traffic{}, false
	}
	delete(a.dict, pid)
	return load(ent), true
}

func add(ent *trafficEntry, dir pnet.Direction, n uint64) {
	switch dir {
	case pnet.Upload:
		ent.upload.Add(n)
	case pnet.Download:
		ent.download.Add(n)
	}
}

func load(ent *trafficEntry) pnet.Traffic {
	return pnet.Traffic{
		Upload:   ent.upload.Load(),
		Download: ent.download.Load(),
	}
}
