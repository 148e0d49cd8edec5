package netflow

import (
	"context"
	"sync"

	pnet "github.com/jinmuyano/procnet"
)

type mappingEntry struct {
	pid      int32
	revision int // refresh generation that last saw the pair
}

// Mapping is the port pair -> pid connection table. Both orderings of each OS
// connection are stored so frames resolve whichever side sent them.
type Mapping struct {
	sync.RWMutex

	dict     map[pnet.PortPair]mappingEntry
	revision int
}

func NewMapping() *Mapping {
	size := 1000
	return &Mapping{
		dict: make(map[pnet.PortPair]mappingEntry, size),
	}
}

// Refresh takes one connection snapshot from src. A failed snapshot leaves the
// table untouched and the error is returned for the caller to log.
func (m *Mapping) Refresh(ctx context.Context, src pnet.ConnectionSource) error {
	conns, err := src.Connections(ctx)
	if err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()

	m.revision++
	for _, conn := range conns {
		if !conn.Valid() {
			continue
		}
		pair := pnet.PortPair{Src: conn.LocalPort, Dst: conn.RemotePort}
		m.dict[pair] = mappingEntry{pid: conn.PID, revision: m.revision}
		m.dict[pair.Reverse()] = mappingEntry{pid: conn.PID, revision: m.revision}
	}
	return nil
}

func (m *Mapping) Lookup(src, dst uint16) (int32, bool) {
	m.RLock()
	defer m.RUnlock()

	ent, ok := m.dict[pnet.PortPair{Src: src, Dst: dst}]
	return ent.pid, ok
}

func (m *Mapping) Len() int {
	m.RLock()
	defer m.RUnlock()

	return len(m.dict)
}

func (m *Mapping) Revision() int {
	m.RLock()
	defer m.RUnlock()

	return m.revision
}

// Sweep drops pairs that no refresh has seen within the last maxAge refreshes.
// maxAge <= 0 disables eviction.
func (m *Mapping) Sweep(maxAge int) int {
	if maxAge <= 0 {
		return 0
	}

	m.Lock()
	defer m.Unlock()

	var n int
	for pair, ent := range m.dict {
		if m.revision-ent.revision < maxAge {
			continue
		}
		delete(m.dict, pair)
		n++
	}
	return n
}
