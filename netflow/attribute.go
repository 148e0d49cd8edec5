package netflow

import (
	"net"
	"sync/atomic"

	pnet "github.com/jinmuyano/procnet"
)

type nullObject = struct{}

// Attributor credits captured frames to the process that owns their port pair.
type Attributor struct {
	table *Mapping
	acc   *Accumulator

	localMACs map[string]nullObject // read only

	attributed int64
	unmatched  int64
	noPorts    int64
}

func NewAttributor(table *Mapping, acc *Accumulator, localMACs []net.HardwareAddr) *Attributor {
	mm := make(map[string]nullObject, len(localMACs))
	for _, mac := range localMACs {
		if len(mac) == 0 {
			continue
		}
		mm[macKey(mac)] = nullObject{}
	}

	return &Attributor{
		table:     table,
		acc:       acc,
		localMACs: mm,
	}
}

// Attribute reports whether the frame was credited to a process.
func (at *Attributor) Attribute(frame pnet.Frame) bool {
	if !frame.HasPorts {
		atomic.AddInt64(&at.noPorts, 1)
		return false
	}

	pid, ok := at.table.Lookup(frame.SrcPort, frame.DstPort)
	if !ok {
		atomic.AddInt64(&at.unmatched, 1)
		return false
	}

	side := pnet.Download
	if at.isLocal(frame.SrcMAC) { // 源mac是本机网卡,出流量
		side = pnet.Upload
	}

	at.acc.Credit(pid, side, uint64(frame.Length))
	atomic.AddInt64(&at.attributed, 1)
	return true
}

func (at *Attributor) isLocal(mac net.HardwareAddr) bool {
	if len(mac) == 0 {
		return false
	}
	_, ok := at.localMACs[macKey(mac)]
	return ok
}

func macKey(mac net.HardwareAddr) string {
	return mac.String()
}
