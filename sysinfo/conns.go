package sysinfo

import (
	"context"
	"fmt"

	pnet "github.com/jinmuyano/procnet"
	"github.com/shirou/gopsutil/v3/net"
)

// Netstat lists inet sockets through gopsutil, the equivalent of `netstat -anp`.
type Netstat struct {
	Kind string // gopsutil connection kind, "inet" when empty
	list func(ctx context.Context, kind string) ([]net.ConnectionStat, error)
}

func NewNetstat() *Netstat {
	return &Netstat{
		Kind: "inet",
		list: net.ConnectionsWithContext,
	}
}

func (n *Netstat) Connections(ctx context.Context) ([]pnet.Connection, error) {
	kind := n.Kind
	if len(kind) == 0 {
		kind = "inet"
	}

	stats, err := n.list(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s connections: %w", kind, err)
	}

	conns := make([]pnet.Connection, 0, len(stats))
	for _, st := range stats {
		conns = append(conns, toConnection(st))
	}
	return conns, nil
}

// toConnection keeps incomplete records, the table skips them.
func toConnection(st net.ConnectionStat) pnet.Connection {
	conn := pnet.Connection{
		PID: st.Pid,
	}
	if st.Laddr.Port <= 0xffff {
		conn.LocalPort = uint16(st.Laddr.Port)
	}
	if st.Raddr.Port <= 0xffff && len(st.Raddr.IP) > 0 {
		conn.RemotePort = uint16(st.Raddr.Port)
	}
	return conn
}
