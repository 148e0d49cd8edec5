package pnet

import (
	"context"
	"errors"
	"net"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrNoInterfaces    = errors.New("no usable network interfaces")
)

type Direction int

const (
	Upload   Direction = iota // 出流量
	Download                  // 入流量
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	}
	return "unknown"
}

// PortPair is one direction of one transport connection.
type PortPair struct {
	Src uint16
	Dst uint16
}

func (p PortPair) Reverse() PortPair {
	return PortPair{Src: p.Dst, Dst: p.Src}
}

// Frame is a parsed captured frame. Ports are only meaningful when HasPorts is set.
type Frame struct {
	Timestamp time.Time
	Length    int
	HasPorts  bool
	SrcPort   uint16
	DstPort   uint16
	SrcMAC    net.HardwareAddr
}

// Connection is one OS-visible socket with its owner.
type Connection struct {
	LocalPort  uint16
	RemotePort uint16
	PID        int32
}

// Valid reports whether the record has a local and a remote endpoint and a known owner.
func (c Connection) Valid() bool {
	return c.LocalPort != 0 && c.RemotePort != 0 && c.PID > 0
}

type Traffic struct {
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

type ProcInfo struct {
	PID        int32
	Name       string
	CreateTime time.Time
}

// Row is one process line of a report. Speeds are bytes per report interval.
type Row struct {
	PID           int32     `json:"pid"`
	Name          string    `json:"name"`
	CreateTime    time.Time `json:"create_time"`
	Upload        uint64    `json:"upload"`
	Download      uint64    `json:"download"`
	UploadSpeed   uint64    `json:"upload_speed"`
	DownloadSpeed uint64    `json:"download_speed"`
}

type Report struct {
	At       time.Time     `json:"at"`
	Interval time.Duration `json:"interval"`
	Rows     []Row         `json:"rows"`
}

type Stats struct {
	Captured   int64 `json:"captured"`   // 抓到的包
	Attributed int64 `json:"attributed"` // 归属到进程的包
	Unmatched  int64 `json:"unmatched"`  // 端口对未知,丢弃
	NoPorts    int64 `json:"no_ports"`   // 没有tcp/udp层
	Overflow   int64 `json:"overflow"`   // 队列满丢弃
}

// Feed delivers captured frames in capture order. The channel is closed when
// the source is exhausted.
type Feed interface {
	Frames() <-chan Frame
}

type ConnectionSource interface {
	Connections(ctx context.Context) ([]Connection, error)
}

// ProcessInfo resolves process metadata, returning ErrProcessNotFound for
// processes that have exited.
type ProcessInfo interface {
	Lookup(ctx context.Context, pid int32) (ProcInfo, error)
}

type Sink interface {
	Emit(r Report) error
}
