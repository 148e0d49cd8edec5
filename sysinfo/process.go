package sysinfo

import (
	"context"
	"errors"
	"strings"
	"time"

	pnet "github.com/jinmuyano/procnet"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// Processes resolves pid metadata through gopsutil.
type Processes struct {
	bootTime time.Time
}

func NewProcesses(ctx context.Context) *Processes {
	p := &Processes{}
	if bt, err := host.BootTimeWithContext(ctx); err == nil {
		p.bootTime = time.Unix(int64(bt), 0)
	}
	return p
}

func (p *Processes) Lookup(ctx context.Context, pid int32) (pnet.ProcInfo, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return pnet.ProcInfo{}, pnet.ErrProcessNotFound
		}
		return pnet.ProcInfo{}, err
	}

	name, err := proc.NameWithContext(ctx)
	if err != nil {
		if exists, _ := proc.IsRunningWithContext(ctx); !exists {
			return pnet.ProcInfo{}, pnet.ErrProcessNotFound
		}
		name = getProcessName(proc.ExeWithContext(ctx))
	}

	info := pnet.ProcInfo{
		PID:        pid,
		Name:       name,
		CreateTime: p.bootTime, // 系统进程拿不到启动时间,用开机时间
	}
	if ms, err := proc.CreateTimeWithContext(ctx); err == nil {
		info.CreateTime = time.UnixMilli(ms)
	}
	return info, nil
}

// getProcessName falls back to the last element of the executable path.
func getProcessName(exe string, err error) string {
	if err != nil || len(exe) == 0 {
		return "?"
	}
	n := strings.Split(exe, "/")
	return n[len(n)-1]
}
