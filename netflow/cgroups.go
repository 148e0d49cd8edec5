package netflow

import (
	"errors"
	"fmt"

	"github.com/containerd/cgroups"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pbnjay/memory"
)

const (
	cgroupPath  = "/procnet"
	cpuPeriodUs = uint64(100000)
)

var errCgroupV2 = errors.New("cgroup v2 unified hierarchy is not supported")

type cgroupsLimiter struct {
	control cgroups.Cgroup
}

// configure moves pid into a dedicated cgroup, cpu is in cores and mem in MB.
func (cg *cgroupsLimiter) configure(pid int, cpu float64, mem int) error {
	if cgroups.Mode() == cgroups.Unified {
		return errCgroupV2
	}

	res := &specs.LinuxResources{}
	if cpu > 0 {
		var (
			period = cpuPeriodUs
			quota  = int64(cpu * float64(cpuPeriodUs))
		)
		res.CPU = &specs.LinuxCPU{
			Period: &period,
			Quota:  &quota,
		}
	}
	if mem > 0 {
		limit := clampMemory(int64(mem) * 1024 * 1024)
		res.Memory = &specs.LinuxMemory{
			Limit: &limit,
		}
	}

	control, err := cgroups.New(cgroups.V1, cgroups.StaticPath(cgroupPath), res)
	if err != nil {
		return fmt.Errorf("create cgroup %s: %w", cgroupPath, err)
	}
	cg.control = control

	if err := control.Add(cgroups.Process{Pid: pid}); err != nil {
		cg.free()
		return fmt.Errorf("add pid %d to cgroup: %w", pid, err)
	}
	return nil
}

func (cg *cgroupsLimiter) free() {
	if cg.control == nil {
		return
	}
	cg.control.Delete()
	cg.control = nil
}

// clampMemory keeps the limit below the physical memory of the host.
func clampMemory(limit int64) int64 {
	total := memory.TotalMemory()
	if total == 0 || uint64(limit) <= total {
		return limit
	}
	return int64(total)
}
