package netflow

import (
	"github.com/mitchellh/go-ps"
)

// livePids lists the pids of every running process.
func livePids() (map[int32]bool, error) {
	processes, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	out := make(map[int32]bool, len(processes))
	for _, p := range processes {
		out[int32(p.Pid())] = true
	}
	return out, nil
}
