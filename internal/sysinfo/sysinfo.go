// Package sysinfo reports the hardware facts the control channel's
// get_server_info reply needs (§4.9, §6): CPU core count and total RAM.
// The GPU is not probed, so the gpu field is always omitted. Backed by shirou/gopsutil/v4, the hardware
// inventory library already present in the example pack.
package sysinfo

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Hardware is the `hardware` object in get_server_info's reply.
type Hardware struct {
	GPU      string `json:"gpu,omitempty"`
	CPUCores int    `json:"cpuCores"`
	RAMGB    int    `json:"ramGB"`
}

// Collect gathers the current host's hardware facts. It never fails: any
// probe that errors falls back to a conservative default rather than
// blocking get_server_info on a hardware-inventory quirk.
func Collect() Hardware {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	ramGB := 0
	if vm, err := mem.VirtualMemory(); err == nil {
		ramGB = int(vm.Total / (1024 * 1024 * 1024))
	}

	return Hardware{
		CPUCores: cores,
		RAMGB:    ramGB,
	}
}
