package sysinfo

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// psReader reads host counters through gopsutil, which covers darwin,
// windows and the BSDs.
type psReader struct{}

func (psReader) CPU() (CPUTimes, error) {
	ts, err := cpu.Times(false)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("reading cpu times: %w", err)
	}
	if len(ts) == 0 {
		return CPUTimes{}, errors.New("reading cpu times: no totals reported")
	}
	t := ts[0]
	total := t.Total()
	return CPUTimes{Busy: total - t.Idle - t.Iowait, Total: total}, nil
}

func (psReader) Memory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return vm.Available, vm.Total, nil
}
