package sysinfo

import (
	"fmt"

	"github.com/prometheus/procfs"
)

type procReader struct {
	fs procfs.FS
}

// NewReader returns a Reader backed by /proc.
func NewReader() (Reader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return procReader{fs: fs}, nil
}

func (r procReader) CPU() (CPUTimes, error) {
	st, err := r.fs.Stat()
	if err != nil {
		return CPUTimes{}, fmt.Errorf("reading /proc/stat: %w", err)
	}
	c := st.CPUTotal
	idle := c.Idle + c.Iowait
	busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return CPUTimes{Busy: busy, Total: busy + idle}, nil
}

func (r procReader) Memory() (uint64, uint64, error) {
	mi, err := r.fs.Meminfo()
	if err != nil {
		return 0, 0, fmt.Errorf("reading /proc/meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return 0, 0, fmt.Errorf("reading /proc/meminfo: MemTotal missing")
	}
	free := mi.MemFree
	if mi.MemAvailable != nil {
		free = mi.MemAvailable
	}
	if free == nil {
		return 0, 0, fmt.Errorf("reading /proc/meminfo: MemAvailable missing")
	}
	// meminfo reports kB.
	return *free * 1024, *mi.MemTotal * 1024, nil
}
