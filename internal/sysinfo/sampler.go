// Package sysinfo samples host CPU and memory usage in the background and
// publishes the latest reading for lock-free readers.
package sysinfo

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the sampler refreshes.
const DefaultInterval = time.Second

// ErrNoSample is returned by Latest before the first sample is taken.
var ErrNoSample = errors.New("no system sample available yet")

// Sample is one reading of host health. Memory figures are in bytes.
type Sample struct {
	CPUPercent  float64
	FreeMemory  uint64
	TotalMemory uint64
	Taken       time.Time
}

// CPUTimes are cumulative CPU seconds since boot.
type CPUTimes struct {
	Busy  float64
	Total float64
}

// Reader takes raw measurements from the host.
type Reader interface {
	CPU() (CPUTimes, error)
	Memory() (free, total uint64, err error)
}

// Sampler periodically reads a Reader and keeps the latest Sample.
type Sampler struct {
	reader   Reader
	interval time.Duration
	logger   *slog.Logger

	latest atomic.Pointer[Sample]
	prev   CPUTimes
}

// NewSampler creates a Sampler. A non-positive interval uses DefaultInterval.
func NewSampler(r Reader, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{reader: r, interval: interval, logger: logger}
}

// Run samples immediately and then every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	if err := s.SampleOnce(); err != nil {
		s.logger.Warn("system sample failed", "error", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SampleOnce(); err != nil {
				s.logger.Debug("system sample failed", "error", err)
			}
		}
	}
}

// SampleOnce takes a reading and publishes it. CPU usage is the busy share
// of CPU time since the previous reading. It must not be called
// concurrently with itself or Run.
func (s *Sampler) SampleOnce() error {
	cpu, err := s.reader.CPU()
	if err != nil {
		return err
	}
	free, total, err := s.reader.Memory()
	if err != nil {
		return err
	}

	var pct float64
	if dt := cpu.Total - s.prev.Total; dt > 0 {
		pct = (cpu.Busy - s.prev.Busy) / dt * 100
		pct = min(max(pct, 0), 100)
	}
	s.prev = cpu

	s.latest.Store(&Sample{
		CPUPercent:  pct,
		FreeMemory:  free,
		TotalMemory: total,
		Taken:       time.Now(),
	})
	return nil
}

// Latest returns the most recent sample without blocking.
func (s *Sampler) Latest() (Sample, error) {
	p := s.latest.Load()
	if p == nil {
		return Sample{}, ErrNoSample
	}
	return *p, nil
}
