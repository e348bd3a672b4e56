package sysinfo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedReader struct {
	mu   sync.Mutex
	cpus []CPUTimes
	free uint64
	err  error
}

func (r *scriptedReader) CPU() (CPUTimes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return CPUTimes{}, r.err
	}
	c := r.cpus[0]
	if len(r.cpus) > 1 {
		r.cpus = r.cpus[1:]
	}
	return c, nil
}

func (r *scriptedReader) Memory() (uint64, uint64, error) {
	return r.free, 8 << 30, nil
}

func TestLatest_BeforeFirstSample(t *testing.T) {
	s := NewSampler(&scriptedReader{}, 0, nil)
	if _, err := s.Latest(); !errors.Is(err, ErrNoSample) {
		t.Errorf("error = %v, want ErrNoSample", err)
	}
}

func TestSampleOnce_CPUPercentFromDelta(t *testing.T) {
	r := &scriptedReader{
		cpus: []CPUTimes{{Busy: 100, Total: 400}, {Busy: 130, Total: 500}},
		free: 2 << 30,
	}
	s := NewSampler(r, 0, nil)

	if err := s.SampleOnce(); err != nil {
		t.Fatal(err)
	}
	if err := s.SampleOnce(); err != nil {
		t.Fatal(err)
	}
	got, err := s.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if got.CPUPercent != 30 {
		t.Errorf("CPUPercent = %v, want 30", got.CPUPercent)
	}
	if got.FreeMemory != 2<<30 || got.TotalMemory != 8<<30 {
		t.Errorf("memory = %d/%d", got.FreeMemory, got.TotalMemory)
	}
}

func TestSampleOnce_ErrorKeepsPreviousSample(t *testing.T) {
	r := &scriptedReader{cpus: []CPUTimes{{Busy: 1, Total: 2}}, free: 1}
	s := NewSampler(r, 0, nil)
	if err := s.SampleOnce(); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.err = errors.New("permission denied")
	r.mu.Unlock()
	if err := s.SampleOnce(); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Latest(); err != nil {
		t.Errorf("Latest after failed sample: %v", err)
	}
}

func TestRun_PublishesUntilCancelled(t *testing.T) {
	r := &scriptedReader{cpus: []CPUTimes{{Busy: 1, Total: 2}}, free: 1}
	s := NewSampler(r, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := s.Latest(); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no sample published")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
