package metrics

import (
	"context"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

type fakeStatsBus struct {
	mu    sync.Mutex
	stats []interface{}
	mains []interface{}
}

func (f *fakeStatsBus) BroadcastStats(event interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, event)
}

func (f *fakeStatsBus) BroadcastMain(event interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mains = append(f.mains, event)
}

func (f *fakeStatsBus) statsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stats)
}

func testSamplerLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return logrus.NewEntry(log)
}

func TestSamplerEmitsStatsUpdateEachTick(t *testing.T) {
	bus := &fakeStatsBus{}
	cfg := Config{Interval: 20 * time.Millisecond, AlertThreshold: 90, AlertCooldown: 60 * time.Second}
	s := NewSampler(cfg, bus, testSamplerLogger(), "test-host", nil)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && bus.statsCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}

	if bus.statsCount() < 2 {
		t.Fatalf("expected at least 2 stats_update events, got %d", bus.statsCount())
	}
}

func TestSamplerStartIsIdempotent(t *testing.T) {
	bus := &fakeStatsBus{}
	cfg := Config{Interval: 20 * time.Millisecond, AlertThreshold: 90, AlertCooldown: 60 * time.Second}
	s := NewSampler(cfg, bus, testSamplerLogger(), "test-host", nil)

	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
}

func TestSamplerStopIsIdempotent(t *testing.T) {
	bus := &fakeStatsBus{}
	cfg := Config{Interval: 20 * time.Millisecond, AlertThreshold: 90, AlertCooldown: 60 * time.Second}
	s := NewSampler(cfg, bus, testSamplerLogger(), "test-host", nil)

	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

type fakeTaskCounter struct {
	n int
}

func (f *fakeTaskCounter) RunningCount() int { return f.n }

func TestSamplerTickSetsTasksRunningGauge(t *testing.T) {
	bus := &fakeStatsBus{}
	counter := &fakeTaskCounter{n: 3}
	cfg := Config{Interval: 20 * time.Millisecond, AlertThreshold: 90, AlertCooldown: 60 * time.Second}
	s := NewSampler(cfg, bus, testSamplerLogger(), "test-host", counter)

	s.tick()

	if got := testutil.ToFloat64(TasksRunning); got != 3 {
		t.Errorf("expected TasksRunning gauge to read 3, got %v", got)
	}

	counter.n = 0
	s.tick()
	if got := testutil.ToFloat64(TasksRunning); got != 0 {
		t.Errorf("expected TasksRunning gauge to read 0 after drop, got %v", got)
	}
}

func TestDefaultConfigMatchesSpec(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != time.Second {
		t.Errorf("expected 1s interval, got %v", cfg.Interval)
	}
	if cfg.AlertThreshold != 90.0 {
		t.Errorf("expected 90%% threshold, got %v", cfg.AlertThreshold)
	}
	if cfg.AlertCooldown != 60*time.Second {
		t.Errorf("expected 60s cooldown, got %v", cfg.AlertCooldown)
	}
}
