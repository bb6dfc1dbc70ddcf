package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/protocol"
)

const bytesPerMB = 1024 * 1024

// StatsBroadcaster is the subset of the stream transport the sampler needs:
// publish a stats_update on the stats channel, and a cpu_alert on the main
// channel (read by every connected client, same as task lifecycle events).
type StatsBroadcaster interface {
	BroadcastStats(event interface{})
	BroadcastMain(event interface{})
}

// TaskCounter is the subset of the task manager the sampler needs to keep
// TasksRunning current: a point-in-time count of RUNNING tasks.
type TaskCounter interface {
	RunningCount() int
}

// Config controls the sampler's tick interval and alert thresholds.
type Config struct {
	Interval       time.Duration `mapstructure:"interval"`
	AlertThreshold float64       `mapstructure:"alert_threshold"`
	AlertCooldown  time.Duration `mapstructure:"alert_cooldown"`
}

// DefaultConfig holds the sampler's defaults: 1s tick, 90% threshold, 60s cooldown.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Second,
		AlertThreshold: 90.0,
		AlertCooldown:  60 * time.Second,
	}
}

// state is the sampler's IDLE/RUNNING state machine.
// ALERTING has no distinct state value; it is implicit in lastAlert.
type state int

const (
	stateIdle state = iota
	stateRunning
)

// Sampler periodically samples host CPU/RAM and publishes stats_update and
// (rate-limited) cpu_alert events, sampled the way a metrics server
// lifecycle (Start/Stop around a background goroutine) generalized from an
// HTTP listener to a ticking probe loop.
type Sampler struct {
	cfg      Config
	bus      StatsBroadcaster
	log      *logrus.Entry
	hostname string
	tasks    TaskCounter

	mu        sync.Mutex
	st        state
	lastAlert time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSampler creates a sampler that has not yet been started. tasks may be
// nil, in which case TasksRunning is simply never updated (e.g. in tests
// that don't wire a task manager).
func NewSampler(cfg Config, bus StatsBroadcaster, log *logrus.Entry, hostname string, tasks TaskCounter) *Sampler {
	return &Sampler{cfg: cfg, bus: bus, log: log, hostname: hostname, tasks: tasks, st: stateIdle}
}

// Start transitions IDLE→RUNNING and launches the tick loop. Calling Start
// on an already-running sampler is a no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.st == stateRunning {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.st = stateRunning
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop transitions back to IDLE, cancels the tick loop, and returns once
// the loop goroutine has exited; it does not wait for the next tick.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.st != stateRunning {
		s.mu.Unlock()
		return
	}
	s.st = stateIdle
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick samples one snapshot and publishes stats_update, then evaluates the
// alert predicate independently of the snapshot's publication.
func (s *Sampler) tick() {
	snap, err := Sample()
	if err != nil {
		s.log.WithError(err).Warn("sampling failed")
		return
	}

	CPUPercent.Set(snap.CPU)
	RAMUsedMB.Set(float64(snap.RAMUsedMB))
	RAMTotalMB.Set(float64(snap.RAMTotalMB))
	if s.tasks != nil {
		TasksRunning.Set(float64(s.tasks.RunningCount()))
	}

	s.bus.BroadcastStats(protocol.NewStatsUpdateEvent(snap))

	if snap.CPU > s.cfg.AlertThreshold && s.cooldownElapsed() {
		s.mu.Lock()
		s.lastAlert = time.Now()
		s.mu.Unlock()
		AlertsTotal.Inc()
		s.bus.BroadcastMain(protocol.NewCPUAlertEvent(
			snap.CPU, s.hostname, "cpu usage above threshold", time.Now().UnixMilli(),
		))
	}
}

func (s *Sampler) cooldownElapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAlert) >= s.cfg.AlertCooldown
}

// Sample acquires one StatsSnapshot on demand — used both by the tick loop
// and directly by the request router's GET /stats handler. CPU percent is
// gopsutil's differential measurement since the previous call (interval=0);
// the first call in the process's lifetime returns 0.
func Sample() (protocol.StatsSnapshot, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return protocol.StatsSnapshot{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return protocol.StatsSnapshot{}, err
	}

	return protocol.StatsSnapshot{
		CPU:        cpuPct,
		RAMUsedMB:  int64(vm.Total-vm.Available) / bytesPerMB,
		RAMTotalMB: int64(vm.Total) / bytesPerMB,
		Timestamp:  time.Now().UnixMilli(),
	}, nil
}
