// Package daemon wires the agent's process-scoped services — task
// supervisor, metrics sampler, stream transport, discovery responder,
// request router, metrics HTTP server — into one lifecycle with graceful
// start, signal-driven shutdown, and SIGHUP config reload.
//
// Follows a New/Start/Run/Stop/Reload shape with a signal-channel loop,
// generalized from a capture pipeline with a Kafka command channel to a
// fleet agent with a TCP request router and four WebSocket stream channels.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	agentconfig "github.com/otusfleet/fleetctl/internal/agent/config"
	"github.com/otusfleet/fleetctl/internal/agent/discovery"
	"github.com/otusfleet/fleetctl/internal/agent/fs"
	"github.com/otusfleet/fleetctl/internal/agent/metrics"
	"github.com/otusfleet/fleetctl/internal/agent/router"
	"github.com/otusfleet/fleetctl/internal/agent/stream"
	"github.com/otusfleet/fleetctl/internal/agent/system"
	"github.com/otusfleet/fleetctl/internal/agent/task"
	"github.com/otusfleet/fleetctl/internal/logging"
)

// maxPortAttempts bounds the auto-increment retry: if
// the base port plan can't bind, try a small number of higher offsets
// before giving up.
const maxPortAttempts = 5

// Daemon owns every process-scoped service for one agent instance.
type Daemon struct {
	configPath string
	cfg        *agentconfig.Config
	log        *logrus.Entry

	tasks      *task.Manager
	streamSrv  *stream.Server
	sampler    *metrics.Sampler
	metricsSrv *metrics.Server
	responder  *discovery.Responder
	router     *router.Server
	store      *fs.Store

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration from configPath ("" for defaults-only) and
// constructs every service but does not yet bind any socket.
func New(configPath string) (*Daemon, error) {
	cfg, err := agentconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Log, "agentd")

	store, err := fs.NewStore(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("initializing storage root: %w", err)
	}

	streamSrv := stream.NewServer(log)
	tasks := task.NewManager(streamSrv, log.WithField("subcomponent", "task"))
	sampler := metrics.NewSampler(metrics.Config{
		Interval:       time.Duration(cfg.Sampler.IntervalSeconds) * time.Second,
		AlertThreshold: cfg.Sampler.AlertThreshold,
		AlertCooldown:  time.Duration(cfg.Sampler.AlertCooldownSeconds) * time.Second,
	}, streamSrv, log.WithField("subcomponent", "sampler"), cfg.Node.Hostname, tasks)

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		configPath:   configPath,
		cfg:          cfg,
		log:          log,
		tasks:        tasks,
		streamSrv:    streamSrv,
		sampler:      sampler,
		metricsSrv:   metrics.NewServer(cfg.MetricsListen, "/metrics", log.WithField("subcomponent", "metrics")),
		store:        store,
		ctx:          ctx,
		cancel:       cancel,
		shutdownChan: make(chan struct{}),
	}

	d.router = router.NewServer(router.Deps{
		Tasks:              tasks,
		Files:              store,
		Hostname:           cfg.Node.Hostname,
		AutoInstallEnabled: cfg.AutoInstallEnabled,
		System:             system.NewController(),
	}, log.WithField("subcomponent", "router"))

	return d, nil
}

// Start binds every network listener and launches every background
// goroutine. It returns once binding has succeeded (or permanently failed),
// not once the process is finished running.
func (d *Daemon) Start() error {
	offset, err := d.findPortOffset()
	if err != nil {
		return err
	}
	if offset > 0 {
		d.log.WithField("offset", offset).Warn("base port plan unavailable, using incremented ports")
	}
	ports := d.shiftedPorts(offset)

	if err := d.metricsSrv.Start(d.ctx); err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}

	if err := d.streamSrv.Start(d.cfg.Node.IP, stream.Ports{
		Main: ports.StreamMain, Stats: ports.StreamStats, Files: ports.StreamFiles, Desktop: ports.StreamDesktop,
	}); err != nil {
		return fmt.Errorf("starting stream server: %w", err)
	}

	d.sampler.Start(d.ctx)

	responder, err := discovery.Listen(fmt.Sprintf("%s:%d", d.cfg.Node.IP, ports.Discovery), discovery.Info{
		Hostname:  d.cfg.Node.Hostname,
		Port:      ports.Request,
		WSMain:    ports.StreamMain,
		WSStats:   ports.StreamStats,
		WSFiles:   ports.StreamFiles,
		WSDesktop: ports.StreamDesktop,
	}, d.log.WithField("subcomponent", "discovery"))
	if err != nil {
		return fmt.Errorf("starting discovery responder: %w", err)
	}
	d.responder = responder
	go responder.Serve()

	if err := d.router.Start(fmt.Sprintf("%s:%d", d.cfg.Node.IP, ports.Request)); err != nil {
		return fmt.Errorf("starting request router: %w", err)
	}

	d.log.WithField("hostname", d.cfg.Node.Hostname).Info("agent daemon started")
	return nil
}

// Stop tears down every service in roughly the reverse order Start brought
// them up, closing sockets and waiting for in-flight goroutines to exit.
func (d *Daemon) Stop() {
	d.log.Info("stopping agent daemon")

	d.router.Stop()
	if d.responder != nil {
		d.responder.Close()
	}
	d.sampler.Stop()
	d.streamSrv.Stop(d.ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsSrv.Stop(shutdownCtx); err != nil {
		d.log.WithError(err).Warn("metrics server shutdown error")
	}

	d.tasks.Shutdown()
	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	d.log.Info("agent daemon stopped")
}

// Run blocks until a termination signal, a SIGHUP-driven reload loop exits
// via the same signal, or the daemon's context is cancelled externally.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					d.log.WithError(err).Error("config reload failed")
				}
			}
		case <-d.shutdownChan:
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads configuration from configPath. Only the ambient log level
// is hot-applied; listen addresses, storage root, and sampler cadence
// require a restart, consistent with a hot/cold reload split.
func (d *Daemon) Reload() error {
	newCfg, err := agentconfig.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if newCfg.Log.Level != d.cfg.Log.Level {
		if level, parseErr := logrus.ParseLevel(newCfg.Log.Level); parseErr == nil {
			d.log.Logger.SetLevel(level)
		}
	}

	d.cfg = newCfg
	d.log.Info("configuration reloaded")
	return nil
}

type portPlan struct {
	Request       int
	Discovery     int
	StreamMain    int
	StreamStats   int
	StreamFiles   int
	StreamDesktop int
}

func (d *Daemon) shiftedPorts(offset int) portPlan {
	p := d.cfg.Ports
	return portPlan{
		Request:       p.Request + offset,
		Discovery:     p.Discovery + offset,
		StreamMain:    p.StreamMain + offset,
		StreamStats:   p.StreamStats + offset,
		StreamFiles:   p.StreamFiles + offset,
		StreamDesktop: p.StreamDesktop + offset,
	}
}

// findPortOffset probes the whole port plan (all TCP ports, plus the UDP
// discovery port) at increasing offsets and returns the first one where
// every port is free, bounded to maxPortAttempts tries.
func (d *Daemon) findPortOffset() (int, error) {
	p := d.cfg.Ports
	tcpPorts := []int{p.Request, p.StreamMain, p.StreamStats, p.StreamFiles, p.StreamDesktop}

	for offset := 0; offset < maxPortAttempts; offset++ {
		if portsFree(d.cfg.Node.IP, tcpPorts, offset) && udpPortFree(d.cfg.Node.IP, p.Discovery+offset) {
			return offset, nil
		}
	}
	return 0, fmt.Errorf("no free port offset found within %d attempts starting at base plan", maxPortAttempts)
}

func portsFree(host string, basePorts []int, offset int) bool {
	var listeners []net.Listener
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()
	for _, base := range basePorts {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, base+offset))
		if err != nil {
			return false
		}
		listeners = append(listeners, ln)
	}
	return true
}

func udpPortFree(host string, port int) bool {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
