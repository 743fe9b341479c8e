// Package daemon hosts the observatory control process: it builds the
// scheduler, safety monitor, devices and orchestrator from the configuration,
// serves the admin socket and shuts everything down in order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/hardware/serialmount"
	"github.com/msageha/observatory/internal/hardware/simulator"
	"github.com/msageha/observatory/internal/horizon"
	"github.com/msageha/observatory/internal/lock"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/metrics"
	"github.com/msageha/observatory/internal/model"
	"github.com/msageha/observatory/internal/notify"
	"github.com/msageha/observatory/internal/orchestrator"
	"github.com/msageha/observatory/internal/safety"
	"github.com/msageha/observatory/internal/scheduler"
	"github.com/msageha/observatory/internal/store"
	"github.com/msageha/observatory/internal/uds"
)

const (
	DefaultShutdownTimeout = 5 * time.Minute
	DefaultFieldsFile      = "fields.yaml"
	DefaultStorePath       = "state/observatory.db"

	auditLogName = "audit.jsonl"
	busBuffer    = 256
)

// Daemon is the observatory control process.
type Daemon struct {
	baseDir string
	config  model.Config
	log     *logging.Logger
	logFile io.Closer
	clock   func() time.Time

	fileLock *lock.FileLock
	server   *uds.Server

	bus      *events.Bus
	audit    *events.AuditLogger
	store    *store.Store
	metrics  *metrics.Collector
	notifier *notify.Notifier
	sched    *scheduler.Scheduler
	safety   *safety.Monitor
	hw       *hardware.Registry
	orch     *orchestrator.Orchestrator
	fields   *fieldsFile
	snapshot *snapshotWriter

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown sync.Once
}

// New creates a daemon for the .observatory directory baseDir, logging to
// logs/daemon.log inside it.
func New(baseDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(baseDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(baseDir, cfg, logFile, logFile), nil
}

func newDaemon(baseDir string, cfg model.Config, w io.Writer, closer io.Closer) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New(log.New(w, "", 0), logging.ParseLevel(cfg.Logging.Level), "daemon")
	return &Daemon{
		baseDir:  baseDir,
		config:   cfg,
		log:      logger,
		logFile:  closer,
		clock:    time.Now,
		fileLock: lock.NewFileLock(filepath.Join(baseDir, "locks", "daemon.lock")),
		server:   uds.NewServer(filepath.Join(baseDir, uds.DefaultSocketName), logger.With("uds")),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Run starts the daemon and blocks until it has shut down. SIGINT and SIGTERM
// start a graceful shutdown (the mount is parked); a second signal exits
// immediately. The returned error is non-nil when the orchestrator stopped on
// a fatal error.
func (d *Daemon) Run() error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go d.handleSignals(sigCh)

	return d.run()
}

func (d *Daemon) handleSignals(sigCh <-chan os.Signal) {
	select {
	case sig := <-sigCh:
		d.log.Infof("received signal=%s, initiating graceful shutdown", sig)
		d.Shutdown()
	case <-d.done:
		return
	}

	select {
	case <-sigCh:
		d.log.Warnf("received second signal, forcing exit")
		os.Exit(1)
	case <-d.done:
	}
}

// Shutdown asks a running daemon to stop. It returns immediately; Run returns
// once the mount is parked and resources are released.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log.Infof("shutdown requested")
		d.cancel()
	})
}

func (d *Daemon) run() error {
	defer close(d.done)

	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log.Infof("daemon starting pid=%d dir=%s", os.Getpid(), d.baseDir)
	defer d.cleanup()

	if err := d.build(); err != nil {
		return err
	}

	watcher, err := d.fields.watch()
	if err != nil {
		return fmt.Errorf("watch fields file: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start admin socket: %w", err)
	}
	defer func() { _ = d.server.Stop() }()

	g, gctx := errgroup.WithContext(d.ctx)
	g.Go(func() error {
		if err := d.orch.Run(gctx); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		d.fields.loop(gctx, watcher)
		return nil
	})
	if addr := d.config.Metrics.Listen; addr != "" {
		g.Go(func() error {
			return d.metrics.Serve(gctx, addr, d.log.With("metrics"))
		})
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	d.log.Infof("daemon ready")

	select {
	case err := <-waitErr:
		d.Shutdown()
		return d.stopped(err)
	case <-d.ctx.Done():
	}

	timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	select {
	case err := <-waitErr:
		return d.stopped(err)
	case <-time.After(timeout):
		d.log.Warnf("shutdown timeout after %s, mount may not be parked", timeout)
		return nil
	}
}

func (d *Daemon) stopped(err error) error {
	d.snapshot.write()
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Errorf("daemon stopping on error: %v", err)
		return err
	}
	d.log.Infof("all components stopped")
	return nil
}

// build constructs every component and wires the event bus subscribers.
func (d *Daemon) build() error {
	cfg := d.config

	hz, err := horizon.New(horizon.FromPairs(cfg.Horizon.Obstructions), cfg.Horizon.DefaultElevation)
	if err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	constraints, err := scheduler.BuildConstraints(cfg.Scheduler, hz)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	loc := astro.Location{
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
		Elevation: cfg.Location.Elevation,
	}
	d.sched = scheduler.New(loc, constraints, d.log.With("scheduler"))
	if cfg.Location.ObserveHorizon != nil {
		d.sched.SetObserveHorizon(*cfg.Location.ObserveHorizon)
	}
	if cfg.Scheduler.MinMoonSepDeg > 0 {
		d.sched.SetMinMoonSep(cfg.Scheduler.MinMoonSepDeg)
	}

	d.fields = newFieldsFile(d.resolve(cfg.Scheduler.FieldsFile, DefaultFieldsFile), d.sched, d.log.With("fields"))
	if err := d.fields.load(); err != nil {
		return err
	}

	safetyCfg := safety.ConfigFrom(cfg, d.baseDir)
	safetyCfg.Clock = d.clock
	d.safety = safety.NewMonitor(safetyCfg, d.log.With("safety"))

	backends := simulator.NewRig().Backends().Merge(hardware.Backends{
		Mounts: map[string]hardware.MountFactory{"serial": serialmount.NewFromConfig},
	})
	d.hw, err = hardware.NewRegistry(resolveHardware(cfg.Hardware, d.baseDir), backends, d.log.With("hardware"))
	if err != nil {
		return fmt.Errorf("hardware: %w", err)
	}

	d.bus = events.NewBus(busBuffer)
	if err := d.wireSubscribers(); err != nil {
		return err
	}

	d.orch, err = orchestrator.New(orchestrator.ConfigFrom(cfg.Orchestrator, d.baseDir), orchestrator.Deps{
		Hardware:  d.hw,
		Scheduler: d.sched,
		Safety:    d.safety,
		Events:    d.bus,
		Log:       d.log.With("orchestrator"),
		Clock:     d.clock,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	d.snapshot.status = d.orch.Status
	d.snapshot.write()
	return nil
}

func (d *Daemon) wireSubscribers() error {
	audit, err := events.NewAuditLogger(filepath.Join(d.baseDir, "logs", auditLogName), 0)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	d.audit = audit
	d.bus.SubscribeAll(events.AllEventTypes, audit.Record)

	if d.config.Store.Enabled {
		st, err := store.Open(d.resolve(d.config.Store.Path, DefaultStorePath), d.log.With("store"))
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		d.store = st
		d.bus.SubscribeAll(events.AllEventTypes, st.Record)
	}

	d.metrics = metrics.New(d.bus.Dropped)
	d.bus.SubscribeAll(events.AllEventTypes, d.metrics.Record)

	d.notifier = notify.New(notify.ConfigFrom(d.config.Notify), d.log.With("notify"))
	d.bus.SubscribeAll([]events.EventType{events.EventSafetyPark, events.EventFatal}, d.notifier.Record)

	d.snapshot = newSnapshotWriter(filepath.Join(d.baseDir, "state", SnapshotFile), d.log.With("snapshot"))
	d.bus.SubscribeAll([]events.EventType{events.EventStateTransition, events.EventExposureTaken}, d.snapshot.onEvent)

	d.bus.Subscribe(events.EventStateTransition, func(e events.Event) {
		d.log.Debugf("event %s from=%s to=%s", e.Type, e.String("from"), e.String("to"))
	})
	return nil
}

// resolve returns p (or def when p is empty) made absolute against baseDir.
func (d *Daemon) resolve(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.baseDir, p)
}

// resolveHardware makes the serial mount's command table path absolute.
func resolveHardware(hc model.HardwareConfig, baseDir string) model.HardwareConfig {
	path, ok := hc.Mount.Options["commands"]
	if !ok || path == "" || filepath.IsAbs(path) {
		return hc
	}
	opts := make(map[string]string, len(hc.Mount.Options))
	for k, v := range hc.Mount.Options {
		opts[k] = v
	}
	opts["commands"] = filepath.Join(baseDir, path)
	hc.Mount.Options = opts
	return hc
}

// cleanup releases resources in reverse order of construction.
func (d *Daemon) cleanup() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.hw != nil {
		if err := d.hw.Close(); err != nil {
			d.log.Warnf("close hardware: %v", err)
		}
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	_ = d.fileLock.Unlock()
	d.log.Infof("daemon stopped")
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
