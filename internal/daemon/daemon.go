// Package daemon composes the bellman runtime: single-instance lock, durable
// command queue, event stream, dispatch worker, trigger engine, DLQ, ingress
// watcher, and the UDS control server.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bellmanlabs/bellman/internal/config"
	"github.com/bellmanlabs/bellman/internal/dispatch"
	"github.com/bellmanlabs/bellman/internal/dlq"
	"github.com/bellmanlabs/bellman/internal/events"
	"github.com/bellmanlabs/bellman/internal/lock"
	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/queue"
	"github.com/bellmanlabs/bellman/internal/retry"
	"github.com/bellmanlabs/bellman/internal/store"
	"github.com/bellmanlabs/bellman/internal/stream"
	"github.com/bellmanlabs/bellman/internal/trigger"
	"github.com/bellmanlabs/bellman/internal/uds"
)

// Daemon is the main bellmand process.
type Daemon struct {
	dataDir  string
	config   config.Config
	logLevel model.LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher

	queue       queue.CommandQueue
	stream      *stream.Stream
	journal     *stream.Journal
	bus         *events.Bus
	worker      *dispatch.Worker
	dispatcher  dispatch.Dispatcher
	deadLetters *dlq.Queue
	engine      *trigger.Engine
	triggers    []trigger.Definition
	skills      trigger.Skills

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a daemon logging to logs/daemon.log under dataDir.
func New(dataDir string, cfg config.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(dataDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor shared with tests.
func newDaemon(dataDir string, cfg config.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "locks"), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		logLevel: model.ParseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock")),
		server:   uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName)),
		ctx:      ctx,
		cancel:   cancel,
	}
	return d, nil
}

// SetDispatcher overrides the executor boundary. Must be called before Run;
// the default hands commands off through the outbox directory.
func (d *Daemon) SetDispatcher(disp dispatch.Dispatcher) {
	d.dispatcher = disp
}

// SetSkills wires the skill implementations the trigger engine invokes.
// The default re-enqueues each skill invocation as a command.
func (d *Daemon) SetSkills(skills trigger.Skills) {
	d.skills = skills
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// start brings up every component without blocking on signals.
func (d *Daemon) start() error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "starting pid=%d data_dir=%s", os.Getpid(), d.dataDir)

	if err := d.initComponents(); err != nil {
		d.cleanup()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	ingressDir := filepath.Join(d.dataDir, "ingress")
	if err := os.MkdirAll(ingressDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure ingress dir: %w", err)
	}
	if err := watcher.Add(ingressDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch ingress dir: %w", err)
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(model.LogLevelInfo, "UDS server listening on %s", filepath.Join(d.dataDir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.ingressLoop()
	go d.purgeLoop()

	d.worker.Start(time.Duration(d.config.Dispatch.TickIntervalSec) * time.Second)

	// Pick up commands dropped while the daemon was down.
	d.scanIngress()
	d.log(model.LogLevelInfo, "ready")
	return nil
}

func (d *Daemon) initComponents() error {
	q, err := queue.NewFile(filepath.Join(d.dataDir, "queue", "commands.json"))
	if err != nil {
		return fmt.Errorf("open command queue: %w", err)
	}
	d.queue = q

	d.stream = stream.New()
	d.bus = events.NewBus(64)
	d.stream.SetEventBus(d.bus)

	if d.config.Stream.JournalEnabled {
		journal, err := stream.NewJournal(
			filepath.Join(d.dataDir, "events", "journal.jsonl"),
			d.config.Stream.JournalMaxBytes,
		)
		if err != nil {
			return fmt.Errorf("open event journal: %w", err)
		}
		d.journal = journal
		d.stream.SetJournal(journal)
	}

	dlqStore, err := d.newDeadLetterStore()
	if err != nil {
		return err
	}
	d.deadLetters = dlq.New(dlqStore)
	d.deadLetters.SetArchiveDir(filepath.Join(d.dataDir, "dead_letters"))

	if d.dispatcher == nil {
		outbox, err := dispatch.NewOutboxDispatcher(filepath.Join(d.dataDir, "outbox"))
		if err != nil {
			return fmt.Errorf("init outbox dispatcher: %w", err)
		}
		d.dispatcher = outbox
	}
	d.worker = dispatch.NewWorker(d.queue, d.stream, d.dispatcher, d.config.Dispatch.MaxAttempts, d.logger, d.logLevel)

	if d.skills == nil {
		d.skills = &commandSkills{
			queue:           d.queue,
			manifestVersion: d.config.Project.PermissionManifestVersion,
			logger:          d.logger,
		}
	}
	if err := d.initTriggerEngine(); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) newDeadLetterStore() (store.Store[model.DeadLetterEntry], error) {
	switch d.config.Store.Backend {
	case "redis":
		s, err := store.NewRedis[model.DeadLetterEntry](store.RedisOptions{
			Addr:     d.config.Store.Redis.Addr,
			Password: d.config.Store.Redis.Password,
			DB:       d.config.Store.Redis.DB,
		}, "bellman:dlq")
		if err != nil {
			return nil, fmt.Errorf("connect dead letter store: %w", err)
		}
		return s, nil
	case "memory":
		return store.NewMemory[model.DeadLetterEntry](), nil
	default:
		s, err := store.NewFile[model.DeadLetterEntry](
			filepath.Join(d.dataDir, "dead_letters", "entries.json"), "dead_letters")
		if err != nil {
			return nil, fmt.Errorf("open dead letter store: %w", err)
		}
		return s, nil
	}
}

func (d *Daemon) initTriggerEngine() error {
	defs, err := trigger.LoadTriggers(filepath.Join(d.dataDir, "triggers.yaml"))
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	d.triggers = defs

	policy := retry.Policy{
		MaxAttempts:    d.config.Skills.MaxAttempts,
		InitialDelayMs: d.config.Skills.InitialDelayMs,
		MaxDelayMs:     d.config.Skills.MaxDelayMs,
		RetryableCodes: d.config.Skills.RetryableCodes,
	}
	d.engine = trigger.NewEngine(d.skills, policy, d.logger, d.logLevel)

	// Every stream append drives a trigger evaluation pass.
	d.bus.Subscribe(events.Wildcard, func(env model.EventEnvelope) {
		triggerContext := map[string]any{
			"event": map[string]any{
				"id":            env.EventID,
				"type":          env.EventType,
				"tenantId":      env.TenantID,
				"correlationId": env.CorrelationID,
				"payload":       env.Payload,
			},
		}
		results := d.engine.ExecuteMatching(d.ctx, d.triggers, triggerContext)
		for _, result := range results {
			d.recordTriggerFailures(env, result)
		}
	})
	d.log(model.LogLevelInfo, "trigger engine active, %d definitions", len(defs))
	return nil
}

// recordTriggerFailures dead-letters actions that failed after exhausting
// their skill retries.
func (d *Daemon) recordTriggerFailures(env model.EventEnvelope, result trigger.ExecutionResult) {
	for _, action := range result.Actions {
		if action.Status != trigger.ActionFailed {
			continue
		}
		_, err := d.deadLetters.Add(d.ctx, env.CorrelationID, action.Skill, map[string]any{
			"triggerId": result.TriggerID,
			"eventId":   env.EventID,
			"eventType": env.EventType,
		}, action.Error, d.config.Skills.MaxAttempts)
		if err != nil {
			d.log(model.LogLevelError, "dead-letter trigger action %s: %v", action.Skill, err)
		} else {
			d.log(model.LogLevelWarn, "trigger %s action %s dead-lettered: %s", result.TriggerID, action.Skill, action.Error)
		}
	}
}

// ingressLoop enqueues command files dropped into ingress/ by external
// adapters.
func (d *Daemon) ingressLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(model.LogLevelDebug, "ingress event=%s file=%s", event.Op, event.Name)
				d.handleIngressFile(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "ingress watcher error=%v", err)
		}
	}
}

// purgeLoop archives out old dead letters on the configured interval.
func (d *Daemon) purgeLoop() {
	defer d.wg.Done()

	interval := time.Duration(d.config.DLQ.PurgeIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			purged, err := d.deadLetters.PurgeOlderThan(d.ctx, d.config.DLQ.RetentionDays)
			if err != nil {
				d.log(model.LogLevelError, "dlq purge: %v", err)
				continue
			}
			if purged > 0 {
				d.log(model.LogLevelInfo, "dlq purge removed %d archived entries", purged)
			}
		}
	}
}

func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(model.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit.
	go func() {
		<-sigCh
		d.log(model.LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown. Idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown started")

		d.cancel()

		if d.worker != nil {
			d.worker.Stop()
		}
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.log(model.LogLevelInfo, "all goroutines drained")
		case <-time.After(30 * time.Second):
			d.log(model.LogLevelWarn, "shutdown timeout, some operations may be incomplete")
		}

		d.cleanup()
		d.log(model.LogLevelInfo, "stopped")
	})
}

func (d *Daemon) cleanup() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.journal != nil {
		d.journal.Close()
	}
	os.Remove(filepath.Join(d.dataDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
