package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/mqtt"
	"github.com/maraxa/powerwatch-core/internal/probe"
	"github.com/maraxa/powerwatch-core/internal/schedule"
	"github.com/maraxa/powerwatch-core/internal/stats"
	"github.com/maraxa/powerwatch-core/internal/sysinfo"
)

// Cadences for the engine's housekeeping loops. Group check cycles run
// on their own configured interval; these cover everything else.
const (
	reconcileInterval = 5 * time.Second
	scheduleInterval  = 15 * time.Second
	sysinfoInterval   = 60 * time.Second

	// shutdownGrace bounds how long Run waits for in-flight work after
	// cancellation. Longer than the maximum configurable off time, so a
	// power cycle's off wait always completes.
	shutdownGrace = 90 * time.Second
)

// Prober runs one connectivity probe. Satisfied by *probe.Prober.
type Prober interface {
	Probe(ctx context.Context, srv config.Server) probe.Result
}

// Actuator drives outlets. Satisfied by *gpio.Actuator.
type Actuator interface {
	SetState(name string, on bool) error
	Cycle(name string, offTime time.Duration) error
	State(name string) (on, known bool)
}

// Recorder persists history events. Satisfied by *stats.Recorder.
type Recorder interface {
	Record(e stats.Entry)
}

// MetricsSink mirrors events to a time-series store. Satisfied by
// *influxdb.Client. May be nil when the mirror is disabled.
type MetricsSink interface {
	WriteProbeSample(group, server, method string, up bool, latency time.Duration)
	WriteGroupState(group, state string, failures int)
	WriteActuation(group, outlet, action string, success bool)
}

// Publisher is the outward-facing event bus. Satisfied by
// *mqtt.Client. May be nil when MQTT is disabled.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger is the minimal logging interface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine runs the watchdog: one loop per enabled group probing its
// servers, a passive restart scheduler, and the outward publication of
// statuses and events.
//
// Configuration is re-read from the Store on every check cycle, so a
// reload takes effect without restarting loops whose groups survived
// it. Groups that disappear or are disabled stop themselves; new ones
// are started by the reconcile loop.
type Engine struct {
	store    *config.Store
	prober   Prober
	actuator Actuator
	recorder Recorder
	metrics  MetricsSink
	bus      Publisher
	logger   Logger

	scheduler *schedule.Scheduler
	system    *sysinfo.Collector
	topics    mqtt.Topics

	// limiter and sem pace probes across all groups.
	limiter *rate.Limiter
	sem     chan struct{}

	mu         sync.RWMutex
	runners    map[string]*groupRunner
	cancels    map[string]context.CancelFunc
	generation uint64
	running    bool

	wg sync.WaitGroup
}

// New creates an engine. metrics and bus may be nil to disable the
// time-series mirror and the MQTT surface respectively.
func New(store *config.Store, prober Prober, actuator Actuator, recorder Recorder, metrics MetricsSink, bus Publisher, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		store:     store,
		prober:    prober,
		actuator:  actuator,
		recorder:  recorder,
		metrics:   metrics,
		bus:       bus,
		logger:    logger,
		scheduler: schedule.New(),
		system:    sysinfo.NewCollector(),
		runners:   make(map[string]*groupRunner),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Run starts the group loops and housekeeping loops, then blocks until
// ctx is cancelled. Shutdown waits for in-flight check cycles and
// power cycles to complete; an outlet is never abandoned mid cycle.
func (e *Engine) Run(ctx context.Context) error {
	snap := e.store.Current()

	e.mu.Lock()
	e.running = true
	e.generation = snap.Generation
	e.mu.Unlock()

	e.applyPacing(snap)
	e.scheduler.SetJobs(schedule.JobsForGroups(snap.Groups), time.Now())

	if e.bus != nil {
		if err := e.bus.Subscribe(e.topics.AllCommands(), 1, e.handleCommand); err != nil {
			e.logger.Warn("command subscription failed", "error", err)
		}
	}

	e.reconcile(ctx, snap)

	e.wg.Add(2)
	go e.reconcileLoop(ctx)
	go e.scheduleLoop(ctx)
	if e.bus != nil {
		e.wg.Add(1)
		go e.sysinfoLoop(ctx)
	}

	e.logger.Info("watchdog running",
		"groups", len(snap.Groups),
		"check_interval", snap.CheckInterval,
	)

	<-ctx.Done()

	// Stop accepting commands before waiting; ManualControl joins the
	// WaitGroup only while running is set, so no actuation can slip in
	// after the wait begins.
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(shutdownGrace):
		e.logger.Error("shutdown grace expired with work in flight")
	}

	e.logger.Info("watchdog stopped")
	return ctx.Err()
}

// applyPacing rebuilds the probe rate limiter and concurrency gate
// from a snapshot.
func (e *Engine) applyPacing(snap *config.Snapshot) {
	concurrency := snap.MaxConcurrentProbes
	if concurrency < 1 {
		concurrency = 1
	}

	var limiter *rate.Limiter
	if snap.ProbeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(snap.ProbeRate), concurrency)
	}

	e.mu.Lock()
	e.limiter = limiter
	e.sem = make(chan struct{}, concurrency)
	e.mu.Unlock()
}

// ─── Reconciliation ─────────────────────────────────────────────────

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.store.Current()

			e.mu.Lock()
			changed := snap.Generation != e.generation
			e.generation = snap.Generation
			e.mu.Unlock()

			if changed {
				e.logger.Info("configuration reloaded", "generation", snap.Generation)
				e.applyPacing(snap)
				e.scheduler.SetJobs(schedule.JobsForGroups(snap.Groups), time.Now())
				e.clearFaults()
			}

			e.reconcile(ctx, snap)
		}
	}
}

// reconcile starts loops for enabled groups that have none and drops
// bookkeeping for loops that exited. Loops notice removal or disable
// themselves, on their next cycle.
func (e *Engine) reconcile(ctx context.Context, snap *config.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enabled := make(map[string]config.Group, len(snap.Groups))
	for _, g := range snap.Groups {
		if g.Enabled {
			enabled[g.Name] = g
		}
	}

	for name, r := range e.runners {
		if _, ok := enabled[name]; !ok || r.done() {
			if cancel, ok := e.cancels[name]; ok {
				cancel()
				delete(e.cancels, name)
			}
			delete(e.runners, name)
		}
	}

	for name, g := range enabled {
		if _, ok := e.runners[name]; ok {
			continue
		}
		r := newGroupRunner(e, name, g)
		runCtx, cancel := context.WithCancel(ctx)
		e.runners[name] = r
		e.cancels[name] = cancel

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			r.run(runCtx)
		}()
	}
}

// clearFaults resets faulted groups after a configuration reload.
// A reload is an explicit operator action, so it counts as the manual
// intervention a fault waits for.
func (e *Engine) clearFaults() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for name, r := range e.runners {
		if r.clearFault() {
			e.logger.Info("fault cleared by reload", "group", name)
		}
	}
}

// ─── Scheduled restarts ─────────────────────────────────────────────

func (e *Engine) scheduleLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(scheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, job := range e.scheduler.Tick(time.Now()) {
				e.scheduledRestart(job)
			}
		}
	}
}

// scheduledRestart performs one maintenance restart. Groups that are
// mid cycle or faulted are skipped; the next occurrence will catch
// them if they have recovered.
func (e *Engine) scheduledRestart(job schedule.Job) {
	e.mu.RLock()
	r := e.runners[job.Group]
	e.mu.RUnlock()

	if r == nil {
		e.logger.Warn("scheduled restart for inactive group", "group", job.Group)
		return
	}

	r.scheduledRestart(job.ID)
}

// ─── Manual control ─────────────────────────────────────────────────

// ManualControl executes an operator command against a group's outlet.
//
// A successful command clears a latched fault: the operator has either
// restored power by hand or confirmed the hardware works again.
func (e *Engine) ManualControl(group, action string) error {
	switch action {
	case ActionRestart, ActionOn, ActionOff:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrNotRunning
	}
	r := e.runners[group]
	if r == nil {
		e.mu.RUnlock()
		if g, ok := findGroup(e.store.Current(), group); ok && !g.Enabled {
			return fmt.Errorf("%w: %q", ErrGroupDisabled, group)
		}
		return fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	// Commands arrive on bus goroutines, outside the group loops; join
	// the WaitGroup so shutdown also waits out a manual cycle's off
	// period instead of closing the backend underneath it.
	e.wg.Add(1)
	e.mu.RUnlock()
	defer e.wg.Done()

	return r.manualControl(action)
}

func (e *Engine) handleCommand(topic string, payload []byte) error {
	group := mqtt.CommandGroup(topic)
	if group == "" {
		return fmt.Errorf("malformed command topic %q", topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		e.ack(group, CommandAck{Error: "malformed payload", Time: time.Now()})
		return fmt.Errorf("decoding command for %q: %w", group, err)
	}

	err := e.ManualControl(group, cmd.Action)

	ack := CommandAck{Action: cmd.Action, OK: err == nil, Time: time.Now()}
	if err != nil {
		ack.Error = err.Error()
	}
	e.ack(group, ack)

	return err
}

func (e *Engine) ack(group string, ack CommandAck) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := e.bus.Publish(e.topics.CommandAck(group), payload, 1, false); err != nil {
		e.logger.Warn("command ack publish failed", "group", group, "error", err)
	}
}

// ─── Status ─────────────────────────────────────────────────────────

// Status returns the current status of one group. Disabled groups
// report StateDisabled.
func (e *Engine) Status(group string) (GroupStatus, error) {
	e.mu.RLock()
	r := e.runners[group]
	e.mu.RUnlock()

	if r != nil {
		return r.status(), nil
	}

	snap := e.store.Current()
	if g, ok := findGroup(snap, group); ok {
		return e.disabledStatus(g, snap.Generation), nil
	}
	return GroupStatus{}, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
}

// Statuses returns the current status of every configured group,
// disabled ones included.
func (e *Engine) Statuses() []GroupStatus {
	snap := e.store.Current()

	e.mu.RLock()
	defer e.mu.RUnlock()

	statuses := make([]GroupStatus, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		if r, ok := e.runners[g.Name]; ok {
			statuses = append(statuses, r.status())
			continue
		}
		statuses = append(statuses, e.disabledStatus(g, snap.Generation))
	}
	return statuses
}

func (e *Engine) disabledStatus(g config.Group, generation uint64) GroupStatus {
	s := GroupStatus{
		Group:      g.Name,
		State:      StateDisabled,
		FailCount:  g.FailCount,
		Outlet:     g.Outlet.Name,
		UpdatedAt:  time.Now(),
		Generation: generation,
	}
	s.OutletOn, s.OutletKnown = e.actuator.State(g.Outlet.Name)
	return s
}

// SystemInfo returns a host health snapshot for the status surface.
func (e *Engine) SystemInfo() sysinfo.Info {
	return e.system.Collect()
}

// ─── Probing ────────────────────────────────────────────────────────

// probeAll probes every server in a group concurrently, bounded by the
// global concurrency gate and rate limiter.
func (e *Engine) probeAll(ctx context.Context, g config.Group) []probe.Result {
	e.mu.RLock()
	limiter := e.limiter
	sem := e.sem
	e.mu.RUnlock()

	results := make([]probe.Result, len(g.Servers))

	var wg sync.WaitGroup
	for i, srv := range g.Servers {
		wg.Add(1)
		go func(i int, srv config.Server) {
			defer wg.Done()

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					results[i] = probe.Result{Server: srv, Detail: "probe cancelled", At: time.Now()}
					return
				}
			}

			if sem != nil {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					results[i] = probe.Result{Server: srv, Detail: "probe cancelled", At: time.Now()}
					return
				}
				defer func() { <-sem }()
			}

			results[i] = e.prober.Probe(ctx, srv)
		}(i, srv)
	}
	wg.Wait()

	return results
}

// ─── System info ────────────────────────────────────────────────────

func (e *Engine) sysinfoLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(sysinfoInterval)
	defer ticker.Stop()

	e.publishSysinfo()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishSysinfo()
		}
	}
}

func (e *Engine) publishSysinfo() {
	if !e.bus.IsConnected() {
		return
	}

	payload, err := json.Marshal(e.system.Collect())
	if err != nil {
		return
	}
	if err := e.bus.Publish(e.topics.SystemInfo(), payload, 0, true); err != nil {
		e.logger.Debug("system info publish failed", "error", err)
	}
}

// ─── Publication helpers ────────────────────────────────────────────

func (e *Engine) publishGroupStatus(s GroupStatus) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := e.bus.Publish(e.topics.GroupStatus(s.Group), payload, 0, true); err != nil {
		e.logger.Debug("group status publish failed", "group", s.Group, "error", err)
	}
}

func (e *Engine) publishOutletState(outlet string) {
	if e.bus == nil {
		return
	}
	on, known := e.actuator.State(outlet)
	payload, err := json.Marshal(OutletStatus{
		Outlet:    outlet,
		On:        on,
		Known:     known,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(e.topics.OutletState(outlet), payload, 0, true); err != nil {
		e.logger.Debug("outlet state publish failed", "outlet", outlet, "error", err)
	}
}

func (e *Engine) publishEvent(ev Event) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(e.topics.Event(ev.Type), payload, 1, false); err != nil {
		e.logger.Debug("event publish failed", "type", ev.Type, "error", err)
	}
}
