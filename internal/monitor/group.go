package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maraxa/powerwatch-core/internal/gpio"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
	"github.com/maraxa/powerwatch-core/internal/probe"
	"github.com/maraxa/powerwatch-core/internal/stats"
)

// groupRunner owns one group's check loop and state machine.
type groupRunner struct {
	e    *Engine
	name string

	mu        sync.Mutex
	m         *machine
	servers   []ServerStatus
	lastCycle time.Time
	updatedAt time.Time
	outlet    string
	failCount int
	gen       uint64
	finished  bool
}

func newGroupRunner(e *Engine, name string, g config.Group) *groupRunner {
	return &groupRunner{
		e:         e,
		name:      name,
		m:         newMachine(g.FailCount, g.Cooldown(e.store.Current().PostResetCooldown)),
		outlet:    g.Outlet.Name,
		failCount: g.FailCount,
	}
}

// run is the group's check loop. The snapshot is re-read every cycle;
// the loop exits when the group disappears from configuration or is
// disabled, and the reconcile loop cleans up after it.
func (r *groupRunner) run(ctx context.Context) {
	defer r.markDone()

	for {
		snap := r.e.store.Current()
		g, ok := findGroup(snap, r.name)
		if !ok || !g.Enabled {
			r.e.logger.Info("group loop exiting", "group", r.name)
			return
		}

		r.refresh(snap, g)
		r.evaluate(ctx, snap, g)

		timer := time.NewTimer(snap.CheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// refresh picks up threshold changes from a reloaded snapshot without
// discarding accumulated state.
func (r *groupRunner) refresh(snap *config.Snapshot, g config.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m.failCount = g.FailCount
	r.m.cooldown = g.Cooldown(snap.PostResetCooldown)
	r.outlet = g.Outlet.Name
	r.failCount = g.FailCount
	r.gen = snap.Generation
}

// evaluate runs one check cycle: probe, aggregate, transition, act.
func (r *groupRunner) evaluate(ctx context.Context, snap *config.Snapshot, g config.Group) {
	results := r.e.probeAll(ctx, g)
	if ctx.Err() != nil {
		return
	}

	for _, res := range results {
		r.recordProbe(g, res)
	}

	failed := aggregateFailed(g.Policy, results)
	now := time.Now()

	r.mu.Lock()
	tr := r.m.observe(failed, now)
	r.servers = serverStatuses(results)
	r.updatedAt = now
	r.mu.Unlock()

	if tr.From != tr.To {
		r.stateChanged(g, tr)
	}

	if tr.ShouldCycle {
		r.e.logger.Warn("failure threshold reached",
			"group", r.name,
			"outlet", g.Outlet.Name,
			"fail_count", g.FailCount,
		)
		r.e.publishGroupStatus(r.status())
		r.powerCycle(g, stats.EventPowerCycle, "failure threshold reached")
	}

	r.e.publishGroupStatus(r.status())
}

func (r *groupRunner) recordProbe(g config.Group, res probe.Result) {
	r.e.recorder.Record(stats.Entry{
		Type:      stats.EventProbe,
		Group:     g.Name,
		Server:    res.Server.Address,
		Success:   res.Up,
		LatencyMs: latencyMs(res.Latency),
		Detail:    res.Detail,
		Time:      res.At,
	})

	if r.e.metrics != nil {
		r.e.metrics.WriteProbeSample(g.Name, res.Server.Address, res.Server.Method, res.Up, res.Latency)
	}
}

func (r *groupRunner) stateChanged(g config.Group, tr transition) {
	r.e.logger.Info("group state changed",
		"group", r.name,
		"from", tr.From,
		"to", tr.To,
	)

	r.e.recorder.Record(stats.Entry{
		Type:    stats.EventStateChange,
		Group:   g.Name,
		Success: tr.To == StateHealthy,
		Detail:  fmt.Sprintf("%s -> %s", tr.From, tr.To),
	})

	if r.e.metrics != nil {
		r.mu.Lock()
		failures := r.m.failures
		r.mu.Unlock()
		r.e.metrics.WriteGroupState(g.Name, string(tr.To), failures)
	}

	r.e.publishEvent(Event{
		Type:  string(stats.EventStateChange),
		Group: g.Name,
		From:  tr.From,
		To:    tr.To,
		OK:    tr.To == StateHealthy,
		Time:  time.Now(),
	})
}

// powerCycle actuates the group's outlet and feeds the outcome back
// into the state machine. A busy outlet (a manual cycle already in
// flight) backs off to degraded rather than faulting.
func (r *groupRunner) powerCycle(g config.Group, eventType stats.EventType, detail string) {
	err := r.e.actuator.Cycle(g.Outlet.Name, g.OffTime)
	now := time.Now()

	if errors.Is(err, gpio.ErrOutletBusy) {
		r.e.logger.Warn("outlet busy, cycle skipped", "group", r.name, "outlet", g.Outlet.Name)
		r.mu.Lock()
		r.m.cycleSkipped()
		r.mu.Unlock()
		return
	}

	ok := err == nil
	if ok {
		r.e.logger.Info("power cycle succeeded", "group", r.name, "outlet", g.Outlet.Name)
	} else {
		r.e.logger.Error("power cycle failed",
			"group", r.name,
			"outlet", g.Outlet.Name,
			"error", err,
		)
		detail = err.Error()
	}

	r.mu.Lock()
	tr := r.m.cycled(ok, now)
	if ok {
		r.lastCycle = now
	}
	r.mu.Unlock()

	r.e.recorder.Record(stats.Entry{
		Type:    eventType,
		Group:   g.Name,
		Success: ok,
		Detail:  detail,
	})
	if r.e.metrics != nil {
		r.e.metrics.WriteActuation(g.Name, g.Outlet.Name, string(eventType), ok)
	}

	r.e.publishEvent(Event{
		Type:   string(eventType),
		Group:  g.Name,
		Outlet: g.Outlet.Name,
		From:   tr.From,
		To:     tr.To,
		OK:     ok,
		Detail: detail,
		Time:   now,
	})
	r.e.publishOutletState(g.Outlet.Name)
}

// scheduledRestart performs one maintenance restart. Skipped while a
// cycle is in flight or the group is faulted.
func (r *groupRunner) scheduledRestart(jobID string) {
	r.mu.Lock()
	state := r.m.state
	r.mu.Unlock()

	if state == StateResetting || state == StateFault {
		r.e.logger.Warn("maintenance restart skipped",
			"group", r.name,
			"state", state,
			"rule", jobID,
		)
		return
	}

	snap := r.e.store.Current()
	g, ok := findGroup(snap, r.name)
	if !ok {
		return
	}

	r.e.logger.Info("maintenance restart", "group", r.name, "rule", jobID)
	r.powerCycle(g, stats.EventScheduledRestart, "maintenance restart "+jobID)
	r.e.publishGroupStatus(r.status())
}

// manualControl executes an operator command. Success clears a latched
// fault; a failed manual cycle latches one, since the outlet may have
// been left off.
func (r *groupRunner) manualControl(action string) error {
	snap := r.e.store.Current()
	g, ok := findGroup(snap, r.name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, r.name)
	}

	var err error
	switch action {
	case ActionRestart:
		err = r.e.actuator.Cycle(g.Outlet.Name, g.OffTime)
		if !errors.Is(err, gpio.ErrOutletBusy) {
			now := time.Now()
			r.mu.Lock()
			r.m.cycled(err == nil, now)
			if err == nil {
				r.lastCycle = now
			}
			r.mu.Unlock()
		}
	case ActionOn:
		err = r.e.actuator.SetState(g.Outlet.Name, true)
	case ActionOff:
		err = r.e.actuator.SetState(g.Outlet.Name, false)
	}

	if err == nil && action != ActionRestart {
		r.mu.Lock()
		cleared := r.m.clearFault()
		r.mu.Unlock()
		if cleared {
			r.e.logger.Info("fault cleared by manual control", "group", r.name)
		}
	}

	detail := action
	if err != nil {
		detail = err.Error()
	}
	r.e.recorder.Record(stats.Entry{
		Type:    stats.EventManualControl,
		Group:   g.Name,
		Success: err == nil,
		Detail:  detail,
	})
	if r.e.metrics != nil {
		r.e.metrics.WriteActuation(g.Name, g.Outlet.Name, action, err == nil)
	}

	r.e.publishEvent(Event{
		Type:   string(stats.EventManualControl),
		Group:  g.Name,
		Outlet: g.Outlet.Name,
		OK:     err == nil,
		Detail: detail,
		Time:   time.Now(),
	})
	r.e.publishOutletState(g.Outlet.Name)
	r.e.publishGroupStatus(r.status())

	return err
}

func (r *groupRunner) clearFault() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m.clearFault()
}

func (r *groupRunner) status() GroupStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := GroupStatus{
		Group:      r.name,
		State:      r.m.state,
		Failures:   r.m.failures,
		FailCount:  r.failCount,
		Outlet:     r.outlet,
		Servers:    r.servers,
		UpdatedAt:  r.updatedAt,
		Generation: r.gen,
	}
	s.OutletOn, s.OutletKnown = r.e.actuator.State(r.outlet)
	if !r.m.cooldownUntil.IsZero() {
		t := r.m.cooldownUntil
		s.CooldownUntil = &t
	}
	if !r.lastCycle.IsZero() {
		t := r.lastCycle
		s.LastCycle = &t
	}
	return s
}

func (r *groupRunner) markDone() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
}

func (r *groupRunner) done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// aggregateFailed applies the group's failure policy to one cycle's
// probe results.
func aggregateFailed(policy string, results []probe.Result) bool {
	if len(results) == 0 {
		return false
	}

	switch policy {
	case config.PolicyAnyFail:
		for _, res := range results {
			if !res.Up {
				return true
			}
		}
		return false
	default:
		for _, res := range results {
			if res.Up {
				return false
			}
		}
		return true
	}
}

func serverStatuses(results []probe.Result) []ServerStatus {
	statuses := make([]ServerStatus, len(results))
	for i, res := range results {
		statuses[i] = ServerStatus{
			Address:   res.Server.Address,
			Method:    res.Server.Method,
			Up:        res.Up,
			LatencyMs: latencyMs(res.Latency),
			Detail:    res.Detail,
		}
	}
	return statuses
}

func latencyMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func findGroup(snap *config.Snapshot, name string) (config.Group, bool) {
	for _, g := range snap.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return config.Group{}, false
}
