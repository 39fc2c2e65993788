package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maraxa/powerwatch-core/internal/gpio"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/mqtt"
	"github.com/maraxa/powerwatch-core/internal/probe"
	"github.com/maraxa/powerwatch-core/internal/stats"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeProber struct {
	mu sync.Mutex
	up map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{up: make(map[string]bool)}
}

func (p *fakeProber) set(addr string, up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up[addr] = up
}

func (p *fakeProber) Probe(_ context.Context, srv config.Server) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := probe.Result{Server: srv, Up: p.up[srv.Address], At: time.Now()}
	if res.Up {
		res.Latency = 2 * time.Millisecond
	} else {
		res.Detail = "no reply"
	}
	return res
}

type fakeActuator struct {
	mu       sync.Mutex
	cycles   []string
	sets     []string
	cycleErr error
	setErr   error
	on       map[string]bool

	// cycleStarted signals each Cycle entry; cycleGate, when set, holds
	// the cycle mid off-wait until closed.
	cycleStarted chan struct{}
	cycleGate    chan struct{}
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{on: make(map[string]bool)}
}

func (a *fakeActuator) Cycle(name string, _ time.Duration) error {
	if a.cycleStarted != nil {
		a.cycleStarted <- struct{}{}
	}
	if a.cycleGate != nil {
		<-a.cycleGate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cycles = append(a.cycles, name)
	if a.cycleErr != nil {
		return a.cycleErr
	}
	a.on[name] = true
	return nil
}

func (a *fakeActuator) SetState(name string, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sets = append(a.sets, fmt.Sprintf("%s=%v", name, on))
	if a.setErr != nil {
		return a.setErr
	}
	a.on[name] = on
	return nil
}

func (a *fakeActuator) State(name string) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	on, known := a.on[name]
	return on, known
}

func (a *fakeActuator) cycleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cycles)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []stats.Entry
}

func (r *fakeRecorder) Record(e stats.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *fakeRecorder) countByType(t stats.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	subs      map[string]mqtt.MessageHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		subs:      make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *fakeBus) IsConnected() bool { return true }

func (b *fakeBus) lastPayload(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.published[topic]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// ─── Fixtures ───────────────────────────────────────────────────────

func testGroup(failCount int, policy string, addrs ...string) config.GroupConfig {
	g := config.GroupConfig{
		Name:      "lan",
		Outlet:    "rack-a",
		FailCount: failCount,
		OffTime:   1,
		Enabled:   true,
		Policy:    policy,
	}
	for _, addr := range addrs {
		g.Servers = append(g.Servers, config.ServerConfig{Address: addr, Method: "ping"})
	}
	return g
}

func testEngine(t *testing.T, g config.GroupConfig, prober Prober, act Actuator) (*Engine, *groupRunner, *fakeRecorder) {
	t.Helper()

	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			CheckInterval:       5,
			ProbeTimeout:        1,
			MaxConcurrentProbes: 4,
			PostResetCooldown:   30,
		},
		Outlets: []config.OutletConfig{
			{Name: "rack-a", GPIOPin: 17, ActiveHigh: true},
		},
		Groups: []config.GroupConfig{g},
	}

	snap, err := config.BuildSnapshot(cfg)
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}

	rec := &fakeRecorder{}
	e := New(config.NewStore(snap), prober, act, rec, nil, nil, nil)

	r := newGroupRunner(e, g.Name, snap.Groups[0])
	e.runners[g.Name] = r
	e.running = true

	return e, r, rec
}

func (r *groupRunner) check(ctx context.Context) {
	snap := r.e.store.Current()
	g, _ := findGroup(snap, r.name)
	r.refresh(snap, g)
	r.evaluate(ctx, snap, g)
}

// ─── Failure and recovery ───────────────────────────────────────────

func TestEngine_ThresholdCyclesOutlet(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	_, r, rec := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	ctx := context.Background()

	r.check(ctx)
	if act.cycleCount() != 0 {
		t.Fatal("cycled before threshold")
	}

	r.check(ctx)
	if act.cycleCount() != 1 {
		t.Fatalf("cycles = %d after threshold, want 1", act.cycleCount())
	}

	status := r.status()
	if status.State != StateCooldown {
		t.Errorf("state = %s after cycle, want cooldown", status.State)
	}
	if status.CooldownUntil == nil {
		t.Error("CooldownUntil not set after cycle")
	}
	if rec.countByType(stats.EventPowerCycle) != 1 {
		t.Errorf("power_cycle events = %d, want 1", rec.countByType(stats.EventPowerCycle))
	}
}

func TestEngine_RecoveryReturnsHealthy(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	_, r, rec := testEngine(t, testGroup(3, "all", "10.0.0.1"), prober, act)

	ctx := context.Background()

	r.check(ctx)
	prober.set("10.0.0.1", true)
	r.check(ctx)

	status := r.status()
	if status.State != StateHealthy || status.Failures != 0 {
		t.Errorf("status = %s/%d, want healthy/0", status.State, status.Failures)
	}
	if rec.countByType(stats.EventStateChange) != 2 {
		t.Errorf("state_change events = %d, want 2 (degrade + recover)", rec.countByType(stats.EventStateChange))
	}
	if act.cycleCount() != 0 {
		t.Error("outlet cycled despite recovery")
	}
}

func TestEngine_CooldownSuppressesActuation(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	_, r, _ := testEngine(t, testGroup(1, "all", "10.0.0.1"), prober, act)

	ctx := context.Background()

	r.check(ctx)
	if act.cycleCount() != 1 {
		t.Fatalf("cycles = %d, want 1", act.cycleCount())
	}

	// Servers still down, but the cooldown holds.
	r.check(ctx)
	r.check(ctx)
	if act.cycleCount() != 1 {
		t.Fatalf("cycles = %d during cooldown, want 1", act.cycleCount())
	}

	// Force the cooldown to expire; the threshold must re-accumulate
	// before the next cycle fires.
	r.mu.Lock()
	r.m.cooldownUntil = time.Now().Add(-time.Second)
	r.mu.Unlock()

	r.check(ctx)
	if act.cycleCount() != 2 {
		t.Errorf("cycles = %d after cooldown expiry, want 2", act.cycleCount())
	}
}

func TestEngine_FaultOnFailedCycle(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	act.cycleErr = gpio.ErrActuationFailed
	_, r, rec := testEngine(t, testGroup(1, "all", "10.0.0.1"), prober, act)

	ctx := context.Background()

	r.check(ctx)
	if got := r.status().State; got != StateFault {
		t.Fatalf("state = %s after failed cycle, want fault", got)
	}

	// Faulted groups keep probing but never actuate on their own.
	r.check(ctx)
	r.check(ctx)
	if act.cycleCount() != 1 {
		t.Errorf("cycles = %d in fault, want 1", act.cycleCount())
	}
	if rec.countByType(stats.EventProbe) < 3 {
		t.Error("probing stopped in fault state")
	}
}

func TestEngine_BusyOutletBacksOff(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	act.cycleErr = gpio.ErrOutletBusy
	_, r, _ := testEngine(t, testGroup(1, "all", "10.0.0.1"), prober, act)

	r.check(context.Background())

	if got := r.status().State; got != StateDegraded {
		t.Errorf("state = %s after busy outlet, want degraded", got)
	}
}

// ─── Policy aggregation ─────────────────────────────────────────────

func TestAggregateFailed(t *testing.T) {
	up := probe.Result{Up: true}
	down := probe.Result{Up: false}

	tests := []struct {
		name    string
		policy  string
		results []probe.Result
		want    bool
	}{
		{"all policy, all down", config.PolicyAllFail, []probe.Result{down, down}, true},
		{"all policy, one up", config.PolicyAllFail, []probe.Result{down, up}, false},
		{"any policy, one down", config.PolicyAnyFail, []probe.Result{down, up}, true},
		{"any policy, all up", config.PolicyAnyFail, []probe.Result{up, up}, false},
		{"no results", config.PolicyAllFail, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregateFailed(tt.policy, tt.results); got != tt.want {
				t.Errorf("aggregateFailed(%s) = %v, want %v", tt.policy, got, tt.want)
			}
		})
	}
}

func TestEngine_AnyPolicyCyclesOnSingleFailure(t *testing.T) {
	prober := newFakeProber()
	prober.set("10.0.0.1", true)
	act := newFakeActuator()
	_, r, _ := testEngine(t, testGroup(1, "any", "10.0.0.1", "10.0.0.2"), prober, act)

	r.check(context.Background())

	if act.cycleCount() != 1 {
		t.Errorf("cycles = %d with one server down under any policy, want 1", act.cycleCount())
	}
}

// ─── Manual control ─────────────────────────────────────────────────

func TestEngine_ManualControl(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, _, rec := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	if err := e.ManualControl("lan", ActionOff); err != nil {
		t.Fatalf("ManualControl(off) error = %v", err)
	}
	if err := e.ManualControl("lan", ActionOn); err != nil {
		t.Fatalf("ManualControl(on) error = %v", err)
	}
	if err := e.ManualControl("lan", ActionRestart); err != nil {
		t.Fatalf("ManualControl(restart) error = %v", err)
	}

	if len(act.sets) != 2 || act.cycleCount() != 1 {
		t.Errorf("actuations = %v + %d cycles, want 2 sets and 1 cycle", act.sets, act.cycleCount())
	}
	if rec.countByType(stats.EventManualControl) != 3 {
		t.Errorf("manual_control events = %d, want 3", rec.countByType(stats.EventManualControl))
	}
}

func TestEngine_ManualControlValidation(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, _, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	if err := e.ManualControl("nonexistent", ActionOn); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("unknown group error = %v, want ErrUnknownGroup", err)
	}
	if err := e.ManualControl("lan", "reboot"); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("bad action error = %v, want ErrInvalidAction", err)
	}

	// A weird action must be rejected before it could actuate anything.
	if act.cycleCount() != 0 || len(act.sets) != 0 {
		t.Errorf("actuations = %v + %d cycles after rejected commands, want none", act.sets, act.cycleCount())
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	if err := e.ManualControl("lan", ActionOn); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stopped engine error = %v, want ErrNotRunning", err)
	}
}

func TestEngine_ManualControlClearsFault(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	act.cycleErr = gpio.ErrActuationFailed
	e, r, _ := testEngine(t, testGroup(1, "all", "10.0.0.1"), prober, act)

	r.check(context.Background())
	if got := r.status().State; got != StateFault {
		t.Fatalf("state = %s, want fault", got)
	}

	if err := e.ManualControl("lan", ActionOn); err != nil {
		t.Fatalf("ManualControl(on) error = %v", err)
	}
	if got := r.status().State; got != StateHealthy {
		t.Errorf("state = %s after manual recovery, want healthy", got)
	}
}

// ─── MQTT commands ──────────────────────────────────────────────────

func TestEngine_HandleCommand(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, _, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	bus := newFakeBus()
	e.bus = bus

	payload, _ := json.Marshal(Command{Action: ActionRestart})
	if err := e.handleCommand("powerwatch/command/lan", payload); err != nil {
		t.Fatalf("handleCommand() error = %v", err)
	}

	if act.cycleCount() != 1 {
		t.Errorf("cycles = %d after command, want 1", act.cycleCount())
	}

	ackPayload := bus.lastPayload("powerwatch/ack/lan")
	if ackPayload == nil {
		t.Fatal("no ack published")
	}
	var ack CommandAck
	if err := json.Unmarshal(ackPayload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if !ack.OK || ack.Action != ActionRestart {
		t.Errorf("ack = %+v, want OK cycle", ack)
	}
}

func TestEngine_HandleCommandRejectsBadInput(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, _, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	bus := newFakeBus()
	e.bus = bus

	if err := e.handleCommand("powerwatch/command/", []byte(`{}`)); err == nil {
		t.Error("expected error for malformed topic")
	}

	if err := e.handleCommand("powerwatch/command/lan", []byte("{not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	var ack CommandAck
	if err := json.Unmarshal(bus.lastPayload("powerwatch/ack/lan"), &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ack.OK {
		t.Error("malformed payload acked as OK")
	}
}

// ─── Scheduled restarts ─────────────────────────────────────────────

func TestEngine_ScheduledRestart(t *testing.T) {
	prober := newFakeProber()
	prober.set("10.0.0.1", true)
	act := newFakeActuator()
	_, r, rec := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	r.scheduledRestart("lan/0")

	if act.cycleCount() != 1 {
		t.Fatalf("cycles = %d after maintenance restart, want 1", act.cycleCount())
	}
	if rec.countByType(stats.EventScheduledRestart) != 1 {
		t.Errorf("scheduled_restart events = %d, want 1", rec.countByType(stats.EventScheduledRestart))
	}
	if got := r.status().State; got != StateCooldown {
		t.Errorf("state = %s after maintenance restart, want cooldown", got)
	}
}

func TestEngine_ScheduledRestartSkipsFault(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	act.cycleErr = gpio.ErrActuationFailed
	_, r, _ := testEngine(t, testGroup(1, "all", "10.0.0.1"), prober, act)

	r.check(context.Background())
	if got := r.status().State; got != StateFault {
		t.Fatalf("state = %s, want fault", got)
	}

	before := act.cycleCount()
	r.scheduledRestart("lan/0")
	if act.cycleCount() != before {
		t.Error("maintenance restart actuated a faulted group")
	}
}

// ─── Status publication ─────────────────────────────────────────────

func TestEngine_PublishesGroupStatus(t *testing.T) {
	prober := newFakeProber()
	prober.set("10.0.0.1", true)
	act := newFakeActuator()
	e, r, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	bus := newFakeBus()
	e.bus = bus

	r.check(context.Background())

	payload := bus.lastPayload("powerwatch/group/lan/status")
	if payload == nil {
		t.Fatal("no group status published")
	}

	var status GroupStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Group != "lan" || status.State != StateHealthy {
		t.Errorf("status = %s/%s, want lan/healthy", status.Group, status.State)
	}
	if status.Outlet != "rack-a" {
		t.Errorf("outlet = %q, want rack-a", status.Outlet)
	}
	if len(status.Servers) != 1 || !status.Servers[0].Up {
		t.Errorf("servers = %+v, want one up server", status.Servers)
	}
}

func TestEngine_StatusCarriesOutletState(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, r, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	status := r.status()
	if status.Outlet != "rack-a" {
		t.Fatalf("outlet = %q, want rack-a", status.Outlet)
	}
	if status.OutletKnown {
		t.Error("outlet state known before any actuation")
	}

	if err := e.ManualControl("lan", ActionOn); err != nil {
		t.Fatalf("ManualControl(on) error = %v", err)
	}

	status = r.status()
	if !status.OutletKnown || !status.OutletOn {
		t.Errorf("outlet state = on:%v known:%v after manual on, want on and known", status.OutletOn, status.OutletKnown)
	}
}

func TestEngine_Statuses(t *testing.T) {
	prober := newFakeProber()
	act := newFakeActuator()
	e, _, _ := testEngine(t, testGroup(2, "all", "10.0.0.1"), prober, act)

	statuses := e.Statuses()
	if len(statuses) != 1 || statuses[0].Group != "lan" {
		t.Errorf("Statuses() = %+v, want one entry for lan", statuses)
	}

	if _, err := e.Status("nonexistent"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Status(unknown) error = %v, want ErrUnknownGroup", err)
	}
}

func TestEngine_DisabledGroupReportsDisabled(t *testing.T) {
	g := testGroup(2, "all", "10.0.0.1")
	g.Enabled = false

	cfg := &config.Config{
		Monitor: config.MonitorConfig{CheckInterval: 5, ProbeTimeout: 1, MaxConcurrentProbes: 4, PostResetCooldown: 30},
		Outlets: []config.OutletConfig{{Name: "rack-a", GPIOPin: 17, ActiveHigh: true}},
		Groups:  []config.GroupConfig{g},
	}
	snap, err := config.BuildSnapshot(cfg)
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}

	e := New(config.NewStore(snap), newFakeProber(), newFakeActuator(), &fakeRecorder{}, nil, nil, nil)

	status, err := e.Status("lan")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != StateDisabled {
		t.Errorf("state = %s for disabled group, want disabled", status.State)
	}

	statuses := e.Statuses()
	if len(statuses) != 1 || statuses[0].State != StateDisabled {
		t.Errorf("Statuses() = %+v, want one disabled entry", statuses)
	}
	if statuses[0].Outlet != "rack-a" {
		t.Errorf("disabled group outlet = %q, want rack-a", statuses[0].Outlet)
	}

	// Commands against a disabled group name the real reason.
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	if err := e.ManualControl("lan", ActionOn); !errors.Is(err, ErrGroupDisabled) {
		t.Errorf("ManualControl(disabled) error = %v, want ErrGroupDisabled", err)
	}
}

// ─── Shutdown ───────────────────────────────────────────────────────

func TestEngine_ShutdownWaitsForManualCycle(t *testing.T) {
	g := testGroup(10, "all", "10.0.0.1")

	cfg := &config.Config{
		Monitor: config.MonitorConfig{CheckInterval: 5, ProbeTimeout: 1, MaxConcurrentProbes: 4, PostResetCooldown: 30},
		Outlets: []config.OutletConfig{{Name: "rack-a", GPIOPin: 17, ActiveHigh: true}},
		Groups:  []config.GroupConfig{g},
	}
	snap, err := config.BuildSnapshot(cfg)
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}

	prober := newFakeProber()
	prober.set("10.0.0.1", true)
	act := newFakeActuator()
	act.cycleStarted = make(chan struct{}, 1)
	act.cycleGate = make(chan struct{})

	e := New(config.NewStore(snap), prober, act, &fakeRecorder{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		e.Run(ctx) //nolint:errcheck
		close(runDone)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		e.mu.RLock()
		ready := e.running && e.runners["lan"] != nil
		e.mu.RUnlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cmdErr := make(chan error, 1)
	go func() { cmdErr <- e.ManualControl("lan", ActionRestart) }()

	// The command is mid off-wait when shutdown lands; the engine must
	// not return until the outlet is powered back on.
	<-act.cycleStarted
	cancel()

	select {
	case <-runDone:
		t.Fatal("Run returned while a manual cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(act.cycleGate)
	if err := <-cmdErr; err != nil {
		t.Fatalf("ManualControl(restart) error = %v", err)
	}
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the cycle completed")
	}
	if on, known := act.State("rack-a"); !on || !known {
		t.Errorf("outlet = on:%v known:%v after shutdown, want on", on, known)
	}
}
