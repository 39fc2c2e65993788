package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Failure aggregation policies for a group.
const (
	// PolicyAllFail triggers recovery only when every server in the
	// group fails its probe (the default).
	PolicyAllFail = "all"

	// PolicyAnyFail triggers recovery when any single server fails.
	PolicyAnyFail = "any"
)

// Probe methods for a monitored server.
const (
	MethodPing = "ping"
	MethodHTTP = "http"
	MethodTCP  = "tcp"
)

// Schedule recurrence kinds.
const (
	ScheduleInterval = "interval"
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
)

// Snapshot is an immutable, fully resolved view of the monitoring
// configuration. Once built it is never mutated; reload replaces the
// whole snapshot atomically via Store.Swap.
type Snapshot struct {
	// Generation increments on every successful swap. Group loops use
	// it to detect that their configuration is stale.
	Generation uint64

	CheckInterval       time.Duration
	ProbeTimeout        time.Duration
	MaxConcurrentProbes int
	ProbeRate           float64
	PostResetCooldown   time.Duration

	Outlets map[string]Outlet
	Groups  []Group
}

// Outlet is a resolved power output.
type Outlet struct {
	Name       string
	GPIOPin    int
	ActiveHigh bool
}

// Group is a resolved monitoring group.
type Group struct {
	Name      string
	Servers   []Server
	Outlet    Outlet
	FailCount int
	OffTime   time.Duration
	Enabled   bool
	Policy    string
	Schedules []Schedule
}

// Server is a resolved probe target.
type Server struct {
	Address      string
	Method       string
	Port         int
	ExpectStatus int
}

// Schedule is a resolved maintenance-restart rule.
type Schedule struct {
	Type    string
	Every   time.Duration
	Hour    int
	Minute  int
	Day     time.Weekday
	Enabled bool
}

// Cooldown returns the effective post-reset cooldown for the group:
// the larger of the group's off time and the global minimum.
func (g Group) Cooldown(minimum time.Duration) time.Duration {
	if g.OffTime > minimum {
		return g.OffTime
	}
	return minimum
}

// BuildSnapshot resolves a validated Config into an immutable Snapshot.
//
// Beyond Validate's per-field checks, this enforces cross-references:
// outlet names must be unique, GPIO pins must not be shared between
// outlets, group names must be unique, and every group must reference
// a defined outlet. Schedule rules are parsed here so that a malformed
// rule rejects the whole snapshot rather than surfacing at fire time.
//
// Returns:
//   - *Snapshot: Resolved snapshot with Generation 0
//   - error: ErrSnapshot-wrapped description of the first failure
func BuildSnapshot(cfg *Config) (*Snapshot, error) {
	snap := &Snapshot{
		CheckInterval:       cfg.CheckInterval(),
		ProbeTimeout:        cfg.ProbeTimeout(),
		MaxConcurrentProbes: cfg.Monitor.MaxConcurrentProbes,
		ProbeRate:           cfg.Monitor.ProbeRate,
		PostResetCooldown:   cfg.PostResetCooldown(),
		Outlets:             make(map[string]Outlet, len(cfg.Outlets)),
	}

	pins := make(map[int]string, len(cfg.Outlets))
	for _, o := range cfg.Outlets {
		if o.Name == "" {
			return nil, fmt.Errorf("%w: outlet name is required", ErrSnapshot)
		}
		if _, dup := snap.Outlets[o.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate outlet %q", ErrSnapshot, o.Name)
		}
		if o.GPIOPin < 0 {
			return nil, fmt.Errorf("%w: outlet %q: gpio_pin must not be negative", ErrSnapshot, o.Name)
		}
		if prev, dup := pins[o.GPIOPin]; dup {
			return nil, fmt.Errorf("%w: outlets %q and %q share gpio_pin %d", ErrSnapshot, prev, o.Name, o.GPIOPin)
		}
		pins[o.GPIOPin] = o.Name
		snap.Outlets[o.Name] = Outlet{Name: o.Name, GPIOPin: o.GPIOPin, ActiveHigh: o.ActiveHigh}
	}

	names := make(map[string]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		if names[g.Name] {
			return nil, fmt.Errorf("%w: duplicate group %q", ErrSnapshot, g.Name)
		}
		names[g.Name] = true

		outlet, ok := snap.Outlets[g.Outlet]
		if !ok {
			return nil, fmt.Errorf("%w: group %q references unknown outlet %q", ErrSnapshot, g.Name, g.Outlet)
		}
		if len(g.Servers) == 0 {
			return nil, fmt.Errorf("%w: group %q has no servers", ErrSnapshot, g.Name)
		}

		group := Group{
			Name:      g.Name,
			Outlet:    outlet,
			FailCount: g.FailCount,
			OffTime:   time.Duration(g.OffTime) * time.Second,
			Enabled:   g.Enabled,
			Policy:    g.Policy,
		}
		if group.Policy == "" {
			group.Policy = PolicyAllFail
		}

		for _, s := range g.Servers {
			srv, err := resolveServer(s)
			if err != nil {
				return nil, fmt.Errorf("%w: group %q: %v", ErrSnapshot, g.Name, err)
			}
			group.Servers = append(group.Servers, srv)
		}

		for _, sc := range g.Schedules {
			rule, err := resolveSchedule(sc)
			if err != nil {
				return nil, fmt.Errorf("%w: group %q: %v", ErrSnapshot, g.Name, err)
			}
			group.Schedules = append(group.Schedules, rule)
		}

		snap.Groups = append(snap.Groups, group)
	}

	return snap, nil
}

func resolveServer(s ServerConfig) (Server, error) {
	if s.Address == "" {
		return Server{}, fmt.Errorf("server address is required")
	}

	srv := Server{
		Address:      s.Address,
		Method:       s.Method,
		Port:         s.Port,
		ExpectStatus: s.ExpectStatus,
	}

	switch srv.Method {
	case "":
		srv.Method = MethodPing
	case MethodPing, MethodHTTP, MethodTCP:
	default:
		return Server{}, fmt.Errorf("server %q: unknown method %q", s.Address, s.Method)
	}

	if srv.Port == 0 {
		switch srv.Method {
		case MethodHTTP:
			srv.Port = 80
		case MethodTCP:
			return Server{}, fmt.Errorf("server %q: tcp probe requires a port", s.Address)
		}
	}
	if srv.Port < 0 || srv.Port > 65535 {
		return Server{}, fmt.Errorf("server %q: port %d out of range", s.Address, srv.Port)
	}

	return srv, nil
}

func resolveSchedule(sc ScheduleConfig) (Schedule, error) {
	rule := Schedule{Type: sc.Type, Enabled: sc.Enabled}

	switch sc.Type {
	case ScheduleInterval:
		d, err := time.ParseDuration(sc.Every)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule: invalid interval %q: %v", sc.Every, err)
		}
		if d < time.Minute {
			return Schedule{}, fmt.Errorf("schedule: interval %q below 1m minimum", sc.Every)
		}
		rule.Every = d

	case ScheduleWeekly:
		day, err := parseWeekday(sc.Day)
		if err != nil {
			return Schedule{}, err
		}
		rule.Day = day
		fallthrough

	case ScheduleDaily:
		h, m, err := parseClock(sc.At)
		if err != nil {
			return Schedule{}, err
		}
		rule.Hour, rule.Minute = h, m

	default:
		return Schedule{}, fmt.Errorf("schedule: unknown type %q", sc.Type)
	}

	return rule, nil
}

// parseClock parses a "HH:MM" local time of day.
func parseClock(s string) (hour, minute int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("schedule: invalid time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("schedule: time %q out of range", s)
	}
	return h, m, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("schedule: unknown weekday %q", s)
}

// Store holds the current Snapshot and supports atomic replacement on
// configuration reload. Readers call Current on every use and never
// retain a snapshot across check cycles.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with an initial snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot. The returned value must be
// treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap rebuilds a snapshot from cfg and installs it atomically. On any
// validation or build failure the previous snapshot remains active and
// the error is returned.
func (s *Store) Swap(cfg *Config) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	next, err := BuildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	next.Generation = s.current.Load().Generation + 1
	s.current.Store(next)
	return next, nil
}
