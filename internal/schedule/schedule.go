package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// Job is one scheduled maintenance restart for a group.
type Job struct {
	// ID identifies the job across reloads ("<group>/<index>").
	ID string

	// Group is the monitoring group to restart.
	Group string

	// Rule is the resolved recurrence rule.
	Rule config.Schedule
}

// jobState pairs a job with its next fire time.
type jobState struct {
	job  Job
	next time.Time
}

// Scheduler tracks maintenance-restart jobs and reports which are due.
//
// The scheduler is deliberately passive: it owns no goroutine. The
// monitor engine calls Tick on its own cadence and acts on the due
// jobs it gets back. Testing against a passive scheduler needs no
// clock mocking, just explicit times.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*jobState
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// SetJobs replaces the job set, computing each job's first fire time
// strictly after now. Called at startup and on configuration reload.
//
// Replacing the whole set on reload means an edited rule never fires
// from stale state; the cost is that an interval rule restarts its
// countdown, which is acceptable for maintenance restarts.
//
// Disabled rules are dropped here so Tick never has to re-check.
func (s *Scheduler) SetJobs(jobs []Job, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = s.jobs[:0]
	for _, job := range jobs {
		if !job.Rule.Enabled {
			continue
		}
		s.jobs = append(s.jobs, &jobState{
			job:  job,
			next: nextAfter(job.Rule, now),
		})
	}
}

// JobsForGroups builds the job list from resolved group configs.
func JobsForGroups(groups []config.Group) []Job {
	var jobs []Job
	for _, g := range groups {
		for i, rule := range g.Schedules {
			jobs = append(jobs, Job{
				ID:    fmt.Sprintf("%s/%d", g.Name, i),
				Group: g.Name,
				Rule:  rule,
			})
		}
	}
	return jobs
}

// Tick returns every job due at now and advances those jobs to their
// next occurrence. A job fires at most once per Tick regardless of how
// much time has passed; missed occurrences during downtime collapse
// into one restart, which is what an operator would want.
func (s *Scheduler) Tick(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, st := range s.jobs {
		if st.next.IsZero() || now.Before(st.next) {
			continue
		}
		due = append(due, st.job)
		st.next = nextAfter(st.job.Rule, now)
	}
	return due
}

// Next returns the pending fire time for a job ID, for status
// reporting. The zero time means the job is unknown.
func (s *Scheduler) Next(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.jobs {
		if st.job.ID == id {
			return st.next
		}
	}
	return time.Time{}
}

// nextAfter computes the first occurrence of rule strictly after t.
func nextAfter(rule config.Schedule, t time.Time) time.Time {
	switch rule.Type {
	case config.ScheduleInterval:
		return t.Add(rule.Every)

	case config.ScheduleDaily:
		next := time.Date(t.Year(), t.Month(), t.Day(), rule.Hour, rule.Minute, 0, 0, t.Location())
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case config.ScheduleWeekly:
		next := time.Date(t.Year(), t.Month(), t.Day(), rule.Hour, rule.Minute, 0, 0, t.Location())
		days := (int(rule.Day) - int(t.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
		return next

	default:
		// Unreachable for snapshot-resolved rules; a zero time makes
		// the job inert rather than hot-looping.
		return time.Time{}
	}
}
