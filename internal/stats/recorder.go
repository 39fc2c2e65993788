package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// dateLayout is the bucket-file date format: one file per group per day.
const dateLayout = "20060102"

// Logger is the minimal logging interface the stats package needs.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// bucketKey addresses one group-day file.
type bucketKey struct {
	group string
	date  string
}

// bucket is the on-disk file format: raw entries plus a recomputed
// summary, so dashboards can read the summary without parsing entries.
type bucket struct {
	Group   string  `json:"group"`
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Recorder buffers history events in memory and flushes them to
// per-group daily JSON files.
//
// Files are written whole with a temp-file-and-rename so a crash mid
// write never corrupts history: readers see either the old file or the
// new one. The flat files are the system of record; any time-series
// mirror is the engine's concern, not the recorder's.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	cfg    config.StatsConfig
	logger Logger

	pending   map[bucketKey][]Entry
	pendingMu sync.Mutex

	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Recorder and starts its background flush loop.
//
// Parameters:
//   - cfg: Stats configuration (directory, retention, flush cadence)
//   - logger: Logger for flush and retention problems
//
// Returns:
//   - *Recorder: Running recorder
//   - error: If the stats directory cannot be created
func New(cfg config.StatsConfig, logger Logger) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating stats directory: %w", err)
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 60
	}

	r := &Recorder{
		cfg:       cfg,
		logger:    logger,
		pending:   make(map[bucketKey][]Entry),
		flushTick: time.NewTicker(time.Duration(flushInterval) * time.Second),
		done:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r, nil
}

// flushLoop flushes buffered entries on a timer until Close.
// Retention pruning piggybacks on the flush cadence.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.flushTick.C:
			if err := r.Flush(); err != nil {
				r.logger.Error("stats flush failed", "error", err)
			}
			r.prune(time.Now())
		case <-r.done:
			return
		}
	}
}

// Record buffers one event for the next flush.
// Missing ID and timestamp fields are filled in.
func (r *Recorder) Record(e Entry) {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	key := bucketKey{group: e.Group, date: e.Time.Format(dateLayout)}

	r.pendingMu.Lock()
	r.pending[key] = append(r.pending[key], e)
	r.pendingMu.Unlock()
}

// Flush writes all buffered entries to their bucket files.
//
// Each touched bucket is read, merged, re-summarised, capped, and
// atomically replaced. Entries for a bucket that fails to write are
// re-buffered so a transient disk problem loses nothing.
func (r *Recorder) Flush() error {
	r.pendingMu.Lock()
	pending := r.pending
	r.pending = make(map[bucketKey][]Entry)
	r.pendingMu.Unlock()

	var firstErr error
	for key, entries := range pending {
		if err := r.writeBucket(key, entries); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.pendingMu.Lock()
			r.pending[key] = append(entries, r.pending[key]...)
			r.pendingMu.Unlock()
		}
	}
	return firstErr
}

// writeBucket merges entries into one group-day file.
func (r *Recorder) writeBucket(key bucketKey, entries []Entry) error {
	path := r.bucketPath(key.group, key.date)

	b := bucket{Group: key.group, Date: key.date}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &b); err != nil {
			// A corrupt bucket is abandoned rather than fatal; the
			// fresh entries start a clean file.
			r.logger.Warn("discarding corrupt stats bucket", "path", path, "error", err)
			b = bucket{Group: key.group, Date: key.date}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading bucket %s: %w", path, err)
	}

	b.Entries = append(b.Entries, entries...)
	sort.SliceStable(b.Entries, func(i, j int) bool {
		return b.Entries[i].Time.Before(b.Entries[j].Time)
	})

	if max := r.cfg.MaxEntriesPerBucket; max > 0 && len(b.Entries) > max {
		b.Entries = b.Entries[len(b.Entries)-max:]
	}

	b.Summary = summarise(b.Entries)

	data, err := json.MarshalIndent(&b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bucket %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing bucket %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing bucket %s: %w", path, err)
	}

	return nil
}

// Query returns a group's entries within [from, to], merged across
// the daily bucket files the window spans.
func (r *Recorder) Query(group string, from, to time.Time) ([]Entry, error) {
	// Flush first so the window includes buffered entries.
	if err := r.Flush(); err != nil {
		return nil, err
	}

	// Bucket names carry the entry's local date, so the day walk has
	// to start at local midnight; Truncate would snap to UTC.
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	var results []Entry
	for day := start; !day.After(to); day = day.AddDate(0, 0, 1) {
		b, err := r.readBucket(group, day.Format(dateLayout))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range b.Entries {
			if e.Time.Before(from) || e.Time.After(to) {
				continue
			}
			results = append(results, e)
		}
	}
	return results, nil
}

// DailySummary returns the stored summary for a group-day.
func (r *Recorder) DailySummary(group string, day time.Time) (Summary, error) {
	if err := r.Flush(); err != nil {
		return Summary{}, err
	}

	b, err := r.readBucket(group, day.Format(dateLayout))
	if err != nil {
		return Summary{}, err
	}
	return b.Summary, nil
}

func (r *Recorder) readBucket(group, date string) (bucket, error) {
	path := r.bucketPath(group, date)

	data, err := os.ReadFile(path)
	if err != nil {
		return bucket{}, err
	}

	var b bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return bucket{}, fmt.Errorf("decoding bucket %s: %w", path, err)
	}
	return b, nil
}

// prune removes bucket files older than the retention horizon.
func (r *Recorder) prune(now time.Time) {
	cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays).Format(dateLayout)

	dirEntries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		r.logger.Warn("stats retention scan failed", "error", err)
		return
	}

	for _, de := range dirEntries {
		name := de.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		date := base[idx+1:]
		if len(date) != len(dateLayout) || date >= cutoff {
			continue
		}
		path := filepath.Join(r.cfg.Dir, name)
		if err := os.Remove(path); err != nil {
			r.logger.Warn("stats retention removal failed", "path", path, "error", err)
			continue
		}
		r.logger.Debug("pruned expired stats bucket", "path", path)
	}
}

// Close stops the flush loop and performs a final flush.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.flushTick.Stop()
		r.wg.Wait()
		err = r.Flush()
	})
	return err
}

func (r *Recorder) bucketPath(group, date string) string {
	return filepath.Join(r.cfg.Dir, fmt.Sprintf("%s_%s.json", group, date))
}
