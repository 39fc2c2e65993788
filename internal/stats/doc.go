// Package stats records monitoring history to per-group daily JSON
// files and answers queries over them.
//
// # Architecture
//
// The engine records events (probes, state changes, power cycles) as
// they happen; the recorder buffers them in memory and a background
// loop flushes buffered entries to disk on a timer:
//
//	Engine ──Record──▶ Recorder ──flush──▶ <dir>/<group>_YYYYMMDD.json
//
// Each bucket file holds one group's entries for one day plus a
// summary (check and failure counts, power cycles, uptime percentage,
// smoothed latency) recomputed on every flush.
//
// # Durability
//
// Bucket files are replaced atomically (temp file then rename), so a
// crash mid write leaves the previous file intact. Entries that fail
// to flush are re-buffered and retried on the next cycle. Files older
// than the retention horizon are removed during flush.
//
// # Usage
//
//	recorder, err := stats.New(cfg.Stats, log)
//	if err != nil {
//	    return err
//	}
//	defer recorder.Close()
//
//	recorder.Record(stats.Entry{
//	    Type:    stats.EventProbe,
//	    Group:   "lan",
//	    Server:  "192.168.1.10",
//	    Success: true,
//	})
package stats
