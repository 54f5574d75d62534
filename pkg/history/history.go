// Package history is the History Recorder: a buffered,
// redacted, strictly-ordered NDJSON event log per run, with a SQLite trace
// index used to enforce a keep-newest-N retention policy.
package history

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentloom/pkg/guard"
)

// EventKind names one recorded event's shape.
type EventKind string

const (
	EventIterationDetail EventKind = "iteration:detail"
	EventLLMCall         EventKind = "llm:call"
	EventToolExecution   EventKind = "tool:execution"
	EventLifecycle       EventKind = "lifecycle"
)

// Event is one recorded entry. Seq and Timestamp are assigned by the
// Recorder, never by the caller, preserving a strictly increasing
// sequence.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration"`
	Kind      EventKind `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// flushThreshold is the buffered-sink flush-on-size trigger: the recorder
// flushes once this many buffered events accumulate, or on finalization.
const flushThreshold = 10

// defaultRetention is how many traces the recorder keeps by default.
const defaultRetention = 30

// homeRedactionPlaceholder replaces an absolute path under the user's home
// directory with a "~/" prefix.
const homeRedactionPlaceholder = "~"

// Recorder writes one run's event log to dir/<taskID>.ndjson, redacting
// secrets and home paths on write, and maintains the retention index.
type Recorder struct {
	mu        sync.Mutex
	dir       string
	taskID    string
	homeDir   string
	seq       int64
	buffer    []Event
	file      *os.File
	writer    *bufio.Writer
	startedAt time.Time
	index     *Index
}

// NewRecorder opens (creating if needed) the NDJSON trace file for taskID
// under dir, using homeDir for path redaction and index for the retention
// index. index may be nil to disable the SQLite-backed retention policy.
func NewRecorder(dir, taskID, homeDir string, index *Index) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: failed to create trace dir: %w", err)
	}

	path := filepath.Join(dir, taskID+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open trace file: %w", err)
	}

	return &Recorder{
		dir:       dir,
		taskID:    taskID,
		homeDir:   homeDir,
		file:      f,
		writer:    bufio.NewWriter(f),
		startedAt: time.Now(),
		index:     index,
	}, nil
}

// Record appends one event, assigning it the next monotonic sequence
// number and redacting its Data before buffering.
func (r *Recorder) Record(iteration int, kind EventKind, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	ev := Event{
		Seq:       r.seq,
		Timestamp: time.Now(),
		Iteration: iteration,
		Kind:      kind,
		Data:      r.redact(data),
	}
	r.buffer = append(r.buffer, ev)

	if len(r.buffer) >= flushThreshold {
		r.flushLocked()
	}
}

// redact applies secret and home-path redaction to every string value in
// data, recursing into nested maps.
func (r *Recorder) redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Recorder) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.redactString(val)
	case map[string]any:
		return r.redact(val)
	default:
		return v
	}
}

func (r *Recorder) redactString(s string) string {
	s = guard.RedactSecrets(s)
	if r.homeDir != "" && strings.HasPrefix(s, r.homeDir) {
		s = homeRedactionPlaceholder + strings.TrimPrefix(s, r.homeDir)
	}
	return s
}

func (r *Recorder) flushLocked() {
	for _, ev := range r.buffer {
		line, err := json.Marshal(ev)
		if err != nil {
			continue // a single unmarshalable event must not break the whole trace
		}
		r.writer.Write(line)
		r.writer.WriteByte('\n')
	}
	r.buffer = r.buffer[:0]
	r.writer.Flush()
}

// Finalize flushes remaining buffered events, writes the index summary
// line, closes the file, and applies the retention policy.
func (r *Recorder) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked()

	summary := map[string]any{
		"totalEvents": r.seq,
		"durationMs":  time.Since(r.startedAt).Milliseconds(),
	}
	line, _ := json.Marshal(Event{Seq: r.seq + 1, Timestamp: time.Now(), Kind: EventLifecycle, Data: summary})
	r.writer.Write(line)
	r.writer.WriteByte('\n')
	r.writer.Flush()

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("history: failed to close trace file: %w", err)
	}

	if r.index != nil {
		if err := r.index.Record(r.taskID, r.startedAt, int(r.seq), time.Since(r.startedAt)); err != nil {
			return err
		}
		return r.index.enforceRetention(r.dir)
	}
	return nil
}

// createTraceIndexSQL is the fixed trace-index schema.
const createTraceIndexSQL = `
CREATE TABLE IF NOT EXISTS traces (
    task_id      TEXT PRIMARY KEY,
    started_at   TIMESTAMP NOT NULL,
    total_events INTEGER NOT NULL,
    iterations   INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL
);
`

// Index is the SQLite-backed trace index used to implement retention.
type Index struct {
	db        *sql.DB
	retention int
}

// OpenIndex opens (creating if needed) the SQLite trace index at path.
// retention <= 0 uses defaultRetention.
func OpenIndex(path string, retention int) (*Index, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open trace index: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 only supports one writer at a time

	if _, err := db.Exec(createTraceIndexSQL); err != nil {
		return nil, fmt.Errorf("history: failed to initialize trace index schema: %w", err)
	}
	return &Index{db: db, retention: retention}, nil
}

// Record upserts one trace's summary row.
func (idx *Index) Record(taskID string, startedAt time.Time, totalEvents int, duration time.Duration) error {
	_, err := idx.db.Exec(
		`INSERT INTO traces (task_id, started_at, total_events, iterations, duration_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   started_at = excluded.started_at,
		   total_events = excluded.total_events,
		   iterations = excluded.iterations,
		   duration_ms = excluded.duration_ms`,
		taskID, startedAt, totalEvents, totalEvents, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: failed to record trace index entry: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// enforceRetention deletes index rows and NDJSON files for every trace
// beyond the newest retention traces by started_at.
func (idx *Index) enforceRetention(traceDir string) error {
	rows, err := idx.db.Query(`SELECT task_id, started_at FROM traces ORDER BY started_at DESC`)
	if err != nil {
		return fmt.Errorf("history: failed to list trace index: %w", err)
	}
	defer rows.Close()

	type row struct {
		taskID    string
		startedAt time.Time
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.taskID, &r.startedAt); err != nil {
			return fmt.Errorf("history: failed to scan trace index row: %w", err)
		}
		all = append(all, r)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].startedAt.After(all[j].startedAt) })
	if len(all) <= idx.retention {
		return nil
	}

	stale := all[idx.retention:]
	for _, r := range stale {
		if _, err := idx.db.Exec(`DELETE FROM traces WHERE task_id = ?`, r.taskID); err != nil {
			return fmt.Errorf("history: failed to evict stale trace %q: %w", r.taskID, err)
		}
		_ = os.Remove(filepath.Join(traceDir, r.taskID+".ndjson"))
	}
	return nil
}
