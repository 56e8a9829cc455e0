// Package cache implements an optional on-disk trace cache: an
// opportunistic SQLite store keyed by input-file signature, checkpoint
// interval, and schema version. Its absence or a signature mismatch
// causes a full re-parse (traceerr.CacheMismatch); its presence bypasses
// lexing, rebuilding the event store and indexes from a table scan. It is
// not part of the system's boundary of correctness — removing it changes
// performance only — so every failure mode here degrades to "caller
// falls back to ParseFile", never a fatal error.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cxapython/armtrace/internal/store"
	"github.com/cxapython/armtrace/internal/traceerr"
	"github.com/cxapython/armtrace/internal/traceevent"
)

// SchemaVersion is the cache schema version.
const SchemaVersion = "v1"

// EnvWriteEnable is the environment variable that gates cache writing.
// Cache writing is off by default; reading is always attempted.
const EnvWriteEnable = "ARMTRACE_CACHE_WRITE"

// WriteEnabled reports whether EnvWriteEnable is set to a truthy value.
func WriteEnabled() bool {
	v := os.Getenv(EnvWriteEnable)
	return v != "" && v != "0" && v != "false"
}

// batchSize is the commit batching granularity for background dumps:
// commits every 5000 events (each with its reads/writes rows) so a large
// dump never holds one long-running transaction open.
const batchSize = 5000

// Signature identifies one cacheable parse: the input file's content hash,
// the checkpoint interval used, and the schema version.
type Signature struct {
	FileHash           string
	CheckpointInterval int
	SchemaVersion      string
}

// FileSignature computes a Signature for path, hashing its contents.
func FileSignature(path string, checkpointInterval int) (Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signature{}, fmt.Errorf("cache: hash %s: %w", path, traceerr.IoFailure)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Signature{}, fmt.Errorf("cache: hash %s: %w", path, traceerr.IoFailure)
	}
	return Signature{
		FileHash:           hex.EncodeToString(h.Sum(nil)),
		CheckpointInterval: checkpointInterval,
		SchemaVersion:      SchemaVersion,
	}, nil
}

// Store wraps a SQLite database holding one cached parse.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath and
// ensures its schema exists.
func Open(dbPath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dbPath, traceerr.IoFailure)
	}
	s := &Store{db: db, log: log}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY, value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			idx INTEGER PRIMARY KEY,
			line_no INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			module TEXT NOT NULL,
			module_offset TEXT NOT NULL,
			encoding TEXT NOT NULL,
			pc INTEGER NOT NULL,
			asm TEXT NOT NULL,
			call_id INTEGER NOT NULL,
			call_depth INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reads (
			event_idx INTEGER NOT NULL, reg TEXT NOT NULL, value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS writes (
			event_idx INTEGER NOT NULL, reg TEXT NOT NULL, value INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reads_event ON reads(event_idx)`,
		`CREATE INDEX IF NOT EXISTS idx_writes_event ON writes(event_idx)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("cache: schema: %w", err)
		}
	}
	return nil
}

// CheckSignature reports whether the database's recorded signature matches
// sig. A mismatch (including an empty, freshly created database) means the
// caller should fall back to a fresh parse (traceerr.CacheMismatch).
func (s *Store) CheckSignature(sig Signature) (bool, error) {
	got, err := s.readMeta()
	if err != nil {
		return false, err
	}
	return got == sig, nil
}

func (s *Store) readMeta() (Signature, error) {
	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return Signature{}, fmt.Errorf("cache: read meta: %w", err)
	}
	defer rows.Close()

	var sig Signature
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Signature{}, err
		}
		switch k {
		case "file_hash":
			sig.FileHash = v
		case "checkpoint_interval":
			fmt.Sscanf(v, "%d", &sig.CheckpointInterval)
		case "schema_version":
			sig.SchemaVersion = v
		}
	}
	return sig, rows.Err()
}

// Dump writes s's events (and their reads/writes) plus sig to the cache
// synchronously, replacing any prior contents. Cache writing is
// opportunistic; callers that want this off the hot path should use
// DumpAsync instead.
func (st *Store) Dump(sig Signature, events []traceevent.Event) error {
	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM meta`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM events`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM reads`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM writes`); err != nil {
		return err
	}

	meta := map[string]string{
		"file_hash":           sig.FileHash,
		"checkpoint_interval": fmt.Sprintf("%d", sig.CheckpointInterval),
		"schema_version":      sig.SchemaVersion,
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}

	if err := writeEventBatch(tx, events); err != nil {
		return err
	}

	return tx.Commit()
}

func writeEventBatch(tx *sql.Tx, events []traceevent.Event) error {
	evStmt, err := tx.Prepare(`INSERT INTO events
		(idx, line_no, timestamp, module, module_offset, encoding, pc, asm, call_id, call_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()

	regStmt, err := tx.Prepare(`INSERT INTO reads(event_idx, reg, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer regStmt.Close()

	wrStmt, err := tx.Prepare(`INSERT INTO writes(event_idx, reg, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer wrStmt.Close()

	for i, ev := range events {
		if _, err := evStmt.Exec(i, ev.LineNo, ev.Timestamp, ev.Module, ev.ModuleOffset,
			ev.Encoding, ev.PC, ev.Asm, ev.CallID, ev.CallDepth); err != nil {
			return err
		}
		for reg, val := range ev.Reads {
			if _, err := regStmt.Exec(i, reg, int64(val)); err != nil {
				return err
			}
		}
		for reg, val := range ev.Writes {
			if _, err := wrStmt.Exec(i, reg, int64(val)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DumpAsync starts a background, non-blocking dump of events, batching
// commits every batchSize events and yielding between batches. The caller
// is never blocked; err is logged, not returned, since a failed
// opportunistic cache write must not affect query correctness.
func (st *Store) DumpAsync(sig Signature, events []traceevent.Event) {
	go func() {
		if err := st.dumpBatched(sig, events); err != nil {
			st.log.Warn("cache: background dump failed", zap.Error(err))
		}
	}()
}

func (st *Store) dumpBatched(sig Signature, events []traceevent.Event) error {
	tx, err := st.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM meta`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM events`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM reads`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM writes`); err != nil {
		return err
	}
	for k, v := range map[string]string{
		"file_hash":           sig.FileHash,
		"checkpoint_interval": fmt.Sprintf("%d", sig.CheckpointInterval),
		"schema_version":      sig.SchemaVersion,
	} {
		if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := st.dumpRange(start, events[start:end]); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func (st *Store) dumpRange(startIdx int, events []traceevent.Event) error {
	tx, err := st.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	evStmt, err := tx.Prepare(`INSERT INTO events
		(idx, line_no, timestamp, module, module_offset, encoding, pc, asm, call_id, call_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()
	regStmt, err := tx.Prepare(`INSERT INTO reads(event_idx, reg, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer regStmt.Close()
	wrStmt, err := tx.Prepare(`INSERT INTO writes(event_idx, reg, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer wrStmt.Close()

	for off, ev := range events {
		i := startIdx + off
		if _, err := evStmt.Exec(i, ev.LineNo, ev.Timestamp, ev.Module, ev.ModuleOffset,
			ev.Encoding, ev.PC, ev.Asm, ev.CallID, ev.CallDepth); err != nil {
			return err
		}
		for reg, val := range ev.Reads {
			if _, err := regStmt.Exec(i, reg, int64(val)); err != nil {
				return err
			}
		}
		for reg, val := range ev.Writes {
			if _, err := wrStmt.Exec(i, reg, int64(val)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Load rebuilds a store.Store from the cached table scan: presence of a
// matching cache bypasses lexing, and the indexes are rebuilt from the
// table scan.
func (st *Store) Load(ctx context.Context) (*store.Store, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT idx, line_no, timestamp, module, module_offset,
		encoding, pc, asm, call_id, call_depth FROM events ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("cache: load events: %w", err)
	}
	defer rows.Close()

	var events []traceevent.Event
	for rows.Next() {
		var ev traceevent.Event
		var idx int
		var pc int64
		if err := rows.Scan(&idx, &ev.LineNo, &ev.Timestamp, &ev.Module, &ev.ModuleOffset,
			&ev.Encoding, &pc, &ev.Asm, &ev.CallID, &ev.CallDepth); err != nil {
			return nil, err
		}
		_ = idx // rows are ordered by idx; position in events is the index
		ev.PC = uint64(pc)
		ev.Reads = make(traceevent.RegMap)
		ev.Writes = make(traceevent.RegMap)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := st.loadRegs(ctx, `SELECT event_idx, reg, value FROM reads`, events, true); err != nil {
		return nil, err
	}
	if err := st.loadRegs(ctx, `SELECT event_idx, reg, value FROM writes`, events, false); err != nil {
		return nil, err
	}

	s := store.New()
	for _, ev := range events {
		s.Append(ev)
	}
	return s, nil
}

func (st *Store) loadRegs(ctx context.Context, query string, events []traceevent.Event, isRead bool) error {
	rows, err := st.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		var reg string
		var val int64
		if err := rows.Scan(&idx, &reg, &val); err != nil {
			return err
		}
		if idx < 0 || idx >= len(events) {
			continue
		}
		if isRead {
			events[idx].Reads[reg] = uint64(val)
		} else {
			events[idx].Writes[reg] = uint64(val)
		}
	}
	return rows.Err()
}
