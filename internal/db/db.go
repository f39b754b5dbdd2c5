// Package db is the sqlite journal of engagement runs: every command sent to
// the actuator and the receipt (or missed receipt) that followed it.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pursuit/internal/command"
	"github.com/banshee-data/pursuit/internal/planner"
	"github.com/banshee-data/pursuit/internal/targeting"
)

// DB wraps the journal database handle.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the journal at path and applies any
// pending migrations.
func NewDB(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Run is one process lifetime of the engagement loop. It satisfies the loop's
// journal interface.
type Run struct {
	db *DB
	ID string
}

// StartRun records the start of a run and returns a handle for journaling its
// commands. cfg is stored as JSON for later inspection.
func (db *DB) StartRun(startedAt time.Time, cfg any, version string) (*Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.Exec(
		`INSERT INTO runs (run_id, started_at, config_json, version) VALUES (?, ?, ?, ?)`,
		id, unixSeconds(startedAt), string(cfgJSON), version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return &Run{db: db, ID: id}, nil
}

// RecordCommand stores a sent command and the decision behind it, returning
// its journal id.
func (r *Run) RecordCommand(cmd command.Command, d planner.Decision, at time.Time) (int64, error) {
	var regionJSON, alignment sql.NullString
	if d.HasTarget {
		b, err := json.Marshal(d.Target)
		if err != nil {
			return 0, fmt.Errorf("failed to encode target: %w", err)
		}
		regionJSON = sql.NullString{String: string(b), Valid: true}
		alignment = sql.NullString{String: d.Classification.Alignment.String(), Valid: true}
	}

	res, err := r.db.Exec(
		`INSERT INTO commands (run_id, action, opcode, magnitude, wire, region_json, alignment, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, d.Action.Kind.String(), int(cmd.Opcode), cmd.Magnitude, cmd.String(),
		regionJSON, alignment, unixSeconds(at),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record command: %w", err)
	}
	return res.LastInsertId()
}

// RecordAck stores the receipt byte for a command.
func (r *Run) RecordAck(commandID int64, receipt byte, at time.Time, latency time.Duration) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO acks (command_id, raw_byte, received_at, latency_ms, missed)
		 VALUES (?, ?, ?, ?, 0)`,
		commandID, int(receipt), unixSeconds(at), float64(latency)/float64(time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to record ack: %w", err)
	}
	return nil
}

// RecordMissedAck marks a command as abandoned after waiting without a
// receipt.
func (r *Run) RecordMissedAck(commandID int64, at time.Time, waited time.Duration) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO acks (command_id, raw_byte, received_at, latency_ms, missed)
		 VALUES (?, NULL, ?, ?, 1)`,
		commandID, unixSeconds(at), float64(waited)/float64(time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to record missed ack: %w", err)
	}
	return nil
}

// CommandRecord is a journaled command joined with its receipt, if any.
type CommandRecord struct {
	ID        int64             `json:"id"`
	RunID     string            `json:"run_id"`
	Action    string            `json:"action"`
	Opcode    command.Opcode    `json:"opcode"`
	Magnitude int               `json:"magnitude"`
	Wire      string            `json:"wire"`
	Target    *targeting.Region `json:"target,omitempty"`
	Alignment string            `json:"alignment,omitempty"`
	SentAt    time.Time         `json:"sent_at"`

	Acked     bool    `json:"acked"`
	Missed    bool    `json:"missed"`
	Receipt   *byte   `json:"receipt,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
}

// LatestRunID returns the most recently started run, or "" if there is none.
func (db *DB) LatestRunID() (string, error) {
	var id string
	err := db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Commands returns every command of a run in the order sent.
func (db *DB) Commands(runID string) ([]CommandRecord, error) {
	rows, err := db.Query(`
		SELECT c.command_id, c.run_id, c.action, c.opcode, c.magnitude, c.wire,
		       c.region_json, c.alignment, c.sent_at,
		       a.command_id IS NOT NULL, COALESCE(a.missed, 0), a.raw_byte, COALESCE(a.latency_ms, 0)
		FROM commands c
		LEFT JOIN acks a ON a.command_id = c.command_id
		WHERE c.run_id = ?
		ORDER BY c.command_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			rec        CommandRecord
			opcode     int
			regionJSON sql.NullString
			alignment  sql.NullString
			sentAt     float64
			missed     int
			raw        sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Action, &opcode, &rec.Magnitude, &rec.Wire,
			&regionJSON, &alignment, &sentAt,
			&rec.Acked, &missed, &raw, &rec.LatencyMs,
		); err != nil {
			return nil, err
		}
		rec.Opcode = command.Opcode(opcode)
		rec.SentAt = fromUnixSeconds(sentAt)
		rec.Alignment = alignment.String
		if regionJSON.Valid {
			var r targeting.Region
			if err := json.Unmarshal([]byte(regionJSON.String), &r); err != nil {
				return nil, fmt.Errorf("command %d: bad region: %w", rec.ID, err)
			}
			rec.Target = &r
		}
		rec.Missed = missed != 0
		if rec.Missed {
			rec.Acked = false
		}
		if raw.Valid {
			b := byte(raw.Int64)
			rec.Receipt = &b
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActionCount is the number of commands of one action kind.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// CommandCounts returns the number of commands per action kind for a run,
// ordered by opcode.
func (db *DB) CommandCounts(runID string) ([]ActionCount, error) {
	rows, err := db.Query(`
		SELECT action, COUNT(*) FROM commands
		WHERE run_id = ?
		GROUP BY action
		ORDER BY MIN(opcode), action`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionCount
	for rows.Next() {
		var c ActionCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AckLatencies returns the command-to-receipt latency of every acknowledged
// command in a run, in milliseconds. Missed receipts are excluded.
func (db *DB) AckLatencies(runID string) ([]float64, error) {
	rows, err := db.Query(`
		SELECT a.latency_ms FROM acks a
		JOIN commands c ON c.command_id = a.command_id
		WHERE c.run_id = ? AND a.missed = 0
		ORDER BY a.command_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MissedAcks returns how many commands in a run were abandoned without a
// receipt.
func (db *DB) MissedAcks(runID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM acks a
		JOIN commands c ON c.command_id = a.command_id
		WHERE c.run_id = ? AND a.missed = 1`, runID).Scan(&n)
	return n, err
}
