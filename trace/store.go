package trace

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
)

// schema.sql creates the session and operation tables.
//
//go:embed schema.sql
var schemaSQL string

// Store is a trace database.
type Store struct {
	*sql.DB
}

// Open opens or creates the database at path and applies the schema. Use
// ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trace schema: %w", err)
	}
	pkg.LogDebug(pkg.ComponentTrace, "trace database ready", "path", path)
	return &Store{db}, nil
}

// StartSession creates a session row and returns its id.
func (s *Store) StartSession(transport, notes string) (int64, error) {
	res, err := s.Exec(`INSERT INTO sessions (started_ns, transport, notes) VALUES (?, ?, ?)`,
		time.Now().UnixNano(), transport, notes)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	return res.LastInsertId()
}

// EndSession stamps the session end time and its dropped-record count.
func (s *Store) EndSession(id int64, dropped uint64) error {
	_, err := s.Exec(`UPDATE sessions SET ended_ns = ?, dropped = ? WHERE id = ?`,
		time.Now().UnixNano(), int64(dropped), id)
	if err != nil {
		return fmt.Errorf("end session %d: %w", id, err)
	}
	return nil
}

const insertOperation = `
	INSERT INTO operations (session_id, seq, at_ns, source, raw, kind, bits, dir, addr, data, state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Insert writes records for session in one transaction.
func (s *Store) Insert(session int64, recs []bridge.Record) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertOperation)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		var raw, kind, dir, addr any
		bits := 0
		switch r.Source {
		case bridge.SourceCycle:
			dir = r.Dir.String()
			addr = int(r.Addr)
			bits = 8
		default:
			raw = int(r.Command.Raw)
			kind = r.Command.Kind.String()
			bits = r.Command.Bits
			if r.Command.Kind == protocol.KindShift {
				dir = r.Command.Dir.String()
			}
		}
		_, err := stmt.Exec(session, int64(r.Seq), r.At.UnixNano(), r.Source.String(),
			raw, kind, bits, dir, addr, int64(r.Data), int(r.State))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert operation %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// Operation is a stored record.
type Operation struct {
	Seq    uint64
	At     time.Time
	Source string
	Raw    *uint8 // Command byte; nil for cycles
	Kind   string
	Bits   int
	Dir    string
	Addr   *uint8 // Cycle address; nil for commands
	Data   uint64
	State  bus.ControlState
}

// Operations returns up to limit operations of a session in sequence order.
// A limit of zero returns all of them.
func (s *Store) Operations(session int64, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.Query(`
		SELECT seq, at_ns, source, raw, kind, bits, dir, addr, data, state
		FROM operations
		WHERE session_id = ?
		ORDER BY seq
		LIMIT ?
	`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var (
			op        Operation
			seq, at   int64
			data      int64
			state     int
			raw, addr sql.NullInt64
			kind, dir sql.NullString
		)
		if err := rows.Scan(&seq, &at, &op.Source, &raw, &kind, &op.Bits, &dir, &addr, &data, &state); err != nil {
			return nil, err
		}
		op.Seq = uint64(seq)
		op.At = time.Unix(0, at)
		op.Data = uint64(data)
		op.State = bus.ControlState(state)
		op.Kind = kind.String
		op.Dir = dir.String
		if raw.Valid {
			b := uint8(raw.Int64)
			op.Raw = &b
		}
		if addr.Valid {
			a := uint8(addr.Int64)
			op.Addr = &a
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Summary totals a session.
type Summary struct {
	Transport string
	Started   time.Time
	Ended     time.Time // Zero while the session is open
	Dropped   uint64
	Commands  uint64
	NoOps     uint64
	Cycles    uint64
	BitsOut   uint64
	BitsIn    uint64
}

// Summarize aggregates the operations of a session.
func (s *Store) Summarize(session int64) (Summary, error) {
	var (
		sum              Summary
		started, dropped int64
		ended            sql.NullInt64
	)
	err := s.QueryRow(`SELECT transport, started_ns, ended_ns, dropped FROM sessions WHERE id = ?`, session).
		Scan(&sum.Transport, &started, &ended, &dropped)
	if err != nil {
		return sum, fmt.Errorf("session %d: %w", session, err)
	}
	sum.Started = time.Unix(0, started)
	if ended.Valid {
		sum.Ended = time.Unix(0, ended.Int64)
	}
	sum.Dropped = uint64(dropped)

	var commands, noops, cycles, out, in int64
	err = s.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE source = 'stream'),
			COUNT(*) FILTER (WHERE kind = 'noop'),
			COUNT(*) FILTER (WHERE source = 'cycle'),
			COALESCE(SUM(bits) FILTER (WHERE kind = 'shift' AND dir = 'write'), 0),
			COALESCE(SUM(bits) FILTER (WHERE kind = 'shift' AND dir = 'read'), 0)
		FROM operations
		WHERE session_id = ?
	`, session).Scan(&commands, &noops, &cycles, &out, &in)
	if err != nil {
		return sum, fmt.Errorf("summarize session %d: %w", session, err)
	}
	sum.Commands = uint64(commands)
	sum.NoOps = uint64(noops)
	sum.Cycles = uint64(cycles)
	sum.BitsOut = uint64(out)
	sum.BitsIn = uint64(in)
	return sum, nil
}
