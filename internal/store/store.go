// Package store keeps the observing history in SQLite: state transitions,
// selections, exposures, pointing measurements and safety parks. The schema is
// versioned with migrations embedded in the binary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps writes from the event subscriber and reads from the
	// admin socket serialized without SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, log: log}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m.Log = migrateLogger{s.log}
	return m, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed:
// closing it would close the shared database handle.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migrateLogger struct{ log *logging.Logger }

func (l migrateLogger) Printf(format string, v ...any) { l.log.Debugf("migrate: "+format, v...) }
func (l migrateLogger) Verbose() bool                  { return false }

type Transition struct {
	Time        time.Time `json:"time"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Observation string    `json:"observation,omitempty"`
}

type Selection struct {
	Time        time.Time `json:"time"`
	Observation string    `json:"observation"`
	SequenceID  string    `json:"sequence_id"`
	Score       float64   `json:"score"`
	Priority    float64   `json:"priority"`
}

type Exposure struct {
	Time          time.Time `json:"time"`
	Observation   string    `json:"observation"`
	SequenceID    string    `json:"sequence_id"`
	Path          string    `json:"path"`
	ExposureCount int       `json:"exposure_count"`
	ExptimeSec    float64   `json:"exptime_sec"`
}

type Pointing struct {
	Time          time.Time `json:"time"`
	Observation   string    `json:"observation"`
	Iteration     int       `json:"iteration"`
	SeparationDeg float64   `json:"separation_deg"`
	Path          string    `json:"path"`
}

type SafetyPark struct {
	Time   time.Time `json:"time"`
	State  string    `json:"state"`
	Reason string    `json:"reason"`
}

func millis(t time.Time) int64      { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *Store) RecordTransition(ctx context.Context, t Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (at_ms, from_state, to_state, observation) VALUES (?, ?, ?, ?)`,
		millis(t.Time), t.From, t.To, t.Observation)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

func (s *Store) RecordSelection(ctx context.Context, sel Selection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO selections (at_ms, observation, sequence_id, score, priority) VALUES (?, ?, ?, ?, ?)`,
		millis(sel.Time), sel.Observation, sel.SequenceID, sel.Score, sel.Priority)
	if err != nil {
		return fmt.Errorf("record selection: %w", err)
	}
	return nil
}

func (s *Store) RecordExposure(ctx context.Context, e Exposure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exposures (at_ms, observation, sequence_id, path, exposure_count, exptime_sec) VALUES (?, ?, ?, ?, ?, ?)`,
		millis(e.Time), e.Observation, e.SequenceID, e.Path, e.ExposureCount, e.ExptimeSec)
	if err != nil {
		return fmt.Errorf("record exposure: %w", err)
	}
	return nil
}

func (s *Store) RecordPointing(ctx context.Context, p Pointing) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pointing (at_ms, observation, iteration, separation_deg, path) VALUES (?, ?, ?, ?, ?)`,
		millis(p.Time), p.Observation, p.Iteration, p.SeparationDeg, p.Path)
	if err != nil {
		return fmt.Errorf("record pointing: %w", err)
	}
	return nil
}

func (s *Store) RecordSafetyPark(ctx context.Context, p SafetyPark) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO safety_parks (at_ms, state, reason) VALUES (?, ?, ?)`,
		millis(p.Time), p.State, p.Reason)
	if err != nil {
		return fmt.Errorf("record safety park: %w", err)
	}
	return nil
}

// Transitions returns the most recent transitions, oldest first.
func (s *Store) Transitions(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, from_state, to_state, observation FROM
		   (SELECT * FROM transitions ORDER BY id DESC LIMIT ?) ORDER BY id`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t  Transition
			ms int64
		)
		if err := rows.Scan(&ms, &t.From, &t.To, &t.Observation); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Time = fromMillis(ms)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Selections returns the most recent selections, oldest first.
func (s *Store) Selections(ctx context.Context, limit int) ([]Selection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, observation, sequence_id, score, priority FROM
		   (SELECT * FROM selections ORDER BY id DESC LIMIT ?) ORDER BY id`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query selections: %w", err)
	}
	defer rows.Close()

	var out []Selection
	for rows.Next() {
		var (
			sel Selection
			ms  int64
		)
		if err := rows.Scan(&ms, &sel.Observation, &sel.SequenceID, &sel.Score, &sel.Priority); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		sel.Time = fromMillis(ms)
		out = append(out, sel)
	}
	return out, rows.Err()
}

// Exposures returns every exposure of one sequence in capture order.
func (s *Store) Exposures(ctx context.Context, sequenceID string) ([]Exposure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, observation, sequence_id, path, exposure_count, exptime_sec
		   FROM exposures WHERE sequence_id = ? ORDER BY id`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("query exposures: %w", err)
	}
	defer rows.Close()

	var out []Exposure
	for rows.Next() {
		var (
			e  Exposure
			ms int64
		)
		if err := rows.Scan(&ms, &e.Observation, &e.SequenceID, &e.Path, &e.ExposureCount, &e.ExptimeSec); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		e.Time = fromMillis(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExposureCounts returns the number of exposures stored per observation.
func (s *Store) ExposureCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT observation, COUNT(*) FROM exposures GROUP BY observation`)
	if err != nil {
		return nil, fmt.Errorf("query exposure counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan exposure count: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// Record is an event bus subscriber that persists the events it understands.
// Write failures are logged; they never reach the control loop.
func (s *Store) Record(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch e.Type {
	case events.EventStateTransition:
		err = s.RecordTransition(ctx, Transition{
			Time:        e.Timestamp,
			From:        e.String("from"),
			To:          e.String("to"),
			Observation: e.String("observation"),
		})
	case events.EventObservationSelected:
		err = s.RecordSelection(ctx, Selection{
			Time:        e.Timestamp,
			Observation: e.String("observation"),
			SequenceID:  e.String("sequence_id"),
			Score:       number(e.Data["score"]),
			Priority:    number(e.Data["priority"]),
		})
	case events.EventExposureTaken:
		err = s.RecordExposure(ctx, Exposure{
			Time:          e.Timestamp,
			Observation:   e.String("observation"),
			SequenceID:    e.String("sequence_id"),
			Path:          e.String("path"),
			ExposureCount: int(number(e.Data["exposure_count"])),
			ExptimeSec:    number(e.Data["exptime_sec"]),
		})
	case events.EventPointingMeasured:
		err = s.RecordPointing(ctx, Pointing{
			Time:          e.Timestamp,
			Observation:   e.String("observation"),
			Iteration:     int(number(e.Data["iteration"])),
			SeparationDeg: number(e.Data["separation_deg"]),
			Path:          e.String("path"),
		})
	case events.EventSafetyPark:
		err = s.RecordSafetyPark(ctx, SafetyPark{
			Time:   e.Timestamp,
			State:  e.String("state"),
			Reason: e.String("reason"),
		})
	default:
		return
	}
	if err != nil {
		s.log.Errorf("store event=%s: %v", e.Type, err)
	}
}

// number reads a numeric event field regardless of its concrete type.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
