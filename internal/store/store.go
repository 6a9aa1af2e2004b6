// Package store persists scenarios and simulation records in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"firespread-sim/internal/fire"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// SimulationRecord is the persisted summary of one simulation.
type SimulationRecord struct {
	SimulationID   string
	Parameters     fire.SimulationParameters
	IgnitionPoints int
	Status         fire.RemoteStatus
	CurrentTime    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateScenario stores sc under a new id and returns the stored record.
func (s *Store) CreateScenario(ctx context.Context, sc fire.Scenario) (fire.Scenario, error) {
	now := s.now().UTC()
	sc.ID = uuid.NewString()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	if sc.IgnitionPoints == nil {
		sc.IgnitionPoints = []fire.IgnitionPoint{}
	}
	params, points, err := encodeScenario(sc)
	if err != nil {
		return fire.Scenario{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scenarios(scenario_id, name, description, parameters_json, ignition_points_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Description, params, points, formatTS(sc.CreatedAt), formatTS(sc.UpdatedAt))
	if err != nil {
		return fire.Scenario{}, fmt.Errorf("insert scenario: %w", err)
	}
	return sc, nil
}

// UpdateScenario replaces the editable fields of scenario id.
func (s *Store) UpdateScenario(ctx context.Context, id string, sc fire.Scenario) (fire.Scenario, error) {
	if sc.IgnitionPoints == nil {
		sc.IgnitionPoints = []fire.IgnitionPoint{}
	}
	params, points, err := encodeScenario(sc)
	if err != nil {
		return fire.Scenario{}, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scenarios
SET name = ?, description = ?, parameters_json = ?, ignition_points_json = ?, updated_at = ?
WHERE scenario_id = ?`,
		sc.Name, sc.Description, params, points, formatTS(s.now()), id)
	if err != nil {
		return fire.Scenario{}, fmt.Errorf("update scenario: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fire.Scenario{}, ErrNotFound
	}
	return s.GetScenario(ctx, id)
}

func (s *Store) GetScenario(ctx context.Context, id string) (fire.Scenario, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT scenario_id, name, description, parameters_json, ignition_points_json, created_at, updated_at
FROM scenarios WHERE scenario_id = ?`, id)
	return scanScenario(row)
}

// ListScenarios returns every scenario, most recently updated first.
func (s *Store) ListScenarios(ctx context.Context) ([]fire.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT scenario_id, name, description, parameters_json, ignition_points_json, created_at, updated_at
FROM scenarios ORDER BY updated_at DESC, scenario_id`)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []fire.Scenario{}
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE scenario_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSimulation records the latest known state of a simulation.
func (s *Store) UpsertSimulation(ctx context.Context, rec SimulationRecord) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO simulations(simulation_id, parameters_json, ignition_points, status, sim_time, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(simulation_id) DO UPDATE SET
	status = excluded.status,
	sim_time = excluded.sim_time,
	updated_at = excluded.updated_at`,
		rec.SimulationID, string(params), rec.IgnitionPoints, string(rec.Status), rec.CurrentTime,
		formatTS(rec.CreatedAt), formatTS(now))
	if err != nil {
		return fmt.Errorf("upsert simulation: %w", err)
	}
	return nil
}

func (s *Store) GetSimulation(ctx context.Context, id string) (SimulationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT simulation_id, parameters_json, ignition_points, status, sim_time, created_at, updated_at
FROM simulations WHERE simulation_id = ?`, id)

	var (
		rec                  SimulationRecord
		params, status       string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.SimulationID, &params, &rec.IgnitionPoints, &status, &rec.CurrentTime, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SimulationRecord{}, ErrNotFound
	}
	if err != nil {
		return SimulationRecord{}, fmt.Errorf("scan simulation: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
		return SimulationRecord{}, fmt.Errorf("decode parameters: %w", err)
	}
	rec.Status = fire.RemoteStatus(status)
	if rec.CreatedAt, err = parseTS(createdAt); err != nil {
		return SimulationRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return SimulationRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

func (s *Store) DeleteSimulation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM simulations WHERE simulation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete simulation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeScenario(sc fire.Scenario) (string, string, error) {
	params, err := json.Marshal(sc.Parameters)
	if err != nil {
		return "", "", fmt.Errorf("encode parameters: %w", err)
	}
	points, err := json.Marshal(sc.IgnitionPoints)
	if err != nil {
		return "", "", fmt.Errorf("encode ignition points: %w", err)
	}
	return string(params), string(points), nil
}

func scanScenario(scanner interface{ Scan(dest ...any) error }) (fire.Scenario, error) {
	var (
		sc                   fire.Scenario
		params, points       string
		createdAt, updatedAt string
	)
	err := scanner.Scan(&sc.ID, &sc.Name, &sc.Description, &params, &points, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fire.Scenario{}, ErrNotFound
	}
	if err != nil {
		return fire.Scenario{}, fmt.Errorf("scan scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &sc.Parameters); err != nil {
		return fire.Scenario{}, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(points), &sc.IgnitionPoints); err != nil {
		return fire.Scenario{}, fmt.Errorf("decode ignition points: %w", err)
	}
	if sc.CreatedAt, err = parseTS(createdAt); err != nil {
		return fire.Scenario{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sc.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return fire.Scenario{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return sc, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
