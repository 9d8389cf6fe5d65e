// Package store persists extraction runs to SQLite: run metadata plus the
// per-seed time-series, keyed by generated run IDs. One database can hold
// runs from many images, so repeated analyses stay comparable.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	"github.com/cortical-data/seedsig/internal/sphere"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the SQLite handle with the extraction schema applied.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) an extraction database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db}, nil
}

// Run is one persisted extraction: metadata in extraction_runs, series in
// seed_series.
type Run struct {
	RunID          string          `json:"run_id"`
	SourcePath     string          `json:"source_path"`
	SeedCount      int             `json:"seed_count"`
	TimepointCount int             `json:"timepoint_count"`
	RadiusMM       *float64        `json:"radius_mm,omitempty"`
	ParamsJSON     json.RawMessage `json:"params_json,omitempty"`
	CreatedAt      int64           `json:"created_at"`
}

// RunStore provides persistence for extraction runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// Insert persists a run and its (T x N) signal matrix. If RunID is empty
// a UUID is generated. seeds must match the matrix's column count.
func (s *RunStore) Insert(run *Run, seeds []sphere.Seed, signals *mat.Dense) error {
	t, n := signals.Dims()
	if len(seeds) != n {
		return fmt.Errorf("got %d seeds for a %d-column signal matrix", len(seeds), n)
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	run.SeedCount = n
	run.TimepointCount = t

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO extraction_runs (
			run_id, source_path, seed_count, timepoint_count,
			radius_mm, params_json, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SourcePath, run.SeedCount, run.TimepointCount,
		run.RadiusMM, paramsStr, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}

	series := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(series, j, signals)
		seriesJSON, err := json.Marshal(series)
		if err != nil {
			return fmt.Errorf("encode series for seed %d: %w", j, err)
		}
		_, err = tx.Exec(`
			INSERT INTO seed_series (run_id, seed_index, x_mm, y_mm, z_mm, series_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, j, seeds[j][0], seeds[j][1], seeds[j][2], string(seriesJSON),
		)
		if err != nil {
			return fmt.Errorf("insert series for seed %d: %w", j, err)
		}
	}

	return retryOnBusy(tx.Commit)
}

// Get returns a run's metadata by ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source_path, seed_count, timepoint_count,
		       radius_mm, params_json, created_unix_nanos
		FROM extraction_runs
		WHERE run_id = ?`, runID)

	var run Run
	var paramsStr sql.NullString
	err := row.Scan(
		&run.RunID, &run.SourcePath, &run.SeedCount, &run.TimepointCount,
		&run.RadiusMM, &paramsStr, &run.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if paramsStr.Valid {
		run.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &run, nil
}

// List returns all runs ordered by creation time descending.
func (s *RunStore) List() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source_path, seed_count, timepoint_count,
		       radius_mm, params_json, created_unix_nanos
		FROM extraction_runs
		ORDER BY created_unix_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var paramsStr sql.NullString
		if err := rows.Scan(
			&run.RunID, &run.SourcePath, &run.SeedCount, &run.TimepointCount,
			&run.RadiusMM, &paramsStr, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if paramsStr.Valid {
			run.ParamsJSON = json.RawMessage(paramsStr.String)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// LoadSignals reconstructs a run's (T x N) signal matrix and seed list.
func (s *RunStore) LoadSignals(runID string) ([]sphere.Seed, *mat.Dense, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT seed_index, x_mm, y_mm, z_mm, series_json
		FROM seed_series
		WHERE run_id = ?
		ORDER BY seed_index`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	seeds := make([]sphere.Seed, run.SeedCount)
	signals := mat.NewDense(run.TimepointCount, run.SeedCount, nil)
	for rows.Next() {
		var idx int
		var x, y, z float64
		var seriesStr string
		if err := rows.Scan(&idx, &x, &y, &z, &seriesStr); err != nil {
			return nil, nil, fmt.Errorf("scan series: %w", err)
		}
		if idx < 0 || idx >= run.SeedCount {
			return nil, nil, fmt.Errorf("seed index %d out of range for run %s", idx, runID)
		}
		var series []float64
		if err := json.Unmarshal([]byte(seriesStr), &series); err != nil {
			return nil, nil, fmt.Errorf("decode series for seed %d: %w", idx, err)
		}
		if len(series) != run.TimepointCount {
			return nil, nil, fmt.Errorf("seed %d has %d timepoints, run records %d", idx, len(series), run.TimepointCount)
		}
		seeds[idx] = sphere.Seed{x, y, z}
		signals.SetCol(idx, series)
	}
	return seeds, signals, rows.Err()
}

// Delete removes a run and its series.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM extraction_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// retryOnBusy retries fn a few times with backoff when SQLite reports the
// database as busy or locked; other errors fail immediately.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
