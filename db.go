package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PersistenceError is a store-level failure. Unlike fetch errors it is not
// isolated per experiment: a failing store aborts the whole sync.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		date            TEXT NOT NULL,
		ticket_id       INTEGER DEFAULT 0,
		ticket_type     TEXT NOT NULL,
		quality         TEXT DEFAULT '',
		comment         TEXT DEFAULT '',
		score           REAL,
		experiment_name TEXT NOT NULL,
		run_id          TEXT NOT NULL,
		start_time      DATETIME,
		evaluation_key  TEXT NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, evaluation_key)
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_date_type ON evaluations(date, ticket_type);
	CREATE INDEX IF NOT EXISTS idx_evaluations_experiment ON evaluations(experiment_name);
	CREATE INDEX IF NOT EXISTS idx_evaluations_quality ON evaluations(quality);

	CREATE TABLE IF NOT EXISTS latest_experiments (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		date            TEXT NOT NULL,
		experiment_type TEXT NOT NULL,
		experiment_name TEXT NOT NULL UNIQUE,
		start_time      DATETIME,
		run_count       INTEGER NOT NULL DEFAULT 0,
		updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_date_type ON latest_experiments(date, experiment_type);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	// Migration: add counted column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('evaluations') WHERE name = 'counted'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE evaluations ADD COLUMN counted INTEGER NOT NULL DEFAULT 1`)
	}

	return db, nil
}

// UpsertEvaluations inserts new records and overwrites existing ones matched
// by (run_id, evaluation_key). The batch is applied in a single transaction:
// any failure leaves the store as it was before the call.
func UpsertEvaluations(db *sql.DB, records []EvaluationRecord) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT COUNT(*) FROM evaluations WHERE run_id = ? AND evaluation_key = ?`)
	if err != nil {
		return 0, 0, &PersistenceError{Op: "prepare", Err: err}
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(
		`INSERT INTO evaluations (date, ticket_id, ticket_type, quality, comment, score, experiment_name, run_id, start_time, evaluation_key, counted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, evaluation_key) DO UPDATE SET
		   date = excluded.date,
		   ticket_id = excluded.ticket_id,
		   ticket_type = excluded.ticket_type,
		   quality = excluded.quality,
		   comment = excluded.comment,
		   score = excluded.score,
		   experiment_name = excluded.experiment_name,
		   start_time = excluded.start_time,
		   counted = excluded.counted`,
	)
	if err != nil {
		return 0, 0, &PersistenceError{Op: "prepare", Err: err}
	}
	defer upsertStmt.Close()

	for _, r := range records {
		if r.RunID == "" || r.EvaluationKey == "" {
			return 0, 0, &PersistenceError{Op: "upsert", Err: fmt.Errorf("record missing run_id or evaluation_key")}
		}
		var count int
		if err := existsStmt.QueryRow(r.RunID, r.EvaluationKey).Scan(&count); err != nil {
			return 0, 0, &PersistenceError{Op: "upsert", Err: err}
		}
		if _, err := upsertStmt.Exec(
			r.Date, r.TicketID, r.TicketType, r.Quality, r.Comment, r.Score,
			r.ExperimentName, r.RunID, r.StartTime, r.EvaluationKey, r.Counted,
		); err != nil {
			return 0, 0, &PersistenceError{Op: "upsert", Err: err}
		}
		if count > 0 {
			updated++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, &PersistenceError{Op: "commit", Err: err}
	}
	return inserted, updated, nil
}

func UpsertExperiment(db *sql.DB, meta ExperimentMetadata) error {
	_, err := db.Exec(
		`INSERT INTO latest_experiments (date, experiment_type, experiment_name, start_time, run_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(experiment_name) DO UPDATE SET
		   date = excluded.date,
		   experiment_type = excluded.experiment_type,
		   start_time = excluded.start_time,
		   run_count = excluded.run_count,
		   updated_at = CURRENT_TIMESTAMP`,
		meta.Date, meta.ExperimentType, meta.ExperimentName, meta.StartTime, meta.RunCount,
	)
	if err != nil {
		return &PersistenceError{Op: "upsert experiment", Err: err}
	}
	return nil
}

// GetLastSyncedDate returns the most recent experiment date recorded for the
// given experiment type, used to bound incremental fetches.
func GetLastSyncedDate(db *sql.DB, experimentType string) (string, bool, error) {
	var date sql.NullString
	err := db.QueryRow(
		`SELECT MAX(date) FROM latest_experiments WHERE experiment_type = ?`,
		experimentType,
	).Scan(&date)
	if err != nil {
		return "", false, err
	}
	if !date.Valid || date.String == "" {
		return "", false, nil
	}
	return date.String, true, nil
}

// EvalFilter bounds a read query. Zero fields mean "no constraint".
type EvalFilter struct {
	From        string // inclusive, YYYY-MM-DD
	To          string // inclusive
	TicketTypes []TicketType
	Qualities   []Quality
	CountedOnly bool
}

func QueryEvaluations(db *sql.DB, filter EvalFilter) ([]EvaluationRecord, error) {
	query := `SELECT id, date, ticket_id, ticket_type, quality, comment, score, experiment_name, run_id, start_time, evaluation_key, counted, created_at
	 FROM evaluations`
	var conds []string
	var args []any
	if filter.From != "" {
		conds = append(conds, "date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conds = append(conds, "date <= ?")
		args = append(args, filter.To)
	}
	if len(filter.TicketTypes) > 0 {
		placeholders := make([]string, len(filter.TicketTypes))
		for i, t := range filter.TicketTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		conds = append(conds, fmt.Sprintf("ticket_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Qualities) > 0 {
		placeholders := make([]string, len(filter.Qualities))
		for i, q := range filter.Qualities {
			placeholders[i] = "?"
			args = append(args, q)
		}
		conds = append(conds, fmt.Sprintf("quality IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CountedOnly {
		conds = append(conds, "counted = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date, experiment_name, run_id, id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EvaluationRecord
	for rows.Next() {
		var r EvaluationRecord
		var score sql.NullFloat64
		var startTime sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Date, &r.TicketID, &r.TicketType, &r.Quality, &r.Comment, &score,
			&r.ExperimentName, &r.RunID, &startTime, &r.EvaluationKey, &r.Counted, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		if startTime.Valid {
			r.StartTime = startTime.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func CountEvaluations(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM evaluations`).Scan(&count)
	return count, err
}

// ClearAll wipes both tables. Destructive; only for explicit cache resets.
func ClearAll(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM evaluations`); err != nil {
		return &PersistenceError{Op: "clear evaluations", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM latest_experiments`); err != nil {
		return &PersistenceError{Op: "clear experiments", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// --- Aggregates for the presentation boundary ---

type DailyBreakdownRow struct {
	Date       string     `json:"date"`
	TicketType TicketType `json:"ticket_type"`
	Total      int        `json:"total"`
	Good       int        `json:"good"`
	Bad        int        `json:"bad"`
	Ugly       int        `json:"ugly"`
	AvgScore   float64    `json:"avg_score"`
}

// GetDailyBreakdown aggregates counted records per day and ticket type.
// Audit-only rows (counted=0) never appear here.
func GetDailyBreakdown(db *sql.DB, from, to string) ([]DailyBreakdownRow, error) {
	rows, err := db.Query(
		`SELECT date, ticket_type, COUNT(*),
		        COALESCE(SUM(CASE WHEN quality = 'good' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN quality = 'bad' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN quality = 'ugly' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(score), 0)
		 FROM evaluations
		 WHERE counted = 1 AND date >= ? AND date <= ?
		 GROUP BY date, ticket_type
		 ORDER BY date DESC, ticket_type`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyBreakdownRow
	for rows.Next() {
		var b DailyBreakdownRow
		if err := rows.Scan(&b.Date, &b.TicketType, &b.Total, &b.Good, &b.Bad, &b.Ugly, &b.AvgScore); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type QualityStat struct {
	Quality    Quality `json:"quality"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

func GetQualityDistribution(db *sql.DB) ([]QualityStat, error) {
	rows, err := db.Query(
		`SELECT quality, COUNT(*),
		        ROUND(COUNT(*) * 100.0 / (SELECT COUNT(*) FROM evaluations WHERE counted = 1 AND quality != ''), 2)
		 FROM evaluations
		 WHERE counted = 1 AND quality != ''
		 GROUP BY quality
		 ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QualityStat
	for rows.Next() {
		var s QualityStat
		if err := rows.Scan(&s.Quality, &s.Count, &s.Percentage); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type TicketTypeStat struct {
	TicketType TicketType `json:"ticket_type"`
	Count      int        `json:"count"`
	Percentage float64    `json:"percentage"`
}

func GetTicketTypeDistribution(db *sql.DB) ([]TicketTypeStat, error) {
	rows, err := db.Query(
		`SELECT ticket_type, COUNT(*),
		        ROUND(COUNT(*) * 100.0 / (SELECT COUNT(*) FROM evaluations WHERE counted = 1), 2)
		 FROM evaluations
		 WHERE counted = 1
		 GROUP BY ticket_type
		 ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TicketTypeStat
	for rows.Next() {
		var s TicketTypeStat
		if err := rows.Scan(&s.TicketType, &s.Count, &s.Percentage); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetLatestExperiments returns the most recent experiment per (date, type).
func GetLatestExperiments(db *sql.DB) ([]ExperimentMetadata, error) {
	rows, err := db.Query(
		`SELECT id, date, experiment_type, experiment_name, MAX(start_time), run_count, updated_at
		 FROM latest_experiments
		 GROUP BY date, experiment_type
		 ORDER BY date DESC, experiment_type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExperimentMetadata
	for rows.Next() {
		var m ExperimentMetadata
		// MAX(start_time) is an expression, so the driver loses the column's
		// DATETIME declared type and returns the raw string; parse it here.
		var startTime sql.NullString
		if err := rows.Scan(&m.ID, &m.Date, &m.ExperimentType, &m.ExperimentName, &startTime, &m.RunCount, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if startTime.Valid {
			for _, layout := range []string{
				"2006-01-02 15:04:05.999999999-07:00",
				"2006-01-02T15:04:05.999999999-07:00",
				"2006-01-02 15:04:05",
				"2006-01-02T15:04:05",
				"2006-01-02",
			} {
				if t, err := time.Parse(layout, startTime.String); err == nil {
					m.StartTime = t
					break
				}
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func GetRecentDates(db *sql.DB, limit int) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT date FROM evaluations ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

type KeyTypeCount struct {
	EvaluationKey string
	TicketType    TicketType
	Count         int
}

// GetKeyTypeBreakdown mirrors the status/debug view: record counts grouped by
// evaluation key and ticket type, audit rows included.
func GetKeyTypeBreakdown(db *sql.DB) ([]KeyTypeCount, error) {
	rows, err := db.Query(
		`SELECT evaluation_key, ticket_type, COUNT(*)
		 FROM evaluations
		 GROUP BY evaluation_key, ticket_type
		 ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyTypeCount
	for rows.Next() {
		var k KeyTypeCount
		if err := rows.Scan(&k.EvaluationKey, &k.TicketType, &k.Count); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// sinceFloor computes the incremental-sync lower bound: the minimum
// last-synced date across experiment types, or "" when any type has never
// been synced (forcing a full fetch for it).
func sinceFloor(db *sql.DB) (string, error) {
	floor := ""
	for _, typ := range ExperimentTypes {
		date, ok, err := GetLastSyncedDate(db, typ)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if floor == "" || date < floor {
			floor = date
		}
	}
	return floor, nil
}
