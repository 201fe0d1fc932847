package recorder

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while a run is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: logging.NewComponentLogger("recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS eval_runs (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL,
			series_start  INTEGER,
			series_end    INTEGER,
			points        INTEGER,
			filled        INTEGER,
			folds         INTEGER,
			horizon       INTEGER,
			winner        TEXT,
			winner_mape   REAL,
			current_model TEXT,
			current_mape  REAL,
			improvement   REAL,
			action        TEXT,
			failed_cells  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_symbol_ts ON eval_runs(symbol, finished_at)`,

		`CREATE TABLE IF NOT EXISTS model_rankings (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			rank         INTEGER,
			model        TEXT NOT NULL,
			kind         TEXT,
			excluded     INTEGER NOT NULL DEFAULT 0,
			mape_mean    REAL,
			mape_std     REAL,
			mae_mean     REAL,
			rmse_mean    REAL,
			mean_seconds REAL,
			failed_folds INTEGER,
			first_error  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rankings_run ON model_rankings(run_id)`,

		`CREATE TABLE IF NOT EXISTS fold_cells (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			fold       INTEGER NOT NULL,
			model      TEXT NOT NULL,
			state      TEXT NOT NULL,
			failure    TEXT,
			error      TEXT,
			test_start INTEGER,
			test_end   INTEGER,
			mape       REAL,
			mae        REAL,
			rmse       REAL,
			degenerate INTEGER,
			seconds    REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cells_run ON fold_cells(run_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", strings.TrimSpace(s)[:40], err)
		}
	}
	return nil
}

// RecordRun stores a run with its ranking and cells in one transaction.
func (r *SQLiteRecorder) RecordRun(res *model.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec := res.Recommendation
	failed := 0
	if res.Backtest != nil {
		failed = res.Backtest.FailedCount()
	}
	_, err = tx.Exec(`INSERT INTO eval_runs
		(id, symbol, started_at, finished_at, series_start, series_end, points, filled,
		 folds, horizon, winner, winner_mape, current_model, current_mape, improvement,
		 action, failed_cells)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.Symbol, res.StartedAt.Unix(), res.FinishedAt.Unix(),
		res.SeriesStart.Unix(), res.SeriesEnd.Unix(), res.SeriesPoints, res.FilledPoints,
		res.FoldCount, res.Horizon, rec.Winner, rec.WinnerMAPE, rec.Current, rec.CurrentMAPE,
		rec.ImprovementPct, string(rec.Action), failed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, m := range res.Ranking.Models {
		_, err = tx.Exec(`INSERT INTO model_rankings
			(run_id, rank, model, kind, excluded, mape_mean, mape_std, mae_mean, rmse_mean, mean_seconds, failed_folds)
			VALUES (?,?,?,?,0,?,?,?,?,?,?)`,
			res.ID, m.Rank, m.Model, m.Kind, m.MAPE.Mean, m.MAPE.Std, m.MAE.Mean, m.RMSE.Mean,
			m.MeanTime.Seconds(), m.Failed,
		)
		if err != nil {
			return fmt.Errorf("insert ranking: %w", err)
		}
	}
	for _, e := range res.Ranking.Excluded {
		_, err = tx.Exec(`INSERT INTO model_rankings
			(run_id, model, kind, excluded, failed_folds, first_error)
			VALUES (?,?,?,1,?,?)`,
			res.ID, e.Model, e.Kind, e.FailedFolds, e.FirstError,
		)
		if err != nil {
			return fmt.Errorf("insert exclusion: %w", err)
		}
	}

	if res.Backtest != nil {
		for _, c := range res.Backtest.Cells {
			_, err = tx.Exec(`INSERT INTO fold_cells
				(run_id, fold, model, state, failure, error, test_start, test_end, mape, mae, rmse, degenerate, seconds)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				res.ID, c.Fold.Index, c.Model, string(c.State), string(c.Failure), c.Err,
				c.Fold.Test.Start, c.Fold.Test.End, c.Metrics.MAPE, c.Metrics.MAE, c.Metrics.RMSE,
				boolInt(c.Metrics.Degenerate), c.Metrics.Elapsed.Seconds(),
			)
			if err != nil {
				return fmt.Errorf("insert cell: %w", err)
			}
		}
	}
	return tx.Commit()
}

// RecentRuns lists the newest runs first. An empty symbol matches every symbol.
func (r *SQLiteRecorder) RecentRuns(symbol string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`SELECT id, symbol, started_at, finished_at, points, folds, horizon,
			winner, winner_mape, current_model, action, failed_cells
		FROM eval_runs
		WHERE ? = '' OR symbol = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, symbol, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished int64
		var action string
		if err := rows.Scan(&s.ID, &s.Symbol, &started, &finished, &s.Points, &s.Folds, &s.Horizon,
			&s.Winner, &s.WinnerMAPE, &s.Current, &action, &s.FailedCells); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(started, 0).UTC()
		s.FinishedAt = time.Unix(finished, 0).UTC()
		s.Action = model.Action(action)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
