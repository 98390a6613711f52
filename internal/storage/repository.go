package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS alert_state (
        name        TEXT PRIMARY KEY,
        ath_price   NUMERIC NOT NULL,
        ath_date    DATE,
        last_alert  NUMERIC NOT NULL DEFAULT 0,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS alerts (
        id            BIGSERIAL PRIMARY KEY,
        run_id        TEXT NOT NULL,
        instrument    TEXT NOT NULL,
        level_pct     NUMERIC NOT NULL,
        decline_pct   NUMERIC NOT NULL,
        ath_price     NUMERIC NOT NULL,
        current_price NUMERIC NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	listStateSQL = `SELECT
        name,
        ath_price::text,
        ath_date,
        last_alert::text
    FROM alert_state;`

	clearStateSQL = `DELETE FROM alert_state;`

	insertStateSQL = `INSERT INTO alert_state (
        name,
        ath_price,
        ath_date,
        last_alert
    ) VALUES (
        $1,$2,$3,$4
    );`

	insertAlertSQL = `INSERT INTO alerts (
        run_id,
        instrument,
        level_pct,
        decline_pct,
        ath_price,
        current_price
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        run_id,
        instrument,
        level_pct::text,
        decline_pct::text,
        ath_price::text,
        current_price::text,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStateStore loads and saves the whole alert-state snapshot.
type AlertStateStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// AlertLog defines operations for alert auditing.
type AlertLog interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store keeps alert state and the alert audit trail in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables used by Store when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Load reads every alert_state row.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStateSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list alert state: %w", queryErr)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		name, state, scanErr := scanAlertState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snap[name] = state
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snap, nil
}

// Save replaces the alert_state table contents in a single transaction.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearStateSQL); err != nil {
			return fmt.Errorf("clear alert state: %w", err)
		}

		batch := &pgx.Batch{}
		for _, name := range snap.Names() {
			state := snap[name]
			var athDate any
			if !state.ATHDate.IsZero() {
				athDate = state.ATHDate
			}
			batch.Queue(insertStateSQL,
				name,
				state.ATHPrice.String(),
				athDate,
				state.LastAlertLevel.String(),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert alert state: %w", err)
		}
		return nil
	})
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.RunID,
		alert.Instrument,
		alert.LevelPct.String(),
		alert.DeclinePct.String(),
		alert.ATHPrice.String(),
		alert.CurrentPrice.String(),
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var levelStr, declineStr, athStr, currentStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Instrument,
			&levelStr,
			&declineStr,
			&athStr,
			&currentStr,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		values, convErr := parseDecimals(levelStr, declineStr, athStr, currentStr)
		if convErr != nil {
			return nil, convErr
		}
		rec.LevelPct, rec.DeclinePct, rec.ATHPrice, rec.CurrentPrice = values[0], values[1], values[2], values[3]

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlertState(rows pgx.Rows) (string, AlertState, error) {
	var (
		name      string
		athStr    string
		athDate   *time.Time
		lastAlert string
	)
	if err := rows.Scan(&name, &athStr, &athDate, &lastAlert); err != nil {
		return "", AlertState{}, err
	}

	values, err := parseDecimals(athStr, lastAlert)
	if err != nil {
		return "", AlertState{}, fmt.Errorf("alert state %q: %w", name, err)
	}

	state := AlertState{ATHPrice: values[0], LastAlertLevel: values[1]}
	if athDate != nil {
		state.ATHDate = athDate.UTC()
	}
	return name, state, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse numeric %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ AlertStateStore = (*Store)(nil)
	_ AlertLog        = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
