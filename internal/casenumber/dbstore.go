package casenumber

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// DBStore keeps exactly one row per counter uid and increments it with a
// dialect specific UPSERT:
//
//	postgres: INSERT ... ON CONFLICT(counter_uid) DO UPDATE ... RETURNING counter
//	mysql:    INSERT ... ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))
//	sqlite:   transaction with UPDATE then SELECT
type DBStore struct {
	db  *sqlx.DB
	uid string
}

// NewDBStore binds the counter to the given uid (one sequence per uid).
func NewDBStore(db *sqlx.DB, uid string) *DBStore {
	if uid == "" {
		uid = "case"
	}
	return &DBStore{db: db, uid: uid}
}

// Add implements CounterStore.
func (s *DBStore) Add(ctx context.Context, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("bad offset")
	}
	switch s.db.DriverName() {
	case "postgres", "pgx":
		q := `INSERT INTO case_number_counter (counter_uid, counter)
              VALUES ($1, $2)
              ON CONFLICT (counter_uid) DO UPDATE SET counter = case_number_counter.counter + EXCLUDED.counter
              RETURNING counter`
		var c int64
		if err := s.db.QueryRowContext(ctx, q, s.uid, offset).Scan(&c); err != nil {
			return 0, err
		}
		return c, nil
	case "mysql":
		// LAST_INSERT_ID is read from the Exec result to stay on the same pooled connection.
		q := `INSERT INTO case_number_counter (counter_uid, counter)
              VALUES (?, ?)
              ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))`
		res, err := s.db.ExecContext(ctx, q, s.uid, offset)
		if err != nil {
			return 0, err
		}
		// A fresh row reports one affected row and no insert id.
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return offset, nil
		}
		return res.LastInsertId()
	}
	return s.addTx(ctx, offset)
}

func (s *DBStore) addTx(ctx context.Context, offset int64) (c int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE case_number_counter SET counter = counter + ? WHERE counter_uid = ?`), offset, s.uid)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO case_number_counter (counter_uid, counter) VALUES (?, ?)`), s.uid, offset); err != nil {
			return 0, err
		}
	}
	if err = tx.GetContext(ctx, &c, tx.Rebind(`SELECT counter FROM case_number_counter WHERE counter_uid = ?`), s.uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.New("case number counter row missing")
		}
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return c, nil
}
