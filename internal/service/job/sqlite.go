package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger persists job records in a SQLite database.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and if needed creates) the ledger database at dsn.
func OpenSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	_, err = db.Exec(`
	PRAGMA busy_timeout = 10000;
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous  = NORMAL;

	create table if not exists jobs (
		job_id          text primary key not null,
		status          text not null,
		audio_key       text not null default '',
		result_key      text not null default '',
		clean_key       text not null default '',
		provider_job_id text not null default '',
		audio_hash      text not null default '',
		error           text not null default '',
		updated_at      integer not null
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db, now: time.Now}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Record(ctx context.Context, u Update) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record job: begin trx: %w", err)
	}

	if err := l.record(ctx, tx, u); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback record job: %w", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record job: commit: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) record(ctx context.Context, tx *sql.Tx, u Update) error {
	current := StateUnknown
	var status string
	err := tx.QueryRowContext(ctx, "select status from jobs where job_id = $1", u.JobID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("record job: read status: %w", err)
	default:
		if current, err = ParseState(status); err != nil {
			return fmt.Errorf("record job: %w", err)
		}
	}

	if err := current.Transition(u.Status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	insert into jobs (job_id, status, audio_key, result_key, clean_key, provider_job_id, audio_hash, error, updated_at)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	on conflict (job_id) do update set
		status          = excluded.status,
		audio_key       = coalesce(nullif(excluded.audio_key, ''), jobs.audio_key),
		result_key      = coalesce(nullif(excluded.result_key, ''), jobs.result_key),
		clean_key       = coalesce(nullif(excluded.clean_key, ''), jobs.clean_key),
		provider_job_id = coalesce(nullif(excluded.provider_job_id, ''), jobs.provider_job_id),
		audio_hash      = coalesce(nullif(excluded.audio_hash, ''), jobs.audio_hash),
		error           = excluded.error,
		updated_at      = excluded.updated_at`,
		u.JobID, u.Status.String(), u.AudioKey, u.ResultKey, u.CleanKey,
		u.ProviderJobID, u.AudioHash, u.Error, l.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record job: upsert: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, jobID string) (*Record, error) {
	var (
		rec       Record
		updatedMs int64
	)
	err := l.db.QueryRowContext(ctx, `
	select job_id, status, audio_key, result_key, clean_key, provider_job_id, audio_hash, error, updated_at
	from jobs where job_id = $1`, jobID).
		Scan(&rec.JobID, &rec.StatusText, &rec.AudioKey, &rec.ResultKey, &rec.CleanKey,
			&rec.ProviderJobID, &rec.AudioHash, &rec.Error, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", jobID, err)
	}

	if rec.Status, err = ParseState(rec.StatusText); err != nil {
		return nil, fmt.Errorf("get %s: %w", jobID, err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &rec, nil
}
