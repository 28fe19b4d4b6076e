package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/oncosaferx/authcore/mfa"
)

// Schema creates the tables this package reads and writes. Idempotent.
const Schema = `
create table if not exists mfa_credentials (
	user_id          text primary key,
	email            text not null default '',
	secret_encrypted bytea not null,
	enabled          boolean not null default false,
	failed_attempts  integer not null default 0,
	locked_until     timestamptz,
	verified_at      timestamptz,
	last_used        timestamptz,
	created_at       timestamptz not null default now(),
	updated_at       timestamptz not null default now()
);

create table if not exists mfa_backup_codes (
	user_id   text not null references mfa_credentials(user_id) on delete cascade,
	code_hash bytea not null,
	primary key (user_id, code_hash)
);

create table if not exists user_profiles (
	email text primary key,
	role  text not null default 'user'
);

create table if not exists tenant_members (
	user_id    text not null,
	tenant_id  text not null,
	role       text not null default '',
	role_level integer not null default 0,
	primary key (tenant_id, user_id)
);

create table if not exists tenant_permissions (
	user_id    text not null,
	tenant_id  text not null,
	permission text not null,
	primary key (tenant_id, user_id, permission)
);
`

// OpenDB opens and pings a Postgres connection via the pgx stdlib driver.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema applies [Schema].
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PGCredentialStore persists MFA credentials in Postgres. The failure
// counter is incremented with a single conditional UPDATE so two
// concurrent wrong-code submissions cannot both observe the same
// pre-lockout count.
type PGCredentialStore struct {
	db *sql.DB
}

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

func (s *PGCredentialStore) Get(ctx context.Context, userID string) (*mfa.Credential, error) {
	cred := &mfa.Credential{}
	var lockedUntil, verifiedAt, lastUsed sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		select user_id, email, secret_encrypted, enabled, failed_attempts,
		       locked_until, verified_at, last_used, created_at, updated_at
		from mfa_credentials
		where user_id = $1
	`, userID).Scan(
		&cred.UserID, &cred.Email, &cred.SecretEncrypted, &cred.Enabled,
		&cred.FailedAttempts, &lockedUntil, &verifiedAt, &lastUsed,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mfa.ErrCredentialNotFound
		}
		return nil, err
	}
	if lockedUntil.Valid {
		cred.LockedUntil = lockedUntil.Time
	}
	if verifiedAt.Valid {
		cred.VerifiedAt = verifiedAt.Time
	}
	if lastUsed.Valid {
		cred.LastUsed = lastUsed.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		select code_hash from mfa_backup_codes where user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("backup code hash for %s has %d bytes", userID, len(raw))
		}
		var hash [32]byte
		copy(hash[:], raw)
		cred.BackupCodes = append(cred.BackupCodes, hash)
	}
	return cred, rows.Err()
}

func (s *PGCredentialStore) Put(ctx context.Context, cred *mfa.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into mfa_credentials
			(user_id, email, secret_encrypted, enabled, failed_attempts,
			 locked_until, verified_at, last_used, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict (user_id) do update set
			email = excluded.email,
			secret_encrypted = excluded.secret_encrypted,
			enabled = excluded.enabled,
			failed_attempts = excluded.failed_attempts,
			locked_until = excluded.locked_until,
			verified_at = excluded.verified_at,
			last_used = excluded.last_used,
			updated_at = excluded.updated_at
	`, cred.UserID, cred.Email, cred.SecretEncrypted, cred.Enabled, cred.FailedAttempts,
		nullTime(cred.LockedUntil), nullTime(cred.VerifiedAt), nullTime(cred.LastUsed),
		cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from mfa_backup_codes where user_id = $1`, cred.UserID); err != nil {
		return err
	}
	for _, hash := range cred.BackupCodes {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_backup_codes (user_id, code_hash) values ($1, $2)
		`, cred.UserID, hash[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGCredentialStore) Enable(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update mfa_credentials
		set enabled = true, verified_at = $2, updated_at = $2
		where user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGCredentialStore) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from mfa_credentials where user_id = $1
	`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordFailure is a single statement: the CTE takes the row lock and
// snapshots the prior lock deadline, the update increments and applies
// the lockout, and the returning clause compares old against new state
// to report whether this call activated the lock. A lock already active
// is left untouched; an expired one is re-armed and reported.
func (s *PGCredentialStore) RecordFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (mfa.FailureState, error) {
	var (
		attempts    int
		lockedUntil sql.NullTime
		locked      bool
	)
	err := s.db.QueryRowContext(ctx, `
		with prev as (
			select user_id, locked_until as prior_lock
			from mfa_credentials
			where user_id = $1
			for update
		)
		update mfa_credentials c
		set failed_attempts = c.failed_attempts + 1,
		    locked_until = case
		        when c.failed_attempts + 1 >= $2
		             and (c.locked_until is null or c.locked_until <= now())
		        then now() + make_interval(secs => $3)
		        else c.locked_until
		    end,
		    updated_at = now()
		from prev
		where c.user_id = prev.user_id
		returning c.failed_attempts, c.locked_until,
		    (prev.prior_lock is null or prev.prior_lock <= now())
		        and c.locked_until is not null and c.locked_until > now()
	`, userID, threshold, lockFor.Seconds()).Scan(&attempts, &lockedUntil, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mfa.FailureState{}, mfa.ErrCredentialNotFound
		}
		return mfa.FailureState{}, err
	}

	state := mfa.FailureState{Attempts: attempts, Locked: locked}
	if lockedUntil.Valid {
		state.LockedUntil = lockedUntil.Time
	}
	return state, nil
}

func (s *PGCredentialStore) RecordSuccess(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update mfa_credentials
		set failed_attempts = 0, locked_until = null, last_used = $2, updated_at = $2
		where user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGCredentialStore) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	// Deletion doubles as the membership check, so a code consumed by a
	// concurrent request cannot succeed twice.
	res, err := s.db.ExecContext(ctx, `
		delete from mfa_backup_codes where user_id = $1 and code_hash = $2
	`, userID, hash[:])
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGCredentialStore) ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from mfa_backup_codes where user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_backup_codes (user_id, code_hash) values ($1, $2)
		`, userID, hash[:]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update mfa_credentials set updated_at = now() where user_id = $1
	`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// PGProfileStore resolves user-profile roles for role hydration.
type PGProfileStore struct {
	db *sql.DB
}

func NewPGProfileStore(db *sql.DB) *PGProfileStore {
	return &PGProfileStore{db: db}
}

func (s *PGProfileStore) RoleByEmail(ctx context.Context, email string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		select role from user_profiles where lower(email) = lower($1)
	`, email).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// PGGrantOracle answers tenant membership, role, and permission lookups
// from the grant tables.
type PGGrantOracle struct {
	db *sql.DB
}

func NewPGGrantOracle(db *sql.DB) *PGGrantOracle {
	return &PGGrantOracle{db: db}
}

func (o *PGGrantOracle) IsMember(ctx context.Context, userID, tenantID string) (bool, error) {
	var ok bool
	err := o.db.QueryRowContext(ctx, `
		select exists(
			select 1 from tenant_members where tenant_id = $1 and user_id = $2
		)
	`, tenantID, userID).Scan(&ok)
	return ok, err
}

func (o *PGGrantOracle) HasPermission(ctx context.Context, userID, tenantID, permission string) (bool, error) {
	var ok bool
	err := o.db.QueryRowContext(ctx, `
		select exists(
			select 1 from tenant_permissions
			where tenant_id = $1 and user_id = $2 and permission = $3
		)
	`, tenantID, userID, permission).Scan(&ok)
	return ok, err
}

func (o *PGGrantOracle) Permissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	rows, err := o.db.QueryContext(ctx, `
		select permission from tenant_permissions
		where tenant_id = $1 and user_id = $2
		order by permission
	`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (o *PGGrantOracle) HasRole(ctx context.Context, userID, tenantID, role string) (bool, error) {
	var ok bool
	err := o.db.QueryRowContext(ctx, `
		select exists(
			select 1 from tenant_members
			where tenant_id = $1 and user_id = $2 and lower(role) = lower($3)
		)
	`, tenantID, userID, role).Scan(&ok)
	return ok, err
}

func (o *PGGrantOracle) RoleLevel(ctx context.Context, userID, tenantID string) (int, error) {
	var level int
	err := o.db.QueryRowContext(ctx, `
		select role_level from tenant_members where tenant_id = $1 and user_id = $2
	`, tenantID, userID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mfa.ErrCredentialNotFound
	}
	return nil
}
