package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username        TEXT NOT NULL,
	real_name       TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	blocked         BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash   TEXT NOT NULL DEFAULT '',
	groups          TEXT[] NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_lower_idx ON accounts (LOWER(username));
`

// PostgresDirectory is a Postgres-backed account store. The unique index on
// LOWER(username) makes the find-else-create race safe: the loser of a
// concurrent Create gets ErrDuplicateUsername instead of a second row.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory opens a Postgres-backed directory using a lib/pq
// connection string.
func NewPostgresDirectory(connString string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return &PostgresDirectory{db: db}, nil
}

// EnsureSchema creates the accounts table and indexes if they do not exist.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, accountsSchema); err != nil {
		return fmt.Errorf("failed to create accounts schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (d *PostgresDirectory) Close() error {
	return d.db.Close()
}

// FindByName looks up an account ID by username, case-insensitively.
func (d *PostgresDirectory) FindByName(ctx context.Context, username string) (string, bool, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE LOWER(username) = LOWER($1)`,
		username,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up account %q: %w", username, err)
	}
	return id, true, nil
}

// Load returns the full account record for an ID.
func (d *PostgresDirectory) Load(ctx context.Context, id string) (*LocalAccount, error) {
	acct := &LocalAccount{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, real_name, email, email_confirmed, blocked, password_hash, groups
		 FROM accounts WHERE id = $1`,
		id,
	).Scan(
		&acct.ID,
		&acct.Username,
		&acct.RealName,
		&acct.Email,
		&acct.EmailConfirmed,
		&acct.Blocked,
		&acct.PasswordHash,
		pq.Array(&acct.Groups),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return acct, nil
}

// Create inserts a new account and returns its generated ID.
func (d *PostgresDirectory) Create(ctx context.Context, acct *LocalAccount) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO accounts (username, real_name, email, email_confirmed, blocked, password_hash, groups)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		acct.Username,
		acct.RealName,
		acct.Email,
		acct.EmailConfirmed,
		acct.Blocked,
		acct.PasswordHash,
		pq.Array(acct.Groups),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateUsername
		}
		return "", fmt.Errorf("failed to create account %q: %w", acct.Username, err)
	}
	acct.ID = id
	return id, nil
}

// Save persists changes to an existing account.
func (d *PostgresDirectory) Save(ctx context.Context, acct *LocalAccount) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE accounts
		 SET username = $2, real_name = $3, email = $4, email_confirmed = $5,
		     blocked = $6, password_hash = $7, groups = $8
		 WHERE id = $1`,
		acct.ID,
		acct.Username,
		acct.RealName,
		acct.Email,
		acct.EmailConfirmed,
		acct.Blocked,
		acct.PasswordHash,
		pq.Array(acct.Groups),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to save account %s: %w", acct.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check save result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
