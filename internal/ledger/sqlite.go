package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLite keeps balances in a sqlite database so credits survive restarts.
type SQLite struct {
	db *sql.DB
}

func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// OpenSQLite opens (creating if needed) the ledger database at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// withTransaction runs fn within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Spend(lane string, resource string, amount uint64) error {
	ctx := context.Background()
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if amount > MaxBalance {
			have, err := balanceTx(ctx, tx, lane, resource)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: lane %q has %d %s, needs %d", ErrInsufficient, lane, have, resource, amount)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE balances SET amount = amount - ?, modified_at = ?
			 WHERE lane = ? AND resource = ? AND amount >= ?`,
			int64(amount), time.Now().UTC(), lane, resource, int64(amount),
		)
		if err != nil {
			return fmt.Errorf("spend: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}

		// Spending nothing from an account that does not exist yet is fine.
		if amount == 0 {
			return nil
		}

		have, err := balanceTx(ctx, tx, lane, resource)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: lane %q has %d %s, needs %d", ErrInsufficient, lane, have, resource, amount)
	})
}

// balanceTx reads lane's holding of resource inside tx; a missing account
// holds zero.
func balanceTx(ctx context.Context, tx *sql.Tx, lane string, resource string) (int64, error) {
	var have int64
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE lane = ? AND resource = ?`, lane, resource,
	).Scan(&have)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return have, nil
}

// Deposit credits amount units of resource to lane.
func (s *SQLite) Deposit(lane string, resource string, amount uint64) error {
	ctx := context.Background()
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		have, err := balanceTx(ctx, tx, lane, resource)
		if err != nil {
			return err
		}
		if amount > MaxBalance-uint64(have) {
			return fmt.Errorf("%w: lane %q has %d %s, deposit of %d", ErrOverflow, lane, have, resource, amount)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO balances(lane, resource, amount, modified_at) VALUES(?, ?, ?, ?)
			 ON CONFLICT(lane, resource) DO UPDATE SET amount = amount + excluded.amount, modified_at = excluded.modified_at`,
			lane, resource, int64(amount), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		return nil
	})
}

// Balance returns lane's holding of resource.
func (s *SQLite) Balance(lane string, resource string) (uint64, error) {
	var have int64
	err := s.db.QueryRow(
		`SELECT amount FROM balances WHERE lane = ? AND resource = ?`, lane, resource,
	).Scan(&have)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(have), nil
}

// Balances returns every account ordered by lane then resource.
func (s *SQLite) Balances() ([]Balance, error) {
	rows, err := s.db.Query(`SELECT lane, resource, amount FROM balances ORDER BY lane, resource`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Balance, 0)
	for rows.Next() {
		var b Balance
		var amount int64
		if err := rows.Scan(&b.Lane, &b.Resource, &amount); err != nil {
			return nil, err
		}
		b.Amount = uint64(amount)
		out = append(out, b)
	}
	return out, rows.Err()
}
