package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/npezzotti/roomchat/internal/database/migrations"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

type PgChatRepository struct {
	conn *sql.DB
}

// NewPgChatRepository opens a connection pool using the given database/sql
// driver name ("postgres" for lib/pq, "pgx" for pgx) and verifies it.
func NewPgChatRepository(ctx context.Context, driver, dsn string) (*PgChatRepository, error) {
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping")
	}

	return &PgChatRepository{conn: db}, nil
}

func NewPgChatRepositoryFromDB(db *sql.DB) *PgChatRepository {
	return &PgChatRepository{conn: db}
}

// ApplyMigrations applies pending migrations from the files embedded in the
// binary.
func (db *PgChatRepository) ApplyMigrations() error {
	driver, err := postgres.WithInstance(db.conn, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return errors.Wrap(err, "migration source")
	}

	instance, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "migrate")
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate up")
	}

	return nil
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (db *PgChatRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	return false
}

// notFound maps sql.ErrNoRows to ErrNotFound and attaches a stack trace to
// everything else.
func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// marshalJSON encodes v for a jsonb parameter. Strings are used instead of
// []byte since lib/pq sends byte slices as bytea.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal json column")
	}
	return string(b), nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(b, v), "unmarshal json column")
}
