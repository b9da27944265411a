// Package postgres is the production repository.WorkflowRepository: hand
// written SQL against the schema in migrations/, run through pressly/goose.
// No ORM — queries are explicit — but row scanning goes through
// jmoiron/sqlx's StructScan against tagged row structs instead of
// positional row.Scan, matching how the wider stack favors sqlx.Get/Select
// over a query builder.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/repository"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the sqlx-backed repository.WorkflowRepository.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// New wraps an already-open *sql.DB in a *sqlx.DB. The caller owns the
// underlying connection's lifecycle (pool sizing, Close).
func New(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres"), logger: logger}
}

var _ repository.WorkflowRepository = (*Store)(nil)

// Migrate applies every pending migration under migrations/ using goose's
// embedded-filesystem provider.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "set goose dialect")
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "run migrations")
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
