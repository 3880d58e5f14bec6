// Package postgres implements the billing and dispute stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/infra/apperr"
)

// Postgres error codes the store translates.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var (
	_ billing.Store = (*Store)(nil)
	_ dispute.Store = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translate maps driver errors onto apperr kinds; op names the failed action.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case uniqueViolation:
			return apperr.Conflict("%s: duplicate record", op)
		case foreignKeyViolation:
			return apperr.Business("%s: record is still referenced", op)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
