// Package store is the durable record of processing runs and work items. Every state transition
// is a single UPDATE guarded by the status the caller expects the row to be in, so concurrent or
// repeated callers affect zero rows once the first one has moved the row on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("not found")

// Store runs queries against either the database handle or an open transaction
type Store struct {
	db  *sqlx.DB // nil when the Store is bound to a transaction
	ext sqlx.ExtContext
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db}
}

// InTx runs fn inside a transaction. fn must only use the Store it is given. Nested calls reuse
// the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(&Store{ext: tx}); err != nil {
		rollbackTx(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

// exec runs a statement and returns the number of rows it touched
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.ext.ExecContext(ctx, s.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// execIn expands slice arguments of an IN (?) clause before executing
func (s *Store) execIn(ctx context.Context, query string, args ...any) (int64, error) {
	expanded, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, expanded, inArgs...)
}

func (s *Store) selectIn(ctx context.Context, dest any, query string, args ...any) error {
	expanded, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return s.selectAll(ctx, dest, expanded, inArgs...)
}

func rollbackTx(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Error().Err(err).Msg("Could not rollback transaction")
	}
}
