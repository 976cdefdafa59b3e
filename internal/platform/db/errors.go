package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// Postgres SQLSTATE codes raised by the CRM tables and stored functions.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeInvalidText         = "22P02"
	codeNoDataFound         = "P0002"
)

// TranslateError maps driver errors onto the shared sentinels so callers can
// branch with errors.Is. Unknown errors pass through unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation, codeInvalidText:
		return fmt.Errorf("%w: %s", shared.ErrValidation, pgErr.Message)
	case codeNoDataFound:
		return fmt.Errorf("%w: %s", shared.ErrNotFound, pgErr.Message)
	}
	return err
}
