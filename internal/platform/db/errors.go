package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidText         = "22P02"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
)

// constraintMessages keeps schema names out of client-facing errors.
var constraintMessages = map[string]string{
	"roles_name_key":                      "role name already exists",
	"users_email_key":                     "email already registered",
	"users_provider_subject_key":          "identity already linked to another account",
	"audit_logs_event_id_key":             "audit event already recorded",
	"users_role_id_fkey":                  "role is assigned to users",
	"role_permissions_role_id_fkey":       "role no longer exists",
	"role_permissions_permission_id_fkey": "permission no longer exists",
	"permissions_source_check":            "unknown source",
	"permissions_actions_check":           "unknown action",
	"audit_logs_type_check":               "unknown audit type",
	"audit_logs_source_check":             "unknown source",
}

// storeError carries a neutral message while keeping the driver error in the
// chain for logging.
type storeError struct {
	kind  error
	msg   string
	cause error
}

func (e *storeError) Error() string {
	return e.kind.Error() + ": " + e.msg
}

func (e *storeError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func neutral(kind error, pgErr *pgconn.PgError, fallback string) error {
	msg, ok := constraintMessages[pgErr.ConstraintName]
	if !ok {
		msg = fallback
	}
	return &storeError{kind: kind, msg: msg, cause: pgErr}
}

// Classify maps driver errors onto the shared error taxonomy while keeping the
// original error in the chain for logging.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrTransientStore) ||
		errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrValidation) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return neutral(shared.ErrConflict, pgErr, "duplicate value")
		case pgForeignKeyViolation:
			return neutral(shared.ErrConflict, pgErr, "referenced record is in use")
		case pgCheckViolation:
			return neutral(shared.ErrValidation, pgErr, "value out of range")
		case pgInvalidText:
			return neutral(shared.ErrValidation, pgErr, "malformed value")
		case pgSerialization, pgDeadlock:
			return fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", shared.ErrTransientStore, err)
	}
	return err
}
