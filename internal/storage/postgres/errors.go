package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
)

// Коды ошибок PostgreSQL, которые различает хранилище.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	classConnectionException = "08"
)

// classifyError помечает временные сбои PostgreSQL через domain.MarkTransient.
// Отмена контекста вызывающей стороной временной не считается.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled, codeAdminShutdown:
			return domain.MarkTransient(err)
		}
		if strings.HasPrefix(pgErr.Code, classConnectionException) {
			return domain.MarkTransient(err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.MarkTransient(err)
	}
	return err
}

func classifyCommitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected) {
		return domain.MarkTransient(err)
	}
	return err
}

// wrap добавляет описание операции к классифицированной ошибке.
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, classifyError(err))
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKeyViolation
}

func isCheckViolation(err error) bool {
	return pgCode(err) == codeCheckViolation
}
