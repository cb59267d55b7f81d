package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	Message string       `json:"message"`
	Code    Code         `json:"code,omitempty"`
	Chain   []string     `json:"chain,omitempty"`
	Details any          `json:"details,omitempty"`
	DB      *DriverError `json:"db,omitempty"`
}

// DriverError is the database driver error found in a chain, if any.
type DriverError struct {
	Driver     string `json:"driver"`
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	// Transient marks lock and serialization failures that succeed on retry.
	Transient bool `json:"transient"`
}

// Postgres SQLSTATEs that clear up when the transaction is retried.
var transientPGCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{Message: err.Error(), DB: driverError(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Details = te.Details()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

// IsTransientDB reports whether err wraps a driver error worth retrying.
func IsTransientDB(err error) bool {
	d := driverError(err)
	return d != nil && d.Transient
}

func driverError(err error) *DriverError {
	if err == nil {
		return nil
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &DriverError{
			Driver:     "pgx",
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Transient:  transientPGCodes[pgxErr.Code],
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DriverError{
			Driver:     "pq",
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Transient:  transientPGCodes[string(pqErr.Code)],
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &DriverError{
			Driver:    "sqlite3",
			Code:      fmt.Sprintf("%d/%d", int(liteErr.Code), int(liteErr.ExtendedCode)),
			Detail:    liteErr.Error(),
			Transient: liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked,
		}
	}
	return nil
}
