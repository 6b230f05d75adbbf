package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPoolExhausted is returned by Acquire when no Session became available
// before the timeout elapsed. It is retryable; callers should not treat it
// as a driver error.
var ErrPoolExhausted = errors.New("database: pool exhausted")

// ErrPoolClosed is returned by Acquire once CloseAll has completed.
var ErrPoolClosed = errors.New("database: pool closed")

// ErrSessionDiscarded names the error for an operation attempted on a
// Session that has already been released or invalidated. Session methods do
// not check for that condition, and nothing in this package returns it.
var ErrSessionDiscarded = errors.New("database: session discarded")

// errKind classifies a driver-level error for retry and disposal decisions.
type errKind int

const (
	errKindUnknown errKind = iota
	errKindTransient
	errKindPermanent
	errKindCancelled
)

// classify inspects err and returns how the caller should react to it: retry
// with backoff (errKindTransient), fail fast without retry
// (errKindPermanent), or treat as benign cancellation (errKindCancelled).
func classify(err error) errKind {
	if err == nil {
		return errKindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return errKindCancelled
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
			return errKindTransient
		case pgErr.Code == "08000" || pgErr.Code == "08003" || pgErr.Code == "08006" || pgErr.Code == "08001" || pgErr.Code == "08004":
			return errKindTransient // connection_exception family
		case pgErr.Code == "23505", pgErr.Code == "23503", pgErr.Code == "23502", pgErr.Code == "23514":
			return errKindPermanent // constraint violations
		case pgErr.Code == "22P02", pgErr.Code == "22021":
			return errKindPermanent // invalid_text_representation, invalid byte sequence
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errKindTransient
	}

	return errKindUnknown
}

// IsRetryable reports whether err represents a transient condition worth
// retrying (connection reset, deadlock, serialization failure).
func IsRetryable(err error) bool {
	return classify(err) == errKindTransient
}

// IsPermanent reports whether err represents a condition that must not be
// retried (constraint violation, malformed input).
func IsPermanent(err error) bool {
	return classify(err) == errKindPermanent
}
