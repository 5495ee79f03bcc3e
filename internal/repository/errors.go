package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrActiveSessionExists mirrors the unique index on active sessions per conversation.
var ErrActiveSessionExists = errors.New("conversation already has an active session")

// ErrDuplicate is returned when a unique key (e.g. a menu slug) is already taken.
var ErrDuplicate = errors.New("already exists")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
