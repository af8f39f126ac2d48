package db

import (
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("not found")

// nullStringToPtr converts a sql.NullString to *string.
func nullStringToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
