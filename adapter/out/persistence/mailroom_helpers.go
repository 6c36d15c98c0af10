package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Shared nullable conversion helpers
// =============================================================================

func toNullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func toNullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func toNullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullableString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func fromNullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func fromNullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromNullableUUID(v uuid.NullUUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := v.UUID
	return &id
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
