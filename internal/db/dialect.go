package db

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects placeholder syntax and column expressions for a driver.
// Its value is the database/sql driver name.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// createdAtColumn selects "createdAt" as unix milliseconds.
func (d Dialect) createdAtColumn() string {
	if d == Postgres {
		return `(extract(epoch from "createdAt") * 1000)::bigint`
	}
	return `"createdAt"`
}

// tagsColumn selects "tags" as a JSON array string.
func (d Dialect) tagsColumn() string {
	if d == Postgres {
		return `array_to_json("tags")::text`
	}
	return `"tags"`
}
