package db

import (
	"strings"
	"time"

	"github.com/hpungsan/notesync/internal/config"
	"github.com/hpungsan/notesync/internal/cursor"
)

// DefaultBatchSize is used when a Filter carries no batch size.
const DefaultBatchSize = 10000

// Filter selects which notes are synced. It is built once at startup and
// never mutated; each query derives its predicate from it plus the cursor.
type Filter struct {
	// Since is the inclusive lower time bound (nil = unbounded)
	Since *time.Time

	// Until is the exclusive upper time bound (nil = unbounded)
	Until *time.Time

	// Hosts are remote instances indexed in addition to local notes.
	// Empty means local notes only.
	Hosts []string

	// BatchSize is the page size
	BatchSize int

	// Scheme is the id scheme used to translate time bounds into id bounds
	Scheme cursor.Scheme
}

// NewFilter builds the filter from a validated config.
func NewFilter(cfg *config.Config) Filter {
	return Filter{
		Since:     cfg.SinceTime(),
		Until:     cfg.UntilTime(),
		Hosts:     cfg.Sync.Hosts,
		BatchSize: cfg.Sync.BatchSize,
		Scheme:    cfg.Scheme(),
	}
}

// Limit returns the page size, applying the default.
func (f Filter) Limit() int {
	if f.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return f.BatchSize
}

// Predicate is a WHERE clause with its bound arguments.
type Predicate struct {
	SQL  string
	Args []any
}

// predicateBuilder accumulates clauses and numbers placeholders.
type predicateBuilder struct {
	dialect Dialect
	clauses []string
	args    []any
}

func (b *predicateBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *predicateBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

// BuildPredicate composes the filter predicate. When after is non-nil the
// strict pagination bound "id" > after is included; the total estimate passes
// nil to count every matching row.
//
// Every value is bound as a parameter, including allow-listed hosts.
func BuildPredicate(f Filter, dialect Dialect, after *string) (Predicate, error) {
	b := &predicateBuilder{dialect: dialect}

	if after != nil {
		b.add(`"id" > ` + b.bind(*after))
	}

	b.add(`("visibility" = 'public' OR "visibility" = 'home')`)

	if len(f.Hosts) == 0 {
		b.add(`"userHost" IS NULL`)
	} else {
		markers := make([]string, len(f.Hosts))
		for i, host := range f.Hosts {
			markers[i] = b.bind(host)
		}
		b.add(`("userHost" IS NULL OR "userHost" IN (` + strings.Join(markers, ", ") + `))`)
	}

	// Renotes without text are placeholders with nothing to search.
	b.add(`(("renoteId" IS NOT NULL AND "text" IS NOT NULL) OR ("renoteId" IS NULL AND "text" IS NOT NULL))`)

	scheme := f.Scheme
	if scheme == "" {
		scheme = cursor.DefaultScheme
	}
	if f.Since != nil {
		lower, err := cursor.Encode(scheme, *f.Since)
		if err != nil {
			return Predicate{}, err
		}
		b.add(`"id" >= ` + b.bind(lower))
	}
	if f.Until != nil {
		upper, err := cursor.Encode(scheme, *f.Until)
		if err != nil {
			return Predicate{}, err
		}
		b.add(`"id" < ` + b.bind(upper))
	}

	return Predicate{
		SQL:  strings.Join(b.clauses, " AND "),
		Args: b.args,
	}, nil
}
