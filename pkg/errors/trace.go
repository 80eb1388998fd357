package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Trace is a log-friendly breakdown of an error chain, including the
// postgres diagnostics when a driver error sits in the chain.
type Trace struct {
	Message string
	Code    Code
	Chain   []string
	PG      *PGDiagnostics
}

type PGDiagnostics struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// Describe walks err and collects its chain. Both the pgx and lib/pq driver
// errors are recognised.
func Describe(err error) Trace {
	if err == nil {
		return Trace{}
	}
	t := Trace{Message: err.Error()}
	if typed := As(err); typed != nil {
		t.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		t.Chain = append(t.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		t.PG = &PGDiagnostics{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	case stdErrors.As(err, &pqErr):
		t.PG = &PGDiagnostics{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return t
}

// Fields flattens the chain and postgres diagnostics for structured logging.
// The message and code are left to the logger. Empty values are left out.
func (t Trace) Fields() map[string]any {
	fields := map[string]any{}
	if len(t.Chain) > 1 {
		fields["error_chain"] = t.Chain
	}
	if t.PG == nil {
		return fields
	}
	for key, val := range map[string]string{
		"pg_code":       t.PG.Code,
		"pg_constraint": t.PG.Constraint,
		"pg_table":      t.PG.Table,
		"pg_column":     t.PG.Column,
		"pg_detail":     t.PG.Detail,
		"pg_message":    t.PG.Message,
	} {
		if val != "" {
			fields[key] = val
		}
	}
	return fields
}
