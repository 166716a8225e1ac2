package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMismatch is returned when the database lacks a table or column the
// queries depend on.
var ErrSchemaMismatch = errors.New("schema mismatch")

type tableSpec struct {
	Name    string
	Columns []string
}

// The database is externally owned. These are the columns read by the
// queries; anything else in the tables is ignored.
var requiredTables = []tableSpec{
	{Name: "measurement", Columns: []string{"station", "date", "prcp", "tobs"}},
	{Name: "station", Columns: []string{"station", "name"}},
}

// VerifySchema inspects the live schema and reports any missing table or
// column. It never creates or alters anything.
func (s *Store) VerifySchema(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		var problems []string
		for _, t := range requiredTables {
			cols, err := tableColumns(ctx, conn, t.Name)
			if err != nil {
				return fmt.Errorf("inspect table %s: %w", t.Name, err)
			}
			if len(cols) == 0 {
				problems = append(problems, fmt.Sprintf("missing table %s", t.Name))
				continue
			}
			for _, c := range t.Columns {
				if !cols[c] {
					problems = append(problems, fmt.Sprintf("missing column %s.%s", t.Name, c))
				}
			}
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
		}
		return nil
	})
}

func tableColumns(ctx context.Context, conn *sql.Conn, table string) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}
