package sources

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/signalworks/sigflow/sigdb"
)

// PermissionReport is the outcome of probing one source for write
// privileges. Violations names the statements that unexpectedly succeeded.
type PermissionReport struct {
	DBCode     string
	ReadOnly   bool
	Violations []string
}

// InspectAll probes every registered source concurrently and returns one
// report per source, keyed order unspecified.
func (r *Registry) InspectAll(ctx context.Context) ([]PermissionReport, error) {
	r.mtx.RLock()
	pools := make([]*pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mtx.RUnlock()

	reports := make([]PermissionReport, len(pools))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pools {
		g.Go(func() error {
			reports[i] = inspectPool(ctx, p.source, p.db, r.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rep := range reports {
		metricPermissionViolations.WithLabelValues(rep.DBCode).Set(float64(len(rep.Violations)))
	}
	return reports, nil
}

// inspectPool issues benign write probes. DML probes run inside a
// transaction that is always rolled back; the DDL probe creates a throwaway
// table and drops it again (MySQL autocommits DDL, rollback is not enough).
// A probe that errors means the privilege is absent, which is the desired
// state; a probe that succeeds is a violation.
func inspectPool(ctx context.Context, src *sigdb.SourceDatabase, db *sqlx.DB, logger log.Logger) PermissionReport {
	report := PermissionReport{DBCode: src.Code, ReadOnly: true}

	table, column, err := findProbeTable(ctx, db, src.Product)
	if err != nil {
		level.Warn(logger).Log("msg", "no probe table found, skipping DML probes", "db_code", src.Code, "err", err)
	} else {
		report.Violations = append(report.Violations, probeDML(ctx, db, table, column)...)
	}

	if v := probeDDL(ctx, db, src.Product); v != "" {
		report.Violations = append(report.Violations, v)
	}

	report.ReadOnly = len(report.Violations) == 0
	return report
}

func findProbeTable(ctx context.Context, db *sqlx.DB, product sigdb.Product) (table, column string, err error) {
	var query string
	switch product {
	case sigdb.ProductMySQL:
		query = `
			SELECT CONCAT(c.table_schema, '.', c.table_name), c.column_name
			FROM information_schema.columns c
			JOIN information_schema.tables t
			  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
			WHERE t.table_type = 'BASE TABLE'
			  AND c.table_schema NOT IN ('information_schema', 'performance_schema', 'mysql', 'sys')
			ORDER BY c.table_schema, c.table_name, c.ordinal_position
			LIMIT 1`
	default:
		query = `
			SELECT c.table_schema || '.' || c.table_name, c.column_name
			FROM information_schema.columns c
			JOIN information_schema.tables t
			  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
			WHERE t.table_type = 'BASE TABLE'
			  AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
			ORDER BY c.table_schema, c.table_name, c.ordinal_position
			LIMIT 1`
	}

	err = db.QueryRowContext(ctx, query).Scan(&table, &column)
	if err != nil {
		return "", "", err
	}
	return table, column, nil
}

// probeDML runs no-op writes against the probe table, each inside its own
// rolled-back transaction. WHERE 1=0 keeps every statement row-free; only the
// privilege check matters. One transaction per probe because PostgreSQL
// aborts a transaction on the first denied statement, which would make every
// later probe fail regardless of its privilege.
func probeDML(ctx context.Context, db *sqlx.DB, table, column string) []string {
	probes := []struct {
		name string
		stmt string
	}{
		{"INSERT", fmt.Sprintf("INSERT INTO %s SELECT * FROM %s WHERE 1=0", table, table)},
		{"UPDATE", fmt.Sprintf("UPDATE %s SET %s = %s WHERE 1=0", table, column, column)},
		{"DELETE", fmt.Sprintf("DELETE FROM %s WHERE 1=0", table)},
	}

	var violations []string
	for _, p := range probes {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, p.stmt); err == nil {
			violations = append(violations, p.name)
		}
		_ = tx.Rollback()
	}
	return violations
}

func probeDDL(ctx context.Context, db *sqlx.DB, product sigdb.Product) string {
	name := fmt.Sprintf("sigflow_probe_%08x", rand.Uint32())

	if product == sigdb.ProductMySQL {
		// MySQL commits DDL implicitly; create outside a tx and clean up
		// explicitly.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (id INT)", name)); err != nil {
			return ""
		}
		_, _ = db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", name))
		return "CREATE TABLE"
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return ""
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (id INT)", name)); err != nil {
		return ""
	}
	return "CREATE TABLE"
}

// FormatReport renders one report for log output.
func (r PermissionReport) String() string {
	if r.ReadOnly {
		return fmt.Sprintf("%s: read-only", r.DBCode)
	}
	return fmt.Sprintf("%s: WRITABLE (%s)", r.DBCode, strings.Join(r.Violations, ", "))
}
