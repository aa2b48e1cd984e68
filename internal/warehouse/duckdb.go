package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"schemaplan/internal/ddl"
	"schemaplan/internal/domain"
)

// DuckDB implements Client against a DuckDB connection. The deployment
// project maps to an attached catalog, datasets map to schemas and routines
// map to macros.
type DuckDB struct {
	db      *sql.DB
	catalog string
	logger  *slog.Logger

	maxRetries uint64
	baseDelay  time.Duration
}

// NewDuckDB wraps an open DuckDB connection targeting the given catalog.
func NewDuckDB(db *sql.DB, catalog string, logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDB{
		db:         db,
		catalog:    catalog,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
	}
}

// do runs one warehouse operation with exponential backoff on transient
// failures, wrapping the final error with the operation and object.
func (c *DuckDB) do(ctx context.Context, op, object string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if transient(err) {
				c.logger.Warn("retrying warehouse operation", "op", op, "object", object, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.ErrWarehouseOperation(op, object, err)
	}
	return nil
}

// transient reports whether an error is worth retrying. DuckDB surfaces
// contention and storage hiccups as IO or lock errors.
func transient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "IO Error") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "Connection")
}

func (c *DuckDB) exec(ctx context.Context, op, object, stmt string, args ...any) error {
	return c.do(ctx, op, object, func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, stmt, args...)
		return err
	})
}

func (c *DuckDB) EnsureDataset(ctx context.Context, dataset, description string) error {
	stmt, err := ddl.CreateSchema(c.catalog, dataset)
	if err != nil {
		return domain.ErrWarehouseOperation("ensure dataset", dataset, err)
	}
	return c.exec(ctx, "ensure dataset", dataset, stmt)
}

func (c *DuckDB) Tables(ctx context.Context, dataset string) (map[string]bool, error) {
	const q = `SELECT table_name FROM information_schema.tables
		WHERE table_catalog = ? AND table_schema = ? AND table_type = 'BASE TABLE'`
	out := make(map[string]bool)
	err := c.do(ctx, "list tables", dataset, func(ctx context.Context) error {
		rows, err := c.db.QueryContext(ctx, q, c.catalog, dataset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			out[name] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DuckDB) Views(ctx context.Context, dataset string) (map[string]string, error) {
	const q = `SELECT view_name, sql FROM duckdb_views()
		WHERE database_name = ? AND schema_name = ? AND NOT internal`
	out := make(map[string]string)
	err := c.do(ctx, "list views", dataset, func(ctx context.Context) error {
		rows, err := c.db.QueryContext(ctx, q, c.catalog, dataset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, stmt string
			if err := rows.Scan(&name, &stmt); err != nil {
				return err
			}
			out[name] = viewBody(stmt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// viewBody strips the CREATE VIEW header DuckDB stores, leaving the query
// text for comparison against rendered definitions.
func viewBody(stmt string) string {
	upper := strings.ToUpper(stmt)
	if i := strings.Index(upper, " AS"); i >= 0 && strings.HasPrefix(upper, "CREATE") {
		return strings.TrimLeft(stmt[i+3:], " \t\n;")
	}
	return stmt
}

func (c *DuckDB) Routines(ctx context.Context, dataset string) (map[string]string, error) {
	const q = `SELECT DISTINCT function_name, COALESCE(macro_definition, '') FROM duckdb_functions()
		WHERE database_name = ? AND schema_name = ? AND function_type IN ('macro', 'table_macro')`
	out := make(map[string]string)
	err := c.do(ctx, "list routines", dataset, func(ctx context.Context) error {
		rows, err := c.db.QueryContext(ctx, q, c.catalog, dataset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, def string
			if err := rows.Scan(&name, &def); err != nil {
				return err
			}
			out[name] = def
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DuckDB) CreateTable(ctx context.Context, dataset, name string, columns []ddl.ColumnDef, description string) error {
	object := dataset + "." + name
	stmt, err := ddl.CreateTable(c.catalog, dataset, name, columns)
	if err != nil {
		return domain.ErrWarehouseOperation("create table", object, err)
	}
	if err := c.exec(ctx, "create table", object, stmt); err != nil {
		return err
	}
	return c.comment(ctx, "TABLE", dataset, name, description)
}

func (c *DuckDB) CreateOrReplaceView(ctx context.Context, dataset, name, query, description string) error {
	object := dataset + "." + name
	stmt, err := ddl.CreateOrReplaceView(c.catalog, dataset, name, query)
	if err != nil {
		return domain.ErrWarehouseOperation("create view", object, err)
	}
	if err := c.exec(ctx, "create view", object, stmt); err != nil {
		return err
	}
	return c.comment(ctx, "VIEW", dataset, name, description)
}

func (c *DuckDB) comment(ctx context.Context, kind, dataset, name, description string) error {
	if description == "" {
		return nil
	}
	stmt, err := ddl.CommentOn(kind, c.catalog, dataset, name, description)
	if err != nil {
		return domain.ErrWarehouseOperation("comment", dataset+"."+name, err)
	}
	return c.exec(ctx, "comment", dataset+"."+name, stmt)
}

func (c *DuckDB) CreateOrReplaceRoutine(ctx context.Context, dataset, name, definition, description string) error {
	if err := c.exec(ctx, "create routine", dataset+"."+name, definition); err != nil {
		return err
	}
	return c.comment(ctx, "MACRO", dataset, name, description)
}

func (c *DuckDB) DropTable(ctx context.Context, dataset, name string) error {
	stmt, err := ddl.DropTable(c.catalog, dataset, name)
	if err != nil {
		return domain.ErrWarehouseOperation("drop table", dataset+"."+name, err)
	}
	return c.exec(ctx, "drop table", dataset+"."+name, stmt)
}

func (c *DuckDB) DropView(ctx context.Context, dataset, name string) error {
	stmt, err := ddl.DropView(c.catalog, dataset, name)
	if err != nil {
		return domain.ErrWarehouseOperation("drop view", dataset+"."+name, err)
	}
	return c.exec(ctx, "drop view", dataset+"."+name, stmt)
}

func (c *DuckDB) DropRoutine(ctx context.Context, dataset, name string) error {
	stmt, err := ddl.DropMacro(c.catalog, dataset, name)
	if err != nil {
		return domain.ErrWarehouseOperation("drop routine", dataset+"."+name, err)
	}
	return c.exec(ctx, "drop routine", dataset+"."+name, stmt)
}

func (c *DuckDB) LastTreeHash(ctx context.Context, dataset string) (string, bool, error) {
	q := fmt.Sprintf("SELECT tree_hash FROM %s ORDER BY run_at DESC LIMIT 1",
		c.fqn(dataset, SchemaUpdatesTable))
	var hash string
	err := c.db.QueryRowContext(ctx, q).Scan(&hash)
	switch {
	case err == nil:
		return hash, true, nil
	case errors.Is(err, sql.ErrNoRows), notFound(err):
		return "", false, nil
	default:
		return "", false, domain.ErrWarehouseOperation("read tree hash", dataset, err)
	}
}

func (c *DuckDB) RecordTreeHash(ctx context.Context, dataset, hash string) error {
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (run_at TIMESTAMP NOT NULL, tree_hash VARCHAR NOT NULL)",
		c.fqn(dataset, SchemaUpdatesTable))
	if err := c.exec(ctx, "record tree hash", dataset, create); err != nil {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (now(), ?)", c.fqn(dataset, SchemaUpdatesTable))
	return c.exec(ctx, "record tree hash", dataset, insert, hash)
}

func (c *DuckDB) AggregateScore(ctx context.Context, dataset, view string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(score), 0) FROM %s", c.fqn(dataset, view))
	var total float64
	if err := c.db.QueryRowContext(ctx, q).Scan(&total); err != nil {
		return 0, domain.ErrWarehouseOperation("aggregate score", dataset+"."+view, err)
	}
	return total, nil
}

func (c *DuckDB) ScoreChanges(ctx context.Context, dataset, beforeView, afterView string) ([]ScoreChange, error) {
	q := fmt.Sprintf(`SELECT COALESCE(b.entity, a.entity) AS entity,
			COALESCE(b.score, 0) AS before_score,
			COALESCE(a.score, 0) AS after_score
		FROM %s b FULL OUTER JOIN %s a ON b.entity = a.entity
		WHERE COALESCE(b.score, 0) != COALESCE(a.score, 0)
		ORDER BY entity`,
		c.fqn(dataset, beforeView), c.fqn(dataset, afterView))

	var changes []ScoreChange
	err := c.do(ctx, "score changes", dataset, func(ctx context.Context) error {
		rows, err := c.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		changes = changes[:0]
		for rows.Next() {
			var ch ScoreChange
			if err := rows.Scan(&ch.Entity, &ch.Before, &ch.After); err != nil {
				return err
			}
			changes = append(changes, ch)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (c *DuckDB) RecordRescore(ctx context.Context, dataset string, p Provenance) error {
	runs := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		op_id VARCHAR NOT NULL, run_at TIMESTAMP NOT NULL, name VARCHAR NOT NULL,
		reason VARCHAR NOT NULL, view_name VARCHAR NOT NULL, archived_as VARCHAR NOT NULL,
		score_before DOUBLE NOT NULL, score_after DOUBLE NOT NULL)`,
		c.fqn(dataset, RescoreRunsTable))
	if err := c.exec(ctx, "record rescore", dataset, runs); err != nil {
		return err
	}
	changes := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		op_id VARCHAR NOT NULL, entity VARCHAR NOT NULL,
		score_before DOUBLE NOT NULL, score_after DOUBLE NOT NULL)`,
		c.fqn(dataset, RescoreChangesTable))
	if err := c.exec(ctx, "record rescore", dataset, changes); err != nil {
		return err
	}

	insert := fmt.Sprintf("INSERT INTO %s VALUES (?, ?, ?, ?, ?, ?, ?, ?)", c.fqn(dataset, RescoreRunsTable))
	if err := c.exec(ctx, "record rescore", dataset, insert,
		p.OpID, p.RunAt, p.Name, p.Reason, p.View, p.ArchivedAs, p.Before, p.After); err != nil {
		return err
	}
	for _, ch := range p.Changes {
		insert := fmt.Sprintf("INSERT INTO %s VALUES (?, ?, ?, ?)", c.fqn(dataset, RescoreChangesTable))
		if err := c.exec(ctx, "record rescore", dataset, insert,
			p.OpID, ch.Entity, ch.Before, ch.After); err != nil {
			return err
		}
	}
	return nil
}

func (c *DuckDB) RescoreRecorded(ctx context.Context, dataset, archivedAs string) (bool, error) {
	q := fmt.Sprintf("SELECT count(*) FROM %s WHERE archived_as = ?", c.fqn(dataset, RescoreRunsTable))
	var n int
	err := c.db.QueryRowContext(ctx, q, archivedAs).Scan(&n)
	switch {
	case err == nil:
		return n > 0, nil
	case notFound(err):
		return false, nil
	default:
		return false, domain.ErrWarehouseOperation("read rescore provenance", dataset, err)
	}
}

func (c *DuckDB) fqn(dataset, name string) string {
	return ddl.QuoteIdentifier(c.catalog) + "." + ddl.QuoteIdentifier(dataset) + "." + ddl.QuoteIdentifier(name)
}

// notFound matches DuckDB catalog errors for missing relations.
func notFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "Catalog Error")
}
