package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE. Type is a logical column
// type as written in a table definition, not a raw DuckDB type.
type ColumnDef struct {
	Name     string
	Type     string
	Repeated bool
	Required bool
}

// CreateSchema returns: CREATE SCHEMA IF NOT EXISTS <catalog>."<name>".
// Dataset creation is idempotent so repeated deployments never fail on an
// existing dataset.
func CreateSchema(catalog, name string) (string, error) {
	if err := ValidateIdentifier(catalog); err != nil {
		return "", fmt.Errorf("invalid catalog name: %w", err)
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s.%s", QuoteIdentifier(catalog), QuoteIdentifier(name)), nil
}

// CreateTable returns:
// CREATE TABLE <catalog>."<schema>"."<table>" ("<col1>" TYPE1, ...).
// Repeated columns become array types; required columns get NOT NULL.
func CreateTable(catalog, schema, table string, columns []ColumnDef) (string, error) {
	if err := validateRelation(catalog, schema, table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	var colDefs []string
	for _, c := range columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		typ, err := ColumnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		if c.Repeated {
			typ += "[]"
		}
		def := fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), typ)
		if c.Required {
			def += " NOT NULL"
		}
		colDefs = append(colDefs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s.%s.%s (%s)",
		QuoteIdentifier(catalog),
		QuoteIdentifier(schema),
		QuoteIdentifier(table),
		strings.Join(colDefs, ", "),
	), nil
}

// CreateOrReplaceView wraps a rendered view query:
// CREATE OR REPLACE VIEW <catalog>."<schema>"."<name>" AS <query>.
func CreateOrReplaceView(catalog, schema, name, query string) (string, error) {
	if err := validateRelation(catalog, schema, name); err != nil {
		return "", err
	}
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("view query is required")
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s.%s AS\n%s",
		QuoteIdentifier(catalog),
		QuoteIdentifier(schema),
		QuoteIdentifier(name),
		query,
	), nil
}

// DropTable returns: DROP TABLE IF EXISTS <catalog>."<schema>"."<table>".
func DropTable(catalog, schema, table string) (string, error) {
	return dropRelation("TABLE", catalog, schema, table)
}

// DropView returns: DROP VIEW IF EXISTS <catalog>."<schema>"."<name>".
func DropView(catalog, schema, name string) (string, error) {
	return dropRelation("VIEW", catalog, schema, name)
}

// DropMacro returns: DROP MACRO IF EXISTS <catalog>."<schema>"."<name>".
func DropMacro(catalog, schema, name string) (string, error) {
	return dropRelation("MACRO", catalog, schema, name)
}

// CommentOn returns: COMMENT ON <kind> <catalog>."<schema>"."<name>" IS '<comment>'.
// kind is TABLE, VIEW or MACRO.
func CommentOn(kind, catalog, schema, name, comment string) (string, error) {
	if kind != "TABLE" && kind != "VIEW" && kind != "MACRO" {
		return "", fmt.Errorf("unsupported comment target %q", kind)
	}
	if err := validateRelation(catalog, schema, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("COMMENT ON %s %s.%s.%s IS %s",
		kind,
		QuoteIdentifier(catalog),
		QuoteIdentifier(schema),
		QuoteIdentifier(name),
		QuoteLiteral(comment),
	), nil
}

func dropRelation(kind, catalog, schema, name string) (string, error) {
	if err := validateRelation(catalog, schema, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP %s IF EXISTS %s.%s.%s",
		kind,
		QuoteIdentifier(catalog),
		QuoteIdentifier(schema),
		QuoteIdentifier(name),
	), nil
}

func validateRelation(catalog, schema, name string) error {
	if err := ValidateIdentifier(catalog); err != nil {
		return fmt.Errorf("invalid catalog name: %w", err)
	}
	if err := ValidateIdentifier(schema); err != nil {
		return fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("invalid object name: %w", err)
	}
	return nil
}
