// Package ddl builds the DuckDB DDL statements the deployment planner
// executes: dataset schemas, tables, views, macros and the metadata tables
// backing change tracking and provenance.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columnTypeRe matches simple DuckDB type names, optionally with precision/scale
// parameters and an array suffix. Case-insensitive. Rejects anything with
// semicolons, comments, or other SQL injection vectors.
var columnTypeRe = regexp.MustCompile(`(?i)^[A-Z][A-Z0-9_ ]*(?:\(\s*\d+\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

const maxIdentifierLen = 128

const maxColumnTypeLen = 64

// logicalTypes maps the warehouse-neutral column types used in table
// definitions to concrete DuckDB types. Unknown types pass through unmapped
// so native DuckDB types remain usable directly.
var logicalTypes = map[string]string{
	"STRING":    "VARCHAR",
	"INTEGER":   "BIGINT",
	"NUMERIC":   "DECIMAL(38,9)",
	"FLOAT":     "DOUBLE",
	"BOOLEAN":   "BOOLEAN",
	"TIMESTAMP": "TIMESTAMP",
	"DATETIME":  "TIMESTAMP",
	"DATE":      "DATE",
	"JSON":      "JSON",
}

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 128 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them (standard SQL).
//
// Always quotes unconditionally — the caller should validate first if needed.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ColumnType maps a logical column type from a table definition to the
// DuckDB type to emit, validating the result.
func ColumnType(logical string) (string, error) {
	mapped, ok := logicalTypes[strings.ToUpper(logical)]
	if !ok {
		mapped = logical
	}
	if err := validateColumnType(mapped); err != nil {
		return "", err
	}
	return mapped, nil
}

// validateColumnType checks that typeName is a safe DuckDB column type.
func validateColumnType(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("column type is required")
	}
	if len(typeName) > maxColumnTypeLen {
		return fmt.Errorf("column type must be at most %d characters", maxColumnTypeLen)
	}
	if strings.ContainsAny(typeName, `;'"\`) {
		return fmt.Errorf("column type contains invalid characters")
	}
	if !columnTypeRe.MatchString(typeName) {
		return fmt.Errorf("column type %q is not a recognized type pattern", typeName)
	}
	return nil
}
