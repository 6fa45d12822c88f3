// Package schema introspects Postgres information_schema to detect a host
// table's columns and primary key, and loads/saves table descriptors as
// YAML so an operator can review and version what is being tracked before
// C9 bootstraps a table.
package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pgledger/auditor/pkg/database"
	"github.com/pgledger/auditor/pkg/ledger"
)

// Column is a single information_schema.columns row.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// ErrNoPrimaryKey means a table has no single-column primary key and the
// caller did not supply one explicitly.
var ErrNoPrimaryKey = fmt.Errorf("schema: table has no primary key; specify one explicitly")

// ErrTableNotFound means information_schema has no columns for the given
// table (it does not exist, or the caller lacks privileges to see it).
var ErrTableNotFound = fmt.Errorf("schema: table not found")

// Introspector reads table shape from Postgres's system catalog.
type Introspector struct {
	client *database.Client
}

// NewIntrospector wraps a connected database client.
func NewIntrospector(client *database.Client) *Introspector {
	return &Introspector{client: client}
}

// Columns lists tableName's columns in ordinal position order.
func (i *Introspector) Columns(ctx context.Context, tableName string) ([]Column, error) {
	rows, err := i.client.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrTableNotFound
	}
	return cols, nil
}

// PrimaryKey returns the single-column primary key of tableName, or
// ErrNoPrimaryKey if the table has none or a composite key.
func (i *Introspector) PrimaryKey(ctx context.Context, tableName string) (string, error) {
	rows, err := i.client.QueryContext(ctx, `
		SELECT k.column_name
		FROM information_schema.table_constraints t
		JOIN information_schema.key_column_usage k
			ON t.constraint_name = k.constraint_name
			AND t.table_schema = k.table_schema
			AND t.table_name = k.table_name
		WHERE t.constraint_type = 'PRIMARY KEY'
			AND t.table_schema = current_schema()
			AND t.table_name = $1
		ORDER BY k.ordinal_position`, tableName)
	if err != nil {
		return "", fmt.Errorf("query primary key: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) != 1 {
		return "", ErrNoPrimaryKey
	}
	return cols[0], nil
}

// Detect builds a TableDescriptor for tableName. If primaryKey is empty it
// is auto-detected; if fields is non-nil, tracked columns are filtered down
// to fields (primary key is always included).
func (i *Introspector) Detect(ctx context.Context, tableName, primaryKey string, fields []string) (*ledger.TableDescriptor, error) {
	cols, err := i.Columns(ctx, tableName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for idx, c := range cols {
		names[idx] = c.Name
	}

	if primaryKey == "" {
		primaryKey, err = i.PrimaryKey(ctx, tableName)
		if err != nil {
			return nil, err
		}
	}
	if !contains(names, primaryKey) {
		return nil, fmt.Errorf("schema: primary key %q not found among columns of %q", primaryKey, tableName)
	}
	for _, f := range fields {
		if !contains(names, f) {
			return nil, fmt.Errorf("%w: %q is not a column of %q", ledger.ErrTrackedColumnUnknown, f, tableName)
		}
	}

	tracked := FilterColumns(names, fields, primaryKey)
	return &ledger.TableDescriptor{
		TableName:      tableName,
		PrimaryKey:     primaryKey,
		TrackedColumns: tracked,
	}, nil
}

// FilterColumns narrows columnNames down to fields (always including
// primaryKey first), or returns columnNames unfiltered if fields is nil.
func FilterColumns(columnNames []string, fields []string, primaryKey string) []string {
	if fields == nil {
		return columnNames
	}
	filtered := make([]string, 0, len(fields)+1)
	if primaryKey != "" && contains(columnNames, primaryKey) {
		filtered = append(filtered, primaryKey)
	}
	for _, f := range fields {
		if contains(columnNames, f) && !contains(filtered, f) {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

// LoadDescriptor reads a single table descriptor from a YAML file.
func LoadDescriptor(path string) (*ledger.TableDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	var d ledger.TableDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	return &d, nil
}

// SaveDescriptor writes a table descriptor to a YAML file.
func SaveDescriptor(path string, d *ledger.TableDescriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadDescriptorDir reads every *.yaml/*.yml file in dir as a table
// descriptor.
func LoadDescriptorDir(dir string) ([]*ledger.TableDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read descriptor dir %s: %w", dir, err)
	}
	var descriptors []*ledger.TableDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		d, err := LoadDescriptor(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
