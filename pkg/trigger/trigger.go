// Package trigger installs the PL/pgSQL triggers (C5) that make every
// INSERT/UPDATE/DELETE against a tracked host table append a ledger entry
// automatically. It is the Postgres-idiom translation of
// maria_ledger/utils/triggers.py's dynamic SQL generation: that code built
// MySQL "CALL append_ledger_entry(...)" trigger bodies per table; this
// package installs one reusable trigger FUNCTION per table that calls the
// ledger_append() SQL function installed by pkg/database's migrations.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgledger/auditor/pkg/database"
	"github.com/pgledger/auditor/pkg/ledger"
)

// functionName is the name of the per-table trigger function Postgres
// invokes on row change.
func functionName(tableName string) string {
	return fmt.Sprintf("ledger_trigger_%s", tableName)
}

// triggerName is the name of the single FOR EACH ROW trigger attached to
// tableName; one trigger fires on all three operations rather than three
// separate triggers, since the function body already branches on TG_OP.
func triggerName(tableName string) string {
	return fmt.Sprintf("%s_ledger_after_change", tableName)
}

// Installer installs and removes per-table triggers.
type Installer struct {
	client *database.Client
}

// NewInstaller wraps a connected database client.
func NewInstaller(client *database.Client) *Installer {
	return &Installer{client: client}
}

// Install creates (or replaces) the trigger function and attaches the
// trigger for descriptor.TableName. It is idempotent: re-running Install
// for the same descriptor after a tracked-column change updates the
// function body without dropping ledger history.
func (in *Installer) Install(ctx context.Context, descriptor ledger.TableDescriptor) error {
	if descriptor.PrimaryKey == "" {
		return ledger.ErrMissingPrimaryKey
	}

	functionSQL := buildFunctionSQL(descriptor)
	if _, err := in.client.ExecContext(ctx, functionSQL); err != nil {
		return fmt.Errorf("install trigger function for %s: %w", descriptor.TableName, err)
	}

	triggerSQL := buildTriggerSQL(descriptor.TableName)
	if _, err := in.client.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("install trigger for %s: %w", descriptor.TableName, err)
	}
	return nil
}

// Uninstall drops the trigger and its function for tableName. Ledger
// history is untouched; host-table changes simply stop being recorded.
func (in *Installer) Uninstall(ctx context.Context, tableName string) error {
	drop := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s; DROP FUNCTION IF EXISTS %s();`,
		quoteIdent(triggerName(tableName)), quoteIdent(tableName), quoteIdent(functionName(tableName)))
	if _, err := in.client.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("uninstall trigger for %s: %w", tableName, err)
	}
	return nil
}

// buildFunctionSQL renders the CREATE OR REPLACE FUNCTION body for a single
// table. NEW/OLD are projected down to the table descriptor's tracked
// columns via jsonb_build_object, then handed to ledger_append(), which
// does the actual canonicalization and hash chaining.
func buildFunctionSQL(d ledger.TableDescriptor) string {
	newObj := jsonbBuildObject("NEW", d.TrackedColumns)
	oldObj := jsonbBuildObject("OLD", d.TrackedColumns)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER AS $ledger$\n", quoteIdent(functionName(d.TableName)))
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "    IF TG_OP = 'INSERT' THEN\n")
	fmt.Fprintf(&b, "        PERFORM ledger_append(%s, CAST(NEW.%s AS TEXT), 'INSERT', NULL, %s);\n",
		quoteLiteral(d.TableName), quoteIdent(d.PrimaryKey), newObj)
	fmt.Fprintf(&b, "        RETURN NEW;\n")
	fmt.Fprintf(&b, "    ELSIF TG_OP = 'UPDATE' THEN\n")
	fmt.Fprintf(&b, "        PERFORM ledger_append(%s, CAST(NEW.%s AS TEXT), 'UPDATE', %s, %s);\n",
		quoteLiteral(d.TableName), quoteIdent(d.PrimaryKey), oldObj, newObj)
	fmt.Fprintf(&b, "        RETURN NEW;\n")
	fmt.Fprintf(&b, "    ELSIF TG_OP = 'DELETE' THEN\n")
	fmt.Fprintf(&b, "        PERFORM ledger_append(%s, CAST(OLD.%s AS TEXT), 'DELETE', %s, NULL);\n",
		quoteLiteral(d.TableName), quoteIdent(d.PrimaryKey), oldObj)
	fmt.Fprintf(&b, "        RETURN OLD;\n")
	b.WriteString("    END IF;\n")
	b.WriteString("    RETURN NULL;\n")
	b.WriteString("END;\n")
	b.WriteString("$ledger$ LANGUAGE plpgsql;")
	return b.String()
}

func buildTriggerSQL(tableName string) string {
	return fmt.Sprintf(`
DROP TRIGGER IF EXISTS %s ON %s;
CREATE TRIGGER %s
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s();`,
		quoteIdent(triggerName(tableName)), quoteIdent(tableName),
		quoteIdent(triggerName(tableName)), quoteIdent(tableName),
		quoteIdent(functionName(tableName)))
}

// jsonbBuildObject renders jsonb_build_object('col1', NEW.col1, ...) for
// columns, or the literal NULL if columns is empty.
func jsonbBuildObject(rowPrefix string, columns []string) string {
	if len(columns) == 0 {
		return "NULL"
	}
	pairs := make([]string, len(columns))
	for i, c := range columns {
		pairs[i] = fmt.Sprintf("%s, %s.%s", quoteLiteral(c), rowPrefix, quoteIdent(c))
	}
	return "jsonb_build_object(" + strings.Join(pairs, ", ") + ")"
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
