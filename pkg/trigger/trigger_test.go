package trigger

import (
	"strings"
	"testing"

	"github.com/pgledger/auditor/pkg/ledger"
)

func TestBuildFunctionSQLIncludesAllBranches(t *testing.T) {
	d := ledger.TableDescriptor{
		TableName:      "accounts",
		PrimaryKey:     "id",
		TrackedColumns: []string{"id", "balance"},
	}
	sql := buildFunctionSQL(d)

	for _, want := range []string{"TG_OP = 'INSERT'", "TG_OP = 'UPDATE'", "TG_OP = 'DELETE'", "ledger_append"} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected generated SQL to contain %q, got:\n%s", want, sql)
		}
	}
}

func TestJsonbBuildObjectEmptyColumns(t *testing.T) {
	if got := jsonbBuildObject("NEW", nil); got != "NULL" {
		t.Fatalf("expected NULL for empty columns, got %q", got)
	}
}

func TestJsonbBuildObjectQuotesIdentifiers(t *testing.T) {
	got := jsonbBuildObject("NEW", []string{"weird\"col"})
	if !strings.Contains(got, `"weird""col"`) {
		t.Fatalf("expected escaped identifier in %q", got)
	}
}

func TestBuildTriggerSQLDropsBeforeCreate(t *testing.T) {
	sql := buildTriggerSQL("accounts")
	if !strings.Contains(sql, "DROP TRIGGER IF EXISTS") || !strings.Contains(sql, "CREATE TRIGGER") {
		t.Fatalf("expected drop-then-create idiom, got:\n%s", sql)
	}
}
