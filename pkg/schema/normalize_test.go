package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const coalesceDDL = `
CREATE TABLE IF NOT EXISTS retention_policies (
    table_name TEXT PRIMARY KEY,
    retention_days INTEGER NOT NULL,
    CONSTRAINT uq_retention_policies_table UNIQUE (table_name, COALESCE(retention_days, -1))
);
`

func TestNormalize_RewritesUniqueCoalesceIntoIndex(t *testing.T) {
	out := normalize(coalesceDDL)

	assert.NotContains(t, out, "UNIQUE (table_name, COALESCE")
	assert.Contains(t, out, "CREATE UNIQUE INDEX IF NOT EXISTS uq_retention_policies_table ON retention_policies(table_name, COALESCE(retention_days, -1));")
}

func TestNormalize_StripsTrailingCommaLeftByRemoval(t *testing.T) {
	out := normalize(coalesceDDL)

	createBlock, ok := ExtractTableBlock(out, "retention_policies")
	assert.True(t, ok)
	assert.NotContains(t, createBlock, ",\n)")
	assert.False(t, strings.Contains(createBlock, "retention_days INTEGER NOT NULL,\n)"))
}

func TestNormalize_LeavesOrdinaryTablesUntouched(t *testing.T) {
	const plain = `CREATE TABLE IF NOT EXISTS components (
    id UUID PRIMARY KEY,
    component_name TEXT NOT NULL
);`
	out := normalize(plain)
	assert.Equal(t, plain, strings.TrimSpace(out))
}
