package envfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ParseString Tests
// =============================================================================

func TestParseString_Basic(t *testing.T) {
	values := ParseString("POSTGRES_PASSWORD=s3cret\nNEO4J_AUTH=neo4j/changeit\n")
	assert.Equal(t, map[string]string{
		"POSTGRES_PASSWORD": "s3cret",
		"NEO4J_AUTH":        "neo4j/changeit",
	}, values)
}

func TestParseString_SkipsCommentsAndBlankLines(t *testing.T) {
	content := `
# database credentials
POSTGRES_PASSWORD=s3cret

# cache
REDIS_URL=redis://redis:6379
`
	values := ParseString(content)
	assert.Len(t, values, 2)
	assert.Equal(t, "s3cret", values["POSTGRES_PASSWORD"])
}

func TestParseString_MalformedLinesIgnored(t *testing.T) {
	content := "VALID=yes\nthis line has no equals sign\nALSO_VALID=sure\n"
	values := ParseString(content)
	assert.Equal(t, map[string]string{"VALID": "yes", "ALSO_VALID": "sure"}, values)
}

func TestParseString_ExportPrefix(t *testing.T) {
	values := ParseString("export POSTGRES_USER=twin\n")
	assert.Equal(t, "twin", values["POSTGRES_USER"])
}

func TestParseString_QuotedValues(t *testing.T) {
	values := ParseString("A=\"quoted value\"\nB='single'\nC=\"unbalanced\n")
	assert.Equal(t, "quoted value", values["A"])
	assert.Equal(t, "single", values["B"])
	assert.Equal(t, "\"unbalanced", values["C"])
}

func TestParseString_LastDuplicateWins(t *testing.T) {
	values := ParseString("KEY=first\nKEY=second\n")
	assert.Equal(t, "second", values["KEY"])
}

func TestParseString_EmptyValueAndEqualsInValue(t *testing.T) {
	values := ParseString("EMPTY=\nDSN=postgres://u:p@db:5432/x?sslmode=disable\n")
	assert.Equal(t, "", values["EMPTY"])
	assert.Equal(t, "postgres://u:p@db:5432/x?sslmode=disable", values["DSN"])
}

func TestParseString_KeyWithSpacesIgnored(t *testing.T) {
	values := ParseString("BAD KEY=value\n")
	assert.Empty(t, values)
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Reader(t *testing.T) {
	values, err := Parse(strings.NewReader("KEY=value\n"))
	require.NoError(t, err)
	assert.Equal(t, "value", values["KEY"])
}
