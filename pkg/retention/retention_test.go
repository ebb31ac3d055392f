package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier_AcceptsPlainIdentifiers(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("host_events"))
	assert.NoError(t, ValidateIdentifier("_leading_underscore"))
}

func TestValidateIdentifier_RejectsInjectionAttempts(t *testing.T) {
	cases := []string{
		"host_events; DROP TABLE components",
		"host_events--",
		"host events",
		"123_starts_with_digit",
		"",
		"host_events'",
	}
	for _, c := range cases {
		assert.Errorf(t, ValidateIdentifier(c), "expected %q to be rejected", c)
	}
}

func TestParseQualifiedTable_AcceptsTwoSegmentNameInAllowedSchema(t *testing.T) {
	qt, err := ParseQualifiedTable("ransomeye.host_events")
	require.NoError(t, err)
	assert.Equal(t, "ransomeye", qt.Schema)
	assert.Equal(t, "host_events", qt.Table)
	assert.Equal(t, "ransomeye.host_events", qt.FQN())
	assert.Equal(t, `"ransomeye"."host_events"`, qt.Quoted())

	qt, err = ParseQualifiedTable("public.legacy_events")
	require.NoError(t, err)
	assert.Equal(t, "public", qt.Schema)
}

func TestParseQualifiedTable_RejectsWrongSegmentCount(t *testing.T) {
	cases := []string{
		"host_events",
		"ransomeye.audit.extra",
		"",
	}
	for _, c := range cases {
		_, err := ParseQualifiedTable(c)
		assert.Errorf(t, err, "expected %q to be rejected", c)
	}
}

func TestParseQualifiedTable_RejectsDisallowedSchema(t *testing.T) {
	_, err := ParseQualifiedTable("pg_catalog.pg_class")
	assert.Error(t, err)
}

func TestParseQualifiedTable_RejectsInjectionInEitherSegment(t *testing.T) {
	cases := []string{
		"ransomeye.host_events; DROP TABLE components",
		"ransomeye.host events",
		"ransomeye.host_events'",
		"public.123_starts_with_digit",
	}
	for _, c := range cases {
		_, err := ParseQualifiedTable(c)
		assert.Errorf(t, err, "expected %q to be rejected", c)
	}
}

func TestDenylist_CoversAppendOnlyAndTrustTables(t *testing.T) {
	for _, table := range []string{
		"ransomeye.immutable_audit_log",
		"ransomeye.trust_verification_records",
		"ransomeye.signature_validation_events",
		"ransomeye.retention_policies",
	} {
		assert.Truef(t, denylist[table], "expected %q to be denylisted", table)
	}
	assert.False(t, denylist["ransomeye.host_events"])
}

func TestContainsTimestampOrDate(t *testing.T) {
	assert.True(t, containsTimestampOrDate("timestamp with time zone"))
	assert.True(t, containsTimestampOrDate("TIMESTAMPTZ"))
	assert.True(t, containsTimestampOrDate("date"))
	assert.False(t, containsTimestampOrDate("integer"))
	assert.False(t, containsTimestampOrDate("text"))
}

func TestTimeColumnCandidates_MatchesScanOrderFromPolicy(t *testing.T) {
	expected := []string{
		"created_at", "observed_at", "event_time", "received_at",
		"last_seen_at", "first_seen_at", "timestamp",
	}
	assert.Equal(t, expected, timeColumnCandidates)
}
