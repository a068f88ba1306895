package trendstore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo/dbhealth/internal/trendstore"
)

func TestSanitizeSchemaName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme_corp"},
		{"acme-corp.prod", "acme_corp_prod"},
		{"  acme  ", "acme"},
		{"already_sane", "already_sane"},
		{"9lives", "t_9lives"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := trendstore.SanitizeSchemaName(tc.in)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeSchemaNameIsIdempotent(t *testing.T) {
	once, err := trendstore.SanitizeSchemaName("Acme Corp!!")
	assert.NoError(t, err)

	twice, err := trendstore.SanitizeSchemaName(once)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSanitizeSchemaNameRejectsEmpty(t *testing.T) {
	_, err := trendstore.SanitizeSchemaName("   ")
	assert.Error(t, err)

	_, err = trendstore.SanitizeSchemaName("***")
	assert.Error(t, err)
}

func TestSanitizeSchemaNameTruncatesToIdentifierLimit(t *testing.T) {
	long := strings.Repeat("a", 100)
	got, err := trendstore.SanitizeSchemaName(long)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(got), 63)
}

func TestSanitizeSchemaNameTruncationOnUnderscoreStaysIdempotent(t *testing.T) {
	// the 63-byte cut lands exactly on the separator; a trailing
	// underscore would shrink again on a second pass
	in := strings.Repeat("a", 62) + "_" + strings.Repeat("b", 10)
	once, err := trendstore.SanitizeSchemaName(in)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(once), 63)
	assert.False(t, strings.HasSuffix(once, "_"))

	twice, err := trendstore.SanitizeSchemaName(once)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSanitizeSchemaNameLeadingDigitTruncation(t *testing.T) {
	in := "9" + strings.Repeat("a", 60) + "_" + strings.Repeat("b", 10)
	once, err := trendstore.SanitizeSchemaName(in)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(once), 63)
	assert.False(t, strings.HasSuffix(once, "_"))

	twice, err := trendstore.SanitizeSchemaName(once)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}
