package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveReferralStatus(t *testing.T) {
	assert.Equal(t, ReferralStatusPending, DeriveReferralStatus(0, nil))
	assert.Equal(t, ReferralStatusClicked, DeriveReferralStatus(3, nil))
	assert.Equal(t, ReferralStatusConverted, DeriveReferralStatus(0, []Conversion{{}}))
	assert.Equal(t, ReferralStatusConverted, DeriveReferralStatus(7, []Conversion{{}, {}}))
	assert.Equal(t, ReferralStatusFlagged, DeriveReferralStatus(7, []Conversion{{}, {Flagged: true}}))
}

func TestGenerateReferralCode_ShortPrefixMeetsFloor(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateReferralCode(CodeSpec{Prefix: "a", SuffixLength: 1, MinLength: 1})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(code), 4, code)
		assert.True(t, strings.HasPrefix(code, "A-"), code)
	}
}

func TestGenerateReferralCode_Defaults(t *testing.T) {
	code, err := GenerateReferralCode(CodeSpec{Prefix: "a"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(code), DefaultCodeMinLength)
}

func TestGenerateReferralCode_SegmentsAndPadding(t *testing.T) {
	code, err := GenerateReferralCode(CodeSpec{Prefix: "Summer-24!", Segment: "jane.doe", SuffixLength: 4, MinLength: 8})
	require.NoError(t, err)

	parts := strings.Split(code, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "SUMMER24", parts[0])
	assert.Equal(t, "JANEDOE", parts[1])
	assert.Len(t, parts[2], 4)

	bare, err := GenerateReferralCode(CodeSpec{SuffixLength: 2, MinLength: 9})
	require.NoError(t, err)
	assert.Len(t, bare, 9)
	assert.NotContains(t, bare, "-")
}

func TestCodeSegmentFor(t *testing.T) {
	assert.Equal(t, "", CodeSegmentFor(CodeSegmentNone, "jane", "jane@example.com"))
	assert.Equal(t, "jane", CodeSegmentFor(CodeSegmentUsername, "jane", "x@example.com"))
	assert.Equal(t, "j.doe", CodeSegmentFor(CodeSegmentEmailPrefix, "", " j.doe@example.com"))
}

func TestSanitizeCodePart(t *testing.T) {
	assert.Equal(t, "ABC123", SanitizeCodePart("a-b c_1é23", 0))
	assert.Equal(t, "ABCD", SanitizeCodePart("abcdefgh", 4))
	assert.Equal(t, "", SanitizeCodePart("ü*", 4))
}
