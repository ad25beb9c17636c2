package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// codeAlphabet drops 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	maxPrefixLength  = 10
	maxSegmentLength = 8

	DefaultCodeSuffixLength = 6
	DefaultCodeMinLength    = 8
	minCodeLengthFloor      = 4
)

// CodeSpec describes one referral code to assemble.
type CodeSpec struct {
	Prefix       string
	Segment      string
	SuffixLength int
	MinLength    int
}

// GenerateReferralCode joins the sanitized prefix, the sanitized middle segment and a
// random suffix with "-", then pads the suffix until the code reaches the minimum length.
func GenerateReferralCode(spec CodeSpec) (string, error) {
	suffixLen := spec.SuffixLength
	if suffixLen <= 0 {
		suffixLen = DefaultCodeSuffixLength
	}
	minLen := spec.MinLength
	if minLen < minCodeLengthFloor {
		minLen = minCodeLengthFloor
	}

	parts := make([]string, 0, 3)
	if prefix := SanitizeCodePart(spec.Prefix, maxPrefixLength); prefix != "" {
		parts = append(parts, prefix)
	}
	if segment := SanitizeCodePart(spec.Segment, maxSegmentLength); segment != "" {
		parts = append(parts, segment)
	}

	fixed := len(strings.Join(parts, "-"))
	if fixed > 0 {
		fixed++
	}
	if short := minLen - (fixed + suffixLen); short > 0 {
		suffixLen += short
	}

	suffix, err := randomCodeChars(suffixLen)
	if err != nil {
		return "", err
	}
	parts = append(parts, suffix)
	return strings.Join(parts, "-"), nil
}

// CodeSegmentFor derives the middle code segment for a campaign policy.
func CodeSegmentFor(policy CodeSegmentPolicy, username, email string) string {
	switch policy {
	case CodeSegmentUsername:
		return username
	case CodeSegmentEmailPrefix:
		local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
		return local
	default:
		return ""
	}
}

// SanitizeCodePart keeps ASCII letters and digits, uppercased, truncated to limit.
func SanitizeCodePart(raw string, limit int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r > unicode.MaxASCII {
			continue
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if limit > 0 && b.Len() >= limit {
			break
		}
	}
	return b.String()
}

// NormalizeReferralCode canonicalizes user-supplied codes before lookup.
func NormalizeReferralCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// RandomRewardCode builds a redemption code for code-bearing fulfillments.
func RandomRewardCode(length int) (string, error) {
	if length <= 0 {
		length = 10
	}
	chars, err := randomCodeChars(length)
	if err != nil {
		return "", err
	}
	return "RWD-" + chars, nil
}

func randomCodeChars(n int) (string, error) {
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
