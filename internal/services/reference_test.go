package services

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestGenerateReference(t *testing.T) {
	for _, prefix := range []string{refPrefixTransaction, refPrefixTransfer, refPrefixDeposit, refPrefixBitcoin} {
		ref := generateReference(prefix)
		assert.Len(t, ref, len(prefix)+12)
		assert.Regexp(t, `^`+prefix+`\d{12}$`, ref)
	}

	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		ref := generateReference(refPrefixTransaction)
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(assert.AnError))
}
