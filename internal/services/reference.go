package services

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/lib/pq"
)

// Reference number prefixes, one per record family. The externally shown
// identifier is the prefix plus twelve random digits. The unique index on
// the reference column catches the rare collision; since a failed INSERT
// aborts the whole Postgres transaction, the collision is surfaced as
// ErrPersistenceConflict and runInTx restarts the transaction with a fresh
// suffix instead of retrying the statement in place.
const (
	refPrefixTransaction = "TXN"
	refPrefixTransfer    = "TRF"
	refPrefixDeposit     = "CHK"
	refPrefixBitcoin     = "BTC"
)

var refSuffixSpace = big.NewInt(1_000_000_000_000)

func generateReference(prefix string) string {
	n, err := rand.Int(rand.Reader, refSuffixSpace)
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("reference generation: %v", err))
	}
	return fmt.Sprintf("%s%012d", prefix, n)
}

// isUniqueViolation reports whether err is Postgres unique_violation (23505),
// used to drive the reference collision retry loop.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
