package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const identitySeparator = "|"

// Identity is the content digest of a row's semantic fields. Any field
// change yields a different identity, so an edited row is indistinguishable
// from a removed row plus a new one.
func Identity(r Row) string {
	joined := strings.Join([]string{
		r.Primary,
		r.Description,
		strconv.FormatFloat(r.Amount, 'f', -1, 64),
	}, identitySeparator)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
