// Package ids generates the identifiers used for accounts, transactions
// and engine records. Identifiers are ULIDs, so they sort by creation time
// and embed their own timestamp.
package ids

import (
	cryptorand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a lexicographically sortable identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CreatedAt extracts the embedded timestamp from an identifier produced
// by New. The second return is false if the value is not a valid ULID.
func CreatedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(parsed.Time())).UTC(), true
}
