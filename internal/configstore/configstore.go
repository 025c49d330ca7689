// Package configstore contains the persistent configuration store of
// AmberDNS.  The engine packages each declare the narrow read interface they
// need (see [policy.Store], [filter.Store], and the like); the types here are
// the concrete implementations behind all of them: an embedded SQLite
// database for production and an in-memory store for tests.
package configstore

import (
	"time"
)

// timeToDB converts t to the Unix millisecond form stored in the database.
// The zero time is stored as zero.
func timeToDB(t time.Time) (ms int64) {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

// timeFromDB converts a stored Unix millisecond value back to a time.  Zero
// becomes the zero time.
func timeFromDB(ms int64) (t time.Time) {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}
