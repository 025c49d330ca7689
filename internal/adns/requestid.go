package adns

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// RequestIDLen is the length of a [RequestID] in bytes.  A RequestID is
// currently a random 16-byte (128-bit) number.
const RequestIDLen = 16

// RequestID is the ID of a request.  It is an opaque, randomly generated
// value.  API users should not rely on it being pseudorandom or
// cryptographically random.
type RequestID [RequestIDLen]byte

// requestIDRand is used to create [RequestID]s.  It is locked separately,
// since rand.Rand itself is not safe for concurrent use.
var (
	requestIDMu   = &sync.Mutex{}
	requestIDRand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
)

// NewRequestID returns a new pseudorandom RequestID.  Prefer this to manual
// conversion from other types.
func NewRequestID() (id RequestID) {
	requestIDMu.Lock()
	defer requestIDMu.Unlock()

	binary.LittleEndian.PutUint64(id[:8], requestIDRand.Uint64())
	binary.LittleEndian.PutUint64(id[8:], requestIDRand.Uint64())

	return id
}

// type check
var _ fmt.Stringer = RequestID{}

// String implements the [fmt.Stringer] interface for RequestID.
func (id RequestID) String() (s string) {
	enc := base64.URLEncoding.WithPadding(base64.NoPadding)
	idData64 := make([]byte, enc.EncodedLen(RequestIDLen))
	enc.Encode(idData64, id[:])

	return string(idData64)
}
