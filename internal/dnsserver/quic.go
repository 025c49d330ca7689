package dnsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/bluele/gcache"
)

// quicAddrValidator is a helper struct that holds a small LRU cache of
// addresses for which we do not require address validation.
type quicAddrValidator struct {
	cache gcache.Cache
	ttl   time.Duration
}

// newQUICAddrValidator initializes a new instance of *quicAddrValidator.
func newQUICAddrValidator(cacheSize int, ttl time.Duration) (v *quicAddrValidator) {
	return &quicAddrValidator{
		cache: gcache.New(cacheSize).LRU().Build(),
		ttl:   ttl,
	}
}

// requiresValidation determines if a QUIC Retry packet should be sent by the
// client.  This allows the server to verify the client's address but
// increases the latency.
func (v *quicAddrValidator) requiresValidation(addr net.Addr) (ok bool) {
	// The Conn used by the QUIC transport is always a UDP one, so panic
	// loudly if it isn't so.
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		panic(fmt.Errorf("quic validator: unexpected addr type %T", addr))
	}

	key := udpAddr.IP.String()
	if v.cache.Has(key) {
		return false
	}

	err := v.cache.SetWithExpire(key, true, v.ttl)
	if err != nil {
		// Shouldn't happen, since we don't set a serialization function.
		panic(fmt.Errorf("quic validator: setting cache item: %w", err))
	}

	// Address not found in the cache, so return true to make sure the server
	// requires address validation.
	return true
}
