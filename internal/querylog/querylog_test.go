package querylog_test

import (
	"net/netip"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/miekg/dns"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// netipAddrZero is the zero [netip.Addr] used for privacy-mode entries.
var netipAddrZero netip.Addr

// testEntry returns an entry for tests.
func testEntry() (e *querylog.Entry) {
	return &querylog.Entry{
		Time:         time.Unix(123, 0),
		RemoteIP:     netip.MustParseAddr("192.0.2.1"),
		DomainFQDN:   "example.com.",
		BlockReason:  "blocklist:doubleclick.net",
		ID:           adns.RequestID{},
		Elapsed:      5 * time.Millisecond,
		QType:        dns.TypeA,
		ResponseCode: dns.RcodeNameError,
		Blocked:      true,
	}
}
