package tsig

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

// ManagerConfig is the configuration of the TSIG manager.
type ManagerConfig struct {
	// Logger is used for logging the operation of the manager.  It must not
	// be nil.
	Logger *slog.Logger

	// Store is the source of TSIG keys.  It must not be nil.
	Store Store

	// Clock is used to timestamp signatures.  If nil, [timeutil.SystemClock]
	// is used.
	Clock timeutil.Clock
}

// Manager verifies inbound TSIG-signed messages and signs responses.  Keys
// are kept in an atomically swapped snapshot; use [Manager.Refresh] to reload
// them from the store.
type Manager struct {
	logger *slog.Logger
	store  Store
	clock  timeutil.Clock

	// keys maps lower-case key FQDNs to keys.
	keys atomic.Pointer[map[string]*adns.TSIGKey]
}

// NewManager returns a new TSIG manager with an empty key set.  c must not be
// nil.
func NewManager(c *ManagerConfig) (m *Manager) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	m = &Manager{
		logger: c.Logger,
		store:  c.Store,
		clock:  clock,
	}

	m.keys.Store(&map[string]*adns.TSIGKey{})

	return m
}

// type check
var _ service.Refresher = (*Manager)(nil)

// Refresh implements the [service.Refresher] interface for *Manager.  It
// reloads the key set from the store.
func (m *Manager) Refresh(ctx context.Context) (err error) {
	keys, err := m.store.TSIGKeys(ctx)
	if err != nil {
		return fmt.Errorf("refreshing tsig keys: %w", err)
	}

	byName := make(map[string]*adns.TSIGKey, len(keys))
	for _, k := range keys {
		byName[strings.ToLower(dns.Fqdn(k.Name))] = k
	}

	m.keys.Store(&byName)

	m.logger.DebugContext(ctx, "refreshed tsig keys", "count", len(byName))

	return nil
}

// Verify checks the TSIG RR of req against the received wire form of the
// message.  If req carries no TSIG RR, all return values are zero.  On
// success it returns the matched key and the request MAC in hex form, to be
// chained into the response signature.  Verification failures are returned as
// *[Error].
func (m *Manager) Verify(
	ctx context.Context,
	req *dns.Msg,
	wire []byte,
) (key *adns.TSIGKey, reqMAC string, err error) {
	t := req.IsTsig()
	if t == nil {
		return nil, "", nil
	}

	name := strings.ToLower(t.Hdr.Name)
	key, ok := (*m.keys.Load())[name]
	if !ok || !key.Enabled {
		return nil, "", &Error{KeyName: name, Code: dns.RcodeBadKey}
	}

	if !strings.EqualFold(t.Algorithm, key.Algorithm) {
		return nil, "", &Error{KeyName: name, Code: dns.RcodeBadKey}
	}

	err = dns.TsigVerify(wire, base64.StdEncoding.EncodeToString(key.Secret), "", false)
	switch {
	case err == nil:
		return key, t.MAC, nil
	case errors.Is(err, dns.ErrTime):
		return nil, "", &Error{KeyName: name, Code: dns.RcodeBadTime}
	default:
		return nil, "", &Error{KeyName: name, Code: dns.RcodeBadSig}
	}
}

// Sign appends a TSIG RR with a valid MAC to resp.  reqMAC is the request MAC
// returned by [Manager.Verify].  Compression is disabled on resp, since the
// MAC covers the exact packed form and a compressed repacking would not
// reproduce it.
func (m *Manager) Sign(resp *dns.Msg, key *adns.TSIGKey, reqMAC string) (err error) {
	resp.Compress = false

	stub := &dns.TSIG{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(key.Name),
			Rrtype: dns.TypeTSIG,
			Class:  dns.ClassANY,
		},
		Algorithm:  key.Algorithm,
		TimeSigned: uint64(m.clock.Now().Unix()),
		Fudge:      DefaultFudge,
		OrigId:     resp.Id,
	}
	resp.Extra = append(resp.Extra, stub)

	// TsigGenerate strips the stub from resp before computing the MAC.
	_, mac, err := dns.TsigGenerate(
		resp,
		base64.StdEncoding.EncodeToString(key.Secret),
		reqMAC,
		false,
	)
	if err != nil {
		return fmt.Errorf("signing response: %w", err)
	}

	signed := *stub
	signed.MAC = mac
	signed.MACSize = uint16(len(mac) / 2)
	resp.Extra = append(resp.Extra, &signed)

	return nil
}

// ErrorResponse builds the NOTAUTH response for a verification failure.  The
// attached TSIG RR is unsigned and carries the extended error code; for
// BADTIME it also carries the server time in the other-data field, see RFC
// 8945 Section 5.2.3.
func (m *Manager) ErrorResponse(req *dns.Msg, terr *Error) (resp *dns.Msg) {
	resp = (&dns.Msg{}).SetRcode(req, dns.RcodeNotAuth)
	resp.Compress = false

	t := &dns.TSIG{
		Hdr: dns.RR_Header{
			Name:   terr.KeyName,
			Rrtype: dns.TypeTSIG,
			Class:  dns.ClassANY,
		},
		TimeSigned: uint64(m.clock.Now().Unix()),
		Fudge:      DefaultFudge,
		OrigId:     req.Id,
		Error:      terr.Code,
	}

	if reqTSIG := req.IsTsig(); reqTSIG != nil {
		t.Algorithm = reqTSIG.Algorithm
	}

	if terr.Code == dns.RcodeBadTime {
		other := make([]byte, 8)
		binary.BigEndian.PutUint64(other, uint64(m.clock.Now().Unix()))

		// The time value is 48 bits wide.
		t.OtherData = hex.EncodeToString(other[2:])
		t.OtherLen = 6
	}

	resp.Extra = append(resp.Extra, t)

	return resp
}
