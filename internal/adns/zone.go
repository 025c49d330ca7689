package adns

// ZoneID is the numeric ID of an authoritative zone in the store.
type ZoneID int64

// SOAData carries the SOA fields of a zone.  The serial is incremented by the
// store on every mutation of the zone's records.
type SOAData struct {
	// PrimaryNS is the MNAME field, an FQDN.
	PrimaryNS string

	// Admin is the RNAME field, an FQDN-encoded mailbox.
	Admin string

	// Serial is the zone serial.
	Serial uint32

	// Refresh, Retry, and Expire are the secondary-transfer timers, in
	// seconds.
	Refresh uint32
	Retry   uint32
	Expire  uint32

	// Minimum is the negative-caching TTL, in seconds.
	Minimum uint32

	// TTL is the TTL of the SOA record itself, in seconds.
	TTL uint32
}

// Zone is an authoritative zone served locally.
type Zone struct {
	// Domain is the zone apex as a lower-case FQDN.
	Domain string

	// SOA holds the zone's SOA fields.
	SOA SOAData

	// TransferACL lists sources allowed to AXFR the zone without TSIG, in
	// CIDR form.
	TransferACL []string

	// ID is the store ID of the zone.
	ID ZoneID

	// Enabled makes the zone answerable.
	Enabled bool

	// DNSSECEnabled turns on on-the-fly signing with the zone's active keys.
	DNSSECEnabled bool
}

// ZoneRecord is one record row of a zone.
type ZoneRecord struct {
	// Name is the owner relative to the zone apex; "@" means the apex
	// itself.
	Name string

	// Data is the textual RDATA in zone-file form.
	Data string

	// ID is the store ID of the record.
	ID int64

	// ZoneID is the zone the record belongs to.
	ZoneID ZoneID

	// TTL is the record TTL, in seconds.
	TTL uint32

	// Type is the RR type code.
	Type uint16

	// Enabled includes the record in the zone snapshot.
	Enabled bool
}

// DNSKEY flag values for zone keys.
const (
	// ZoneKeyFlagsZSK marks a zone-signing key.
	ZoneKeyFlagsZSK uint16 = 256

	// ZoneKeyFlagsKSK marks a key-signing key.
	ZoneKeyFlagsKSK uint16 = 257
)

// ZoneKey is a DNSSEC key pair attached to a zone.  Inactive keys are kept
// for rollover; deleting the zone cascades.
type ZoneKey struct {
	// PrivateKey is the private key material in the BIND private-key file
	// format produced by the generator.
	PrivateKey []byte

	// PublicKey is the base64 public key as it appears in the DNSKEY RDATA.
	PublicKey string

	// ID is the store ID of the key.
	ID int64

	// ZoneID is the zone the key signs.
	ZoneID ZoneID

	// KeyTag is the RFC 4034 key tag computed over the DNSKEY RDATA.
	KeyTag uint16

	// Flags is either [ZoneKeyFlagsZSK] or [ZoneKeyFlagsKSK].
	Flags uint16

	// Algorithm is the DNSSEC algorithm number, 13 (Ed25519) or
	// 8 (RSA-SHA256).
	Algorithm uint8

	// Active marks the key used for new signatures.
	Active bool
}
