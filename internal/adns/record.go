package adns

// LocalRecord is a single custom DNS record outside of any zone, in the
// style of a hosts-file override with a type and TTL.
type LocalRecord struct {
	// Name is the owner as a lower-case FQDN.
	Name string

	// Data is the textual RDATA, e.g. an address for A/AAAA or a target for
	// CNAME.
	Data string

	// ID is the store ID of the record.
	ID int64

	// TTL is the record TTL, in seconds.
	TTL uint32

	// Type is the RR type code.
	Type uint16

	// Enabled includes the record in the local overlay.
	Enabled bool
}

// ConditionalRoute forwards queries under a domain suffix to a specific
// upstream, e.g. a corporate resolver for an internal zone.
type ConditionalRoute struct {
	// Domain is the suffix as a lower-case FQDN.
	Domain string

	// Upstream is the upstream address for matching queries, in the same
	// form as [Settings.UpstreamServers] entries.
	Upstream string

	// ID is the store ID of the route.
	ID int64

	// Priority breaks ties between routes matching with an equally long
	// suffix; higher wins.
	Priority int

	// Enabled includes the route in the routing snapshot.
	Enabled bool
}
