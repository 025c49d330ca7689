package dnsserver

import (
	"fmt"
	"net"
	"slices"
)

// Protocol is a DNS protocol.
type Protocol uint8

// Protocol values.
const (
	// NOTE: DO NOT change the numerical values or use iota, because other
	// packages and modules may depend on the numerical values.  These
	// numerical values are a part of the API.

	// ProtoInvalid is the invalid default value.
	ProtoInvalid Protocol = 0

	// ProtoDNS is plain DNS.
	ProtoDNS Protocol = 1

	// ProtoDoT is DNS-over-TLS.
	ProtoDoT Protocol = 2

	// ProtoDoH is DNS-over-HTTPS.
	ProtoDoH Protocol = 3
)

// String implements the fmt.Stringer interface for Protocol.
func (p Protocol) String() (s string) {
	switch p {
	case ProtoDNS:
		return "dns"
	case ProtoDoT:
		return "dot"
	case ProtoDoH:
		return "doh"
	default:
		return fmt.Sprintf("!bad_protocol_%d", p)
	}
}

// ALPN returns the application-layer negotiation strings for p.  For protocols
// with no ALPN it returns nil.
func (p Protocol) ALPN() (alpn []string) {
	switch p {
	case ProtoDoT:
		return []string{"dot"}
	case ProtoDoH:
		return slices.Clone(NextProtoDoH3)
	default:
		return nil
	}
}

// HasPaddingSupport returns true if the protocol supports EDNS0 padding.
func (p Protocol) HasPaddingSupport() (ok bool) {
	return p.IsStdEncrypted()
}

// IsStdEncrypted returns true if the protocol is one of the standard encrypted
// DNS protocols as defined by an RFC.
func (p Protocol) IsStdEncrypted() (ok bool) {
	return p == ProtoDoT || p == ProtoDoH
}

// Network is an enum with the net protocols TCP and UDP.  Used for a kind of
// validation.
type Network string

// Network enum members.  Note that we use "tcp" and "udp" strings so that we
// could use these constants when calling golang net package functions.
const (
	NetworkTCP Network = "tcp"
	NetworkUDP Network = "udp"
	NetworkAny Network = ""
)

// CanTCP returns true if this Network supports TCP.
func (n Network) CanTCP() (ok bool) {
	return n == NetworkAny || n == NetworkTCP
}

// CanUDP returns true if this Network supports UDP.
func (n Network) CanUDP() (ok bool) {
	return n == NetworkAny || n == NetworkUDP
}

// NetworkFromAddr returns NetworkTCP or NetworkUDP depending on the address.
func NetworkFromAddr(addr net.Addr) (network Network) {
	switch addr.Network() {
	case "udp":
		return NetworkUDP
	case "tcp":
		return NetworkTCP
	default:
		panic(fmt.Sprintf("unexpected network type %s", addr.Network()))
	}
}

// DNSHeaderSize is the DNS query header size.
const DNSHeaderSize = 12
