package zone

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/amberdns/amberdns/internal/adns"
	"github.com/miekg/dns"
)

const (
	// sigValidity is how far into the future signature expiration is set.
	sigValidity = 30 * 24 * time.Hour

	// sigClockSkew is how far into the past signature inception is set to
	// tolerate validator clock drift.
	sigClockSkew = 1 * time.Hour

	// dnskeyTTL is the TTL of generated DNSKEY records.
	dnskeyTTL = 3600
)

// signingKey is one usable zone-signing key.
type signingKey struct {
	dnskey *dns.DNSKEY
	signer crypto.Signer
	tag    uint16
}

// loadKeys loads the active signing keys of the zone from the store.
func (m *Manager) loadKeys(ctx context.Context, zd *zoneData) (err error) {
	keys, err := m.store.ZoneKeys(ctx, zd.conf.ID)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if !k.Active {
			continue
		}

		dk := &dns.DNSKEY{
			Hdr: dns.RR_Header{
				Name:   zd.apex,
				Rrtype: dns.TypeDNSKEY,
				Class:  dns.ClassINET,
				Ttl:    dnskeyTTL,
			},
			Flags:     k.Flags,
			Protocol:  3,
			Algorithm: k.Algorithm,
			PublicKey: k.PublicKey,
		}

		priv, err := dk.ReadPrivateKey(bytes.NewReader(k.PrivateKey), "store")
		if err != nil {
			return fmt.Errorf("key %d: %w", k.ID, err)
		}

		signer, ok := priv.(crypto.Signer)
		if !ok {
			return fmt.Errorf("key %d: private key of type %T cannot sign", k.ID, priv)
		}

		zd.keys = append(zd.keys, &signingKey{
			dnskey: dk,
			signer: signer,
			tag:    dk.KeyTag(),
		})
	}

	return nil
}

// dnskeyRRs returns the DNSKEY records of the active signing keys.
func (zd *zoneData) dnskeyRRs() (rrs []dns.RR) {
	for _, k := range zd.keys {
		rrs = append(rrs, k.dnskey)
	}

	return rrs
}

// rrSigner signs RRsets with the active keys of one zone using a fixed
// timestamp, so that all signatures in one response carry the same validity
// window.
type rrSigner struct {
	now  time.Time
	apex string
	keys []*signingKey
}

// signer returns the signer for the zone, or nil when the response must not
// carry signatures.
func (m *Manager) signer(zd *zoneData, do bool) (s *rrSigner) {
	if !do || len(zd.keys) == 0 {
		return nil
	}

	return &rrSigner{
		now:  m.clock.Now(),
		apex: zd.apex,
		keys: zd.keys,
	}
}

// sign produces one RRSIG per active key over rrset.
func (s *rrSigner) sign(rrset []dns.RR) (sigs []dns.RR, err error) {
	for _, k := range s.keys {
		sig := &dns.RRSIG{
			Hdr: dns.RR_Header{
				Ttl: rrset[0].Header().Ttl,
			},
			Algorithm:  k.dnskey.Algorithm,
			Expiration: uint32(s.now.Add(sigValidity).Unix()),
			Inception:  uint32(s.now.Add(-sigClockSkew).Unix()),
			KeyTag:     k.tag,
			SignerName: s.apex,
		}

		err = sig.Sign(k.signer, rrset)
		if err != nil {
			return nil, fmt.Errorf("signing %s rrset: %w", dns.TypeToString[rrset[0].Header().Rrtype], err)
		}

		sigs = append(sigs, sig)
	}

	return sigs, nil
}

// GenerateKey creates a new zone-signing key for the zone with the given apex.
// algorithm is [dns.ED25519] or [dns.RSASHA256].  The returned key is active
// and ready to be added to the store.
func GenerateKey(zoneID adns.ZoneID, apex string, algorithm uint8) (k *adns.ZoneKey, err error) {
	var bits int
	switch algorithm {
	case dns.ED25519:
		bits = 256
	case dns.RSASHA256:
		bits = 2048
	default:
		return nil, fmt.Errorf("generating key: unsupported algorithm %d", algorithm)
	}

	dk := &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(apex),
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    dnskeyTTL,
		},
		Flags:     adns.ZoneKeyFlagsZSK,
		Protocol:  3,
		Algorithm: algorithm,
	}

	priv, err := dk.Generate(bits)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return &adns.ZoneKey{
		ZoneID:     zoneID,
		Flags:      adns.ZoneKeyFlagsZSK,
		Algorithm:  algorithm,
		KeyTag:     dk.KeyTag(),
		PublicKey:  dk.PublicKey,
		PrivateKey: []byte(dk.PrivateKeyString(priv)),
		Active:     true,
	}, nil
}
