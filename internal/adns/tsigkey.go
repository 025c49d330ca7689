package adns

// TSIG algorithm names in their FQDN form, as they appear in TSIG RRs.
const (
	TSIGAlgorithmHMACMD5    = "hmac-md5.sig-alg.reg.int."
	TSIGAlgorithmHMACSHA1   = "hmac-sha1."
	TSIGAlgorithmHMACSHA256 = "hmac-sha256."
	TSIGAlgorithmHMACSHA512 = "hmac-sha512."
)

// TSIGKey is a shared secret used to authenticate zone transfers and dynamic
// updates.
type TSIGKey struct {
	// Name is the key name as a lower-case FQDN.  It doubles as the key
	// identifier on the wire.
	Name string

	// Algorithm is one of the TSIGAlgorithm* constants.
	Algorithm string

	// Secret is the raw shared secret.  The store keeps it base64-encoded.
	Secret []byte

	// ID is the store ID of the key.
	ID int64

	// Enabled makes the key usable for verification.
	Enabled bool
}
