// Package adnshttp contains common constants, functions, and types for
// working with HTTP.
package adnshttp

import "github.com/amberdns/amberdns/internal/version"

// HTTP header value constants.
const (
	HdrValApplicationJSON        = "application/json"
	HdrValApplicationOctetStream = "application/octet-stream"
	HdrValTextPlain              = "text/plain"
	HdrValWildcard               = "*"
)

// userAgent is the cached User-Agent string for AmberDNS.
var userAgent = version.Name() + "/" + version.Version()

// UserAgent returns the ID of the service as a User-Agent string.  It can
// also be used as the value of the Server HTTP header.
func UserAgent() (ua string) {
	return userAgent
}
