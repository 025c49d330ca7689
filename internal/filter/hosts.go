package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/netutil"
)

// Sink addresses that hosts-format blocklists commonly map blocked names to.
// A line whose first field is one of these contributes its second field.
const (
	sinkNullIPv4 = "0.0.0.0"
	sinkLoopIPv4 = "127.0.0.1"
)

// parseListData splits raw list data into blocked domains and adblock-syntax
// rule text.  Hosts-format and plain-domain lines become domains; lines that
// look like adblock syntax are collected verbatim into rules for the engine.
// Domains that do not pass [netutil.ValidateHostname] are dropped and counted
// in skipped.
func parseListData(data []byte) (domains []string, rules []byte, skipped int, err error) {
	ruleBuf := &bytes.Buffer{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}

		if isRuleLine(line) {
			ruleBuf.WriteString(line)
			ruleBuf.WriteByte('\n')

			continue
		}

		host, ok := parseHostsLine(line)
		if !ok {
			continue
		}

		if vErr := netutil.ValidateHostname(host); vErr != nil {
			skipped++

			continue
		}

		domains = append(domains, host)
	}

	err = sc.Err()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("scanning list data: %w", err)
	}

	return domains, ruleBuf.Bytes(), skipped, nil
}

// isRuleLine returns true if line looks like adblock syntax rather than a
// hosts entry.  line must be non-empty and trimmed.
func isRuleLine(line string) (ok bool) {
	switch line[0] {
	case '@', '|', '/', '[', '$':
		return true
	default:
		return strings.ContainsAny(line, "^*$")
	}
}

// parseHostsLine extracts the domain from a single hosts-format or
// plain-domain line, if any.  line must be non-empty and trimmed.
func parseHostsLine(line string) (host string, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}

	host = fields[0]
	if host == sinkNullIPv4 || host == sinkLoopIPv4 {
		if len(fields) < 2 {
			return "", false
		}

		host = fields[1]
	}

	return NormalizeDomain(host), true
}
