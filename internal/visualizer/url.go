package visualizer

import (
	"net/url"
	"strings"

	"github.com/kandev/turnviz/internal/common/logger"
	"go.uber.org/zap"
)

const producerRole = "role=producer"

// normalizeConnectURL turns an operator-supplied WebSocket URL into the URL
// the forwarder actually dials: missing schemes default to ws://, and the
// query is rewritten so role=producer is the sole value of "role" while
// every other parameter keeps its value and position.
//
// On parse failure the scheme-defaulted raw string is returned unchanged
// after a warning log; the forwarder still attempts to dial it.
func normalizeConnectURL(raw string, log *logger.Logger) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		log.Warn("failed to parse visualizer URL, using raw string unchanged",
			zap.String("url", raw), zap.Error(err))
		return raw
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = withProducerRole(u.RawQuery)

	return u.String()
}

// withProducerRole rewrites a raw query string so "role" is present exactly
// once with value "producer", in its original position if it already
// existed, or appended otherwise. Every other parameter is preserved
// verbatim and in order; net/url.Values.Encode cannot be used here because
// it re-sorts keys alphabetically.
func withProducerRole(rawQuery string) string {
	if rawQuery == "" {
		return producerRole
	}

	pairs := strings.Split(rawQuery, "&")
	out := make([]string, 0, len(pairs)+1)
	replaced := false

	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
		}
		if key == "role" {
			if replaced {
				continue
			}
			out = append(out, producerRole)
			replaced = true
			continue
		}
		out = append(out, pair)
	}

	if !replaced {
		out = append(out, producerRole)
	}

	return strings.Join(out, "&")
}
