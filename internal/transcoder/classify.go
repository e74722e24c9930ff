package transcoder

import (
	"strings"

	"github.com/fieldcast/fieldcast/internal/resolver"
)

// classifyExit maps a non-zero ffmpeg exit onto the resolver error
// taxonomy using the stderr tail, so the supervisor's recovery policy can
// act on pipeline failures the same way it acts on resolution failures.
// An HTTP 403 on a CDN URL means the signed URL lapsed and wants a forced
// re-resolution; broken codecs are permanent for the item; everything
// unrecognized is treated as a transient upstream fault.
func classifyExit(err error, stderrTail string) error {
	lower := strings.ToLower(stderrTail)

	kind := resolver.KindUpstream
	switch {
	case contains(lower, "403", "forbidden", "expired"):
		kind = resolver.KindExpired
	case contains(lower, "401", "unauthorized"):
		kind = resolver.KindAccessDenied
	case contains(lower, "404", "not found", "no such file"):
		kind = resolver.KindNotFound
	case contains(lower, "429", "too many requests"):
		kind = resolver.KindRateLimited
	case contains(lower, "connection refused", "connection reset", "connection timed out",
		"network is unreachable", "end of file", "i/o error", "broken pipe"):
		kind = resolver.KindNetwork
	case contains(lower, "invalid data found", "decoder not found", "could not find codec",
		"unsupported codec", "unknown codec"):
		kind = resolver.KindCodec
	}
	return resolver.NewError("pipeline", kind, err)
}

func contains(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
