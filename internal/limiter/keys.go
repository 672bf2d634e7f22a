package limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const keyPrefix = "rate_limit:"

// userAgentHashLen bounds key length while keeping enough of the digest to
// discriminate between user agents.
const userAgentHashLen = 17

// BuildKey derives the composite counter key for one request. The same
// identifier, limit type and context always produce the same key; missing
// context fields are simply omitted.
//
// Contextual fields deliberately fragment the key space: the same identifier
// seen from two IPs gets independent counters, so a compromised context
// cannot exhaust another's quota. The trade-off is looser aggregate limiting.
func BuildKey(identifier, limitType string, rctx RequestContext) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(identifier)
	b.WriteByte(':')
	b.WriteString(limitType)

	if rctx.IPAddress != "" {
		b.WriteString(":ip:")
		b.WriteString(rctx.IPAddress)
	}
	if rctx.UserAgent != "" {
		b.WriteString(":ua:")
		b.WriteString(hashUserAgent(rctx.UserAgent))
	}
	if rctx.Geolocation != nil && rctx.Geolocation.Country != "" {
		b.WriteString(":geo:")
		b.WriteString(rctx.Geolocation.Country)
	}
	return b.String()
}

// WindowKey suffixes a composite key with the window name. Each window keeps
// its own counter under the shared base key.
func WindowKey(key string, window Window) string {
	return key + ":" + string(window)
}

// ResetPattern builds the glob pattern matching every counter key of an
// identifier, optionally scoped to one limit type. The trailing wildcard
// covers both the window suffix and any contextual fragments.
func ResetPattern(identifier, limitType string) string {
	if limitType == "" {
		return keyPrefix + identifier + ":*"
	}
	return keyPrefix + identifier + ":" + limitType + ":*"
}

func hashUserAgent(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:userAgentHashLen]
}
