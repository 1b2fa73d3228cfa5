package promos

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/ignite/promo-digest/internal/signalkey"
)

var punctuationStrip = strings.NewReplacer(
	"!", "", ".", "", ",", "", "?", "", "'", "", `"`, "",
	"-", " ", "_", " ", ":", "", ";", "", "%", " percent", "&", " and ",
)

// NormalizeHeadline lowercases, spells out "%" as " percent" and "&" as
// " and ", turns "-" and "_" into spaces, strips other punctuation
// (! . , ? ' " : ;), and collapses whitespace. Idempotent: NormalizeHeadline(NormalizeHeadline(x)) == NormalizeHeadline(x).
func NormalizeHeadline(headline string) string {
	stripped := punctuationStrip.Replace(strings.ToLower(headline))
	return signalkey.NormalizeText(stripped)
}

// ComputeBaseKey prioritizes code over url over headline.
func ComputeBaseKey(code, landingURL, headline string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(code)); trimmed != "" {
		return "code:" + trimmed
	}
	if landingURL != "" {
		normalized := signalkey.NormalizeURL(landingURL)
		if normalized != "" && hasHost(landingURL) {
			return "url:" + normalized
		}
	}
	normalizedHeadline := NormalizeHeadline(headline)
	sum := md5.Sum([]byte(normalizedHeadline))
	return "head:" + hex.EncodeToString(sum[:])[:16]
}

func hasHost(raw string) bool {
	return strings.Contains(raw, "://")
}
