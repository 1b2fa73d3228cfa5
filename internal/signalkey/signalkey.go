// Package signalkey computes the stable identity of a raw signal and the
// message IDs derived from it, per the normalization rules shared by every
// adapter and the SignalPersister.
package signalkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL lowercases the host, drops query/fragment, and strips a
// trailing slash from the path. Path case is preserved.
// "https://Nike.COM/Sale?x=1#y" -> "nike.com/Sale"
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	host := strings.ToLower(u.Host)
	path := strings.TrimSuffix(u.Path, "/")
	return host + path
}

// Of computes signal_key(signal): canonical_url (normalized) if present,
// else the signal's own URL (normalized), else "id:"+metadata id, else
// "{source_type}:{store}".
func Of(canonicalURL, signalURL, metadataID, sourceType, storeSlug string) string {
	if canonicalURL != "" {
		return NormalizeURL(canonicalURL)
	}
	if signalURL != "" {
		return NormalizeURL(signalURL)
	}
	if metadataID != "" {
		return "id:" + metadataID
	}
	return fmt.Sprintf("%s:%s", sourceType, storeSlug)
}

// MessageID derives the non-mail Message ID:
// "signal:" + SHA-256(store ":" signal_key)[0:16] + ":" + body_hash[0:16].
func MessageID(storeSlug, signalKey, bodyHash string) string {
	sum := sha256.Sum256([]byte(storeSlug + ":" + signalKey))
	head := hex.EncodeToString(sum[:])[:16]
	tail := bodyHash
	if len(tail) > 16 {
		tail = tail[:16]
	}
	return "signal:" + head + ":" + tail
}

// BodyHash computes the SHA-256 of normalized text (lowercase + whitespace
// collapsed), used both as the Message.BodyHash and for dedup_pending.
func BodyHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// NormalizeText lowercases and collapses whitespace, the normalization used
// for signal body dedup.
func NormalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}
