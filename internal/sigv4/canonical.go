// Package sigv4 builds AWS Signature Version 4 material for a single request:
// the canonical request, the string to sign, the derived signing key and the
// Authorization header value. Every function is a pure function of its inputs.
package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CanonicalRequest is the canonical form of a request and its digest.
type CanonicalRequest struct {
	// String is the exact canonical request text.
	String string
	// Hash is hex(sha256(String)).
	Hash string
	// SignedHeaders is the ';'-joined, sorted, lower-case header name list.
	SignedHeaders string
	// PayloadHash is hex(sha256(payload)).
	PayloadHash string
}

// BuildCanonicalRequest canonicalizes method, path, headers and payload.
// Header names are lower-cased and sorted byte-wise regardless of input casing
// or order; the query string is always empty.
//
// Layout: METHOD\nPATH\n\n<name:value\n ...>\n<signed-headers>\n<payload-hash>
func BuildCanonicalRequest(method, path string, headers map[string]string, payload []byte) CanonicalRequest {
	names, values := canonicalHeaders(headers)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	// empty canonical query string
	b.WriteByte('\n')
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	signed := strings.Join(names, ";")
	payloadHash := HashHex(payload)

	b.WriteString(signed)
	b.WriteByte('\n')
	b.WriteString(payloadHash)

	s := b.String()
	return CanonicalRequest{
		String:        s,
		Hash:          HashHex([]byte(s)),
		SignedHeaders: signed,
		PayloadHash:   payloadHash,
	}
}

// canonicalHeaders lower-cases and sorts header names. Names that collide after
// lower-casing are merged comma-separated in input key order.
func canonicalHeaders(headers map[string]string) ([]string, map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(headers))
	names := make([]string, 0, len(headers))
	for _, k := range keys {
		name := strings.ToLower(strings.TrimSpace(k))
		v := stripExcessSpaces(headers[k])
		if prev, ok := values[name]; ok {
			values[name] = prev + "," + v
			continue
		}
		values[name] = v
		names = append(names, name)
	}
	sort.Strings(names)
	return names, values
}

// stripExcessSpaces trims the value and collapses internal runs of spaces.
func stripExcessSpaces(v string) string {
	v = strings.TrimSpace(v)
	if !strings.Contains(v, "  ") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	prevSpace := false
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// HashHex returns hex(sha256(data)).
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
