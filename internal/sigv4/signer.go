package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	Algorithm = "AWS4-HMAC-SHA256"

	// TimeFormat is the x-amz-date layout: YYYYMMDD'T'HHMMSS'Z'.
	TimeFormat = "20060102T150405Z"

	scopeTerminator = "aws4_request"
)

// FormatAmzDate renders t in UTC using TimeFormat.
func FormatAmzDate(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// DateOf returns the calendar date portion (first 8 characters) of an
// x-amz-date timestamp.
func DateOf(timestamp string) string {
	if len(timestamp) < 8 {
		return timestamp
	}
	return timestamp[:8]
}

// CredentialScope returns date/region/service/aws4_request.
func CredentialScope(date, region, service string) string {
	return strings.Join([]string{date, region, service, scopeTerminator}, "/")
}

// StringToSign returns ALGORITHM\nTIMESTAMP\nSCOPE\nCANONICAL_HASH.
func StringToSign(timestamp, scope, canonicalHash string) string {
	return strings.Join([]string{Algorithm, timestamp, scope, canonicalHash}, "\n")
}

// DeriveSigningKey runs the four-stage HMAC-SHA256 chain:
//
//	kDate    = HMAC("AWS4"+secret, date)
//	kRegion  = HMAC(kDate, region)
//	kService = HMAC(kRegion, service)
//	kSigning = HMAC(kService, "aws4_request")
func DeriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(scopeTerminator))
}

// SignatureHex returns hex(HMAC(key, stringToSign)).
func SignatureHex(key []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))
}

// AuthorizationHeader formats the Authorization header value.
func AuthorizationHeader(accessKey, scope, signedHeaders, signature string) string {
	var b strings.Builder
	b.Grow(len(Algorithm) + len(accessKey) + len(scope) + len(signedHeaders) + len(signature) + 48)
	b.WriteString(Algorithm)
	b.WriteString(" Credential=")
	b.WriteString(accessKey)
	b.WriteByte('/')
	b.WriteString(scope)
	b.WriteString(", SignedHeaders=")
	b.WriteString(signedHeaders)
	b.WriteString(", Signature=")
	b.WriteString(signature)
	return b.String()
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Signer holds the credentials and scope for one API. It is immutable and safe
// for concurrent use.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// Signature is the result of signing one canonical request.
type Signature struct {
	Timestamp       string
	CredentialScope string
	StringToSign    string
	Value           string
	Authorization   string
}

// Sign signs cr for the given x-amz-date timestamp. The same timestamp must be
// the one placed in the x-amz-date header that cr was built from.
func (s Signer) Sign(cr CanonicalRequest, timestamp string) Signature {
	scope := CredentialScope(DateOf(timestamp), s.Region, s.Service)
	sts := StringToSign(timestamp, scope, cr.Hash)
	key := DeriveSigningKey(s.SecretKey, DateOf(timestamp), s.Region, s.Service)
	sig := SignatureHex(key, sts)

	return Signature{
		Timestamp:       timestamp,
		CredentialScope: scope,
		StringToSign:    sts,
		Value:           sig,
		Authorization:   AuthorizationHeader(s.AccessKey, scope, cr.SignedHeaders, sig),
	}
}

// RedactAuthorization keeps the credential scope and signed headers of an
// Authorization value but elides the signature, for logging.
func RedactAuthorization(auth string) string {
	i := strings.Index(auth, "Signature=")
	if i < 0 {
		return auth
	}
	return auth[:i] + "Signature=<redacted>"
}
