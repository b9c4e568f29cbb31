// Package sigv4 implements AWS Signature Version 4 request signing: a
// canonical request is hashed into a string-to-sign, a signing key is
// derived through an HMAC chain keyed by date, region and service, and
// the resulting signature is attached as the Authorization header.
//
// Signatures are time-bounded (about five minutes of clock skew is
// tolerated upstream), so callers sign immediately before sending and
// re-sign on every retry attempt.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	algorithm    = "AWS4-HMAC-SHA256"
	timeFormat   = "20060102T150405Z"
	dateFormat   = "20060102"
	terminator   = "aws4_request"
	amzDateKey   = "X-Amz-Date"
	amzTokenKey  = "X-Amz-Security-Token"
	authHeader   = "Authorization"
	emptyPayload = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// SigningError reports a precondition failure before any bytes were
// signed, such as missing credentials. It is local and never retried.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return "sigv4: " + e.Reason
}

// Credentials is the AWS credential tuple used to derive the signing key.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Signer signs HTTP requests for one region/service pair.
type Signer struct {
	Region  string
	Service string

	// Now is the clock used for the signing timestamp. Defaults to
	// time.Now; tests pin it to reproduce known signatures.
	Now func() time.Time
}

// Sign computes and attaches a SigV4 signature for a request whose body
// is fully buffered. The X-Amz-Date header (and X-Amz-Security-Token when
// a session token is present) is set before canonicalization so it is
// covered by the signature.
func (s *Signer) Sign(req *http.Request, creds Credentials, body []byte) error {
	sum := sha256.Sum256(body)
	return s.SignWithPayloadHash(req, creds, hex.EncodeToString(sum[:]))
}

// SignWithPayloadHash signs a request given a precomputed hex-encoded
// SHA-256 of its payload. Streaming-response requests use this shape: the
// request body is already serialized before signing, only the response
// streams.
func (s *Signer) SignWithPayloadHash(req *http.Request, creds Credentials, payloadHash string) error {
	if creds.AccessKeyID == "" {
		return &SigningError{Reason: "missing access key id"}
	}
	if creds.SecretAccessKey == "" {
		return &SigningError{Reason: "missing secret access key"}
	}
	if s.Region == "" || s.Service == "" {
		return &SigningError{Reason: "signer requires both region and service"}
	}
	if payloadHash == "" {
		payloadHash = emptyPayload
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().UTC()
	amzDate := t.Format(timeFormat)
	dateStamp := t.Format(dateFormat)

	req.Header.Set(amzDateKey, amzDate)
	if creds.SessionToken != "" {
		req.Header.Set(amzTokenKey, creds.SessionToken)
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.Region, s.Service, terminator}, "/")
	crSum := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hex.EncodeToString(crSum[:]),
	}, "\n")

	key := deriveKey(creds.SecretAccessKey, dateStamp, s.Region, s.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set(authHeader, fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, creds.AccessKeyID, scope, signedHeaders, signature))
	return nil
}

// deriveKey runs the SigV4 HMAC chain:
// HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request").
func deriveKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), date)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, terminator)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func canonicalURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}

// canonicalQuery sorts parameters by name then value, encoding both per
// RFC 3986 (spaces become %20, not +).
func canonicalQuery(u *url.URL) string {
	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, uriEncode(k)+"="+uriEncode(v))
		}
	}
	return strings.Join(parts, "&")
}

func uriEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// canonicalizeHeaders lowercases header names, trims and collapses value
// whitespace, sorts by name, and always includes the host header. Every
// header present on the request is signed.
func canonicalizeHeaders(req *http.Request) (canonical, signed string) {
	headers := map[string][]string{}
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == strings.ToLower(authHeader) {
			continue
		}
		headers[lower] = values
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	headers["host"] = []string{host}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		trimmed := make([]string, len(headers[name]))
		for i, v := range headers[name] {
			trimmed[i] = collapseSpaces(strings.TrimSpace(v))
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if prevSpace {
				continue
			}
			prevSpace = true
			b.WriteRune(' ')
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
