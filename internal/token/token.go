// internal/token/token.go
//
// Session token codec.
//
// Context
// -------
// A login identity rides in a client-side cookie as an encrypted,
// URL-safe string.  The plaintext is a pipe-delimited tuple:
//
//	userId | passwordHash | ip | uaFingerprint | issuedAtMillis | email? | name? | ident?
//
// The first five fields are the original format; the last three were
// appended later, so a decoded tuple is accepted with anywhere from five
// to eight fields.  The payload is sealed with ChaCha20-Poly1305 under a
// key derived from the configured secret, base64-encoded, then
// percent-encoded for cookie transport.
//
// Decode never fails loudly.  Any defect — percent-decoding, base64,
// authentication, field count, numeric parse — yields ok=false, and the
// caller treats the bearer as anonymous.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash/fnv"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	minFields = 5
	maxFields = 8

	// Automated re-login clients append this marker to their user-agent.
	// The fingerprint covers only the text before it, so a token issued
	// by the interactive flow stays valid for the automated one.
	staticLoginMarker = "staticlogin"
)

var emailPattern = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`)

// Token is the decoded identity tuple.
type Token struct {
	UserID       int64
	PasswordHash string
	IP           string
	UAHash       string
	IssuedAt     time.Time
	Email        string
	Name         string
	Ident        string
}

// Codec seals and opens session tokens.  Safe for concurrent use.
type Codec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCodec derives a cipher key from secret.  Any non-empty secret is
// accepted; it is hashed to the cipher's key size.
func NewCodec(secret string) (*Codec, error) {
	sum := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.New(sum[:])
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// FingerprintUA reduces a raw user-agent string to a short stable hash.
// Text from the automation marker onward is excluded.
func FingerprintUA(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return ""
	}
	if idx := strings.Index(ua, staticLoginMarker); idx > 0 {
		ua = ua[:idx]
	}
	h := fnv.New32a()
	h.Write([]byte(ua))
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}

// Encode serializes and seals t.  The email field is included only when
// it looks like a deliverable address; a junk value is written as empty
// rather than poisoning the tuple.
func (c *Codec) Encode(t Token) (string, error) {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(t.UserID, 10))
	sb.WriteByte('|')
	sb.WriteString(t.PasswordHash)
	sb.WriteByte('|')
	sb.WriteString(t.IP)
	sb.WriteByte('|')
	sb.WriteString(t.UAHash)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(t.IssuedAt.UnixMilli(), 10))
	sb.WriteByte('|')
	if emailPattern.MatchString(t.Email) {
		sb.WriteString(t.Email)
	}
	sb.WriteByte('|')
	sb.WriteString(t.Name)
	sb.WriteByte('|')
	sb.WriteString(t.Ident)

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(sb.String()), nil)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decode reverses Encode.  ok is false for anything that is not a token
// this codec produced, including a tampered or truncated tuple.
func (c *Codec) Decode(value string) (Token, bool) {
	var t Token
	if value == "" {
		return t, false
	}
	unescaped, err := url.QueryUnescape(value)
	if err != nil {
		return t, false
	}
	sealed, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil || len(sealed) < chacha20poly1305.NonceSize {
		return t, false
	}
	plain, err := c.aead.Open(nil, sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return t, false
	}

	items := strings.Split(string(plain), "|")
	if len(items) < minFields || len(items) > maxFields {
		return t, false
	}
	id, err := strconv.ParseInt(items[0], 10, 64)
	if err != nil {
		return t, false
	}
	millis, err := strconv.ParseInt(items[4], 10, 64)
	if err != nil {
		return t, false
	}

	t.UserID = id
	t.PasswordHash = items[1]
	t.IP = items[2]
	t.UAHash = items[3]
	t.IssuedAt = time.UnixMilli(millis)
	if len(items) > 5 {
		t.Email = items[5]
	}
	if len(items) > 6 {
		t.Name = items[6]
	}
	if len(items) > 7 {
		t.Ident = items[7]
	}
	return t, true
}
