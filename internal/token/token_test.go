// internal/token/token_test.go
package token

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	in := Token{
		UserID:       7,
		PasswordHash: "h",
		IP:           "1.2.3.4",
		UAHash:       FingerprintUA("X"),
		IssuedAt:     time.UnixMilli(1000),
		Email:        "dev@example.com",
		Name:         "dev",
		Ident:        "dev-slug",
	}
	enc, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, ok := c.Decode(enc)
	if !ok {
		t.Fatal("Decode rejected its own output")
	}
	if out.UserID != 7 || out.PasswordHash != "h" || out.IP != "1.2.3.4" {
		t.Fatalf("identity fields lost: %+v", out)
	}
	if !out.IssuedAt.Equal(time.UnixMilli(1000)) {
		t.Fatalf("issued-at drifted: %v", out.IssuedAt)
	}
	if out.Email != "dev@example.com" || out.Name != "dev" || out.Ident != "dev-slug" {
		t.Fatalf("extended fields lost: %+v", out)
	}
}

func TestEncode_DropsJunkEmail(t *testing.T) {
	c := newTestCodec(t)
	enc, err := c.Encode(Token{UserID: 1, Email: "not an address"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, ok := c.Decode(enc)
	if !ok {
		t.Fatal("Decode failed")
	}
	if out.Email != "" {
		t.Fatalf("junk email survived: %q", out.Email)
	}
}

func TestDecode_TamperedTokenIsAnonymous(t *testing.T) {
	c := newTestCodec(t)
	enc, err := c.Encode(Token{UserID: 7, PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip one byte of the sealed payload.
	raw, err := url.QueryUnescape(enc)
	if err != nil {
		t.Fatalf("unescape: %v", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	tampered := url.QueryEscape(base64.StdEncoding.EncodeToString(sealed))

	if _, ok := c.Decode(tampered); ok {
		t.Fatal("tampered token accepted")
	}
}

func TestDecode_GarbageNeverPanics(t *testing.T) {
	c := newTestCodec(t)
	for _, v := range []string{"", "%zz", "!!!!", "AAAA", strings.Repeat("x", 4096)} {
		if _, ok := c.Decode(v); ok {
			t.Fatalf("garbage %q accepted", v)
		}
	}
}

func TestDecode_WrongKeyIsAnonymous(t *testing.T) {
	a := newTestCodec(t)
	b, err := NewCodec("a different secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	enc, err := a.Encode(Token{UserID: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, ok := b.Decode(enc); ok {
		t.Fatal("token sealed under a foreign key accepted")
	}
}

func TestFingerprintUA_AutomationMarker(t *testing.T) {
	interactive := FingerprintUA("Mozilla/5.0 (X11; Linux)")
	automated := FingerprintUA("Mozilla/5.0 (X11; Linux)staticlogin-v2")
	if interactive != automated {
		t.Fatalf("marker suffix changed the fingerprint: %q != %q", interactive, automated)
	}
	if FingerprintUA("") != "" {
		t.Fatal("empty user-agent should fingerprint to empty")
	}
	if FingerprintUA("a") == FingerprintUA("b") {
		t.Fatal("distinct agents collided")
	}
}
