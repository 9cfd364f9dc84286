package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"type":"Issue"}`)
	secret := "whsec_testsecret123"
	timestamp := int64(1700000000)

	got := Sign(payload, secret, timestamp)

	// Compute expected HMAC-SHA256 independently.
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func fixedVerifier(secret string, at time.Time) *Verifier {
	v := NewVerifier(secret, 0)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	secret := "whsec_roundtrip"
	payload := []byte(`{"type":"Issue","data":{"id":"I1"}}`)
	now := time.Unix(1700000100, 0)
	ts := now.Unix()

	v := fixedVerifier(secret, now)
	sig := Sign(payload, secret, ts)

	if !v.Verify(payload, strconv.FormatInt(ts, 10), sig) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	secret := "whsec_tamper"
	now := time.Unix(1700000100, 0)
	ts := now.Unix()

	v := fixedVerifier(secret, now)
	sig := Sign([]byte(`{"original":true}`), secret, ts)

	if v.Verify([]byte(`{"original":false}`), strconv.FormatInt(ts, 10), sig) {
		t.Error("Verify() returned true for tampered payload")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Unix(1700000100, 0)
	ts := now.Unix()
	payload := []byte(`{"data":"value"}`)

	v := fixedVerifier("whsec_right", now)
	sig := Sign(payload, "whsec_wrong", ts)

	if v.Verify(payload, strconv.FormatInt(ts, 10), sig) {
		t.Error("Verify() returned true for signature from a different secret")
	}
}

func TestVerifyReplayWindow(t *testing.T) {
	secret := "whsec_replay"
	payload := []byte(`{}`)
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		ts   int64
		want bool
	}{
		{"fresh", now.Unix(), true},
		{"just inside window", now.Unix() - 299, true},
		{"at window edge", now.Unix() - 300, true},
		{"stale", now.Unix() - 301, false},
		{"future beyond window", now.Unix() + 301, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := fixedVerifier(secret, now)
			sig := Sign(payload, secret, tt.ts)
			if got := v.Verify(payload, strconv.FormatInt(tt.ts, 10), sig); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier("whsec_malformed", now)
	payload := []byte(`{}`)
	goodSig := Sign(payload, "whsec_malformed", now.Unix())

	tests := []struct {
		name      string
		timestamp string
		sig       string
	}{
		{"non-numeric timestamp", "not-a-number", goodSig},
		{"empty timestamp", "", goodSig},
		{"non-hex signature", "1700000000", "zzzz-not-hex"},
		{"empty signature", "1700000000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v.Verify(payload, tt.timestamp, tt.sig) {
				t.Error("Verify() returned true for malformed input")
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	s1 := GenerateSecret()
	s2 := GenerateSecret()

	if !strings.HasPrefix(s1, "whsec_") {
		t.Errorf("secret %q missing whsec_ prefix", s1)
	}
	if len(s1) != 70 {
		t.Errorf("secret length = %d, want 70", len(s1))
	}
	if s1 == s2 {
		t.Error("two generated secrets are identical")
	}
}
