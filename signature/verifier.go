package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultReplayWindow is the maximum allowed skew between the signed
// timestamp and the verifier's clock.
const DefaultReplayWindow = 300 * time.Second

// Verifier validates inbound webhook signatures against a shared secret.
// Malformed input of any kind is treated as verification failure, never
// as an error.
type Verifier struct {
	secret       string
	replayWindow time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier returns a Verifier for the given secret. A replayWindow of 0
// selects DefaultReplayWindow.
func NewVerifier(secret string, replayWindow time.Duration) *Verifier {
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}
	return &Verifier{
		secret:       secret,
		replayWindow: replayWindow,
		now:          time.Now,
	}
}

// Verify reports whether sigHex is a valid hex-encoded HMAC-SHA256 signature
// of "{timestamp}.{payload}" and the timestamp (unix seconds, decimal string)
// is within the replay window.
func (v *Verifier) Verify(payload []byte, timestampHeader, sigHex string) bool {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}

	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.replayWindow {
		return false
	}

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	expected, err := hex.DecodeString(Sign(payload, v.secret, ts))
	if err != nil {
		return false
	}

	return hmac.Equal(expected, provided)
}

// Verify checks whether the given hex signature matches the expected
// HMAC-SHA256 signature for the payload, secret, and timestamp. It performs
// no replay-window check; use Verifier.Verify for inbound requests.
func Verify(payload []byte, secret string, timestamp int64, sigHex string) bool {
	return hmac.Equal([]byte(Sign(payload, secret, timestamp)), []byte(sigHex))
}
