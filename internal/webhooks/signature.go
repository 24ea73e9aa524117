package webhooks

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
    "strconv"
)

// Sign returns lowercase hex of HMAC-SHA256 over "<timestampMs>.<payload>"
// keyed by the webhook secret. Deterministic: same inputs, same signature.
func Sign(secret string, timestampMs int64, payload []byte) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(strconv.FormatInt(timestampMs, 10)))
    mac.Write([]byte("."))
    mac.Write(payload)
    return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time. Receivers use this over the raw
// request body and the X-Webhook-Timestamp header; stale-timestamp rejection
// is a receiver-side policy on top of it.
func Verify(secret string, timestampMs int64, payload []byte, provided string) bool {
    b, err := hex.DecodeString(provided)
    if err != nil {
        return false
    }
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(strconv.FormatInt(timestampMs, 10)))
    mac.Write([]byte("."))
    mac.Write(payload)
    return hmac.Equal(mac.Sum(nil), b)
}
