package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
)

// SignatureHeader carries the channel's request signature.
const SignatureHeader = "X-Signature"

// maxWebhookBody bounds the request body read for signature verification.
const maxWebhookBody = 1 << 20

// VerifySignature rejects webhook deliveries whose body does not carry a
// valid HMAC-SHA256 signature under the channel secret. The body is restored
// for downstream handlers. An empty secret disables verification, which is
// only acceptable in local development.
func VerifySignature(channelSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if channelSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !ValidSignature(channelSecret, body, r.Header.Get(SignatureHeader)) {
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ValidSignature reports whether signature is the base64 HMAC-SHA256 of body
// under secret.
func ValidSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
