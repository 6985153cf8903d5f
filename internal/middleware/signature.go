// Package middleware provides HTTP middleware for the study relay.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const maxSignedBody = 1 << 20

// VerifySignature rejects requests whose body does not match the
// X-Hub-Signature-256 header with 401. An empty secret disables the check.
// The body is restored for the next handler.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				http.Error(w, "unreadable body", http.StatusBadRequest)
				return
			}
			if !ValidSignature(secret, body, r.Header.Get(SignatureHeader)) {
				slog.Warn("Webhook signature rejected", "remote_addr", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// ValidSignature reports whether signature is the hex HMAC-SHA256 of body
// under secret, with an optional "sha256=" prefix.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
