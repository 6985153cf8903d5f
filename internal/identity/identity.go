// Package identity provides sender identity primitives for inbound chat traffic.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

type contextKey int

const deliveryIDKey contextKey = iota

var senderPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,64}$`)

// NormalizeSender trims surrounding whitespace and a leading "+" from a
// WhatsApp sender identifier. It returns false when the result is not a
// usable identifier.
func NormalizeSender(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	if !senderPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// WithDeliveryID returns a context carrying the webhook delivery identifier.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryIDKey, id)
}

// DeliveryIDFromContext extracts the webhook delivery identifier from the context.
func DeliveryIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deliveryIDKey).(string); ok {
		return v
	}
	return ""
}

// Mask hides all but the last four characters of a sender for logs and feeds.
func Mask(sender string) string {
	r := []rune(sender)
	if len(r) <= 4 {
		return sender
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
