package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/studyrelay/internal/domain"
	"github.com/ashureev/studyrelay/internal/identity"
	"github.com/ashureev/studyrelay/internal/inbound"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxWebhookBody bounds the size of a webhook delivery.
const maxWebhookBody = 1 << 20

// EventDispatcher handles a parsed inbound event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev domain.InboundEvent)
}

// WebhookHandler serves the Meta webhook verification and delivery endpoints.
type WebhookHandler struct {
	dispatcher  EventDispatcher
	verifyToken string

	wg sync.WaitGroup
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(dispatcher EventDispatcher, verifyToken string) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, verifyToken: verifyToken}
}

// RegisterRoutes registers the webhook routes. Extra middleware applies to
// deliveries only.
func (h *WebhookHandler) RegisterRoutes(r chi.Router, deliveryMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/webhook", h.Verify)
	r.With(deliveryMiddleware...).Post("/webhook", h.Receive)
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		slog.Warn("Webhook verification rejected", "mode", q.Get("hub.mode"), "ip", identity.IPFromRequest(r))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// Receive acknowledges a delivery with 200 and processes it in the
// background. Unparseable or irrelevant payloads are dropped.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	w.WriteHeader(http.StatusOK)
	if err != nil {
		slog.Warn("Failed to read webhook body", "error", err)
		return
	}

	ev, ok := inbound.Parse(body)
	if !ok {
		slog.Debug("Ignoring webhook delivery without a text message")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	ctx = identity.WithDeliveryID(ctx, chiMiddleware.GetReqID(r.Context()))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Dispatch panicked", "sender", identity.Mask(ev.Sender), "panic", rec)
			}
		}()
		h.dispatcher.Dispatch(ctx, ev)
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
