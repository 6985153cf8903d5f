// Package whatsapp sends outbound messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/studyrelay/internal/identity"
)

const (
	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is the Graph API version used for message sends.
	DefaultAPIVersion = "v19.0"

	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 4 << 10
)

// Config holds the credentials and endpoint of the messaging API.
type Config struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
}

// Configured reports whether sends can reach the API.
func (c Config) Configured() bool {
	return c.Token != "" && c.PhoneNumberID != ""
}

// ErrorHandler is notified about every failed send.
type ErrorHandler func(to string, err *SendError)

// Client posts text and image messages. Sends are best-effort and at most
// once: failures are logged and reported to the error handler, never retried
// and never returned to the caller.
type Client struct {
	cfg        Config
	httpClient *http.Client
	endpoint   string
	onError    ErrorHandler
	warnOnce   sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for sends.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithErrorHandler registers a callback for failed sends.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *Client) { c.onError = fn }
}

// NewClient creates a messaging client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint: fmt.Sprintf("%s/%s/%s/messages",
			strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) {
	c.send(ctx, to, outboundMessage{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

// SendImage sends an image referenced by URL with a caption.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) {
	c.send(ctx, to, outboundMessage{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "image",
		Image:            &imageBody{Link: imageURL, Caption: caption},
	})
}

func (c *Client) send(ctx context.Context, to string, msg outboundMessage) {
	if !c.cfg.Configured() {
		c.warnOnce.Do(func() {
			slog.Warn("WhatsApp credentials missing, outbound messages are dropped")
		})
		return
	}

	if err := c.post(ctx, msg); err != nil {
		slog.Error("WhatsApp send failed",
			"to", identity.Mask(to),
			"type", msg.Type,
			"kind", err.Kind,
			"status", err.Status,
			"error", err)
		if c.onError != nil {
			c.onError(to, err)
		}
		return
	}
	slog.Debug("WhatsApp send ok", "to", identity.Mask(to), "type", msg.Type)
}

func (c *Client) post(ctx context.Context, msg outboundMessage) *SendError {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &SendError{Kind: KindEncode, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &SendError{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendError{Kind: KindTransport, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return newStatusError(resp.StatusCode, body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
