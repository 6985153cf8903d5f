package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type capturedRequest struct {
	Path   string
	Auth   string
	Body   map[string]any
	Method string
}

func newCaptureServer(t *testing.T, status int, respBody string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body, Method: r.Method})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestSendTextPayload(t *testing.T) {
	t.Parallel()
	srv, requests := newCaptureServer(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`)

	c := NewClient(Config{Token: "tok", PhoneNumberID: "1065", BaseURL: srv.URL})
	c.SendText(context.Background(), "91900", "hello")

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	req := got[0]
	if req.Method != http.MethodPost || req.Path != "/v19.0/1065/messages" {
		t.Errorf("unexpected endpoint %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", req.Auth)
	}
	if req.Body["messaging_product"] != "whatsapp" || req.Body["to"] != "91900" || req.Body["type"] != "text" {
		t.Errorf("unexpected payload %v", req.Body)
	}
	text, _ := req.Body["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("unexpected text body %v", req.Body["text"])
	}
	if _, ok := req.Body["image"]; ok {
		t.Error("text payload must not carry an image")
	}
}

func TestSendImagePayload(t *testing.T) {
	t.Parallel()
	srv, requests := newCaptureServer(t, http.StatusOK, `{}`)

	c := NewClient(Config{Token: "tok", PhoneNumberID: "1065", APIVersion: "v21.0", BaseURL: srv.URL + "/"})
	c.SendImage(context.Background(), "91900", "https://mermaid.ink/svg/abc", "Diagram")

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].Path != "/v21.0/1065/messages" {
		t.Errorf("unexpected path %s", got[0].Path)
	}
	image, _ := got[0].Body["image"].(map[string]any)
	if got[0].Body["type"] != "image" || image["link"] != "https://mermaid.ink/svg/abc" || image["caption"] != "Diagram" {
		t.Errorf("unexpected payload %v", got[0].Body)
	}
}

func TestSendFailureIsReportedNotReturned(t *testing.T) {
	t.Parallel()
	srv, requests := newCaptureServer(t, http.StatusBadRequest,
		`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`)

	var failures []*SendError
	c := NewClient(Config{Token: "tok", PhoneNumberID: "1065", BaseURL: srv.URL},
		WithErrorHandler(func(to string, err *SendError) {
			if to != "91900" {
				t.Errorf("unexpected recipient %q", to)
			}
			failures = append(failures, err)
		}))
	c.SendText(context.Background(), "91900", "hello")

	if len(requests()) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(requests()))
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 reported failure, got %d", len(failures))
	}
	f := failures[0]
	if f.Kind != KindStatus || f.Status != http.StatusBadRequest || f.Code != 100 || f.Message != "Invalid parameter" {
		t.Errorf("unexpected send error %+v", f)
	}
}

func TestSendTransportFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var failure *SendError
	c := NewClient(Config{Token: "tok", PhoneNumberID: "1065", BaseURL: url},
		WithErrorHandler(func(_ string, err *SendError) { failure = err }))
	c.SendText(context.Background(), "91900", "hello")

	if failure == nil || failure.Kind != KindTransport {
		t.Fatalf("expected transport failure, got %+v", failure)
	}
}

func TestMissingCredentialsIsNoop(t *testing.T) {
	t.Parallel()
	srv, requests := newCaptureServer(t, http.StatusOK, `{}`)

	c := NewClient(Config{PhoneNumberID: "1065", BaseURL: srv.URL},
		WithErrorHandler(func(string, *SendError) { t.Error("no failure expected for a no-op send") }))
	c.SendText(context.Background(), "91900", "hello")
	c.SendImage(context.Background(), "91900", "https://example.com/a.png", "x")

	if n := len(requests()); n != 0 {
		t.Fatalf("expected no requests without a token, got %d", n)
	}
}
