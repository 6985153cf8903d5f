package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// scriptedProvider returns canned output and records prompts.
type scriptedProvider struct {
	mu      sync.Mutex
	prompts []string
	raw     string
	err     error
	delay   time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.raw, p.err
}

func TestParseAnswerRecoversEmbeddedObject(t *testing.T) {
	t.Parallel()
	raw := "Sure! Here is the answer:\n" +
		`{"short_answer":"Osmosis moves water.","detailed_answer":"Water crosses a semi-permeable membrane {from low to high solute}.",` +
		`"mermaid":"graph TD; A-->B","video_suggestions":["https://youtu.be/a","https://youtu.be/b"]}` +
		"\nHope this helps."

	got := ParseAnswer(raw)
	if got.ShortAnswer != "Osmosis moves water." {
		t.Errorf("ShortAnswer = %q", got.ShortAnswer)
	}
	if got.DetailedAnswer != "Water crosses a semi-permeable membrane {from low to high solute}." {
		t.Errorf("DetailedAnswer = %q", got.DetailedAnswer)
	}
	if got.DiagramSource != "graph TD; A-->B" {
		t.Errorf("DiagramSource = %q", got.DiagramSource)
	}
	if len(got.VideoLinks) != 2 || got.VideoLinks[1] != "https://youtu.be/b" {
		t.Errorf("VideoLinks = %v", got.VideoLinks)
	}
}

func TestParseAnswerFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{"plain prose", "Photosynthesis converts light into chemical energy.\nIt happens in chloroplasts."},
		{"broken json", `{"short_answer": "oops", "detailed_answer": }`},
		{"empty fields", `{"short_answer":"","detailed_answer":"  ","mermaid":"graph TD"}`},
		{"long single line", strings.Repeat("कक्षा ", 120)},
		{"leading blank line", "\nSecond line carries the text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnswer(tt.raw)
			if got.DetailedAnswer != tt.raw {
				t.Errorf("DetailedAnswer must equal raw output, got %q", got.DetailedAnswer)
			}
			if !strings.HasPrefix(tt.raw, got.ShortAnswer) {
				t.Errorf("ShortAnswer %q is not a prefix of raw", got.ShortAnswer)
			}
			if utf8.RuneCountInString(got.ShortAnswer) > fallbackShortLimit {
				t.Errorf("ShortAnswer exceeds %d runes", fallbackShortLimit)
			}
			if got.ShortAnswer == "" {
				t.Error("ShortAnswer should not be empty for non-empty raw")
			}
			if got.DiagramSource != "" || len(got.VideoLinks) != 0 {
				t.Errorf("fallback must not carry diagram or videos: %+v", got)
			}
		})
	}
}

func TestCleanMermaid(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"graph TD; A-->B":                   "graph TD; A-->B",
		"```mermaid\ngraph TD\nA-->B\n```":  "graph TD\nA-->B",
		"  ```\nflowchart LR; X-->Y\n```  ": "flowchart LR; X-->Y",
		"":                                  "",
	}
	for in, want := range tests {
		if got := cleanMermaid(in); got != want {
			t.Errorf("cleanMermaid(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVideoSuggestionShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want []string
	}{
		{`{"short_answer":"a","video_suggestions":"https://youtu.be/x"}`, []string{"https://youtu.be/x"}},
		{`{"short_answer":"a","video_suggestions":[{"title":"Osmosis","url":"https://youtu.be/y"},{"title":"Only title"}]}`, []string{"https://youtu.be/y", "Only title"}},
		{`{"short_answer":"a","video_suggestions":42}`, nil},
		{`{"short_answer":"a","video_suggestions":["", " "]}`, nil},
	}
	for _, tt := range tests {
		got := ParseAnswer(tt.raw).VideoLinks
		if len(got) != len(tt.want) {
			t.Errorf("ParseAnswer(%s).VideoLinks = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseAnswer(%s).VideoLinks[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}

func TestBuildPromptCarriesQuestionAndLanguage(t *testing.T) {
	t.Parallel()
	p := BuildPrompt("why is the sky blue", "Hindi")
	for _, want := range []string{"Question: why is the sky blue", "Language: Hindi", "short_answer", "video_suggestions"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(BuildPrompt("q", " "), "Language: English") {
		t.Error("blank language should default to English")
	}
}

func TestServiceAsk(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		p := &scriptedProvider{raw: `{"short_answer":"4","detailed_answer":"2+2=4"}`}
		got := NewService(p, time.Second).Ask(context.Background(), "2+2?", "English")
		if got.ShortAnswer != "4" || got.DetailedAnswer != "2+2=4" {
			t.Errorf("unexpected answer %+v", got)
		}
		if len(p.prompts) != 1 || !strings.Contains(p.prompts[0], "Question: 2+2?") {
			t.Errorf("unexpected prompts %v", p.prompts)
		}
	})

	t.Run("transport failure degrades", func(t *testing.T) {
		p := &scriptedProvider{err: errors.New("connection reset")}
		got := NewService(p, time.Second).Ask(context.Background(), "q", "English")
		if got.ShortAnswer != degradedShort || got.DetailedAnswer != degradedDetailed {
			t.Errorf("expected degraded answer, got %+v", got)
		}
	})

	t.Run("empty output degrades", func(t *testing.T) {
		p := &scriptedProvider{raw: "   "}
		got := NewService(p, time.Second).Ask(context.Background(), "q", "English")
		if got.ShortAnswer != degradedShort {
			t.Errorf("expected degraded answer, got %+v", got)
		}
	})

	t.Run("timeout degrades", func(t *testing.T) {
		p := &scriptedProvider{raw: `{"short_answer":"late"}`, delay: time.Second}
		got := NewService(p, 20*time.Millisecond).Ask(context.Background(), "q", "English")
		if got.ShortAnswer != degradedShort {
			t.Errorf("expected degraded answer on timeout, got %+v", got)
		}
	})

	t.Run("nil provider degrades", func(t *testing.T) {
		got := NewService(nil, time.Second).Ask(context.Background(), "q", "English")
		if got.ShortAnswer != degradedShort {
			t.Errorf("expected degraded answer, got %+v", got)
		}
	})
}

func TestOpenAIProviderGenerate(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"{\"short_answer\":\"hi\"}"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", "gpt-4o-mini", srv.URL+"/v1")
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"short_answer":"hi"}` {
		t.Errorf("unexpected output %q", out)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("unexpected model %v", gotBody["model"])
	}
}

func TestNewProviderRejectsUnknownAndMissingKeys(t *testing.T) {
	t.Parallel()
	if _, err := NewProvider(context.Background(), Config{Provider: "llama"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
	if _, err := NewProvider(context.Background(), Config{Provider: ProviderOpenAI}); !errors.Is(err, errMissingAPIKey) {
		t.Errorf("expected missing key error, got %v", err)
	}
	p, err := NewProvider(context.Background(), Config{Provider: ProviderGemini})
	if !errors.Is(err, errMissingAPIKey) {
		t.Errorf("expected missing key error, got %v", err)
	}
	if p != nil {
		t.Error("failed construction must return a nil provider")
	}
}
