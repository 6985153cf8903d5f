package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/studyrelay/internal/domain"
)

const (
	fallbackShortLimit = 200

	degradedShort    = "Sorry, I couldn't reach the study assistant right now."
	degradedDetailed = "Please try again later."
)

const promptTemplate = `You are STUDY-BOT, an Indian tutor helping a student with a doubt.
Respond ONLY with a single valid JSON object of this shape:

{
  "short_answer": "one or two sentence answer",
  "detailed_answer": "step by step explanation",
  "mermaid": "optional mermaid flowchart source, empty string if not useful",
  "video_suggestions": ["optional YouTube links or search phrases"]
}

Question: %s
Language: %s
`

// BuildPrompt returns the instruction sent to the model for one question.
func BuildPrompt(question, language string) string {
	if strings.TrimSpace(language) == "" {
		language = domain.DefaultLanguage
	}
	return fmt.Sprintf(promptTemplate, question, language)
}

// ParseAnswer extracts a structured answer from raw model output. The JSON
// object is taken from the first "{" to the last "}". When nothing parses or
// both answer texts are empty, the raw output becomes the detailed answer.
func ParseAnswer(raw string) domain.AnswerResult {
	if payload, ok := extractPayload(raw); ok {
		result := domain.AnswerResult{
			ShortAnswer:    payload.ShortAnswer,
			DetailedAnswer: payload.DetailedAnswer,
			DiagramSource:  cleanMermaid(payload.Mermaid),
			VideoLinks:     []string(payload.VideoSuggestions),
		}
		if strings.TrimSpace(result.ShortAnswer) != "" || strings.TrimSpace(result.DetailedAnswer) != "" {
			return result
		}
	}
	return fallbackAnswer(raw)
}

func extractPayload(raw string) (answerPayload, bool) {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first == -1 || last <= first {
		return answerPayload{}, false
	}
	var payload answerPayload
	if err := json.Unmarshal([]byte(raw[first:last+1]), &payload); err != nil {
		return answerPayload{}, false
	}
	return payload, true
}

func fallbackAnswer(raw string) domain.AnswerResult {
	short := raw
	if i := strings.IndexByte(short, '\n'); i >= 0 && strings.TrimSpace(short[:i]) != "" {
		short = short[:i]
	}
	return domain.AnswerResult{
		ShortAnswer:    truncateRunes(short, fallbackShortLimit),
		DetailedAnswer: raw,
	}
}

// DegradedAnswer is returned when the model could not be reached.
func DegradedAnswer() domain.AnswerResult {
	return domain.AnswerResult{ShortAnswer: degradedShort, DetailedAnswer: degradedDetailed}
}

// cleanMermaid strips markdown code fences around diagram source.
func cleanMermaid(src string) string {
	s := strings.TrimSpace(src)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "mermaid")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// videoSuggestions accepts a list of strings, a single string, or a list of
// objects carrying a url, link or title.
type videoSuggestions []string

func (v *videoSuggestions) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			// Unusable suggestions never invalidate the answer itself.
			*v = nil
			return nil
		}
		*v = appendLink(nil, single)
		return nil
	}

	var out []string
	for _, item := range list {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = appendLink(out, s)
			continue
		}
		var obj struct {
			URL   string `json:"url"`
			Link  string `json:"link"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		switch {
		case obj.URL != "":
			out = appendLink(out, obj.URL)
		case obj.Link != "":
			out = appendLink(out, obj.Link)
		default:
			out = appendLink(out, obj.Title)
		}
	}
	*v = out
	return nil
}

func appendLink(links []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return links
	}
	return append(links, s)
}
