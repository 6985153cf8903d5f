package dispatch

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ashureev/studyrelay/internal/domain"
)

const (
	msgWelcome          = "👋 Welcome to STUDY-BOT!\nPlease send your Student ID to log in."
	msgAskPassword      = "🔐 Thanks! Now send your password."
	msgLoginFailed      = "❌ Login failed. Please send your Student ID again."
	msgLoginUnavailable = "⚠️ Login is unavailable right now. Please send your password again in a moment."
	msgTeacherMenu      = "Choose your teacher voice:\nMALE\nFEMALE\nYOUTH\nROBOT"
	msgTeacherInvalid   = "❌ Please reply with MALE, FEMALE, YOUTH or ROBOT."
	msgRateLimited      = "⏳ You're asking questions too quickly. Please wait a minute and try again."
	msgTestFailed       = "Sorry, I couldn't create a weekly test right now. Please try again later."

	shortAnswerPrefix = "📌 Short:\n"
	videosPrefix      = "🎥 Videos:\n"
	diagramCaption    = "Diagram"
	mermaidRenderURL  = "https://mermaid.ink/svg/"
	maxVideoLinks     = 3
)

const menuBase = "OPTIONS:\n1) Ask any study question\n2) set language Hindi\n3) weekly test"

const menuLoggedIn = menuBase + "\n4) CHANGE TEACHER\n5) DIAGRAM / VOICE / VIDEO / SIMPLE / ADVANCED"

func msgLanguageSet(lang string) string {
	return fmt.Sprintf("✅ Language set to %s", lang)
}

func msgTestCreated(id string) string {
	return fmt.Sprintf("Weekly test created! ID = %s", id)
}

func msgLoggedIn(studentID string) string {
	return fmt.Sprintf("✅ Logged in as %s. Your session lasts until midnight.\nAsk any study question, or type help.", studentID)
}

func msgTeacherChanged(v domain.VoiceStyle) string {
	return fmt.Sprintf("✅ Teacher changed to %s.", v)
}

// keywordReplies holds the canned placeholder content of LOGGED_IN keywords.
var keywordReplies = map[string]func(*domain.UserSession) string{
	"DIAGRAM": func(*domain.UserSession) string {
		return "📊 Diagrams come with your answers. Ask a question and I'll add a flowchart when it helps."
	},
	"VOICE": func(s *domain.UserSession) string {
		voice := s.VoiceStyle
		if voice == "" {
			voice = domain.VoiceMale
		}
		return fmt.Sprintf("🔊 Voice answers are coming soon. Your teacher voice is %s.", voice)
	},
	"VIDEO": func(*domain.UserSession) string {
		return "🎥 Video lessons are coming soon. Answers include video suggestions where available."
	},
	"SIMPLE": func(*domain.UserSession) string {
		return "🧒 Simple mode noted. Keep your questions short and I'll keep answers easy."
	},
	"ADVANCED": func(*domain.UserSession) string {
		return "🎓 Advanced mode noted. Ask for derivations or proofs and I'll go deeper."
	},
}

const (
	cmdSetLanguage   = "set language"
	cmdWeeklyTest    = "weekly test"
	cmdChangeTeacher = "CHANGE TEACHER"
)

// parseSetLanguage returns the requested language when text starts with the
// "set language" command. The language keeps its original casing and
// defaults to English when omitted.
func parseSetLanguage(text string) (string, bool) {
	if len(text) < len(cmdSetLanguage) || !strings.EqualFold(text[:len(cmdSetLanguage)], cmdSetLanguage) {
		return "", false
	}
	rest := text[len(cmdSetLanguage):]
	if rest != "" && !unicode.IsSpace([]rune(rest)[0]) {
		return "", false
	}
	lang := strings.Join(strings.Fields(rest), " ")
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	return lang, true
}

func isHelp(lc string) bool {
	return lc == "help" || lc == "menu" || lc == "options"
}

func isGreeting(lc string) bool {
	return lc == "hi" || lc == "hello"
}

// chunkRunes splits s into consecutive pieces of at most size runes.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	if size <= 0 || len(r) <= size {
		return []string{s}
	}
	chunks := make([]string, 0, (len(r)+size-1)/size)
	for start := 0; start < len(r); start += size {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		chunks = append(chunks, string(r[start:end]))
	}
	return chunks
}

func formatVideos(links []string) string {
	if len(links) > maxVideoLinks {
		links = links[:maxVideoLinks]
	}
	var b strings.Builder
	b.WriteString(videosPrefix)
	for i, link := range links {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(link)
	}
	return b.String()
}

// preview shortens text for logs and feed events.
func preview(text string) string {
	const limit = 80
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "…"
}
