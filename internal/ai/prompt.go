package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// contextMessages is how many recent message-like lines feed the prompt.
const contextMessages = 8

// preamble steers the model before the room's own system prompt.
const preamble = "You are participating in a casual chat room. " +
	"Respond naturally to the most recent message in the conversation. " +
	"Speak in the same language as the user (Portuguese if they use Portuguese). " +
	"Never start with phrases like 'Based on our conversation history'. " +
	"Never mention analyzing the conversation. " +
	"Be concise, natural, and conversational. "

// extractContext keeps the tail-most max lines of the history snapshot that
// look like messages, preserving their relative order. A message line either
// contains ": " (user or bot) or is bracketed (system).
func extractContext(history string, max int) string {
	if history == "" {
		return ""
	}

	lines := strings.Split(history, "\n")
	kept := make([]string, 0, max)
	for i := len(lines) - 1; i >= 0 && len(kept) < max; i-- {
		line := lines[i]
		if strings.Contains(line, ": ") ||
			(strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			kept = append(kept, line)
		}
	}

	var b strings.Builder
	for i := len(kept) - 1; i >= 0; i-- {
		b.WriteString(kept[i])
		b.WriteString("\n")
	}
	return b.String()
}

// buildTranscript encodes the extracted context as a role-tagged transcript
// with a trailing assistant tag prompting the completion.
func buildTranscript(context string) string {
	var b strings.Builder
	for _, line := range strings.Split(context, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Bot: "):
			b.WriteString("<assistant>")
			b.WriteString(strings.TrimPrefix(line, "Bot: "))
			b.WriteString("</assistant>\n")
		case strings.Contains(line, ": "):
			idx := strings.Index(line, ": ")
			b.WriteString(`<user name="`)
			b.WriteString(line[:idx])
			b.WriteString(`">`)
			b.WriteString(line[idx+2:])
			b.WriteString("</user>\n")
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			b.WriteString("<system_message>")
			b.WriteString(line)
			b.WriteString("</system_message>\n")
		}
	}
	b.WriteString("<assistant>")
	return b.String()
}

// fingerprint derives the cache key from the system prompt and the extracted
// context. A NUL separator keeps (a, bc) and (ab, c) distinct.
func fingerprint(systemPrompt, context string) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

// cleanupResponse strips the assistant markers the model tends to echo back
// and un-escapes angle brackets.
func cleanupResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<assistant>")
	s = strings.TrimSuffix(s, "</assistant>")
	s = strings.ReplaceAll(s, "\\u003c", "<")
	s = strings.ReplaceAll(s, "\\u003e", ">")
	return strings.TrimSpace(s)
}
