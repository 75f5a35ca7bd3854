package ai

import (
	"strings"
	"testing"
	"time"
)

func TestExtractContextKeepsTail(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, "alice: msg "+string(rune('a'+i)))
	}
	history := strings.Join(lines, "\n")

	got := extractContext(history, contextMessages)
	kept := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(kept) != contextMessages {
		t.Fatalf("kept %d lines, want %d", len(kept), contextMessages)
	}
	if kept[0] != "alice: msg e" {
		t.Errorf("first kept line = %q, want %q", kept[0], "alice: msg e")
	}
	if kept[len(kept)-1] != "alice: msg l" {
		t.Errorf("last kept line = %q, want %q", kept[len(kept)-1], "alice: msg l")
	}
}

func TestExtractContextSkipsNonMessages(t *testing.T) {
	history := "garbage line\nalice: real\n[system notice]\nanother stray"
	got := extractContext(history, 8)
	if got != "alice: real\n[system notice]\n" {
		t.Errorf("extractContext = %q", got)
	}
}

func TestBuildTranscriptRoles(t *testing.T) {
	context := "alice: hi\nBot: hello\n[bob enters the room]\n"
	got := buildTranscript(context)
	want := `<user name="alice">hi</user>` + "\n" +
		"<assistant>hello</assistant>\n" +
		"<system_message>[bob enters the room]</system_message>\n" +
		"<assistant>"
	if got != want {
		t.Errorf("buildTranscript:\n got %q\nwant %q", got, want)
	}
}

func TestFingerprintSeparatesPromptAndContext(t *testing.T) {
	if fingerprint("ab", "c") == fingerprint("a", "bc") {
		t.Error("fingerprint collides across the prompt/context boundary")
	}
	if fingerprint("p", "c") != fingerprint("p", "c") {
		t.Error("fingerprint is not stable")
	}
	if len(fingerprint("p", "c")) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(fingerprint("p", "c")))
	}
}

func TestCleanupResponse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<assistant>hi</assistant>", "hi"},
		{"  plain  ", "plain"},
		{`\u003cb\u003ebold\u003c/b\u003e`, "<b>bold</b>"},
		{"<assistant>   </assistant>", ""},
	}
	for _, tt := range tests {
		if got := cleanupResponse(tt.in); got != tt.want {
			t.Errorf("cleanupResponse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLooksPortuguese(t *testing.T) {
	if !looksPortuguese("alice: olá tudo bem") {
		t.Error("missed Portuguese context")
	}
	if looksPortuguese("alice: hello there") {
		t.Error("false positive on English context")
	}
	if looksPortuguese("") {
		t.Error("false positive on empty context")
	}
}

func TestLastUserQuery(t *testing.T) {
	tests := []struct {
		context, want string
	}{
		{"alice: first\nBot: reply\nbob: second", "second"},
		{"Bot: only the bot", "How can I help?"},
		{"", "How can I help?"},
	}
	for _, tt := range tests {
		if got := lastUserQuery(tt.context); got != tt.want {
			t.Errorf("lastUserQuery(%q) = %q, want %q", tt.context, got, tt.want)
		}
	}
}

func TestCacheTTL(t *testing.T) {
	c := newResponseCache(20 * time.Millisecond)
	c.Set("k", "v")

	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Get returned an expired entry")
	}
	if removed := c.PurgeExpired(); removed != 1 {
		t.Errorf("PurgeExpired = %d, want 1", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0", c.Size())
	}
}
