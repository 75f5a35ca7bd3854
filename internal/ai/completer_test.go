package ai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doodlelabs/doodlechat/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func newTestCompleter(t *testing.T, handler http.HandlerFunc) *Completer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCompleter(Config{
		EndpointURL:    srv.URL,
		Model:          "llama3",
		ConnectTimeout: time.Second,
		RequestTimeout: time.Second,
		CacheTTL:       5 * time.Minute,
	}, testLogger())
}

func decodeRequest(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestCompleteSuccess(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Model != "llama3" {
			t.Errorf("model = %q", req.Model)
		}
		if req.System == "" {
			t.Error("primary request missing system prompt")
		}
		if req.Options == nil || req.Options.Temperature != 0.8 {
			t.Errorf("options = %+v", req.Options)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "<assistant>hello there</assistant>"})
	})

	got, err := c.Complete(context.Background(), "be terse", "alice: hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Complete = %q, want %q", got, "hello there")
	}
}

func TestCompleteCacheHit(t *testing.T) {
	calls := 0
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(generateResponse{Response: "cached answer"})
	})

	first, err := c.Complete(context.Background(), "be terse", "alice: hello")
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	second, err := c.Complete(context.Background(), "be terse", "alice: hello")
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	if first != second {
		t.Errorf("cache returned %q, first reply was %q", second, first)
	}
	if calls != 1 {
		t.Errorf("upstream called %d times, want 1", calls)
	}
	if c.CacheHits() < 1 {
		t.Errorf("CacheHits = %d, want >= 1", c.CacheHits())
	}
}

func TestCompleteFallbackOnPrimaryFailure(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.System != "" {
			// Primary path carries the system prompt; reject it.
			http.Error(w, "model overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "oi"})
	})

	got, err := c.Complete(context.Background(), "be terse", "alice: olá como vai")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "oi" {
		t.Errorf("Complete = %q, want oi", got)
	}
}

func TestCompleteApologyWhenBothPathsFail(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	got, err := c.Complete(context.Background(), "be terse", "alice: hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != Apology {
		t.Errorf("Complete = %q, want the apology", got)
	}
}

func TestCompleteEmptyCompletion(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "  <assistant></assistant>  "})
	})

	_, err := c.Complete(context.Background(), "be terse", "alice: hi")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("err = %v, want ErrEmptyCompletion", err)
	}
}

func TestSimplifiedUsesLastUserLine(t *testing.T) {
	var simplifiedPrompt string
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.System != "" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		simplifiedPrompt = req.Prompt
		json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	})

	history := "alice: what time works?\nBot: any time\nbob: tomorrow at noon"
	if _, err := c.Complete(context.Background(), "be terse", history); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "<assistant>Respond naturally and conversationally: tomorrow at noon</assistant>"
	if simplifiedPrompt != want {
		t.Errorf("simplified prompt = %q, want %q", simplifiedPrompt, want)
	}
}

func TestStatsFormat(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "hi"})
	})
	if _, err := c.Complete(context.Background(), "p", "alice: hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats := c.Stats()
	if stats == "" || stats[:15] != "Completer Stats" {
		t.Errorf("Stats = %q", stats)
	}
}
