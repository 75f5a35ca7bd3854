// Package ai implements the completion pipeline for AI rooms: context
// extraction, response caching, and a primary/simplified/apology fallback
// chain against an Ollama-style generate endpoint.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/doodlelabs/doodlechat/internal/logger"
	"github.com/doodlelabs/doodlechat/internal/metrics"
)

// ErrEmptyCompletion is returned when the model produced nothing usable.
var ErrEmptyCompletion = errors.New("empty completion")

// Apology is sent when both the primary and the simplified path fail.
const Apology = "Sorry, I'm having technical difficulties processing your message right now. Please try again in a few moments."

type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	System  string           `json:"system,omitempty"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Config holds the completer settings.
type Config struct {
	EndpointURL    string
	Model          string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	CacheTTL       time.Duration
}

// Completer talks to the upstream text-generation service.
type Completer struct {
	endpoint string
	model    string
	client   *http.Client
	cache    *responseCache
	log      *logger.Logger

	requests    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	failures    atomic.Int64
}

// NewCompleter creates a completer with its own HTTP client. The client
// bounds the dial and the wait for response headers; the overall call is
// bounded by the caller's context.
func NewCompleter(cfg Config, log *logger.Logger) *Completer {
	return &Completer{
		endpoint: cfg.EndpointURL,
		model:    cfg.Model,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		cache: newResponseCache(cfg.CacheTTL),
		log:   log.WithComponent("ai"),
	}
}

// Complete produces the bot's reply for the given room prompt and history
// snapshot. Failures of the primary path fall back to a simplified one-shot
// prompt; if that fails too the fixed apology is returned. ErrEmptyCompletion
// is returned only when the model answered with nothing usable.
func (c *Completer) Complete(ctx context.Context, systemPrompt, history string) (string, error) {
	id := c.requests.Add(1)
	metrics.AIRequestsTotal.Inc()
	log := c.log.With("request_id", id)

	extracted := extractContext(history, contextMessages)
	key := fingerprint(systemPrompt, extracted)

	if cached, ok := c.cache.Get(key); ok {
		c.cacheHits.Add(1)
		metrics.AICacheHitsTotal.Inc()
		log.Debug("Serving completion from cache")
		return cached, nil
	}
	c.cacheMisses.Add(1)
	metrics.AICacheMissesTotal.Inc()

	response, err := c.primary(ctx, systemPrompt, extracted)
	if err == nil {
		c.cache.Set(key, response)
		return response, nil
	}

	c.failures.Add(1)
	metrics.AIFailuresTotal.Inc()
	log.Warn("Primary completion failed, trying simplified prompt", "error", err)

	response, err2 := c.simplified(ctx, history)
	if err2 == nil {
		return response, nil
	}
	log.Error("Simplified completion failed", "error", err2)

	if errors.Is(err, ErrEmptyCompletion) && errors.Is(err2, ErrEmptyCompletion) {
		return "", ErrEmptyCompletion
	}
	return Apology, nil
}

func (c *Completer) primary(ctx context.Context, systemPrompt, extracted string) (string, error) {
	req := generateRequest{
		Model:  c.model,
		Prompt: buildTranscript(extracted),
		System: preamble + systemPrompt,
		Stream: false,
		Options: &generateOptions{
			Temperature: 0.8,
			TopP:        0.9,
			TopK:        40,
		},
	}
	return c.send(ctx, req)
}

// simplified is the one-shot fallback: just the last user line, asked for in
// the detected language. The raw history feeds the language heuristic.
func (c *Completer) simplified(ctx context.Context, history string) (string, error) {
	lead := "Respond naturally and conversationally: "
	if looksPortuguese(history) {
		lead = "Responda de forma natural e conversacional: "
	}
	req := generateRequest{
		Model:  c.model,
		Prompt: "<assistant>" + lead + lastUserQuery(history) + "</assistant>",
		Stream: false,
	}
	return c.send(ctx, req)
}

func (c *Completer) send(ctx context.Context, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upstream returned %d: %s", resp.StatusCode, detail)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	cleaned := cleanupResponse(parsed.Response)
	if cleaned == "" {
		return "", ErrEmptyCompletion
	}

	c.log.Debug("Upstream call completed", "duration", time.Since(start))
	return cleaned, nil
}

// PurgeCache removes expired cache entries and returns the count removed.
func (c *Completer) PurgeCache() int {
	return c.cache.PurgeExpired()
}

// ClearCache empties the response cache.
func (c *Completer) ClearCache() int {
	return c.cache.Clear()
}

// CacheHits returns the number of completions served from cache.
func (c *Completer) CacheHits() int64 {
	return c.cacheHits.Load()
}

// Stats returns a human-readable usage report.
func (c *Completer) Stats() string {
	requests := c.requests.Load()
	hits := c.cacheHits.Load()
	hitRate := 0.0
	if requests > 0 {
		hitRate = float64(hits) * 100 / float64(requests)
	}
	return fmt.Sprintf(
		"Completer Stats: Requests=%d, Cache Hits=%d, Cache Misses=%d, Failures=%d, Hit Rate=%.1f%%, Cache Size=%d",
		requests, hits, c.cacheMisses.Load(), c.failures.Load(), hitRate, c.cache.Size(),
	)
}
