package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// ---------------------------------------------------------------------------
// Provider contract
// ---------------------------------------------------------------------------

// Request is one call to a translation provider.
type Request struct {
	// System carries the persona, target language and formatting rules.
	System string
	// Context holds previously translated lines, oldest first.
	Context []string
	// Payload is the text to translate.
	Payload string
}

// Response is the raw provider reply.
type Response struct {
	Text  string
	Usage Usage
}

// Provider sends a Request to a translation service.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Usage counts tokens consumed by provider calls.
type Usage struct {
	Input  int
	Output int
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// Cost prices u with per-1000-token rates.
func (u Usage) Cost(inputPer1K, outputPer1K float64) float64 {
	return float64(u.Input)/1000*inputPer1K + float64(u.Output)/1000*outputPer1K
}

// ErrRateLimited is wrapped by errors caused by an HTTP 429 reply.
var ErrRateLimited = errors.New("rate limited")

// ProviderError reports a provider call that kept failing after every
// allowed attempt.
type ProviderError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderGroq         = "groq"
	ProviderDeepSeek     = "deepseek"
	ProviderAnthropic    = "anthropic"
	ProviderOllama       = "ollama"
	ProviderCustomOpenAI = "custom-openai"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// ProviderConfig holds the configuration for an AI translation service.
type ProviderConfig struct {
	// ID is the provider identifier (openai, google, groq, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
	// Temperature is the sampling temperature sent with every request.
	Temperature float64
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderDeepSeek: {
			ID:      ProviderDeepSeek,
			Name:    "DeepSeek",
			BaseURL: "https://api.deepseek.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 300 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
	}
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := time.Now().Add(duration)
	if end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// HTTP provider
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat   apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                  // Google Gemini generateContent
	formatAnthropic                     // Anthropic messages
)

// HTTPProvider talks to a hosted or local model over its HTTP API. One
// HTTPProvider is shared by all workers; a 429 reply pauses all of them.
type HTTPProvider struct {
	cfg    ProviderConfig
	format apiFormat
	client *http.Client
	rl     *rateLimitState
}

// NewHTTPProvider builds a provider for cfg. The wire format is chosen by
// cfg.ID; unknown IDs are treated as OpenAI-compatible endpoints.
func NewHTTPProvider(cfg ProviderConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	format := formatOpenAIChat
	switch cfg.ID {
	case ProviderGoogle:
		format = formatGeminiNative
	case ProviderAnthropic:
		format = formatAnthropic
	}
	return &HTTPProvider{
		cfg:    cfg,
		format: format,
		client: makeHTTPClient(cfg.Proxy, cfg.Timeout),
		rl:     &rateLimitState{},
	}
}

// Config returns the provider configuration.
func (p *HTTPProvider) Config() ProviderConfig { return p.cfg }

// Complete sends one request. It does not retry; retries belong to the
// Translator so that they share its attempt budget.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := p.rl.waitIfPaused(ctx); err != nil {
		return Response{}, err
	}

	endpoint, headers, body, err := p.buildHTTPRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("API request failed: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.rl.pause(parseRetryDelay(respBody))
		return Response{}, fmt.Errorf("%w: %s", ErrRateLimited, truncate(string(respBody), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return extractResponse(respBody)
}

// buildHTTPRequest constructs the endpoint, headers, and body for the
// provider's wire format.
func (p *HTTPProvider) buildHTTPRequest(req Request) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	base := strings.TrimRight(p.cfg.BaseURL, "/")

	var endpoint string
	var body []byte
	var err error

	switch p.format {
	case formatGeminiNative:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, p.cfg.Model)
		if p.cfg.APIKey != "" {
			headers["x-goog-api-key"] = p.cfg.APIKey
		}
		body, err = buildGeminiRequest(foldContext(req), req.Payload, p.cfg.Temperature)

	case formatAnthropic:
		endpoint = base + "/messages"
		if p.cfg.APIKey != "" {
			headers["x-api-key"] = p.cfg.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(p.cfg.Model, foldContext(req), req.Payload, p.cfg.Temperature)

	default:
		if strings.HasSuffix(base, "/chat/completions") {
			endpoint = base
		} else {
			endpoint = base + "/chat/completions"
		}
		if p.cfg.APIKey != "" {
			headers["Authorization"] = "Bearer " + p.cfg.APIKey
		}
		body, err = buildOpenAIChatRequest(p.cfg.Model, req, p.cfg.Temperature)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

const contextHeader = "Previous text for context: "

// foldContext merges the context lines into the system text for formats
// that accept a single system instruction.
func foldContext(req Request) string {
	if len(req.Context) == 0 {
		return req.System
	}
	return req.System + "\n\n" + contextHeader + strings.Join(req.Context, "\n")
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model string, r Request, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := []msg{{Role: "system", Content: r.System}}
	if len(r.Context) > 0 {
		messages = append(messages, msg{Role: "system", Content: contextHeader + strings.Join(r.Context, "\n")})
	}
	messages = append(messages, msg{Role: "user", Content: r.Payload})

	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		System      string  `json:"system,omitempty"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
	}{
		Model:       model,
		MaxTokens:   8192,
		System:      systemPrompt,
		Messages:    []msg{{Role: "user", Content: userPrompt}},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

// ---------------------------------------------------------------------------
// Response parsing (multi-format)
// ---------------------------------------------------------------------------

// extractResponse tries all known response formats and returns the text
// together with the reported token usage.
func extractResponse(body []byte) (Response, error) {
	if !gjson.ValidBytes(body) {
		return Response{}, fmt.Errorf("invalid JSON response: %s", truncate(string(body), 200))
	}
	root := gjson.ParseBytes(body)

	if e := root.Get("error"); e.Exists() {
		if msg := e.Get("message"); msg.Exists() {
			return Response{}, fmt.Errorf("API error: %s", msg.String())
		}
		return Response{}, fmt.Errorf("API error: %s", e.Raw)
	}

	// OpenAI chat: choices[0].message.content
	if c := root.Get("choices.0.message.content"); c.Exists() {
		return Response{
			Text: c.String(),
			Usage: Usage{
				Input:  int(root.Get("usage.prompt_tokens").Int()),
				Output: int(root.Get("usage.completion_tokens").Int()),
			},
		}, nil
	}

	// Gemini: candidates[0].content.parts[*].text
	if parts := root.Get("candidates.0.content.parts"); parts.Exists() {
		var sb strings.Builder
		for _, p := range parts.Array() {
			sb.WriteString(p.Get("text").String())
		}
		return Response{
			Text: sb.String(),
			Usage: Usage{
				Input:  int(root.Get("usageMetadata.promptTokenCount").Int()),
				Output: int(root.Get("usageMetadata.candidatesTokenCount").Int()),
			},
		}, nil
	}

	// Anthropic: content[].type=="text" -> .text
	if text := root.Get(`content.#(type=="text").text`); text.Exists() {
		return Response{
			Text: text.String(),
			Usage: Usage{
				Input:  int(root.Get("usage.input_tokens").Int()),
				Output: int(root.Get("usage.output_tokens").Int()),
			},
		}, nil
	}

	return Response{}, fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	details := gjson.GetBytes(body, "error.details")
	delay := defaultDelay
	details.ForEach(func(_, d gjson.Result) bool {
		// "@type" cannot be used as a gjson path, it would name a modifier.
		isRetryInfo := false
		d.ForEach(func(k, v gjson.Result) bool {
			if k.String() == "@type" && strings.Contains(v.String(), "RetryInfo") {
				isRetryInfo = true
			}
			return true
		})
		if !isRetryInfo {
			return true
		}
		raw := strings.TrimSuffix(d.Get("retryDelay").String(), "s")
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			delay = time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			return false
		}
		return true
	})
	return delay
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
