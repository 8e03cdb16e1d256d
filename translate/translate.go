// Package translate sends game text to an AI translation provider in
// numbered batches and maps the reply back onto the input positions.
//
// Control codes are masked with the placeholder package before a string
// leaves the process. A reply with the wrong number of lines is retried
// once; if it is still wrong the batch falls back to the source strings
// and the mismatch is reported in the result instead of as an error.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"

	"github.com/minios-linux/mvtl/placeholder"
)

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls the translation behavior.
type Options struct {
	// Language is the human-readable target language name ("English").
	Language string
	// Prompts are the system prompt and vocabulary. Empty means defaults.
	Prompts Prompts
	// Characters is an optional list of character notes for the prompt.
	Characters string
	// BatchSize is how many strings to send per request. Default: 40.
	BatchSize int
	// HistorySize bounds the rolling context of translated lines. Default: 10.
	HistorySize int
	// MaxAttempts caps provider calls per request. Default: 5.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts. Default: 5s.
	RetryDelay time.Duration
	// Estimate skips provider calls and reports an estimated usage.
	Estimate bool
	// SourceScript matches characters of the source language. Strings
	// without a match are never sent. Default: Japanese kana and kanji.
	SourceScript *regexp.Regexp
	// Logger receives debug and warning records. Nil discards them.
	Logger *slog.Logger
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 40
}

func (o *Options) effectiveHistorySize() int {
	if o.HistorySize > 0 {
		return o.HistorySize
	}
	return 10
}

func (o *Options) effectiveMaxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return 5
}

func (o *Options) effectiveRetryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return 5 * time.Second
}

// DefaultSourceScript matches hiragana, katakana and kanji.
var DefaultSourceScript = regexp.MustCompile(`[\p{Hiragana}\p{Katakana}\p{Han}]`)

// fillerText keeps empty tags from touching ("<Line0></Line0>") which
// some models collapse. It is removed again from the reply.
const fillerText = "Placeholder Text"

var lineTag = regexp.MustCompile("(?s)`?<Line\\d+>(.*?)</?Line\\d+>`?")

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// BatchMismatch describes a request whose reply had the wrong number of
// lines twice in a row.
type BatchMismatch struct {
	// Index is the position of the failed request within the call.
	Index int
	// Sent and Received are the line counts of the last attempt.
	Sent, Received int
}

// BatchResult is the outcome of TranslateBatch.
type BatchResult struct {
	// Items has one entry per input item, in input order.
	Items []string
	// History is the rolling context after this call.
	History []string
	Usage   Usage
	// Mismatches lists requests that fell back to the source strings.
	Mismatches []BatchMismatch
}

// Mismatched reports whether any request fell back to the source strings.
func (r BatchResult) Mismatched() bool { return len(r.Mismatches) > 0 }

type outcome int

const (
	outcomeOK outcome = iota
	outcomeMismatch
)

type chunkResult struct {
	items    []string
	usage    Usage
	outcome  outcome
	sent     int
	received int
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Translator is safe for concurrent use.
type Translator struct {
	provider Provider
	opts     Options
	system   string
	short    string
	script   *regexp.Regexp
	cleanup  *strings.Replacer
	log      *slog.Logger
}

// New returns a Translator that sends requests to p.
func New(p Provider, opts Options) *Translator {
	if opts.Language == "" {
		opts.Language = "English"
	}
	prompt := opts.Prompts.System
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	script := opts.SourceScript
	if script == nil {
		script = DefaultSourceScript
	}
	return &Translator{
		provider: p,
		opts:     opts,
		system:   resolvePrompt(prompt, opts.Language, opts.Prompts.Vocab, opts.Characters),
		short:    resolvePrompt(ShortSystemPrompt, opts.Language, opts.Prompts.Vocab, ""),
		script:   script,
		cleanup: strings.NewReplacer(
			opts.Language+" Translation: ", "",
			"Translation: ", "",
			fillerText, "",
			"っ", "",
			"ッ", "",
			"〜", "~",
			"。", ".",
		),
		log: logger,
	}
}

// HasSource reports whether s contains any source-language character.
func (t *Translator) HasSource(s string) bool {
	return t.script.MatchString(s)
}

// Language returns the target language name.
func (t *Translator) Language() string { return t.opts.Language }

// HistorySize returns the configured rolling context length.
func (t *Translator) HistorySize() int { return t.opts.effectiveHistorySize() }

// PushHistory appends lines to history and keeps the most recent
// HistorySize entries.
func (t *Translator) PushHistory(history []string, lines ...string) []string {
	out := append(append([]string(nil), history...), lines...)
	if n := t.opts.effectiveHistorySize(); len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// TranslateBatch translates items in requests of BatchSize lines, passing
// history as context. full selects the full system prompt over the short
// one; instruction, when set, is appended to it for every request. Items
// without source-language characters are kept as they are and cost
// nothing.
func (t *Translator) TranslateBatch(ctx context.Context, items, history []string, full bool, instruction string) (BatchResult, error) {
	res := BatchResult{
		Items:   make([]string, 0, len(items)),
		History: t.PushHistory(nil, history...),
	}
	system := t.short
	if full {
		system = t.system
	}
	if instruction != "" {
		system += "\n" + instruction
	}
	for ci, chunk := range splitStrings(items, t.opts.effectiveBatchSize()) {
		cr, err := t.translateChunk(ctx, system, chunk, res.History)
		if err != nil {
			return res, err
		}
		res.Usage = res.Usage.Add(cr.usage)
		res.Items = append(res.Items, cr.items...)
		if cr.outcome == outcomeMismatch {
			res.Mismatches = append(res.Mismatches, BatchMismatch{Index: ci, Sent: cr.sent, Received: cr.received})
			res.History = t.PushHistory(res.History, chunk...)
			continue
		}
		res.History = t.PushHistory(res.History, cr.items...)
	}
	return res, nil
}

func (t *Translator) translateChunk(ctx context.Context, system string, chunk, history []string) (chunkResult, error) {
	out := append([]string(nil), chunk...)

	var (
		positions []int
		sets      []*placeholder.Set
		lines     []string
	)
	for i, s := range chunk {
		if !t.HasSource(s) {
			continue
		}
		masked, set := placeholder.Protect(s)
		k := len(positions)
		lines = append(lines, fmt.Sprintf("<Line%d>%s</Line%d>", k, masked, k))
		positions = append(positions, i)
		sets = append(sets, set)
	}
	if len(positions) == 0 {
		return chunkResult{items: out}, nil
	}

	payload := strings.ReplaceAll(strings.Join(lines, "\n"), "><", ">"+fillerText+"<")
	req := Request{System: system, Context: history, Payload: payload}

	if t.opts.Estimate {
		return chunkResult{items: out, usage: estimateUsage(req)}, nil
	}

	resp, err := t.complete(ctx, req)
	if err != nil {
		return chunkResult{}, err
	}
	usage := resp.Usage
	got := parseLines(resp.Text)

	if len(got) != len(positions) {
		t.log.Warn("line count mismatch, retrying",
			slog.Int("sent", len(positions)), slog.Int("received", len(got)))
		resp, err = t.complete(ctx, req)
		if err != nil {
			return chunkResult{}, err
		}
		usage = usage.Add(resp.Usage)
		got = parseLines(resp.Text)
		if len(got) != len(positions) {
			t.log.Warn("line count mismatch, keeping source text",
				slog.Int("sent", len(positions)), slog.Int("received", len(got)))
			return chunkResult{
				items:    out,
				usage:    usage,
				outcome:  outcomeMismatch,
				sent:     len(positions),
				received: len(got),
			}, nil
		}
	}

	for k, i := range positions {
		out[i] = sets[k].Restore(strings.TrimSpace(t.cleanup.Replace(got[k])))
	}
	return chunkResult{items: out, usage: usage}, nil
}

// TranslateText translates one string with the short prompt. instruction
// is appended to the system text to describe what the string is ("an
// NPC name", "a menu label"). Strings without source-language characters
// are returned as they are.
func (t *Translator) TranslateText(ctx context.Context, s, instruction string) (string, Usage, error) {
	if !t.HasSource(s) {
		return s, Usage{}, nil
	}
	masked, set := placeholder.Protect(s)
	system := t.short
	if instruction != "" {
		system += "\n" + instruction
	}
	req := Request{System: system, Payload: masked}

	if t.opts.Estimate {
		return s, estimateUsage(req), nil
	}

	resp, err := t.complete(ctx, req)
	if err != nil {
		return s, Usage{}, err
	}
	text := strings.TrimSpace(t.cleanup.Replace(strings.TrimSpace(resp.Text)))
	if m := lineTag.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return set.Restore(text), resp.Usage, nil
}

// complete calls the provider with a fixed delay between failed attempts.
func (t *Translator) complete(ctx context.Context, req Request) (Response, error) {
	attempts := t.opts.effectiveMaxAttempts()
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(t.opts.effectiveRetryDelay()))

	var resp Response
	n := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		r, err := t.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			t.log.Warn("provider call failed",
				slog.Int("attempt", n), slog.Int("max", attempts), slog.Any("error", err))
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, &ProviderError{Provider: providerName(t.provider), Attempts: n, Err: err}
	}
	return resp, nil
}

func providerName(p Provider) string {
	if hp, ok := p.(*HTTPProvider); ok {
		return hp.cfg.Name
	}
	return "provider"
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// parseLines extracts the tagged lines of a reply in order.
func parseLines(text string) []string {
	matches := lineTag.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func splitStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]string{items}
	}
	var chunks [][]string
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// EstimateTokens approximates the token count of s: about four ASCII
// characters per token and one token per other character. Whitespace is
// not counted.
func EstimateTokens(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r < utf8.RuneSelf:
			ascii++
		default:
			other++
		}
	}
	return (ascii+3)/4 + other
}

func estimateUsage(req Request) Usage {
	in := EstimateTokens(req.System) + EstimateTokens(req.Payload)
	for _, c := range req.Context {
		in += EstimateTokens(c)
	}
	return Usage{Input: in, Output: EstimateTokens(req.Payload)}
}
